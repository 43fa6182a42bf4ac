package tool

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/pdlcmesh/core"
)

// TransferToAgentName is the name of the routing tool offered to coordinators.
const TransferToAgentName = "transfer_to_agent"

// transferToAgentTool requests that control be handed to a named child agent.
type transferToAgentTool struct {
	targets []string
}

// NewTransferToAgentTool constructs the transfer tool. When targets is non
// empty the agent argument is restricted to those names.
func NewTransferToAgentTool(targets ...string) Tool {
	return &transferToAgentTool{targets: targets}
}

func (t *transferToAgentTool) Name() string { return TransferToAgentName }

func (t *transferToAgentTool) Description() string {
	return "Transfer the user request to the child agent best suited to handle it."
}

func (t *transferToAgentTool) Parameters() map[string]any {
	agent := map[string]any{"type": "string", "description": "Target agent name"}
	if len(t.targets) > 0 {
		agent["enum"] = t.targets
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"agent": agent},
		"required":   []string{"agent"},
	}
}

func (t *transferToAgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	agentName, _ := args["agent"].(string)
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return nil, NewToolError(TransferToAgentName, "field 'agent' must be a non-empty string", CodeValidation)
	}

	if len(t.targets) > 0 && !slices.Contains(t.targets, agentName) {
		return nil, NewToolError(TransferToAgentName, fmt.Sprintf("unknown agent %q", agentName), CodeValidation)
	}

	tc.TransferToAgent(agentName)

	return map[string]any{"transferred": true, "agent": agentName}, nil
}
