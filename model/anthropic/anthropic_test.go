package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/model"
)

func TestBuildMessages_ToolResultsFollowToolUse(t *testing.T) {
	msgs := buildMessages([]core.Content{
		core.NewTextContent("user", "write tests"),
		{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID: "tu1", Name: "generate_tests", Arguments: `{"feature":"login"}`,
		}}}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID: "tu1", Name: "generate_tests", Response: map[string]any{"qa_task_id": 7654321},
		}}}},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
	require.Len(t, msgs[2].Content, 1)
	assert.NotNil(t, msgs[2].Content[0].OfToolResult)
}

func TestSystemBlocks(t *testing.T) {
	blocks := systemBlocks(model.Request{
		Instructions: "you are QA",
		Contents:     []core.Content{core.NewTextContent("system", "extra")},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "you are QA", blocks[0].Text)
	assert.Equal(t, "extra", blocks[1].Text)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{model.NewFunctionDefinition("run_tests", "Run tests", map[string]any{
		"type":       "object",
		"properties": map[string]any{"qa_task_id": map[string]any{"type": "integer"}},
		"required":   []any{"qa_task_id"},
	})})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "run_tests", tools[0].OfTool.Name)
	assert.Equal(t, []string{"qa_task_id"}, tools[0].OfTool.InputSchema.Required)
}
