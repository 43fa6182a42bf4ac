package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/artifact"
	"github.com/hupe1980/pdlcmesh/core"
)

func newToolContext(t *testing.T) *core.ToolContext {
	t.Helper()
	key := core.SessionKey{AppName: "test", ID: "s1"}
	rc := core.NewRunContext(
		context.Background(), key, "run-1",
		core.AgentInfo{Name: "sde_agent", Type: "model"},
		core.NewTextContent("user", "hi"),
		nil, nil, core.NewSession(key),
		core.RunContextOptions{ArtifactStore: artifact.NewInMemoryStore()},
	)
	return core.NewToolContext(rc, "fc-1")
}

var sumSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	},
	"required": []string{"a", "b"},
}

func TestFunctionTool_Success(t *testing.T) {
	sum := NewFunctionTool("sum", "Add numbers", sumSchema, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	res, err := sum.Call(newToolContext(t), map[string]any{"a": 1.5, "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 3.5, res)
	assert.Equal(t, "sum", sum.Name())
	assert.Equal(t, "Add numbers", sum.Description())
}

func TestFunctionTool_ValidationError(t *testing.T) {
	called := false
	sum := NewFunctionTool("sum", "Add numbers", sumSchema, func(*core.ToolContext, map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	_, err := sum.Call(newToolContext(t), map[string]any{"a": 1.0})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.False(t, called)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	failing := NewFunctionTool("boom", "fails", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})

	_, err := failing.Call(newToolContext(t), nil)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Equal(t, "kaput", toolErr.Message)
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	custom := NewToolError("custom", "nope", "CUSTOM")
	tl := NewFunctionTool("custom", "", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, custom
	})

	_, err := tl.Call(newToolContext(t), map[string]any{})
	assert.Same(t, custom, err)
}

type greetArgs struct {
	Name  string `json:"name"`
	Times int    `json:"times,omitempty"`
}

func TestNewTypedTool(t *testing.T) {
	greet := NewTypedTool("greet", "Greets", func(_ *core.ToolContext, args greetArgs) (any, error) {
		return map[string]any{"name": args.Name, "times": args.Times}, nil
	})

	assert.Equal(t, []string{"name"}, greet.Parameters()["required"])

	res, err := greet.Call(newToolContext(t), map[string]any{"name": "ada", "times": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "times": 2}, res)
}

func TestDecodeArgs_WeakTyping(t *testing.T) {
	out, err := DecodeArgs[greetArgs](map[string]any{"name": "bob", "times": "3"})
	require.NoError(t, err)
	assert.Equal(t, greetArgs{Name: "bob", Times: 3}, out)
}

func TestTransferToAgentTool(t *testing.T) {
	tr := NewTransferToAgentTool("sde_agent", "qa_agent")
	tc := newToolContext(t)

	res, err := tr.Call(tc, map[string]any{"agent": "qa_agent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"transferred": true, "agent": "qa_agent"}, res)
	require.NotNil(t, tc.Actions().TransferToAgent)
	assert.Equal(t, "qa_agent", *tc.Actions().TransferToAgent)

	_, err = tr.Call(newToolContext(t), map[string]any{"agent": "nobody"})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)

	props := tr.Parameters()["properties"].(map[string]any)
	assert.Equal(t, []string{"sde_agent", "qa_agent"}, props["agent"].(map[string]any)["enum"])
}

func TestSet(t *testing.T) {
	a := NewFunctionTool("a", "", nil, nil)
	b := NewFunctionTool("b", "", nil, nil)

	s, err := NewSet(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []Tool{a, b}, s.List())

	got, ok := s.Get("b")
	assert.True(t, ok)
	assert.Same(t, b, got)

	_, err = NewSet(a, NewFunctionTool("a", "", nil, nil))
	assert.Error(t, err)
}

func TestToolErrorFormatting(t *testing.T) {
	assert.Equal(t, "tool error [X] in t: m", NewToolError("t", "m", "X").Error())
	assert.Equal(t, "tool error in t: m", (&ToolError{Tool: "t", Message: "m"}).Error())
}
