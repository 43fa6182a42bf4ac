package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/tool"
)

func noopTool(name string) tool.Tool {
	return tool.NewFunctionTool(name, "test tool", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) { return "ok", nil })
}

func newLeaf(t *testing.T, name string, steps ...model.Step) *ModelAgent {
	t.Helper()
	a, err := NewModelAgent(name, model.NewScriptedModel(steps...), func(o *ModelAgentOptions) {
		o.Description = name + " description"
		o.Tools = []tool.Tool{noopTool(name + "_tool")}
		o.EnableStreaming = false
	})
	require.NoError(t, err)
	return a
}

// node is an interior agent without tools used to build trees directly.
type node struct{ BaseAgent }

func (n *node) Run(*core.RunContext) error { return nil }

func newNode(name string) *node {
	n := &node{BaseAgent: NewBaseAgent(name)}
	n.bind(n)
	return n
}

func TestBaseAgent_Lifecycle(t *testing.T) {
	n := newNode("root")

	assert.ErrorIs(t, n.Stop(nil), ErrNotRunning)

	require.NoError(t, n.Start(nil))
	require.NoError(t, n.Start(nil))
	assert.Equal(t, 2, n.Active())

	require.NoError(t, n.Stop(nil))
	require.NoError(t, n.Stop(nil))
	assert.Zero(t, n.Active())
}

func TestBaseAgent_SetSubAgents(t *testing.T) {
	root := newNode("root")
	a := newLeaf(t, "sde_agent")
	b := newLeaf(t, "qa_agent")

	require.NoError(t, root.SetSubAgents(a, b))
	assert.Equal(t, core.Agent(root), a.Parent())
	assert.Equal(t, []core.Agent{a, b}, root.SubAgents())
	assert.Equal(t, core.Agent(b), root.FindAgent("qa_agent"))
	assert.Equal(t, core.Agent(root), root.FindAgent("root"))
	assert.Nil(t, root.FindAgent("missing"))

	other := newNode("other")
	assert.ErrorIs(t, other.SetSubAgents(a), ErrAlreadyParented)

	require.NoError(t, root.SetSubAgents(b))
	assert.Nil(t, a.Parent())
	require.NoError(t, other.SetSubAgents(a))
}

func TestBaseAgent_RejectsDuplicatesAndCycles(t *testing.T) {
	root := newNode("root")
	mid := newNode("mid")

	assert.ErrorIs(t, root.SetSubAgents(newLeaf(t, "x"), newLeaf(t, "x")), ErrDuplicateAgent)

	require.NoError(t, root.SetSubAgents(mid))
	assert.ErrorIs(t, mid.SetSubAgents(root), ErrCycle)
	assert.ErrorIs(t, root.SetSubAgents(root), ErrCycle)
	assert.Empty(t, mid.SubAgents())
}

func TestValidateTree(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		root := newNode("coordinator")
		require.NoError(t, root.SetSubAgents(newLeaf(t, "sde_agent"), newLeaf(t, "qa_agent")))
		assert.NoError(t, ValidateTree(root))
	})

	t.Run("leaf without tools", func(t *testing.T) {
		leaf, err := NewModelAgent("bare", model.NewScriptedModel())
		require.NoError(t, err)
		assert.ErrorIs(t, ValidateTree(leaf), ErrLeafWithoutTools)
	})

	t.Run("interior without children is a leaf without tools", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTree(newNode("empty")), ErrLeafWithoutTools)
	})

	t.Run("interior with tools", func(t *testing.T) {
		withTools := newLeaf(t, "sde_agent")
		require.NoError(t, withTools.SetSubAgents(newLeaf(t, "qa_agent")))
		assert.ErrorIs(t, ValidateTree(withTools), ErrInteriorHasTools)
	})

	t.Run("duplicate names across levels", func(t *testing.T) {
		root := newNode("root")
		mid := newNode("mid")
		require.NoError(t, mid.SetSubAgents(newLeaf(t, "sde_agent")))
		require.NoError(t, root.SetSubAgents(mid, newLeaf(t, "sde_agent")))
		assert.ErrorIs(t, ValidateTree(root), ErrDuplicateAgent)
	})

	t.Run("nil root", func(t *testing.T) {
		assert.Error(t, ValidateTree(nil))
	})
}
