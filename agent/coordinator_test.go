package agent

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/turn"
)

type turnsMock struct{ mock.Mock }

func (m *turnsMock) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	args := m.Called(ctx, query, sessionID)
	return args.String(0), args.Error(1)
}

func (m *turnsMock) Stream(ctx context.Context, query, sessionID string) iter.Seq[core.TurnUpdate] {
	args := m.Called(ctx, query, sessionID)
	return slices.Values(args.Get(0).([]core.TurnUpdate))
}

type delegationRecorder struct {
	mock.Mock
	metrics.NopRecorder
}

func (r *delegationRecorder) Delegated(coordinator, child string) { r.Called(coordinator, child) }

func leafDelegate(t *testing.T, name string, steps ...model.Step) (Delegate, *ModelAgent) {
	t.Helper()
	a := newLeaf(t, name, steps...)
	return Delegate{Agent: a, Turns: turn.New(a)}, a
}

func byKeyword(_ context.Context, req RouteRequest) (Decision, error) {
	switch {
	case strings.Contains(req.Query, "test"):
		return Decision{Agent: "qa_agent"}, nil
	case strings.Contains(req.Query, "code"):
		return Decision{Agent: "sde_agent"}, nil
	default:
		return Decision{Clarification: "Do you need code or tests?"}, nil
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator("Coordinator", StaticRouter("sde_agent"))
	assert.ErrorIs(t, err, ErrNoDelegates)

	sde, _ := leafDelegate(t, "sde_agent")
	_, err = NewCoordinator("Coordinator", nil, sde)
	assert.Error(t, err)

	_, err = NewCoordinator("Coordinator", StaticRouter("sde_agent"), Delegate{Agent: sde.Agent})
	assert.Error(t, err)

	dup, _ := leafDelegate(t, "sde_agent")
	_, err = NewCoordinator("Coordinator", StaticRouter("sde_agent"), sde, dup)
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	bare, err := NewModelAgent("bare", model.NewScriptedModel())
	require.NoError(t, err)
	_, err = NewCoordinator("Coordinator", StaticRouter("bare"), Delegate{Agent: bare, Turns: turn.New(bare)})
	assert.ErrorIs(t, err, ErrLeafWithoutTools)
}

func TestCoordinator_Tree(t *testing.T) {
	sde, sdeAgent := leafDelegate(t, "sde_agent")
	qa, qaAgent := leafDelegate(t, "qa_agent")

	c, err := NewCoordinator("Coordinator", StaticRouter("sde_agent"), sde, qa)
	require.NoError(t, err)

	assert.Equal(t, []core.Agent{sdeAgent, qaAgent}, c.SubAgents())
	assert.Equal(t, core.Agent(c), qaAgent.Parent())
	assert.Equal(t, []Candidate{
		{Name: "sde_agent", Description: "sde_agent description"},
		{Name: "qa_agent", Description: "qa_agent description"},
	}, c.Candidates())
}

func TestCoordinator_DelegatesToOneChild(t *testing.T) {
	ctx := context.Background()

	sde, sdeAgent := leafDelegate(t, "sde_agent", model.TextStep("sde answer"))
	qa, _ := leafDelegate(t, "qa_agent", model.TextStep("Generated 3 test cases for login."))

	rec := &delegationRecorder{}
	rec.On("Delegated", "Coordinator", "qa_agent").Once()

	c, err := NewCoordinator("Coordinator", RouterFunc(byKeyword), sde, qa)
	require.NoError(t, err)
	c.SetMetrics(rec)

	viaCoordinator, err := turn.New(c).Invoke(ctx, "Generate tests for login", "c1")
	require.NoError(t, err)

	direct, _ := leafDelegate(t, "qa_agent", model.TextStep("Generated 3 test cases for login."))
	directly, err := direct.Turns.Invoke(ctx, "Generate tests for login", "fresh")
	require.NoError(t, err)

	assert.Equal(t, directly, viaCoordinator)
	assert.Empty(t, sdeAgent.Model().(*model.ScriptedModel).Requests())

	childSession, err := qa.Turns.(*turn.Executor).SessionStore().Get(ctx, core.SessionKey{AppName: "qa_agent", ID: "c1"})
	require.NoError(t, err)
	require.NotEmpty(t, childSession.Events)
	assert.Equal(t, "Generate tests for login", childSession.Events[0].Text())

	rec.AssertExpectations(t)
}

func TestCoordinator_Clarification(t *testing.T) {
	m := &turnsMock{}
	a := newLeaf(t, "sde_agent")

	c, err := NewCoordinator("Coordinator", RouterFunc(byKeyword), Delegate{Agent: a, Turns: m})
	require.NoError(t, err)

	out, err := turn.New(c).Invoke(context.Background(), "help me", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Do you need code or tests?", out)

	m.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_RelaysUpdates(t *testing.T) {
	m := &turnsMock{}
	m.On("Stream", mock.Anything, "write code for login", "c1").Return([]core.TurnUpdate{
		{Status: "Calling generate_code..."},
		{Status: "Calling run_tests..."},
		{Complete: true, Content: map[string]any{"task_id": "task_id_1234567", "test_status": "All tests passed."}},
	}).Once()

	c, err := NewCoordinator("Coordinator", StaticRouter("sde_agent"), Delegate{Agent: newLeaf(t, "sde_agent"), Turns: m})
	require.NoError(t, err)

	var updates []core.TurnUpdate
	for u := range turn.New(c).Stream(context.Background(), "write code for login", "c1") {
		updates = append(updates, u)
	}

	require.Len(t, updates, 3)
	assert.Equal(t, "Calling generate_code...", updates[0].Status)
	assert.Equal(t, "Calling run_tests...", updates[1].Status)

	terminal := updates[2]
	assert.True(t, terminal.Complete)
	assert.Equal(t, "sde_agent", terminal.Author)
	got, ok := terminal.Structured()
	require.True(t, ok)
	assert.Equal(t, "task_id_1234567", got["task_id"])

	m.AssertExpectations(t)
}

func TestCoordinator_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown delegate", func(t *testing.T) {
		m := &turnsMock{}
		c, err := NewCoordinator("Coordinator", StaticRouter("pm_agent"), Delegate{Agent: newLeaf(t, "sde_agent"), Turns: m})
		require.NoError(t, err)

		_, err = turn.New(c).Invoke(ctx, "plan the sprint", "c1")
		assert.ErrorIs(t, err, ErrUnknownDelegate)
	})

	t.Run("router error", func(t *testing.T) {
		boom := errors.New("router unavailable")
		c, err := NewCoordinator("Coordinator", RouterFunc(func(context.Context, RouteRequest) (Decision, error) {
			return Decision{}, boom
		}), Delegate{Agent: newLeaf(t, "sde_agent"), Turns: &turnsMock{}})
		require.NoError(t, err)

		exec := turn.New(c)
		_, err = exec.Invoke(ctx, "anything", "c1")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty decision", func(t *testing.T) {
		c, err := NewCoordinator("Coordinator", RouterFunc(func(context.Context, RouteRequest) (Decision, error) {
			return Decision{}, nil
		}), Delegate{Agent: newLeaf(t, "sde_agent"), Turns: &turnsMock{}})
		require.NoError(t, err)

		_, err = turn.New(c).Invoke(ctx, "anything", "c1")
		assert.ErrorIs(t, err, ErrNoDecision)
	})

	t.Run("delegate failure keeps coordinator session usable", func(t *testing.T) {
		m := &turnsMock{}
		m.On("Stream", mock.Anything, "write code", "c1").Return([]core.TurnUpdate{
			{Complete: true, Content: "", Err: errors.New("model unavailable")},
		}).Once()
		m.On("Stream", mock.Anything, "write code", "c1").Return([]core.TurnUpdate{
			{Complete: true, Content: "done"},
		}).Once()

		c, err := NewCoordinator("Coordinator", StaticRouter("sde_agent"), Delegate{Agent: newLeaf(t, "sde_agent"), Turns: m})
		require.NoError(t, err)

		exec := turn.New(c)
		_, err = exec.Invoke(ctx, "write code", "c1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model unavailable")

		out, err := exec.Invoke(ctx, "write code", "c1")
		require.NoError(t, err)
		assert.Equal(t, "done", out)
	})
}

func TestModelRouter(t *testing.T) {
	candidates := []Candidate{
		{Name: "sde_agent", Description: "Assists with software development."},
		{Name: "qa_agent", Description: "Assists with quality assurance."},
	}

	t.Run("transfer", func(t *testing.T) {
		llm := model.NewScriptedModel(model.CallStep(core.FunctionCall{
			Name:      "transfer_to_agent",
			Arguments: `{"agent":"qa_agent"}`,
		}))

		d, err := NewModelRouter(llm).Route(context.Background(), RouteRequest{
			Coordinator: "Coordinator",
			Query:       "Generate tests for checkout",
			Candidates:  candidates,
		})
		require.NoError(t, err)
		assert.Equal(t, Decision{Agent: "qa_agent"}, d)

		req := llm.Requests()[0]
		assert.Contains(t, req.Instructions, "- qa_agent: Assists with quality assurance.")
		require.Len(t, req.Tools, 1)
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
	})

	t.Run("clarification", func(t *testing.T) {
		llm := model.NewScriptedModel(model.TextStep("Should I write code or tests?"))

		d, err := NewModelRouter(llm).Route(context.Background(), RouteRequest{Query: "help", Candidates: candidates})
		require.NoError(t, err)
		assert.Equal(t, Decision{Clarification: "Should I write code or tests?"}, d)
	})

	t.Run("history is filtered and bounded", func(t *testing.T) {
		llm := model.NewScriptedModel(model.TextStep("?"))
		history := []core.Content{
			core.NewTextContent("user", "one"),
			{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{Name: "x"}}}},
			core.NewTextContent("assistant", "two"),
			core.NewTextContent("user", "three"),
		}

		_, err := NewModelRouter(llm, func(o *ModelRouterOptions) { o.MaxHistoryMessages = 3 }).
			Route(context.Background(), RouteRequest{Query: "three", Candidates: candidates, History: history})
		require.NoError(t, err)

		contents := llm.Requests()[0].Contents
		require.Len(t, contents, 2)
		assert.Equal(t, "assistant", contents[0].Role)
		assert.Equal(t, "user", contents[1].Role)
	})

	t.Run("model error", func(t *testing.T) {
		llm := model.NewScriptedModel(model.ErrorStep(errors.New("quota exceeded")))

		_, err := NewModelRouter(llm).Route(context.Background(), RouteRequest{Query: "q", Candidates: candidates})
		assert.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("empty answer", func(t *testing.T) {
		llm := model.NewScriptedModel(model.TextStep(""))

		_, err := NewModelRouter(llm).Route(context.Background(), RouteRequest{Query: "q", Candidates: candidates})
		assert.ErrorIs(t, err, ErrNoDecision)
	})
}
