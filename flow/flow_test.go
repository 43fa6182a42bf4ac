package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/internal/testutil"
	"github.com/hupe1980/pdlcmesh/memory"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/tool"
)

type testAgent struct {
	llm         model.Model
	tools       *tool.Set
	instruction string
	stream      bool
	history     int
	outputKey   string
}

func (a *testAgent) Name() string       { return "sde_agent" }
func (a *testAgent) Model() model.Model { return a.llm }
func (a *testAgent) ResolveInstructions(*core.RunContext) (string, error) {
	return a.instruction, nil
}
func (a *testAgent) Tools() *tool.Set         { return a.tools }
func (a *testAgent) IsStreamingEnabled() bool { return a.stream }
func (a *testAgent) MaxHistoryMessages() int  { return a.history }
func (a *testAgent) OutputKey() string        { return a.outputKey }

func newAgent(t *testing.T, llm model.Model, tools ...tool.Tool) *testAgent {
	t.Helper()
	set, err := tool.NewSet(tools...)
	require.NoError(t, err)
	return &testAgent{llm: llm, tools: set, instruction: "You help {{ .user }}.", history: 20}
}

func newRunContext(t *testing.T, query string, maxCalls int) (*core.RunContext, chan core.Event) {
	t.Helper()
	sb := testutil.NewSessionBuilder("sde_agent", "s1").
		State("user", "ada").
		Events(testutil.NewEventBuilder("user").UserText(query).Build())
	key := sb.Key()
	sess := sb.Build()
	user := core.NewTextContent("user", query)

	emit := make(chan core.Event, 64)
	rc := core.NewRunContext(context.Background(), key, "run-1",
		core.AgentInfo{Name: "sde_agent", Type: "model"}, user, emit, nil, sess,
		core.RunContextOptions{MaxModelCalls: maxCalls, MemoryStore: memory.NewInMemoryStore()})
	return rc, emit
}

func collect(emit chan core.Event) []core.Event {
	close(emit)
	var out []core.Event
	for ev := range emit {
		out = append(out, ev)
	}
	return out
}

func echoTool() tool.Tool {
	return tool.NewFunctionTool("echo", "Echo back", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []string{"text"},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return map[string]any{"echo": args["text"]}, nil
	})
}

func TestBaseFlow_TextOnly(t *testing.T) {
	llm := model.NewScriptedModel(model.TextStep("hello"))
	a := newAgent(t, llm)
	a.outputKey = "last_answer"
	rc, emit := newRunContext(t, "hi", 0)

	require.NoError(t, New(a).Execute(rc))

	events := collect(emit)
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Text())
	assert.True(t, events[0].IsFinalResponse())
	assert.Equal(t, "hello", events[0].Actions.StateDelta["last_answer"])

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You help ada.", reqs[0].Instructions)
	require.Len(t, reqs[0].Contents, 1)
	assert.Equal(t, "user", reqs[0].Contents[0].Role)
}

func TestBaseFlow_ToolLoop(t *testing.T) {
	llm := model.NewScriptedModel(
		model.CallStep(core.FunctionCall{ID: "c1", Name: "echo", Arguments: `{"text":"ping"}`}),
		model.TextStep("pong"),
	)
	rc, emit := newRunContext(t, "echo ping", 0)

	require.NoError(t, New(newAgent(t, llm, echoTool())).Execute(rc))

	events := collect(emit)
	require.Len(t, events, 3)
	assert.Len(t, events[0].GetFunctionCalls(), 1)

	responses := events[1].GetFunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, map[string]any{"echo": "ping"}, responses[0].Response)
	assert.Empty(t, responses[0].Error)

	assert.Equal(t, "pong", events[2].Text())
	assert.Len(t, llm.Requests()[0].Tools, 1)
}

func TestBaseFlow_ToolErrorsAreResults(t *testing.T) {
	llm := model.NewScriptedModel(
		model.CallStep(
			core.FunctionCall{ID: "c1", Name: "echo", Arguments: `{}`},
			core.FunctionCall{ID: "c2", Name: "missing", Arguments: `{}`},
		),
		model.TextStep("sorry"),
	)
	rc, emit := newRunContext(t, "go", 0)

	require.NoError(t, New(newAgent(t, llm, echoTool())).Execute(rc))

	events := collect(emit)
	require.Len(t, events, 4)

	first := events[1].GetFunctionResponses()[0]
	assert.Equal(t, "c1", first.ID)
	require.IsType(t, &tool.ToolError{}, first.Response)
	assert.Equal(t, tool.CodeValidation, first.Response.(*tool.ToolError).Code)

	second := events[2].GetFunctionResponses()[0]
	assert.Equal(t, "c2", second.ID)
	assert.Equal(t, tool.CodeNotFound, second.Response.(*tool.ToolError).Code)
}

func TestBaseFlow_PanicRecovered(t *testing.T) {
	panicky := tool.NewFunctionTool("panicky", "", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) (any, error) {
		panic("kaboom")
	})
	llm := model.NewScriptedModel(
		model.CallStep(core.FunctionCall{ID: "c1", Name: "panicky"}),
		model.TextStep("recovered"),
	)
	rc, emit := newRunContext(t, "go", 0)

	require.NoError(t, New(newAgent(t, llm, panicky)).Execute(rc))

	events := collect(emit)
	require.Len(t, events, 3)
	assert.Contains(t, events[1].GetFunctionResponses()[0].Error, "kaboom")
}

func TestBaseFlow_SkipSummarizationEndsRun(t *testing.T) {
	final := tool.NewFunctionTool("finish", "", map[string]any{"type": "object"}, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.SkipSummarization()
		return map[string]any{"task_id": "task_id_1234567"}, nil
	})
	llm := model.NewScriptedModel(model.CallStep(core.FunctionCall{ID: "c1", Name: "finish"}))
	rc, emit := newRunContext(t, "go", 0)

	require.NoError(t, New(newAgent(t, llm, final)).Execute(rc))

	events := collect(emit)
	require.Len(t, events, 2)
	assert.True(t, events[1].IsFinalResponse())
	assert.Zero(t, llm.Remaining())
}

func TestBaseFlow_ModelErrorPropagates(t *testing.T) {
	boom := errors.New("upstream unavailable")
	rc, emit := newRunContext(t, "go", 0)

	err := New(newAgent(t, model.NewScriptedModel(model.ErrorStep(boom)))).Execute(rc)

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, collect(emit))
}

func TestBaseFlow_ModelCallLimit(t *testing.T) {
	llm := model.NewScriptedModel(
		model.CallStep(core.FunctionCall{ID: "c1", Name: "echo", Arguments: `{"text":"a"}`}),
		model.CallStep(core.FunctionCall{ID: "c2", Name: "echo", Arguments: `{"text":"b"}`}),
	)
	rc, _ := newRunContext(t, "loop", 2)

	err := New(newAgent(t, llm, echoTool())).Execute(rc)
	assert.ErrorIs(t, err, ErrModelCallLimit)
}

func TestBaseFlow_StreamingEmitsPartials(t *testing.T) {
	a := newAgent(t, model.NewScriptedModel(model.TextStep("one two")))
	a.stream = true
	rc, emit := newRunContext(t, "go", 0)

	require.NoError(t, New(a).Execute(rc))

	events := collect(emit)
	require.Len(t, events, 3)
	assert.True(t, events[0].IsPartial())
	assert.True(t, events[1].IsPartial())
	assert.Equal(t, "one two", events[2].Text())
}

func TestBaseFlow_NoFinalResponse(t *testing.T) {
	rc, emit := newRunContext(t, "go", 0)

	require.NoError(t, New(newAgent(t, model.NewScriptedModel(model.SilentStep()))).Execute(rc))

	events := collect(emit)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsFinalResponse())
	assert.Equal(t, "", events[0].Text())
}

func TestContentsProcessor_TruncationDropsOrphanedToolResponses(t *testing.T) {
	rc, _ := newRunContext(t, "q", 0)
	call := core.Content{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "echo"}}}}
	resp := core.NewFunctionResponseEvent("run-1", "sde_agent", "c1", "echo", "ok", nil)
	ev := core.NewEvent("run-1", "sde_agent")
	ev.Content = &call
	rc.Session.AddEvent(ev)
	rc.Session.AddEvent(resp)
	rc.Session.AddEvent(core.NewMessageEvent("run-1", "sde_agent", "done"))

	a := newAgent(t, nil)
	a.history = 2

	var req model.Request
	require.NoError(t, NewContentsProcessor().ProcessRequest(rc, &req, a))
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "assistant", req.Contents[0].Role)
}

func TestRecallProcessor(t *testing.T) {
	rc, _ := newRunContext(t, "login page", 0)
	require.NoError(t, rc.StoreMemory("user asked for a login page in go", nil))

	req := model.Request{Contents: []core.Content{core.NewTextContent("user", "login page")}}
	require.NoError(t, NewRecallProcessor(3).ProcessRequest(rc, &req, newAgent(t, nil)))

	require.Len(t, req.Contents, 2)
	assert.Equal(t, "system", req.Contents[0].Role)
	assert.Contains(t, req.Contents[0].Parts[0].(core.TextPart).Text, "login page in go")
}
