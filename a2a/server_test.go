package a2a

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/metrics"
)

type call struct{ query, sessionID string }

type fakeTurns struct {
	mu      sync.Mutex
	calls   []call
	updates []core.TurnUpdate
	// block makes Stream wait for cancellation after the first update.
	block   bool
	started chan struct{}
}

func (f *fakeTurns) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	var last core.TurnUpdate
	for u := range f.Stream(ctx, query, sessionID) {
		last = u
	}
	s, _ := last.Text()
	return s, last.Err
}

func (f *fakeTurns) Stream(ctx context.Context, query, sessionID string) iter.Seq[core.TurnUpdate] {
	return func(yield func(core.TurnUpdate) bool) {
		f.mu.Lock()
		f.calls = append(f.calls, call{query, sessionID})
		f.mu.Unlock()

		if f.block {
			if !yield(core.TurnUpdate{Status: "Calling generate_code..."}) {
				return
			}
			close(f.started)
			<-ctx.Done()
			yield(core.TurnUpdate{Complete: true, Content: "", Err: ctx.Err()})
			return
		}

		for _, u := range f.updates {
			if !yield(u) {
				return
			}
		}
	}
}

func testCard() AgentCard {
	return AgentCard{
		Name:               "SDE Agent",
		Description:        "Helps with software development.",
		URL:                "http://localhost:10004/",
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
		Capabilities:       Capabilities{Streaming: true},
		Skills:             []Skill{{ID: "website_generation", Name: "Website Generation Tool"}},
	}
}

func rpcBody(t *testing.T, method string, params any) string {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: raw})
	require.NoError(t, err)
	return string(body)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeTask(t *testing.T, w *httptest.ResponseRecorder) Task {
	t.Helper()
	var resp rawResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Nil(t, resp.Error)
	var task Task
	require.NoError(t, json.Unmarshal(resp.Result, &task))
	return task
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *Error {
	t.Helper()
	var resp rawResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func sendParams1(query string) TaskSendParams {
	return TaskSendParams{
		ID:        "task-1",
		SessionID: "s1",
		Message:   Message{Role: "user", Parts: []Part{TextPart(query)}},
	}
}

func TestServer_Card(t *testing.T) {
	s := NewServer(testCard(), &fakeTurns{})

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, CardPath, nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var card AgentCard
	require.NoError(t, json.NewDecoder(w.Body).Decode(&card))
	assert.Equal(t, testCard(), card)
	assert.Equal(t, testCard(), s.Card())

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Send(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		turns := &fakeTurns{updates: []core.TurnUpdate{
			{Status: "Calling generate_code..."},
			{Complete: true, Content: "Here is your login page."},
		}}
		s := NewServer(testCard(), turns)

		task := decodeTask(t, post(t, s, rpcBody(t, MethodSend, sendParams1("Build a login page"))))

		assert.Equal(t, "task-1", task.ID)
		assert.Equal(t, "s1", task.SessionID)
		assert.Equal(t, StateCompleted, task.Status.State)
		require.Len(t, task.Artifacts, 1)
		assert.Equal(t, []Part{TextPart("Here is your login page.")}, task.Artifacts[0].Parts)
		assert.Equal(t, []call{{"Build a login page", "s1"}}, turns.calls)
	})

	t.Run("structured", func(t *testing.T) {
		turns := &fakeTurns{updates: []core.TurnUpdate{
			{Complete: true, Content: map[string]any{"task_id": "task_id_1234567", "test_status": "All tests passed."}},
		}}
		s := NewServer(testCard(), turns)

		task := decodeTask(t, post(t, s, rpcBody(t, MethodSend, sendParams1("run tests"))))

		require.Len(t, task.Artifacts, 1)
		part := task.Artifacts[0].Parts[0]
		assert.Equal(t, "data", part.Type)
		assert.Equal(t, "task_id_1234567", part.Data["task_id"])
	})

	t.Run("failure", func(t *testing.T) {
		turns := &fakeTurns{updates: []core.TurnUpdate{
			{Complete: true, Content: "", Err: errors.New("model unavailable")},
		}}
		s := NewServer(testCard(), turns)

		task := decodeTask(t, post(t, s, rpcBody(t, MethodSend, sendParams1("hi"))))

		assert.Equal(t, StateFailed, task.Status.State)
		require.NotNil(t, task.Status.Message)
		assert.Equal(t, "model unavailable", task.Status.Message.Text())
		assert.Empty(t, task.Artifacts)
	})

	t.Run("generated ids", func(t *testing.T) {
		turns := &fakeTurns{updates: []core.TurnUpdate{{Complete: true, Content: "ok"}}}
		s := NewServer(testCard(), turns)

		task := decodeTask(t, post(t, s, rpcBody(t, MethodSend, TaskSendParams{
			Message: Message{Role: "user", Parts: []Part{TextPart("hi")}},
		})))

		assert.NotEmpty(t, task.ID)
		assert.NotEmpty(t, task.SessionID)
		assert.Equal(t, task.SessionID, turns.calls[0].sessionID)
	})
}

func TestServer_RPCErrors(t *testing.T) {
	s := NewServer(testCard(), &fakeTurns{})

	w := post(t, s, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeParseError, decodeError(t, w).Code)

	w = post(t, s, `{"jsonrpc":"1.0","id":1,"method":"tasks/send"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decodeError(t, w).Code)

	w = post(t, s, rpcBody(t, "tasks/resubscribe", TaskIDParams{ID: "x"}))
	assert.Equal(t, http.StatusOK, w.Code)
	rpcErr := decodeError(t, w)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
	assert.Equal(t, "tasks/resubscribe", rpcErr.Data)

	w = post(t, s, rpcBody(t, MethodSend, TaskSendParams{ID: "t"}))
	assert.Equal(t, CodeInvalidParams, decodeError(t, w).Code)

	w = post(t, s, rpcBody(t, MethodGet, TaskIDParams{ID: "missing"}))
	assert.Equal(t, CodeTaskNotFound, decodeError(t, w).Code)

	w = post(t, s, rpcBody(t, MethodCancel, TaskIDParams{}))
	assert.Equal(t, CodeInvalidParams, decodeError(t, w).Code)
}

func readEvents(t *testing.T, body string) []streamEvent {
	t.Helper()

	var events []streamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var resp rawResponse
		require.NoError(t, json.Unmarshal([]byte(data), &resp))
		require.Nil(t, resp.Error)
		assert.JSONEq(t, `1`, string(resp.ID))

		var ev streamEvent
		require.NoError(t, json.Unmarshal(resp.Result, &ev))
		events = append(events, ev)
	}

	return events
}

func TestServer_SendSubscribe(t *testing.T) {
	turns := &fakeTurns{updates: []core.TurnUpdate{
		{Status: "Calling generate_code..."},
		{Status: "Calling run_tests..."},
		{Complete: true, Content: map[string]any{"task_id": "task_id_1234567"}},
	}}
	s := NewServer(testCard(), turns)

	w := post(t, s, rpcBody(t, MethodSendSubscribe, sendParams1("write code")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := readEvents(t, w.Body.String())
	require.Len(t, events, 4)

	assert.Equal(t, StateWorking, events[0].Status.State)
	assert.Equal(t, "Calling generate_code...", events[0].Status.Message.Text())
	assert.False(t, events[0].Final)
	assert.Equal(t, "Calling run_tests...", events[1].Status.Message.Text())

	require.NotNil(t, events[2].Artifact)
	assert.Equal(t, "task_id_1234567", events[2].Artifact.Parts[0].Data["task_id"])

	assert.Equal(t, StateCompleted, events[3].Status.State)
	assert.True(t, events[3].Final)

	task := decodeTask(t, post(t, s, rpcBody(t, MethodGet, TaskIDParams{ID: "task-1"})))
	assert.Equal(t, StateCompleted, task.Status.State)
	require.Len(t, task.Artifacts, 1)
}

func TestServer_SendSubscribe_Failure(t *testing.T) {
	turns := &fakeTurns{updates: []core.TurnUpdate{
		{Complete: true, Content: "", Err: errors.New("boom")},
	}}
	s := NewServer(testCard(), turns, func(o *Options) { o.StatusMessages = false })

	events := readEvents(t, post(t, s, rpcBody(t, MethodSendSubscribe, sendParams1("x"))).Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, StateFailed, events[0].Status.State)
	assert.True(t, events[0].Final)
}

func TestServer_Cancel(t *testing.T) {
	turns := &fakeTurns{block: true, started: make(chan struct{})}
	s := NewServer(testCard(), turns)

	body := rpcBody(t, MethodSend, sendParams1("long running"))
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- post(t, s, body) }()

	<-turns.started

	w := post(t, s, rpcBody(t, MethodSend, sendParams1("again")))
	assert.Equal(t, CodeInvalidRequest, decodeError(t, w).Code)

	canceled := decodeTask(t, post(t, s, rpcBody(t, MethodCancel, TaskIDParams{ID: "task-1"})))
	assert.Equal(t, StateCanceled, canceled.Status.State)

	task := decodeTask(t, <-done)
	assert.Equal(t, StateCanceled, task.Status.State)

	w = post(t, s, rpcBody(t, MethodCancel, TaskIDParams{ID: "task-1"}))
	assert.Equal(t, CodeNotCancelable, decodeError(t, w).Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheus(reg)
	rec.Delegated("Coordinator", "qa_agent")

	s := NewServer(testCard(), &fakeTurns{}, func(o *Options) { o.Gatherer = reg })

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `child="qa_agent"`)

	w = httptest.NewRecorder()
	NewServer(testCard(), &fakeTurns{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskTable_Evict(t *testing.T) {
	table := newTaskTable(2)

	for _, id := range []string{"a", "b", "c"} {
		_, done, rpcErr := table.start(context.Background(), id, "s")
		require.Nil(t, rpcErr)
		done()
	}

	_, ok := table.get("a")
	assert.False(t, ok)
	_, ok = table.get("c")
	assert.True(t, ok)
}
