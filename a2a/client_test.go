package a2a

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
)

func newTestClient(t *testing.T, turns core.TurnExecutor) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(testCard(), turns))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", func(o *ClientOptions) { o.HTTPClient = srv.Client() })
}

func TestClient_Card(t *testing.T) {
	c := newTestClient(t, &fakeTurns{})

	card, err := c.Card(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testCard(), card)
}

func TestClient_Invoke(t *testing.T) {
	turns := &fakeTurns{updates: []core.TurnUpdate{
		{Status: "Calling generate_code..."},
		{Complete: true, Content: "Here is your login page."},
	}}
	c := newTestClient(t, turns)

	out, err := c.Invoke(context.Background(), "Build a login page", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Here is your login page.", out)
	assert.Equal(t, "s1", turns.calls[0].sessionID)

	structured := newTestClient(t, &fakeTurns{updates: []core.TurnUpdate{
		{Complete: true, Content: map[string]any{"task_id": "task_id_1234567"}},
	}})
	out, err = structured.Invoke(context.Background(), "code", "s1")
	require.NoError(t, err)
	assert.Empty(t, out)

	failing := newTestClient(t, &fakeTurns{updates: []core.TurnUpdate{
		{Complete: true, Content: "", Err: errors.New("model unavailable")},
	}})
	_, err = failing.Invoke(context.Background(), "code", "s1")
	assert.ErrorContains(t, err, "model unavailable")
}

func TestClient_Stream(t *testing.T) {
	turns := &fakeTurns{updates: []core.TurnUpdate{
		{Status: "Calling generate_code..."},
		{Status: "Calling run_tests..."},
		{Complete: true, Content: map[string]any{"task_id": "task_id_1234567", "test_status": "All tests passed."}},
	}}
	c := newTestClient(t, turns)

	var updates []core.TurnUpdate
	for u := range c.Stream(context.Background(), "write code", "s1") {
		updates = append(updates, u)
	}

	require.Len(t, updates, 3)
	assert.Equal(t, "Calling generate_code...", updates[0].Status)
	assert.Equal(t, "Calling run_tests...", updates[1].Status)

	terminal := updates[2]
	assert.True(t, terminal.Complete)
	require.NoError(t, terminal.Err)
	got, ok := terminal.Structured()
	require.True(t, ok)
	assert.Equal(t, "All tests passed.", got["test_status"])
}

func TestClient_StreamFailure(t *testing.T) {
	c := newTestClient(t, &fakeTurns{updates: []core.TurnUpdate{
		{Complete: true, Content: "", Err: errors.New("boom")},
	}})

	var updates []core.TurnUpdate
	for u := range c.Stream(context.Background(), "write code", "s1") {
		updates = append(updates, u)
	}

	require.Len(t, updates, 1)
	assert.True(t, updates[0].Complete)
	assert.ErrorContains(t, updates[0].Err, "boom")
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := NewClient(srv.URL)
	srv.Close()

	_, err := c.Invoke(context.Background(), "q", "s1")
	assert.Error(t, err)

	_, err = c.Card(context.Background())
	assert.Error(t, err)

	var updates []core.TurnUpdate
	for u := range c.Stream(context.Background(), "q", "s1") {
		updates = append(updates, u)
	}
	require.Len(t, updates, 1)
	assert.Error(t, updates[0].Err)
}
