package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
)

func drain(t *testing.T, m Model, req Request) ([]Response, error) {
	t.Helper()
	out, errCh := m.Generate(context.Background(), req)
	var got []Response
	for r := range out {
		got = append(got, r)
	}
	return got, <-errCh
}

func TestScriptedModel_ReplaysInOrder(t *testing.T) {
	m := NewScriptedModel(
		CallStep(core.FunctionCall{ID: "c1", Name: "generate_code", Arguments: `{}`}),
		TextStep("done"),
	)

	got, err := drain(t, m, Request{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tool_calls", got[0].FinishReason)

	got, err = drain(t, m, Request{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.NewTextContent("assistant", "done"), got[0].Content)

	_, err = drain(t, m, Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, m.Requests(), 3)
	assert.Zero(t, m.Remaining())
}

func TestScriptedModel_StreamsPartials(t *testing.T) {
	m := NewScriptedModel(TextStep("hello brave world"))

	got, err := drain(t, m, Request{Stream: true})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, r := range got[:3] {
		assert.True(t, r.Partial)
	}
	assert.False(t, got[3].Partial)
}

func TestScriptedModel_ErrorAndFn(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel(
		ErrorStep(boom),
		Step{Fn: func(req Request) (Response, error) {
			return Response{Content: core.NewTextContent("assistant", req.Instructions)}, nil
		}},
	)

	_, err := drain(t, m, Request{})
	assert.ErrorIs(t, err, boom)

	got, err := drain(t, m, Request{Instructions: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", got[0].Content.Parts[0].(core.TextPart).Text)
}

func TestEncodeToolResult(t *testing.T) {
	assert.Equal(t, "plain", EncodeToolResult(core.FunctionResponse{Response: "plain"}))
	assert.JSONEq(t, `{"task_id":1234567}`, EncodeToolResult(core.FunctionResponse{Response: map[string]any{"task_id": 1234567}}))
	assert.JSONEq(t, `{"error":"bad"}`, EncodeToolResult(core.FunctionResponse{Error: "bad"}))
}
