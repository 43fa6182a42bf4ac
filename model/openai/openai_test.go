package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/model"
)

func TestBuildMessages_PairsToolResponses(t *testing.T) {
	req := model.Request{
		Instructions: "be helpful",
		Contents: []core.Content{
			core.NewTextContent("user", "build a site"),
			{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID: "c1", Name: "generate_code", Arguments: `{"language":"go"}`,
			}}}},
			{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
				ID: "c1", Name: "generate_code", Response: map[string]any{"task_id": 1234567},
			}}}},
			core.NewTextContent("assistant", "done"),
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
}

func TestFinalParts_OrdersByIndex(t *testing.T) {
	parts := finalParts("thinking", map[int64]*aggCall{
		1: {id: "b", name: "run_tests"},
		0: {id: "a", name: "generate_code"},
	})

	require.Len(t, parts, 3)
	assert.Equal(t, core.TextPart{Text: "thinking"}, parts[0])
	assert.Equal(t, "a", parts[1].(core.FunctionCallPart).FunctionCall.ID)
	assert.Equal(t, "b", parts[2].(core.FunctionCallPart).FunctionCall.ID)
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) {
		o.Model = "gpt-4o"
		o.APIKey = "sk-test"
	})
	assert.Equal(t, model.Info{Name: "gpt-4o", Provider: "openai", SupportsTools: true}, m.Info())
}
