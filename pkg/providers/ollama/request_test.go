package ollama

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

type lookupArgs struct {
	City string `json:"city"`
}

func lookupDefinition() tools.Definition {
	schema, err := tools.SchemaFromFunc(func(in lookupArgs) (string, error) {
		return "", nil
	})
	if err != nil {
		panic(err)
	}
	return tools.Definition{Name: "get_weather", Description: "Current weather", Parameters: schema}
}

func TestBuildRequestBody(t *testing.T) {
	temperature := 0.2
	topP := 0.9
	p := New(&providers.Config{
		Model:       "llama3.1",
		Temperature: &temperature,
		TopP:        &topP,
		MaxTokens:   256,
	})

	body, err := p.BuildRequestBody([]chat.Message{
		chat.NewSystemMessage("Be brief."),
		chat.NewUserMessage("Weather in Paris?"),
	}, nil, []tools.Definition{lookupDefinition()})
	require.NoError(t, err)

	var req request
	require.NoError(t, json.Unmarshal(body, &req))

	assert.Equal(t, "llama3.1", req.Model)
	assert.True(t, req.Stream)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, roleSystem, req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
	assert.Equal(t, roleUser, req.Messages[1].Role)

	require.NotNil(t, req.Options)
	assert.InDelta(t, 0.2, req.Options["temperature"].(float64), 0.001)
	assert.Equal(t, float64(256), req.Options["num_predict"])
	assert.InDelta(t, 0.9, req.Options["top_p"].(float64), 0.001)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "function", req.Tools[0].Type)
	assert.Equal(t, "get_weather", req.Tools[0].Function.Name)
}

func TestBuildRequestBodyOmitsEmptyOptions(t *testing.T) {
	p := New(&providers.Config{Model: "llama3.2"})
	body, err := p.BuildRequestBody([]chat.Message{chat.NewUserMessage("hi")}, nil, nil)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.NotContains(t, raw, "options")
	assert.NotContains(t, raw, "tools")
}

func TestBuildRequestBodyRequiresModel(t *testing.T) {
	p := New(&providers.Config{})
	_, err := p.BuildRequestBody([]chat.Message{chat.NewUserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model selected")
}

func TestMetadataOverridesConfig(t *testing.T) {
	p := New(&providers.Config{Model: "llama3.1", MaxTokens: 256})

	meta := turns.Metadata{}
	turns.KeyModel.Set(&meta, "qwen2.5")
	turns.KeyMaxTokens.Set(&meta, 64)
	turns.KeyBaseURL.Set(&meta, "http://ollama.lan:11434")

	body, err := p.BuildRequestBody([]chat.Message{chat.NewUserMessage("hi")}, meta, nil)
	require.NoError(t, err)

	var req request
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "qwen2.5", req.Model)
	assert.Equal(t, float64(64), req.Options["num_predict"])

	endpoint, err := p.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "http://ollama.lan:11434/api/chat", endpoint)
}

func TestLowerMessagesToolExchange(t *testing.T) {
	wire := lowerMessages([]chat.Message{
		chat.NewUserMessage("Weather in Paris?"),
		{Role: chat.RoleAssistant, ToolName: "get_weather", ToolCallID: "c1", Content: `{"city": "Paris"}`},
		chat.NewToolMessage("c1", "get_weather", `{"temp": 21}`),
		chat.NewAssistantMessage("It is 21 degrees."),
	})

	require.Len(t, wire, 4)

	ask := wire[1]
	assert.Equal(t, roleAssistant, ask.Role)
	require.Len(t, ask.ToolCalls, 1)
	assert.Equal(t, "get_weather", ask.ToolCalls[0].Function.Name)
	assert.Equal(t, map[string]interface{}{"city": "Paris"}, ask.ToolCalls[0].Function.Arguments)

	reply := wire[2]
	assert.Equal(t, roleTool, reply.Role)
	assert.Equal(t, `{"temp": 21}`, reply.Content)

	assert.Equal(t, roleAssistant, wire[3].Role)
	assert.Equal(t, "It is 21 degrees.", wire[3].Content)
}

func TestLowerMessagesBatchesParallelCalls(t *testing.T) {
	wire := lowerMessages([]chat.Message{
		{Role: chat.RoleAssistant, ToolName: "add", ToolCallID: "c1", Content: `{"a": 2, "b": 3}`},
		{Role: chat.RoleAssistant, ToolName: "mul", ToolCallID: "c2", Content: `{"a": 2, "b": 3}`},
		chat.NewToolMessage("c1", "add", "5"),
		chat.NewToolMessage("c2", "mul", "6"),
	})

	require.Len(t, wire, 3)
	require.Len(t, wire[0].ToolCalls, 2)
	assert.Equal(t, "add", wire[0].ToolCalls[0].Function.Name)
	assert.Equal(t, "mul", wire[0].ToolCalls[1].Function.Name)
	assert.Equal(t, "5", wire[1].Content)
	assert.Equal(t, "6", wire[2].Content)
}

func TestFormatToolCallResultRoundTrip(t *testing.T) {
	p := New(&providers.Config{})
	exchange := p.FormatToolCallResult("get_weather", "c1", map[string]interface{}{"city": "Paris"}, "sunny")

	wire := lowerMessages(exchange)
	require.Len(t, wire, 2)
	assert.Equal(t, "get_weather", wire[0].ToolCalls[0].Function.Name)
	assert.Equal(t, roleTool, wire[1].Role)
	assert.Equal(t, "sunny", wire[1].Content)
}

func TestEndpointAndHeaders(t *testing.T) {
	p := New(&providers.Config{})
	endpoint, err := p.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/api/chat", endpoint)

	h := p.Headers()
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Empty(t, h.Get("Authorization"))

	withKey := New(&providers.Config{APIKey: "proxy-token"})
	assert.Equal(t, "Bearer proxy-token", withKey.Headers().Get("Authorization"))
}

func TestBuildRequestBodyResetsStreamState(t *testing.T) {
	p := New(&providers.Config{Model: "llama3.2"})

	_, err := p.ParseStreamChunk([]byte(`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":7}` + "\n"))
	require.NoError(t, err)
	require.True(t, p.done)

	_, err = p.BuildRequestBody([]chat.Message{chat.NewUserMessage("next round")}, nil, nil)
	require.NoError(t, err)
	assert.False(t, p.done)
	assert.Nil(t, p.usage)
}
