package claude

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/claude/api"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

func TestBuildRequestBody(t *testing.T) {
	p := New(&providers.Config{Model: "claude-3-5-sonnet-20241022", APIKey: "sk-ant-test", MaxTokens: 1024})

	body, err := p.BuildRequestBody([]chat.Message{
		chat.NewSystemMessage("Answer briefly."),
		chat.NewUserMessage("Weather in Paris?"),
	}, nil, []tools.Definition{{Name: "get_weather", Description: "Current weather"}})
	require.NoError(t, err)

	var req api.Request
	require.NoError(t, json.Unmarshal(body, &req))

	assert.Equal(t, "claude-3-5-sonnet-20241022", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Equal(t, "Answer briefly.", req.System)

	require.Len(t, req.Messages, 1)
	assert.Equal(t, api.RoleUser, req.Messages[0].Role)
	require.Len(t, req.Messages[0].Content, 1)
	assert.Equal(t, "Weather in Paris?", req.Messages[0].Content[0].Text)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_weather", req.Tools[0].Name)
	assert.NotNil(t, req.Tools[0].InputSchema)
}

func TestBuildRequestBodyDefaultsMaxTokens(t *testing.T) {
	p := New(&providers.Config{Model: "claude-3-5-haiku-20241022"})
	body, err := p.BuildRequestBody([]chat.Message{chat.NewUserMessage("hi")}, nil, nil)
	require.NoError(t, err)

	var req api.Request
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, defaultMaxTokens, req.MaxTokens)
}

func TestLowerMessagesToolExchange(t *testing.T) {
	system, wire := lowerMessages([]chat.Message{
		chat.NewSystemMessage("Be exact."),
		chat.NewUserMessage("Add 2 and 3, then multiply them."),
		{Role: chat.RoleAssistant, ToolName: "add", ToolCallID: "toolu_1", Content: `{"a": 2, "b": 3}`},
		{Role: chat.RoleAssistant, ToolName: "mul", ToolCallID: "toolu_2", Content: `{"a": 2, "b": 3}`},
		chat.NewToolMessage("toolu_1", "add", "5"),
		chat.NewToolMessage("toolu_2", "mul", "6"),
	})

	assert.Equal(t, "Be exact.", system)
	require.Len(t, wire, 3)

	assert.Equal(t, api.RoleUser, wire[0].Role)

	asks := wire[1]
	assert.Equal(t, api.RoleAssistant, asks.Role)
	require.Len(t, asks.Content, 2)
	assert.Equal(t, api.ContentTypeToolUse, asks.Content[0].Type)
	assert.Equal(t, "toolu_1", asks.Content[0].ID)
	assert.Equal(t, "add", asks.Content[0].Name)
	assert.Equal(t, map[string]interface{}{"a": float64(2), "b": float64(3)}, asks.Content[0].Input)

	replies := wire[2]
	assert.Equal(t, api.RoleUser, replies.Role)
	require.Len(t, replies.Content, 2)
	assert.Equal(t, api.ContentTypeToolResult, replies.Content[0].Type)
	assert.Equal(t, "toolu_1", replies.Content[0].ToolUseID)
	assert.Equal(t, "5", replies.Content[0].Content)
	assert.Equal(t, "toolu_2", replies.Content[1].ToolUseID)
}

func TestLowerMessagesMergesConsecutiveRoles(t *testing.T) {
	_, wire := lowerMessages([]chat.Message{
		chat.NewUserMessage("First."),
		chat.NewUserMessage("Second."),
		chat.NewAssistantMessage("Both noted."),
	})

	require.Len(t, wire, 2)
	require.Len(t, wire[0].Content, 2)
	assert.Equal(t, "First.", wire[0].Content[0].Text)
	assert.Equal(t, "Second.", wire[0].Content[1].Text)
	assert.Equal(t, api.RoleAssistant, wire[1].Role)
}

func TestLowerMessagesSkipsEmptyAssistantText(t *testing.T) {
	_, wire := lowerMessages([]chat.Message{
		chat.NewUserMessage("hi"),
		chat.NewAssistantMessage(""),
	})
	require.Len(t, wire, 1)
	assert.Equal(t, api.RoleUser, wire[0].Role)
}

func TestHeaders(t *testing.T) {
	p := New(&providers.Config{APIKey: "sk-ant-test"})
	h := p.Headers()
	assert.Equal(t, "sk-ant-test", h.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", h.Get("anthropic-version"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))

	pinned := New(&providers.Config{APIVersion: "2024-10-22"})
	assert.Equal(t, "2024-10-22", pinned.Headers().Get("anthropic-version"))
}

func TestEndpoint(t *testing.T) {
	p := New(&providers.Config{})
	endpoint, err := p.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "https://api.anthropic.com/v1/messages", endpoint)

	proxied := New(&providers.Config{BaseURL: "https://gateway.internal/anthropic/"})
	endpoint, err = proxied.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.internal/anthropic/v1/messages", endpoint)
}

func TestBuildResetsStreamState(t *testing.T) {
	p := New(&providers.Config{Model: "claude-3-5-sonnet-20241022"})

	_, err := p.ParseStreamChunk([]byte(`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_old","name":"add","input":{}}}` + "\n"))
	require.NoError(t, err)

	_, err = p.BuildRequestBody([]chat.Message{chat.NewUserMessage("hi")}, nil, nil)
	require.NoError(t, err)

	// the old block index must be forgotten
	chunks, err := p.ParseStreamChunk([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{}"}}` + "\n"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestModelRequiredUpFront(t *testing.T) {
	p := New(&providers.Config{})
	_, err := p.BuildRequestBody([]chat.Message{chat.NewUserMessage("hi")}, turns.Metadata{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model selected")
}
