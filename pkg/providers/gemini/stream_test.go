package gemini

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/providers"
)

func TestParseStreamTextFrames(t *testing.T) {
	p := New(&providers.Config{})
	stream := strings.Join([]string{
		`data: {"candidates": [{"content": {"parts": [{"text": "The weather"}],"role": "model"},"index": 0}],"usageMetadata": {"promptTokenCount": 8,"totalTokenCount": 8}}`,
		``,
		`data: {"candidates": [{"content": {"parts": [{"text": " in Paris is mild."}],"role": "model"},"finishReason": "STOP","index": 0}],"usageMetadata": {"promptTokenCount": 8,"candidatesTokenCount": 12,"totalTokenCount": 20}}`,
		``,
	}, "\n")

	chunks, err := p.ParseStreamChunk([]byte(stream))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "The weather", chunks[0].Content)
	assert.Equal(t, " in Paris is mild.", chunks[1].Content)

	done := chunks[2]
	require.Equal(t, providers.ChunkTypeDone, done.Type)
	assert.Equal(t, "STOP", done.StopReason)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 8, done.Usage.InputTokens)
	assert.Equal(t, 12, done.Usage.OutputTokens)
}

func TestParseStreamFunctionCall(t *testing.T) {
	p := New(&providers.Config{})
	frame := `data: {"candidates": [{"content": {"parts": [{"functionCall": {"name": "get_weather", "args": {"city": "Paris"}}}],"role": "model"},"finishReason": "STOP","index": 0}],"usageMetadata": {"promptTokenCount": 46,"candidatesTokenCount": 11,"totalTokenCount": 57}}` + "\n"

	chunks, err := p.ParseStreamChunk([]byte(frame))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	call := chunks[0]
	require.Equal(t, providers.ChunkTypeToolCall, call.Type)
	require.Len(t, call.ToolCalls, 1)
	fragment := call.ToolCalls[0]
	assert.NotEmpty(t, fragment.ID)
	assert.Equal(t, "get_weather", fragment.Name)
	assert.JSONEq(t, `{"city": "Paris"}`, fragment.ArgumentsDelta)
	assert.True(t, fragment.Complete)

	assert.Equal(t, providers.ChunkTypeDone, chunks[1].Type)
}

func TestParseStreamParallelFunctionCalls(t *testing.T) {
	p := New(&providers.Config{})
	frame := `data: {"candidates": [{"content": {"parts": [{"functionCall": {"name": "add", "args": {"a": 2, "b": 3}}}, {"functionCall": {"name": "mul", "args": {"a": 2, "b": 3}}}],"role": "model"},"finishReason": "STOP","index": 0}]}` + "\n"

	chunks, err := p.ParseStreamChunk([]byte(frame))
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "add", chunks[0].ToolCalls[0].Name)
	assert.Equal(t, "mul", chunks[1].ToolCalls[0].Name)
	assert.NotEqual(t, chunks[0].ToolCalls[0].ID, chunks[1].ToolCalls[0].ID)
	assert.Equal(t, providers.ChunkTypeDone, chunks[2].Type)
}

func TestParseStreamSurvivesHostileBoundaries(t *testing.T) {
	p := New(&providers.Config{})
	stream := []byte(`data: {"candidates": [{"content": {"parts": [{"text": "Hello"}],"role": "model"},"finishReason": "STOP","index": 0}]}` + "\n")

	var chunks []*providers.StreamChunk
	for _, b := range stream {
		parsed, err := p.ParseStreamChunk([]byte{b})
		require.NoError(t, err)
		chunks = append(chunks, parsed...)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, providers.ChunkTypeDone, chunks[1].Type)
}

func TestParseStreamErrorFrame(t *testing.T) {
	p := New(&providers.Config{})
	_, err := p.ParseStreamChunk([]byte(`data: {"error": {"code": 400, "message": "Invalid JSON payload received.", "status": "INVALID_ARGUMENT"}}` + "\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_ARGUMENT")
}

func TestExtractFromCompleteResponse(t *testing.T) {
	body := []byte(`{
		"candidates": [{
			"content": {
				"parts": [
					{"text": "Looking it up. "},
					{"functionCall": {"name": "get_weather", "args": {"city": "Oslo"}}}
				],
				"role": "model"
			},
			"finishReason": "STOP",
			"index": 0
		}],
		"usageMetadata": {"promptTokenCount": 40, "candidatesTokenCount": 10, "totalTokenCount": 50}
	}`)

	p := New(&providers.Config{})
	require.True(t, p.HasToolCalls(body))

	calls, err := p.ExtractToolCalls(body)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, map[string]interface{}{"city": "Oslo"}, calls[0].Arguments)

	assert.Equal(t, "Looking it up. ", p.ExtractContent(body))
	assert.Equal(t, "", p.ExtractContent([]byte("[]")))
}
