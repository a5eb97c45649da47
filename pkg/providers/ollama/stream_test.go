package ollama

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
		`{"model":"llama3.2","created_at":"2025-01-14T20:33:28.123Z","message":{"role":"assistant","content":"The sky"},"done":false}`,
		`{"model":"llama3.2","created_at":"2025-01-14T20:33:28.231Z","message":{"role":"assistant","content":" is blue."},"done":false}`,
		`{"model":"llama3.2","created_at":"2025-01-14T20:33:28.448Z","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","total_duration":4883583458,"load_duration":1334875,"prompt_eval_count":26,"prompt_eval_duration":342546000,"eval_count":282,"eval_duration":4535599000}`,
		``,
	}, "\n")

	chunks, err := p.ParseStreamChunk([]byte(stream))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "The sky", chunks[0].Content)
	assert.Equal(t, " is blue.", chunks[1].Content)

	done := chunks[2]
	require.Equal(t, providers.ChunkTypeDone, done.Type)
	assert.Equal(t, "stop", done.StopReason)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 26, done.Usage.InputTokens)
	assert.Equal(t, 282, done.Usage.OutputTokens)
}

func TestParseStreamNativeToolCall(t *testing.T) {
	p := New(&providers.Config{})
	stream := strings.Join([]string{
		`{"model":"llama3.1","created_at":"2025-01-14T21:02:11.020Z","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Paris","unit":"celsius"}}}]},"done":false}`,
		`{"model":"llama3.1","created_at":"2025-01-14T21:02:11.310Z","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":170,"eval_count":24}`,
		``,
	}, "\n")

	chunks, err := p.ParseStreamChunk([]byte(stream))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	call := chunks[0]
	require.Equal(t, providers.ChunkTypeToolCall, call.Type)
	require.Len(t, call.ToolCalls, 1)
	fragment := call.ToolCalls[0]
	assert.NotEmpty(t, fragment.ID)
	assert.Equal(t, "get_weather", fragment.Name)
	assert.JSONEq(t, `{"city": "Paris", "unit": "celsius"}`, fragment.ArgumentsDelta)
	assert.True(t, fragment.Complete)

	assert.Equal(t, providers.ChunkTypeDone, chunks[1].Type)
}

func TestParseStreamParallelToolCalls(t *testing.T) {
	p := New(&providers.Config{})
	frame := `{"model":"llama3.1","created_at":"2025-01-14T21:05:00.000Z","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"add","arguments":{"a":2,"b":3}}},{"function":{"name":"mul","arguments":{"a":2,"b":3}}}]},"done":false}` + "\n"

	chunks, err := p.ParseStreamChunk([]byte(frame))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "add", chunks[0].ToolCalls[0].Name)
	assert.Equal(t, "mul", chunks[1].ToolCalls[0].Name)
	assert.NotEqual(t, chunks[0].ToolCalls[0].ID, chunks[1].ToolCalls[0].ID)
}

func TestParseStreamSurvivesHostileBoundaries(t *testing.T) {
	p := New(&providers.Config{})
	stream := []byte(strings.Join([]string{
		`{"model":"llama3.2","created_at":"2025-01-14T20:33:28.123Z","message":{"role":"assistant","content":"Hello"},"done":false}`,
		`{"model":"llama3.2","created_at":"2025-01-14T20:33:28.448Z","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		``,
	}, "\n"))

	var chunks []*providers.StreamChunk
	for i := 0; i < len(stream); i += 9 {
		end := i + 9
		if end > len(stream) {
			end = len(stream)
		}
		parsed, err := p.ParseStreamChunk(stream[i:end])
		require.NoError(t, err)
		chunks = append(chunks, parsed...)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, providers.ChunkTypeDone, chunks[1].Type)
}

func TestParseStreamErrorFrame(t *testing.T) {
	p := New(&providers.Config{})
	_, err := p.ParseStreamChunk([]byte(`{"error":"model \"nope\" not found, try pulling it first"}` + "\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama stream error")
	assert.Contains(t, err.Error(), "not found")
}

func TestParseStreamSingleDoneChunk(t *testing.T) {
	p := New(&providers.Config{})
	done := `{"model":"llama3.2","created_at":"2025-01-14T20:33:28.448Z","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}` + "\n"

	chunks, err := p.ParseStreamChunk([]byte(done))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunks, err = p.ParseStreamChunk([]byte(done))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestExtractFromCompleteResponse(t *testing.T) {
	body := []byte(`{
		"model": "llama3.1",
		"created_at": "2025-01-14T21:02:11.310Z",
		"message": {
			"role": "assistant",
			"content": "Checking that for you.",
			"tool_calls": [
				{"function": {"name": "get_weather", "arguments": {"city": "Oslo"}}}
			]
		},
		"done": true,
		"done_reason": "stop",
		"prompt_eval_count": 170,
		"eval_count": 24
	}`)

	p := New(&providers.Config{})
	require.True(t, p.HasToolCalls(body))

	calls, err := p.ExtractToolCalls(body)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, map[string]interface{}{"city": "Oslo"}, calls[0].Arguments)

	assert.Equal(t, "Checking that for you.", p.ExtractContent(body))
	assert.Equal(t, "", p.ExtractContent([]byte("null")))
}

func TestExtractEmbeddedToolCallsEnabled(t *testing.T) {
	p := New(&providers.Config{})
	require.True(t, p.SupportsEmbeddedToolCalls())

	calls := p.ExtractEmbeddedToolCalls("I will call a tool:\n```json\n{\"name\": \"get_weather\", \"arguments\": {\"city\": \"Paris\"}}\n```")
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)
}
