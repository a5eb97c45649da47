package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEmbeddedCallsFencedBlock(t *testing.T) {
	text := "I'll check the weather for you.\n" +
		"```json\n" +
		`{"name": "get_weather", "arguments": {"city": "Paris"}}` + "\n" +
		"```\n"

	calls := ExtractEmbeddedCalls(text)
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, map[string]interface{}{"city": "Paris"}, calls[0].Arguments)
}

func TestExtractEmbeddedCallsBareObjectInProse(t *testing.T) {
	text := `Let me work that out. {"tool": "calculator", "params": {"expression": "2+2"}} One moment.`

	calls := ExtractEmbeddedCalls(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "calculator", calls[0].Name)
	assert.Equal(t, map[string]interface{}{"expression": "2+2"}, calls[0].Arguments)
}

func TestExtractEmbeddedCallsArray(t *testing.T) {
	text := "```json\n" +
		`[{"name": "first", "arguments": {}}, {"name": "second", "arguments": {"x": 1}}]` + "\n" +
		"```"

	calls := ExtractEmbeddedCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Name)
	assert.Equal(t, map[string]interface{}{}, calls[0].Arguments)
	assert.Equal(t, "second", calls[1].Name)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, calls[1].Arguments)
}

func TestExtractEmbeddedCallsStringEncodedArguments(t *testing.T) {
	text := `{"name": "search", "arguments": "{\"query\": \"golang\"}"}`

	calls := ExtractEmbeddedCalls(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
	assert.Equal(t, map[string]interface{}{"query": "golang"}, calls[0].Arguments)
}

func TestExtractEmbeddedCallsNullArguments(t *testing.T) {
	calls := ExtractEmbeddedCalls(`{"name": "list_files", "arguments": null}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "list_files", calls[0].Name)
	assert.Equal(t, map[string]interface{}{}, calls[0].Arguments)
}

func TestExtractEmbeddedCallsBracesInsideStrings(t *testing.T) {
	calls := ExtractEmbeddedCalls(`{"name": "echo", "arguments": {"text": "use {braces} wisely"}}`)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]interface{}{"text": "use {braces} wisely"}, calls[0].Arguments)
}

func TestExtractEmbeddedCallsLowConfidence(t *testing.T) {
	// None of these are tool calls; the extractor must stay silent.
	for _, text := range []string{
		"The answer is 4.",
		`My friend {"name": "John", "age": 3} likes trains.`,
		`{"name": "broken", "arguments": {`,
		`{"arguments": {"x": 1}}`,
		`{"name": "odd", "arguments": 17}`,
		"```python\nprint('hello')\n```",
	} {
		assert.Empty(t, ExtractEmbeddedCalls(text), "text %q", text)
	}
}

func TestExtractEmbeddedCallsUniqueIDs(t *testing.T) {
	calls := ExtractEmbeddedCalls(`[{"name": "a", "arguments": {}}, {"name": "a", "arguments": {}}]`)
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}
