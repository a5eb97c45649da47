package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBufferSplitMidFrame(t *testing.T) {
	buf := &LineBuffer{}

	lines := buf.Feed([]byte(`data: {"content":`))
	assert.Empty(t, lines)
	assert.True(t, buf.Pending())

	lines = buf.Feed([]byte(" \"hi\"}\n\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, `data: {"content": "hi"}`, lines[0])
	assert.Equal(t, "", lines[1])
	assert.False(t, buf.Pending())
}

func TestLineBufferCRLF(t *testing.T) {
	buf := &LineBuffer{}
	lines := buf.Feed([]byte("data: one\r\ndata: two\r\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, "data: one", lines[0])
	assert.Equal(t, "data: two", lines[1])
}

func TestLineBufferManySmallReads(t *testing.T) {
	buf := &LineBuffer{}
	var lines []string
	for _, b := range []byte("a\nbc\nd") {
		lines = append(lines, buf.Feed([]byte{b})...)
	}
	assert.Equal(t, []string{"a", "bc"}, lines)
	assert.True(t, buf.Pending())
}

func TestSSEData(t *testing.T) {
	data, ok := SSEData(`data: {"type": "ping"}`)
	require.True(t, ok)
	assert.Equal(t, `{"type": "ping"}`, data)

	data, ok = SSEData("data:[DONE]")
	require.True(t, ok)
	assert.Equal(t, "[DONE]", data)

	for _, line := range []string{"", ": keep-alive", "event: message_start", "id: 42", "retry: 100"} {
		_, ok := SSEData(line)
		assert.False(t, ok, "line %q should carry no data", line)
	}
}
