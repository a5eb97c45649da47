package providers

import (
	"bytes"
	"strings"
)

// LineBuffer reassembles newline-delimited frames from arbitrary read
// boundaries. SSE and NDJSON streams are both line-framed, so one
// buffer serves every adapter.
type LineBuffer struct {
	rest []byte
}

// Feed appends raw bytes and returns the lines they complete, with the
// line terminator (and any carriage return) stripped. Bytes after the
// last newline stay buffered until a later read completes them.
func (b *LineBuffer) Feed(raw []byte) []string {
	b.rest = append(b.rest, raw...)
	var lines []string
	for {
		i := bytes.IndexByte(b.rest, '\n')
		if i < 0 {
			return lines
		}
		line := string(b.rest[:i])
		b.rest = b.rest[i+1:]
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
}

// Pending reports whether a partial line is still buffered.
func (b *LineBuffer) Pending() bool {
	return len(b.rest) > 0
}

// SSEData extracts the payload of an SSE data line. The second return
// is false for blank lines, comments and non-data fields such as
// "event:" or "id:".
func SSEData(line string) (string, bool) {
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimPrefix(line, "data:")
	return strings.TrimPrefix(data, " "), true
}
