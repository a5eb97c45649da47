package providers

import (
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
)

// ChunkType classifies one normalized stream chunk.
type ChunkType string

const (
	// ChunkTypeContent carries a text delta.
	ChunkTypeContent ChunkType = "content"
	// ChunkTypeToolCall carries one or more tool-call fragments.
	ChunkTypeToolCall ChunkType = "tool_call"
	// ChunkTypeDone is the normalized termination sentinel. Every vendor's
	// own end-of-stream marker maps to exactly one of these.
	ChunkTypeDone ChunkType = "done"
)

// StreamChunk is the vendor-independent unit the orchestrator consumes.
// Adapters translate their wire frames into these; a single network read
// may yield zero, one, or several of them.
type StreamChunk struct {
	Type    ChunkType
	Content string
	// ToolCalls are fragments with the ID already stamped by the adapter.
	// Argument text in ArgumentsDelta is accumulated by the turn, never by
	// the adapter.
	ToolCalls []toolcall.Fragment
	// StopReason is set when the vendor reported why generation ended,
	// usually on or just before the done chunk.
	StopReason string
	// Usage carries token accounting when the vendor reports it.
	Usage *events.Usage
}

// NewContentChunk builds a text delta chunk.
func NewContentChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkTypeContent, Content: text}
}

// NewToolCallChunk builds a chunk carrying tool-call fragments.
func NewToolCallChunk(fragments ...toolcall.Fragment) *StreamChunk {
	return &StreamChunk{Type: ChunkTypeToolCall, ToolCalls: fragments}
}

// NewDoneChunk builds the termination chunk.
func NewDoneChunk(stopReason string, usage *events.Usage) *StreamChunk {
	return &StreamChunk{Type: ChunkTypeDone, StopReason: stopReason, Usage: usage}
}

// HasToolCalls reports whether the chunk carries tool-call fragments.
func (c *StreamChunk) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}
