package events

import "encoding/json"

// ToolEventEntry aggregates the lifecycle of one tool call across argument
// streaming, execution, and settlement. It is keyed by the tool call ID.
type ToolEventEntry struct {
	ID        string
	Name      string
	Arguments string
	ArgsDone  bool
	Started   bool
	Executing bool
	Result    string
	Error     string
	TimedOut  bool
}

// ToolEventAggregator collects tool-related events into compact entries per
// tool call ID. UI layers can render the entries without tracking the raw
// event stream themselves.
type ToolEventAggregator struct {
	index   map[string]int
	entries []ToolEventEntry
}

// NewToolEventAggregator creates a new aggregator.
func NewToolEventAggregator() *ToolEventAggregator {
	return &ToolEventAggregator{
		index:   make(map[string]int),
		entries: make([]ToolEventEntry, 0, 4),
	}
}

// Reset clears the aggregator state.
func (a *ToolEventAggregator) Reset() {
	a.index = make(map[string]int)
	a.entries = a.entries[:0]
}

// Entries returns a snapshot of current entries in insertion order.
func (a *ToolEventAggregator) Entries() []ToolEventEntry {
	// Return a shallow copy to avoid external mutation
	out := make([]ToolEventEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Handle consumes an Event and updates entries when it is tool-related.
func (a *ToolEventAggregator) Handle(e Event) {
	switch ev := e.(type) {
	case *EventToolArgsStart:
		if ev.ToolCallID == "" {
			return
		}
		idx := a.ensure(ev.ToolCallID)
		a.entries[idx].Name = ev.ToolName
	case *EventToolArgsComplete:
		if ev.ToolCallID == "" {
			return
		}
		idx := a.ensure(ev.ToolCallID)
		a.entries[idx].ArgsDone = true
		if ev.ToolName != "" {
			a.entries[idx].Name = ev.ToolName
		}
		if ev.Arguments != "" {
			a.entries[idx].Arguments = ev.Arguments
		}
	case *EventToolCallStart:
		if ev.ToolCallID == "" {
			return
		}
		idx := a.ensure(ev.ToolCallID)
		a.entries[idx].Started = true
		if ev.ToolName != "" {
			a.entries[idx].Name = ev.ToolName
		}
	case *EventToolCallExecuting:
		if ev.ToolCallID == "" {
			return
		}
		idx := a.ensure(ev.ToolCallID)
		a.entries[idx].Executing = true
	case *EventToolCallSuccess:
		if ev.ToolCallID == "" {
			return
		}
		idx := a.ensure(ev.ToolCallID)
		a.entries[idx].Result = marshalResult(ev.Result)
	case *EventToolCallError:
		if ev.ToolCallID == "" {
			return
		}
		idx := a.ensure(ev.ToolCallID)
		a.entries[idx].Error = ev.Error
	case *EventToolCallTimeout:
		if ev.ToolCallID == "" {
			return
		}
		idx := a.ensure(ev.ToolCallID)
		a.entries[idx].TimedOut = true
	}
}

// Lines returns a compact, plain-text representation for each entry.
// UI layers can style these strings as needed.
func (a *ToolEventAggregator) Lines() []string {
	lines := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		name := e.Name
		if name == "" {
			name = e.ID
		}
		parts := make([]string, 0, 4)
		parts = append(parts, "→ "+name)
		if e.Executing {
			parts = append(parts, "↳ exec")
		}
		switch {
		case e.TimedOut:
			parts = append(parts, "⏱ timeout")
		case e.Error != "":
			parts = append(parts, "✗ "+e.Error)
		case e.Result != "":
			parts = append(parts, "← "+e.Result)
		}
		if e.Arguments != "" {
			parts = append(parts, e.Arguments)
		}
		lines = append(lines, joinWithDoubleSpace(parts))
	}
	return lines
}

func (a *ToolEventAggregator) ensure(id string) int {
	if idx, ok := a.index[id]; ok {
		return idx
	}
	idx := len(a.entries)
	a.index[id] = idx
	a.entries = append(a.entries, ToolEventEntry{ID: id})
	return idx
}

func marshalResult(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func joinWithDoubleSpace(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	totalLen := 0
	for _, p := range parts {
		totalLen += len(p)
	}
	// preallocate with some extra for separators
	b := make([]byte, 0, totalLen+2*(len(parts)-1))
	for i, p := range parts {
		if i > 0 {
			b = append(b, ' ', ' ')
		}
		b = append(b, p...)
	}
	return string(b)
}
