package toolcall

import "time"

// Fragment is one adapter-reported piece of a tool call. Vendors that
// stream arguments deliver many fragments per call; vendors that send the
// call whole deliver exactly one with Complete set.
//
// Adapters stamp the ID on every fragment (keeping their own index→id maps
// for vendors whose later deltas only carry an index); they never
// accumulate arguments. ArgumentsDelta is appended to the record's
// Arguments by the ledger.
type Fragment struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"argumentsDelta,omitempty"`
	Index          int    `json:"index,omitempty"`
	ParentID       string `json:"parentId,omitempty"`
	Complete       bool   `json:"complete,omitempty"`
}

// Record is the per-invocation entry of the ledger. Created when an adapter
// first reports a candidate call, mutated only through ledger transitions,
// kept as read-only history once terminal.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is the raw accumulated JSON text exactly as the vendor
	// streamed it. Parsing into a structured value happens at dispatch.
	Arguments    string     `json:"arguments"`
	State        State      `json:"state"`
	ArgsComplete bool       `json:"argsComplete"`
	Result       any        `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	ParentID     string     `json:"parentId,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	EndTime      *time.Time `json:"endTime,omitempty"`
}

// Terminal reports whether the record reached a terminal state.
func (r *Record) Terminal() bool {
	return r.State.Terminal()
}
