package tools

import "time"

// Call is one tool invocation request as it leaves the model: the name may
// carry a backend scope prefix and the arguments may still be a raw JSON
// string. The router normalizes both before dispatch.
type Call struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
	ParentID  string `json:"parentId,omitempty"`
}

// Outcome is the settled result of one Call. Exactly one of Result or Err
// is meaningful; TimedOut distinguishes deadline expiry from other errors.
type Outcome struct {
	Call     Call
	Result   any
	Err      error
	TimedOut bool
	Duration time.Duration
}

// OK reports whether the call settled successfully.
func (o Outcome) OK() bool {
	return o.Err == nil && !o.TimedOut
}
