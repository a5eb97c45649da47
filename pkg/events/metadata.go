package events

import "github.com/rs/zerolog"

// ErrorPayload is the structured error carried by SESSION_ERROR events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes used by the orchestrator. The set is advisory; the wire field
// is a plain string.
const (
	ErrorCodeTransport    = "transport"
	ErrorCodeVendor       = "vendor"
	ErrorCodeRequestBuild = "request_build"
	ErrorCodeMaxRounds    = "max_rounds"
)

// Usage is the token accounting a vendor reports for one round, attached to
// MODEL_GENERATION_STOP when available.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	CachedTokens int `json:"cachedTokens,omitempty"`
}

func (u Usage) MarshalZerologObject(e *zerolog.Event) {
	e.Int("input_tokens", u.InputTokens)
	e.Int("output_tokens", u.OutputTokens)
	if u.CachedTokens != 0 {
		e.Int("cached_tokens", u.CachedTokens)
	}
}
