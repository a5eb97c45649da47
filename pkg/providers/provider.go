package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

// Provider adapts one vendor wire dialect to the normalized turn loop.
// An instance is built per turn and is not safe for concurrent use: the
// streaming methods keep framing state (partial lines, tool-call index
// maps) between calls.
//
// The call order within a turn is fixed: BuildRequestBody, then Endpoint
// and Headers, then ParseStreamChunk once per network read until a done
// chunk arrives.
type Provider interface {
	// ID names the adapter (openai, lmstudio, anthropic, google, ollama).
	ID() string
	// Model reports the model resolved by the last BuildRequestBody.
	Model() string

	// FormatTool converts a normalized tool definition into the vendor's
	// declaration shape.
	FormatTool(def tools.Definition) (interface{}, error)
	// BuildRequestBody renders the full request. It fails when no model
	// is set in either the turn metadata or the provider config.
	BuildRequestBody(messages []chat.Message, meta turns.Metadata, defs []tools.Definition) ([]byte, error)
	Endpoint() (string, error)
	Headers() http.Header

	// ParseStreamChunk consumes one raw network read and returns the
	// normalized chunks it completes. Reads that only advance framing
	// state (partial lines, keep-alives) return no chunks and no error.
	ParseStreamChunk(raw []byte) ([]*StreamChunk, error)

	// HasToolCalls, ExtractToolCalls and ExtractContent operate on a
	// complete non-streaming response body.
	HasToolCalls(body []byte) bool
	ExtractToolCalls(body []byte) ([]tools.Call, error)
	ExtractContent(body []byte) string

	// FormatToolCallResult renders one executed call as the messages the
	// vendor expects on the follow-up request.
	FormatToolCallResult(name string, id string, args interface{}, result interface{}) []chat.Message

	// SupportsEmbeddedToolCalls reports whether the adapter scans
	// assistant text for tool calls when the vendor returned none in its
	// structured channel.
	SupportsEmbeddedToolCalls() bool
	ExtractEmbeddedToolCalls(text string) []tools.Call
}

// wireError is the union of the error envelopes the supported vendors
// send on non-2xx responses. OpenAI and Gemini nest an object under
// "error", Anthropic adds a top-level "type":"error", Ollama sends a
// bare string.
type wireError struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type wireErrorDetail struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Status  string      `json:"status"`
	Code    interface{} `json:"code"`
}

// DecodeErrorPayload turns a vendor error body into a descriptive error.
// It never returns nil: an unparseable body still yields an error built
// from the HTTP status and a truncated body sample.
func DecodeErrorPayload(providerID string, statusCode int, body []byte) error {
	if msg := ErrorMessage(body); msg != "" {
		return errors.Errorf("%s API error (HTTP %d): %s", providerID, statusCode, msg)
	}
	sample := strings.TrimSpace(string(body))
	if len(sample) > 200 {
		sample = sample[:200] + "..."
	}
	if sample == "" {
		return errors.Errorf("%s API error (HTTP %d)", providerID, statusCode)
	}
	return errors.Errorf("%s API error (HTTP %d): %s", providerID, statusCode, sample)
}

// ErrorMessage extracts the human-readable message from a vendor error
// payload, or "" when the bytes carry none. Adapters use it to spot
// error frames a vendor smuggles into an otherwise 2xx stream.
func ErrorMessage(body []byte) string {
	var envelope wireError
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Error) > 0 {
		var asString string
		if err := json.Unmarshal(envelope.Error, &asString); err == nil {
			return asString
		}
		var detail wireErrorDetail
		if err := json.Unmarshal(envelope.Error, &detail); err == nil && detail.Message != "" {
			if detail.Type != "" {
				return detail.Type + ": " + detail.Message
			}
			if detail.Status != "" {
				return detail.Status + ": " + detail.Message
			}
			return detail.Message
		}
	}
	return envelope.Message
}

// CanonicalToolExchange renders one executed call as the canonical
// assistant-asked / tool-replied message pair. Every adapter reports
// results this way and lowers the pair into its own wire form when the
// next request is built.
func CanonicalToolExchange(name string, id string, args interface{}, result interface{}) []chat.Message {
	return []chat.Message{
		{
			Role:       chat.RoleAssistant,
			Content:    marshalLenient(args),
			ToolName:   name,
			ToolCallID: id,
		},
		chat.NewToolMessage(id, name, marshalLenient(result)),
	}
}

// marshalLenient serializes v for replay in a message body. Strings are
// assumed to already be serialized arguments and pass through untouched.
func marshalLenient(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
