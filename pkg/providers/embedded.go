package providers

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// ExtractEmbeddedCalls scans assistant text for tool calls written as
// JSON instead of the vendor's structured channel, a habit of local
// models without native tool support. It recognizes objects carrying a
// tool name under "name" or "tool" and arguments under "arguments",
// "parameters" or "params", alone or in a top-level array, fenced or
// bare. The extraction is a heuristic: anything ambiguous is skipped
// rather than guessed at, so an empty result is a normal outcome.
func ExtractEmbeddedCalls(text string) []tools.Call {
	var calls []tools.Call
	for _, span := range jsonSpans(text) {
		calls = append(calls, decodeEmbedded(span)...)
	}
	return calls
}

// jsonSpans returns the balanced top-level JSON object and array spans
// in text. Brackets inside JSON string literals are ignored; fence
// markers and prose around the spans fall out naturally.
func jsonSpans(text string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

func decodeEmbedded(span string) []tools.Call {
	trimmed := strings.TrimSpace(span)
	if strings.HasPrefix(trimmed, "[") {
		var fields []map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil
		}
		var calls []tools.Call
		for _, f := range fields {
			if call, ok := callFromFields(f); ok {
				calls = append(calls, call)
			}
		}
		return calls
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil
	}
	if call, ok := callFromFields(fields); ok {
		return []tools.Call{call}
	}
	return nil
}

// callFromFields accepts an object only when it names a tool and
// carries an explicit arguments key. Objects that merely contain a
// "name" field are prose, not calls.
func callFromFields(fields map[string]json.RawMessage) (tools.Call, bool) {
	name := stringField(fields, "name")
	if name == "" {
		name = stringField(fields, "tool")
	}
	if name == "" {
		return tools.Call{}, false
	}
	raw, ok := fields["arguments"]
	if !ok {
		raw, ok = fields["parameters"]
	}
	if !ok {
		raw, ok = fields["params"]
	}
	if !ok {
		return tools.Call{}, false
	}
	args, ok := decodeArguments(raw)
	if !ok {
		return tools.Call{}, false
	}
	return tools.Call{ID: uuid.New().String(), Name: name, Arguments: args}, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// decodeArguments accepts an object, a JSON null (meaning no
// arguments), or an object double-encoded as a JSON string, which some
// models emit for the arguments field.
func decodeArguments(raw json.RawMessage) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj == nil {
			obj = map[string]interface{}{}
		}
		return obj, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
