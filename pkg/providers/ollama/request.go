package ollama

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

// BuildRequestBody renders a streaming chat request and resets the
// adapter for the stream it will produce. Sampling settings ride in the
// options map; the output token cap is num_predict there.
func (p *Provider) BuildRequestBody(messages []chat.Message, meta turns.Metadata, defs []tools.Definition) ([]byte, error) {
	p.resetStream()

	model, err := p.cfg.ResolveModel(meta)
	if err != nil {
		return nil, err
	}
	p.model = model

	baseURL, err := p.cfg.ResolveBaseURL(meta, defaultBaseURL)
	if err != nil {
		return nil, err
	}
	p.baseURL = baseURL

	req := request{
		Model:    model,
		Messages: lowerMessages(messages),
		Stream:   true,
	}

	options := map[string]interface{}{}
	temperature, ok, err := p.cfg.ResolveTemperature(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		options["temperature"] = temperature
	}
	maxTokens, ok, err := p.cfg.ResolveMaxTokens(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		options["num_predict"] = maxTokens
	}
	if p.cfg.TopP != nil {
		options["top_p"] = *p.cfg.TopP
	}
	if len(options) > 0 {
		req.Options = options
	}

	for _, def := range defs {
		formatted, err := p.FormatTool(def)
		if err != nil {
			return nil, err
		}
		req.Tools = append(req.Tools, formatted.(tool))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize chat request")
	}
	return body, nil
}

// lowerMessages converts canonical messages to the wire form. A run of
// assistant tool requests becomes one assistant message with the
// tool_calls batch; replies follow as tool-role messages, matched by
// order since the server has no call ids.
func lowerMessages(messages []chat.Message) []message {
	out := make([]message, 0, len(messages))
	var pendingCalls []toolCall

	flush := func() {
		if len(pendingCalls) == 0 {
			return
		}
		out = append(out, message{Role: roleAssistant, ToolCalls: pendingCalls})
		pendingCalls = nil
	}

	for _, msg := range messages {
		switch {
		case msg.IsToolCall():
			pendingCalls = append(pendingCalls, toolCall{Function: toolCallFunction{
				Name:      msg.ToolName,
				Arguments: parseArgsObject(msg.Content),
			}})
		case msg.Role == chat.RoleTool:
			flush()
			out = append(out, message{Role: roleTool, Content: msg.Content})
		default:
			flush()
			out = append(out, message{Role: wireRole(msg.Role), Content: msg.Content})
		}
	}
	flush()
	return out
}

func wireRole(role chat.Role) string {
	switch role {
	case chat.RoleSystem:
		return roleSystem
	case chat.RoleAssistant:
		return roleAssistant
	default:
		return roleUser
	}
}

func parseArgsObject(serialized string) map[string]interface{} {
	trimmed := strings.TrimSpace(serialized)
	if trimmed == "" {
		return map[string]interface{}{}
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil || obj == nil {
		return map[string]interface{}{}
	}
	return obj
}
