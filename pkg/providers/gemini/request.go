package gemini

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

// BuildRequestBody renders a streamGenerateContent request and resets
// the adapter for the stream it will produce.
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

	req := request{}
	req.SystemInstruction, req.Contents = lowerMessages(messages)

	cfg := &generationConfig{}
	configured := false
	temperature, ok, err := p.cfg.ResolveTemperature(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.Temperature = &temperature
		configured = true
	}
	maxTokens, ok, err := p.cfg.ResolveMaxTokens(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.MaxOutputTokens = maxTokens
		configured = true
	}
	if p.cfg.TopP != nil {
		topP := *p.cfg.TopP
		cfg.TopP = &topP
		configured = true
	}
	if configured {
		req.GenerationConfig = cfg
	}

	if len(defs) > 0 {
		decls := make([]functionDeclaration, 0, len(defs))
		for _, def := range defs {
			formatted, err := p.FormatTool(def)
			if err != nil {
				return nil, err
			}
			decls = append(decls, formatted.(functionDeclaration))
		}
		req.Tools = []toolDeclaration{{FunctionDeclarations: decls}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize generate content request")
	}
	return body, nil
}

// lowerMessages converts canonical messages to the wire form. System
// messages are hoisted into systemInstruction; tool requests become
// model-role functionCall parts and tool replies user-role
// functionResponse parts; consecutive same-role messages merge into one
// content entry.
func lowerMessages(messages []chat.Message) (*content, []content) {
	var systemParts []string
	var out []content

	appendPart := func(role string, pt part) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, pt)
			return
		}
		out = append(out, content{Role: role, Parts: []part{pt}})
	}

	for _, msg := range messages {
		switch {
		case msg.Role == chat.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case msg.IsToolCall():
			appendPart(roleModel, part{FunctionCall: &functionCall{
				Name: msg.ToolName,
				Args: parseArgsObject(msg.Content),
			}})
		case msg.Role == chat.RoleTool:
			appendPart(roleUser, part{FunctionResponse: &functionResponse{
				Name:     msg.ToolName,
				Response: responseObject(msg.Content),
			}})
		case msg.Role == chat.RoleAssistant:
			if msg.Content != "" {
				appendPart(roleModel, part{Text: msg.Content})
			}
		default:
			appendPart(roleUser, part{Text: msg.Content})
		}
	}

	var system *content
	if len(systemParts) > 0 {
		system = &content{Parts: []part{{Text: strings.Join(systemParts, "\n\n")}}}
	}
	return system, out
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

// responseObject shapes a serialized tool result into the object the
// API requires. Results that are not already objects are wrapped under
// a "result" key.
func responseObject(serialized string) map[string]interface{} {
	trimmed := strings.TrimSpace(serialized)
	if trimmed == "" {
		return map[string]interface{}{"result": ""}
	}
	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return map[string]interface{}{"result": serialized}
	}
	if obj, ok := value.(map[string]interface{}); ok && obj != nil {
		return obj
	}
	return map[string]interface{}{"result": value}
}

// schemaKeywords are the JSON-schema fields the API accepts in function
// declarations. Everything else gets dropped rather than refused.
var schemaKeywords = []string{"type", "description", "required", "enum"}

func sanitizeSchema(schema interface{}) map[string]interface{} {
	b, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return filterSchema(m)
}

func filterSchema(m map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, key := range schemaKeywords {
		if v, ok := m[key]; ok {
			out[key] = v
		}
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		cleaned := map[string]interface{}{}
		for name, sub := range props {
			if subMap, ok := sub.(map[string]interface{}); ok {
				cleaned[name] = filterSchema(subMap)
			}
		}
		out["properties"] = cleaned
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		out["items"] = filterSchema(items)
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}
