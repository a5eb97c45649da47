package claude

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/claude/api"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

// BuildRequestBody renders a streaming Messages API request and resets
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

	system, wireMessages := lowerMessages(messages)

	req := api.Request{
		Model:     model,
		Messages:  wireMessages,
		System:    system,
		Stream:    true,
		MaxTokens: defaultMaxTokens,
	}

	maxTokens, ok, err := p.cfg.ResolveMaxTokens(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		req.MaxTokens = maxTokens
	}
	temperature, ok, err := p.cfg.ResolveTemperature(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		req.Temperature = &temperature
	}
	if p.cfg.TopP != nil {
		topP := *p.cfg.TopP
		req.TopP = &topP
	}

	for _, def := range defs {
		tool, err := p.FormatTool(def)
		if err != nil {
			return nil, err
		}
		req.Tools = append(req.Tools, tool.(api.Tool))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize messages request")
	}
	return body, nil
}

// lowerMessages converts canonical messages to the wire form. System
// messages are hoisted into the request's system prompt; tool requests
// become assistant tool_use blocks and tool replies become tool_result
// blocks in a user message; consecutive same-role messages merge into
// one multi-block message, since the API insists on alternating roles.
func lowerMessages(messages []chat.Message) (string, []api.Message) {
	var systemParts []string
	var out []api.Message

	appendBlock := func(role string, block api.ContentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			return
		}
		out = append(out, api.Message{Role: role, Content: []api.ContentBlock{block}})
	}

	for _, msg := range messages {
		switch {
		case msg.Role == chat.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case msg.IsToolCall():
			appendBlock(api.RoleAssistant, api.ToolUseBlock(msg.ToolCallID, msg.ToolName, toolInput(msg.Content)))
		case msg.Role == chat.RoleTool:
			appendBlock(api.RoleUser, api.ToolResultBlock(msg.ToolCallID, msg.Content))
		case msg.Role == chat.RoleAssistant:
			if msg.Content != "" {
				appendBlock(api.RoleAssistant, api.TextBlock(msg.Content))
			}
		default:
			appendBlock(api.RoleUser, api.TextBlock(msg.Content))
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

// toolInput parses serialized call arguments back into the object the
// API requires on tool_use blocks.
func toolInput(serialized string) interface{} {
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
