package openai

import (
	"encoding/json"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

// BuildRequestBody renders a streaming chat completion request and
// resets the adapter for the stream it will produce.
func (p *Provider) BuildRequestBody(messages []chat.Message, meta turns.Metadata, defs []tools.Definition) ([]byte, error) {
	p.resetStream()

	model, err := p.cfg.ResolveModel(meta)
	if err != nil {
		return nil, err
	}
	p.model = model

	baseURL, err := p.cfg.ResolveBaseURL(meta, p.defaultURL)
	if err != nil {
		return nil, err
	}
	p.baseURL = baseURL

	wireMessages, err := lowerMessages(messages)
	if err != nil {
		return nil, err
	}

	req := go_openai.ChatCompletionRequest{
		Model:    model,
		Messages: wireMessages,
		Stream:   true,
	}

	temperature, ok, err := p.cfg.ResolveTemperature(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		req.Temperature = float32(temperature)
	}
	maxTokens, ok, err := p.cfg.ResolveMaxTokens(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		req.MaxTokens = maxTokens
	}
	if p.cfg.TopP != nil {
		req.TopP = float32(*p.cfg.TopP)
	}

	for _, def := range defs {
		tool, err := p.FormatTool(def)
		if err != nil {
			return nil, err
		}
		req.Tools = append(req.Tools, tool.(go_openai.Tool))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize chat completion request")
	}
	return body, nil
}

// lowerMessages converts canonical messages to the wire form. A run of
// assistant tool requests collapses into a single assistant message
// carrying the whole tool_calls batch, followed by the tool replies in
// request order, which is the pairing the API validates.
func lowerMessages(messages []chat.Message) ([]go_openai.ChatCompletionMessage, error) {
	out := make([]go_openai.ChatCompletionMessage, 0, len(messages))

	var pendingCalls []go_openai.ToolCall
	var delayedReplies []go_openai.ChatCompletionMessage
	expectedIDs := map[string]bool{}

	endToolPhase := func() {
		if len(pendingCalls) > 0 {
			out = append(out, go_openai.ChatCompletionMessage{
				Role:      go_openai.ChatMessageRoleAssistant,
				ToolCalls: pendingCalls,
			})
		}
		out = append(out, delayedReplies...)
		pendingCalls = nil
		delayedReplies = nil
		expectedIDs = map[string]bool{}
	}

	for _, msg := range messages {
		switch {
		case msg.IsToolCall():
			pendingCalls = append(pendingCalls, go_openai.ToolCall{
				ID:   msg.ToolCallID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      msg.ToolName,
					Arguments: msg.Content,
				},
			})
			expectedIDs[msg.ToolCallID] = true

		case msg.Role == chat.RoleTool:
			reply := go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			}
			if len(expectedIDs) == 0 {
				// reply without an outstanding request, pass it through
				out = append(out, reply)
				continue
			}
			delayedReplies = append(delayedReplies, reply)
			delete(expectedIDs, msg.ToolCallID)
			if len(expectedIDs) == 0 {
				endToolPhase()
			}

		default:
			if len(pendingCalls) > 0 || len(delayedReplies) > 0 {
				endToolPhase()
			}
			role, err := wireRole(msg.Role)
			if err != nil {
				return nil, err
			}
			out = append(out, go_openai.ChatCompletionMessage{
				Role:    role,
				Content: msg.Content,
			})
		}
	}
	if len(pendingCalls) > 0 || len(delayedReplies) > 0 {
		endToolPhase()
	}
	return out, nil
}

func wireRole(role chat.Role) (string, error) {
	switch role {
	case chat.RoleSystem:
		return go_openai.ChatMessageRoleSystem, nil
	case chat.RoleUser:
		return go_openai.ChatMessageRoleUser, nil
	case chat.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant, nil
	case chat.RoleTool:
		return go_openai.ChatMessageRoleTool, nil
	default:
		return "", errors.Errorf("role %q has no chat completion equivalent", role)
	}
}
