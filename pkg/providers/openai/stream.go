package openai

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// streamFrame wraps the library's chunk type with the usage block some
// servers attach to the final data frame.
type streamFrame struct {
	go_openai.ChatCompletionStreamResponse
	Usage *go_openai.Usage `json:"usage,omitempty"`
}

// ParseStreamChunk consumes one network read of SSE bytes. Frames split
// across reads are reassembled; keep-alive and comment lines produce
// nothing. The "[DONE]" sentinel becomes the done chunk, carrying the
// finish reason and usage seen earlier in the stream.
func (p *Provider) ParseStreamChunk(raw []byte) ([]*providers.StreamChunk, error) {
	var chunks []*providers.StreamChunk
	for _, line := range p.lines.Feed(raw) {
		data, ok := providers.SSEData(line)
		if !ok || data == "" {
			continue
		}
		if data == doneSentinel {
			if p.done {
				continue
			}
			p.done = true
			chunks = append(chunks, providers.NewDoneChunk(p.stopReason, p.usage))
			continue
		}
		parsed, err := p.parseFrame([]byte(data))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, parsed...)
	}
	return chunks, nil
}

func (p *Provider) parseFrame(data []byte) ([]*providers.StreamChunk, error) {
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.Wrapf(err, "malformed stream frame %q", truncate(data, 120))
	}
	if frame.ID == "" && len(frame.Choices) == 0 {
		if msg := providers.ErrorMessage(data); msg != "" {
			return nil, errors.Errorf("%s stream error: %s", p.id, msg)
		}
	}
	if frame.Usage != nil {
		p.usage = &events.Usage{
			InputTokens:  frame.Usage.PromptTokens,
			OutputTokens: frame.Usage.CompletionTokens,
		}
	}
	if len(frame.Choices) == 0 {
		return nil, nil
	}

	choice := frame.Choices[0]
	var chunks []*providers.StreamChunk
	if choice.Delta.Content != "" {
		chunks = append(chunks, providers.NewContentChunk(choice.Delta.Content))
	}
	if len(choice.Delta.ToolCalls) > 0 {
		fragments := make([]toolcall.Fragment, 0, len(choice.Delta.ToolCalls))
		for _, tc := range choice.Delta.ToolCalls {
			fragments = append(fragments, p.fragmentFor(tc))
		}
		chunks = append(chunks, providers.NewToolCallChunk(fragments...))
	}
	if choice.FinishReason != "" && choice.FinishReason != "null" {
		p.stopReason = string(choice.FinishReason)
	}
	return chunks, nil
}

// fragmentFor stamps the call id onto a delta. The API sends the id only
// on a call's first fragment and keys the rest by index; servers that
// omit ids entirely get one synthesized.
func (p *Provider) fragmentFor(tc go_openai.ToolCall) toolcall.Fragment {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	if tc.ID != "" {
		p.idByIndex[idx] = tc.ID
	}
	id, ok := p.idByIndex[idx]
	if !ok {
		id = uuid.New().String()
		p.idByIndex[idx] = id
	}
	return toolcall.Fragment{
		ID:             id,
		Name:           tc.Function.Name,
		ArgumentsDelta: tc.Function.Arguments,
		Index:          idx,
	}
}

// HasToolCalls reports whether a complete response body carries calls.
func (p *Provider) HasToolCalls(body []byte) bool {
	calls, err := p.ExtractToolCalls(body)
	return err == nil && len(calls) > 0
}

// ExtractToolCalls pulls the calls out of a complete response body.
// Argument text that parses as an object is returned structured;
// anything else is handed over raw for the router to coerce.
func (p *Provider) ExtractToolCalls(body []byte) ([]tools.Call, error) {
	var resp go_openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "could not decode chat completion response")
	}
	var out []tools.Call
	for _, choice := range resp.Choices {
		for _, tc := range choice.Message.ToolCalls {
			out = append(out, tools.Call{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: argumentsValue(tc.Function.Arguments),
			})
		}
	}
	return out, nil
}

// ExtractContent returns the first choice's text, or "".
func (p *Provider) ExtractContent(body []byte) string {
	var resp go_openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func argumentsValue(raw string) interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err == nil && m != nil {
		return m
	}
	return raw
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
