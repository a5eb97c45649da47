package ollama

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// ParseStreamChunk consumes one network read of NDJSON bytes. Tool
// calls arrive whole, so their fragments are born complete with
// synthesized ids. The done:true frame ends the stream and carries the
// eval counters that become usage.
func (p *Provider) ParseStreamChunk(raw []byte) ([]*providers.StreamChunk, error) {
	var chunks []*providers.StreamChunk
	for _, line := range p.lines.Feed(raw) {
		if line == "" {
			continue
		}
		parsed, err := p.parseFrame([]byte(line))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, parsed...)
	}
	return chunks, nil
}

func (p *Provider) parseFrame(data []byte) ([]*providers.StreamChunk, error) {
	var frame responseFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.Wrapf(err, "malformed stream frame %q", truncate(data, 120))
	}
	if frame.Error != "" {
		return nil, errors.Errorf("%s stream error: %s", p.ID(), frame.Error)
	}

	var chunks []*providers.StreamChunk
	if frame.Message != nil {
		if frame.Message.Content != "" {
			chunks = append(chunks, providers.NewContentChunk(frame.Message.Content))
		}
		for _, tc := range frame.Message.ToolCalls {
			fragment, err := fragmentFor(tc)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, providers.NewToolCallChunk(fragment))
		}
	}

	if frame.Done && !p.done {
		p.done = true
		if frame.PromptEvalCount > 0 || frame.EvalCount > 0 {
			p.usage = &events.Usage{
				InputTokens:  frame.PromptEvalCount,
				OutputTokens: frame.EvalCount,
			}
		}
		chunks = append(chunks, providers.NewDoneChunk(frame.DoneReason, p.usage))
	}
	return chunks, nil
}

func fragmentFor(tc toolCall) (toolcall.Fragment, error) {
	args := tc.Function.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return toolcall.Fragment{}, errors.Wrapf(err, "tool call %s has unencodable arguments", tc.Function.Name)
	}
	return toolcall.Fragment{
		ID:             uuid.New().String(),
		Name:           tc.Function.Name,
		ArgumentsDelta: string(encoded),
		Complete:       true,
	}, nil
}

// HasToolCalls reports whether a complete response body carries calls.
func (p *Provider) HasToolCalls(body []byte) bool {
	calls, err := p.ExtractToolCalls(body)
	return err == nil && len(calls) > 0
}

// ExtractToolCalls pulls the calls out of a complete response body, ids
// synthesized.
func (p *Provider) ExtractToolCalls(body []byte) ([]tools.Call, error) {
	var frame responseFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		return nil, errors.Wrap(err, "could not decode chat response")
	}
	if frame.Message == nil {
		return nil, nil
	}
	var out []tools.Call
	for _, tc := range frame.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		out = append(out, tools.Call{
			ID:        uuid.New().String(),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// ExtractContent returns the message text of a complete response body.
func (p *Provider) ExtractContent(body []byte) string {
	var frame responseFrame
	if err := json.Unmarshal(body, &frame); err != nil || frame.Message == nil {
		return ""
	}
	return frame.Message.Content
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
