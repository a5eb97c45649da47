package gemini

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// ParseStreamChunk consumes one network read of SSE bytes. Each data
// line is a complete response object. Function calls arrive with their
// arguments fully assembled, so their fragments are born complete, with
// a synthesized id the API never provides. A candidate with a
// finishReason ends the stream.
func (p *Provider) ParseStreamChunk(raw []byte) ([]*providers.StreamChunk, error) {
	var chunks []*providers.StreamChunk
	for _, line := range p.lines.Feed(raw) {
		data, ok := providers.SSEData(line)
		if !ok || data == "" {
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
	var frame response
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.Wrapf(err, "malformed stream frame %q", truncate(data, 120))
	}
	if len(frame.Candidates) == 0 && frame.UsageMetadata == nil {
		if msg := providers.ErrorMessage(data); msg != "" {
			return nil, errors.Errorf("%s stream error: %s", p.ID(), msg)
		}
	}

	if frame.UsageMetadata != nil {
		p.usage = &events.Usage{
			InputTokens:  frame.UsageMetadata.PromptTokenCount,
			OutputTokens: frame.UsageMetadata.CandidatesTokenCount,
			CachedTokens: frame.UsageMetadata.CachedContentTokenCount,
		}
	}
	if len(frame.Candidates) == 0 {
		return nil, nil
	}

	candidate := frame.Candidates[0]
	var chunks []*providers.StreamChunk
	if candidate.Content != nil {
		for _, pt := range candidate.Content.Parts {
			switch {
			case pt.FunctionCall != nil:
				args, err := json.Marshal(pt.FunctionCall.Args)
				if err != nil {
					return nil, errors.Wrapf(err, "function call %s has unencodable args", pt.FunctionCall.Name)
				}
				chunks = append(chunks, providers.NewToolCallChunk(toolcall.Fragment{
					ID:             uuid.New().String(),
					Name:           pt.FunctionCall.Name,
					ArgumentsDelta: string(args),
					Complete:       true,
				}))
			case pt.Text != "":
				chunks = append(chunks, providers.NewContentChunk(pt.Text))
			}
		}
	}
	if candidate.FinishReason != "" && !p.done {
		p.done = true
		p.stopReason = candidate.FinishReason
		chunks = append(chunks, providers.NewDoneChunk(p.stopReason, p.usage))
	}
	return chunks, nil
}

// HasToolCalls reports whether a complete response body carries
// function calls.
func (p *Provider) HasToolCalls(body []byte) bool {
	calls, err := p.ExtractToolCalls(body)
	return err == nil && len(calls) > 0
}

// ExtractToolCalls pulls the function calls out of a complete response
// body, ids synthesized.
func (p *Provider) ExtractToolCalls(body []byte) ([]tools.Call, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "could not decode generate content response")
	}
	var out []tools.Call
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, pt := range candidate.Content.Parts {
			if pt.FunctionCall == nil {
				continue
			}
			args := pt.FunctionCall.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			out = append(out, tools.Call{
				ID:        uuid.New().String(),
				Name:      pt.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// ExtractContent joins the text parts of the first candidate.
func (p *Provider) ExtractContent(body []byte) string {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	text := ""
	for _, pt := range resp.Candidates[0].Content.Parts {
		text += pt.Text
	}
	return text
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
