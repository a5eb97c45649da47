package claude

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/claude/api"
	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// ParseStreamChunk consumes one network read of SSE bytes. The event
// grammar is fixed: message_start, then per-block start/delta/stop
// sequences, then message_delta with the stop reason, then
// message_stop, with pings anywhere. Argument JSON arrives as
// input_json_delta pieces attributed to their block index, and
// content_block_stop marks that call's arguments complete.
func (p *Provider) ParseStreamChunk(raw []byte) ([]*providers.StreamChunk, error) {
	var chunks []*providers.StreamChunk
	for _, line := range p.lines.Feed(raw) {
		data, ok := providers.SSEData(line)
		if !ok || data == "" {
			continue
		}
		parsed, err := p.parseEvent([]byte(data))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, parsed...)
	}
	return chunks, nil
}

func (p *Provider) parseEvent(data []byte) ([]*providers.StreamChunk, error) {
	var event api.StreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.Wrapf(err, "malformed stream event %q", truncate(data, 120))
	}

	switch event.Type {
	case api.EventTypePing:
		return nil, nil

	case api.EventTypeError:
		if event.Error != nil {
			return nil, errors.Errorf("%s stream error: %s: %s", p.ID(), event.Error.Type, event.Error.Message)
		}
		return nil, errors.Errorf("%s stream error", p.ID())

	case api.EventTypeMessageStart:
		if event.Message != nil && event.Message.Usage.InputTokens > 0 {
			p.usage = &events.Usage{
				InputTokens:  event.Message.Usage.InputTokens,
				CachedTokens: event.Message.Usage.CacheReadInputTokens,
			}
		}
		return nil, nil

	case api.EventTypeContentBlockStart:
		return p.startBlock(event), nil

	case api.EventTypeContentBlockDelta:
		return p.deltaBlock(event), nil

	case api.EventTypeContentBlockStop:
		return p.stopBlock(event), nil

	case api.EventTypeMessageDelta:
		if event.Delta != nil && event.Delta.StopReason != "" {
			p.stopReason = event.Delta.StopReason
		}
		if event.Usage != nil && event.Usage.OutputTokens > 0 {
			if p.usage == nil {
				p.usage = &events.Usage{}
			}
			p.usage.OutputTokens = event.Usage.OutputTokens
		}
		return nil, nil

	case api.EventTypeMessageStop:
		if p.done {
			return nil, nil
		}
		p.done = true
		return []*providers.StreamChunk{providers.NewDoneChunk(p.stopReason, p.usage)}, nil

	default:
		// unknown event types are forward compatibility, not errors
		return nil, nil
	}
}

func (p *Provider) startBlock(event api.StreamEvent) []*providers.StreamChunk {
	block := event.ContentBlock
	if block == nil {
		return nil
	}
	state := &blockState{}
	p.blockByIndex[event.Index] = state

	switch block.Type {
	case api.ContentTypeToolUse:
		state.id = block.ID
		state.name = block.Name
		state.toolUse = true
		return []*providers.StreamChunk{providers.NewToolCallChunk(toolcall.Fragment{
			ID:    block.ID,
			Name:  block.Name,
			Index: event.Index,
		})}
	case api.ContentTypeText:
		if block.Text != "" {
			return []*providers.StreamChunk{providers.NewContentChunk(block.Text)}
		}
	}
	return nil
}

func (p *Provider) deltaBlock(event api.StreamEvent) []*providers.StreamChunk {
	if event.Delta == nil {
		return nil
	}
	switch event.Delta.Type {
	case api.DeltaTypeText:
		if event.Delta.Text == "" {
			return nil
		}
		return []*providers.StreamChunk{providers.NewContentChunk(event.Delta.Text)}

	case api.DeltaTypeInputJSON:
		if event.Delta.PartialJSON == "" {
			return nil
		}
		state := p.blockByIndex[event.Index]
		if state == nil || !state.toolUse {
			return nil
		}
		return []*providers.StreamChunk{providers.NewToolCallChunk(toolcall.Fragment{
			ID:             state.id,
			ArgumentsDelta: event.Delta.PartialJSON,
			Index:          event.Index,
		})}
	}
	return nil
}

func (p *Provider) stopBlock(event api.StreamEvent) []*providers.StreamChunk {
	state := p.blockByIndex[event.Index]
	if state == nil || !state.toolUse {
		return nil
	}
	return []*providers.StreamChunk{providers.NewToolCallChunk(toolcall.Fragment{
		ID:       state.id,
		Index:    event.Index,
		Complete: true,
	})}
}

// HasToolCalls reports whether a complete response body carries
// tool_use blocks.
func (p *Provider) HasToolCalls(body []byte) bool {
	calls, err := p.ExtractToolCalls(body)
	return err == nil && len(calls) > 0
}

// ExtractToolCalls pulls the tool_use blocks out of a complete response
// body.
func (p *Provider) ExtractToolCalls(body []byte) ([]tools.Call, error) {
	var resp api.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "could not decode messages response")
	}
	var out []tools.Call
	for _, block := range resp.Content {
		if block.Type != api.ContentTypeToolUse {
			continue
		}
		out = append(out, tools.Call{
			ID:        block.ID,
			Name:      block.Name,
			Arguments: block.Input,
		})
	}
	return out, nil
}

// ExtractContent joins the text blocks of a complete response body.
func (p *Provider) ExtractContent(body []byte) string {
	var resp api.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == api.ContentTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
