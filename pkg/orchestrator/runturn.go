package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

// RunTurn runs one assistant turn to its terminal outcome: request rounds
// are sent until the model stops asking for tools, every lifecycle step is
// published as an event, and the finished assistant message is returned.
//
// The turn ends in exactly one of three ways: DONE (message returned),
// ABORT (the context was canceled, by the caller or via Abort), or
// SESSION_ERROR (transport, vendor, request-build, or round-cap failure).
// On ABORT and SESSION_ERROR the error return is non-nil and active
// tool-call records are forced to FAILED.
//
// onEvent, when non-nil, receives every event of this turn in emission
// order, after the configured sinks.
func (o *Orchestrator) RunTurn(ctx context.Context, provider providers.Provider, messages []chat.Message, meta turns.Metadata, onEvent func(events.Event) error) (*chat.Message, error) {
	if provider == nil {
		return nil, errors.New("no provider configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	turn := turns.NewTurn("", meta)

	sinks := append([]events.EventSink{}, o.sinks...)
	if onEvent != nil {
		sinks = append(sinks, events.NewCallbackSink(onEvent))
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.registerCancel(turn.MessageID, cancel)
	defer o.unregisterCancel(turn.MessageID)

	run := &turnRun{
		o:        o,
		provider: provider,
		turn:     turn,
		messages: append([]chat.Message{}, messages...),
		sinks:    sinks,
	}

	log.Info().
		Str("message_id", turn.MessageID).
		Str("provider", provider.ID()).
		Int("messages", len(messages)).
		Msg("turn started")
	run.publish(turnCtx, events.NewSessionStartEvent(turn.MessageID))

	msg, err := run.execute(turnCtx)
	if err != nil {
		aborted := turn.Calls.Abort("")
		turn.Freeze()

		if turnCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			reason := "canceled"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "deadline exceeded"
			}
			run.publish(turnCtx, events.NewAbortEvent(turn.MessageID, reason))
			log.Info().
				Str("message_id", turn.MessageID).
				Int("aborted_tool_calls", len(aborted)).
				Msg("turn aborted")
			return nil, err
		}

		run.publish(turnCtx, events.NewSessionErrorEvent(turn.MessageID, events.ErrorPayload{
			Code:    errorCode(err),
			Message: err.Error(),
		}))
		log.Error().Err(err).Str("message_id", turn.MessageID).Msg("turn failed")
		return nil, err
	}

	turn.Freeze()
	log.Info().
		Str("message_id", turn.MessageID).
		Int("content_length", len(turn.FullContent)).
		Int("tool_calls", turn.Calls.Len()).
		Msg("turn completed")
	return msg, nil
}

// turnRun is the state of one RunTurn invocation.
type turnRun struct {
	o        *Orchestrator
	provider providers.Provider
	turn     *turns.Turn
	messages []chat.Message
	sinks    []events.EventSink

	defs       []tools.Definition
	stopReason string
	usage      *events.Usage
}

func (r *turnRun) publish(ctx context.Context, event events.Event) {
	r.o.publish(ctx, r.sinks, event)
}

func (r *turnRun) execute(ctx context.Context) (*chat.Message, error) {
	r.defs = r.listTools(ctx)

	for round := 1; ; round++ {
		if round > r.o.maxRounds {
			return nil, &classified{
				code: events.ErrorCodeMaxRounds,
				err:  errors.Errorf("max rounds (%d) reached", r.o.maxRounds),
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		final, err := r.runRound(ctx, round)
		if err != nil {
			return nil, err
		}
		if final != nil {
			return final, nil
		}
	}
}

// listTools collects the definitions advertised to the model. Vendors
// reject ":" in tool names, so the wire carries bare names; a duplicate
// name across scopes keeps its first occurrence, matching the router's
// unscoped resolution order.
func (r *turnRun) listTools(ctx context.Context) []tools.Definition {
	if r.o.router == nil {
		return nil
	}
	scopedDefs, err := r.o.router.ListTools(ctx, "")
	if err != nil {
		log.Warn().Err(err).Msg("tool listing failed, continuing without tools")
		return nil
	}

	seen := map[string]struct{}{}
	out := make([]tools.Definition, 0, len(scopedDefs))
	for _, def := range scopedDefs {
		if _, dup := seen[def.Name]; dup {
			log.Debug().Str("tool", def.Qualified()).Msg("skipping duplicate tool name in vendor catalog")
			continue
		}
		seen[def.Name] = struct{}{}
		out = append(out, def.Definition)
	}
	return out
}

// runRound performs one request/response round. A non-nil message means
// the turn is finished.
func (r *turnRun) runRound(ctx context.Context, round int) (*chat.Message, error) {
	log.Debug().
		Str("message_id", r.turn.MessageID).
		Int("round", round).
		Int("messages", len(r.messages)).
		Msg("request round")

	body, err := r.provider.BuildRequestBody(r.messages, r.turn.Metadata, r.defs)
	if err != nil {
		return nil, &classified{code: events.ErrorCodeRequestBuild, err: err}
	}
	if round == 1 {
		r.stampMetadata()
	}

	r.publish(ctx, events.NewResponseWaitingEvent(r.turn.MessageID))

	resp, err := r.o.openStream(ctx, r.provider, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var roundText strings.Builder
	err = r.o.consumeStream(ctx, r.provider, resp, func(chunk *providers.StreamChunk) error {
		switch chunk.Type {
		case providers.ChunkTypeContent:
			if chunk.Content == "" {
				return nil
			}
			if err := r.turn.AppendContent(chunk.Content); err != nil {
				return err
			}
			roundText.WriteString(chunk.Content)
			r.publish(ctx, events.NewTextEvent(r.turn.MessageID, chunk.Content))

		case providers.ChunkTypeToolCall:
			for _, frag := range chunk.ToolCalls {
				r.applyFragment(ctx, frag)
			}

		case providers.ChunkTypeDone:
			r.stopReason = chunk.StopReason
			r.addUsage(chunk.Usage)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	// Stream end finalizes every still-collecting call.
	r.finalizeCollecting(ctx)

	executable := r.executableRecords()
	if len(executable) == 0 && r.provider.SupportsEmbeddedToolCalls() {
		r.extractEmbedded(ctx, roundText.String())
		executable = r.executableRecords()
	}

	if len(executable) == 0 {
		r.publish(ctx, events.NewGenerationStopEvent(r.turn.MessageID, r.stopReason, r.usage))
		r.publish(ctx, events.NewSessionEndEvent(r.turn.MessageID))
		r.publish(ctx, events.NewDoneEvent(r.turn.MessageID, r.stopReason))
		msg := chat.NewAssistantMessage(r.turn.FullContent)
		return &msg, nil
	}

	if err := r.executeToolPhase(ctx, executable); err != nil {
		return nil, err
	}
	return nil, nil
}

// applyFragment merges one adapter-reported fragment and emits the
// lifecycle events the merge triggered.
func (r *turnRun) applyFragment(ctx context.Context, frag toolcall.Fragment) {
	rec, created, finalized, err := r.turn.UpsertToolCallFragment(frag)
	if err != nil {
		log.Warn().Err(err).Str("tool_name", frag.Name).Msg("dropping malformed tool call fragment")
		return
	}
	if created {
		r.publish(ctx, events.NewToolArgsStartEvent(r.turn.MessageID, toolRef(rec)))
	}
	if finalized {
		r.publish(ctx, events.NewToolArgsCompleteEvent(r.turn.MessageID, toolRef(rec), rec.Arguments))
	}
}

func (r *turnRun) finalizeCollecting(ctx context.Context) {
	for _, id := range r.turn.Calls.ActiveIDs() {
		rec, changed, err := r.turn.Calls.FinalizeArgs(id)
		if err != nil || !changed {
			continue
		}
		r.publish(ctx, events.NewToolArgsCompleteEvent(r.turn.MessageID, toolRef(rec), rec.Arguments))
	}
}

func (r *turnRun) executableRecords() []toolcall.Record {
	var out []toolcall.Record
	for _, id := range r.turn.Calls.ActiveIDs() {
		rec, ok := r.turn.Calls.Get(id)
		if !ok || !rec.ArgsComplete {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// extractEmbedded scans the round's text for tool calls when the vendor
// returned none in its structured channel.
func (r *turnRun) extractEmbedded(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	calls := r.provider.ExtractEmbeddedToolCalls(text)
	if len(calls) == 0 {
		return
	}
	log.Debug().
		Str("message_id", r.turn.MessageID).
		Int("count", len(calls)).
		Msg("extracted embedded tool calls from assistant text")

	for _, call := range calls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			log.Warn().Err(err).Str("tool_name", call.Name).Msg("dropping embedded call with unencodable arguments")
			continue
		}
		r.applyFragment(ctx, toolcall.Fragment{
			ID:             call.ID,
			Name:           call.Name,
			ArgumentsDelta: string(args),
			ParentID:       call.ParentID,
			Complete:       true,
		})
	}
}

// stampMetadata records the resolved provider and model on the turn, the
// fields persisted per assistant message.
func (r *turnRun) stampMetadata() {
	turns.KeyProvider.Set(&r.turn.Metadata, r.provider.ID())
	if model := r.provider.Model(); model != "" {
		turns.KeyModel.Set(&r.turn.Metadata, model)
	}
}

// addUsage accumulates per-round token counts so the final
// MODEL_GENERATION_STOP reports the whole turn.
func (r *turnRun) addUsage(u *events.Usage) {
	if u == nil {
		return
	}
	if r.usage == nil {
		r.usage = &events.Usage{}
	}
	r.usage.InputTokens += u.InputTokens
	r.usage.OutputTokens += u.OutputTokens
	r.usage.CachedTokens += u.CachedTokens
}

func toolRef(rec toolcall.Record) events.ToolRef {
	return events.ToolRef{
		ToolCallID:       rec.ID,
		ToolName:         rec.Name,
		ParentToolCallID: rec.ParentID,
	}
}
