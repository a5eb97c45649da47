package orchestrator

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// executeToolPhase runs one batch of finalized tool calls: records move to
// EXECUTING, the batch is dispatched all-settled through the router, each
// settlement advances its record and emits its event, and the results are
// folded into the message list for the next round.
//
// Settlements are consumed on this goroutine, so events stay in emission
// order. A canceled context ends the phase; records that had not settled
// yet are forced to FAILED by the abort teardown in RunTurn.
func (r *turnRun) executeToolPhase(ctx context.Context, records []toolcall.Record) error {
	ids := make([]string, 0, len(records))
	calls := make([]tools.Call, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		calls = append(calls, tools.Call{
			ID:        rec.ID,
			Name:      rec.Name,
			Arguments: rec.Arguments,
			ParentID:  rec.ParentID,
		})
	}

	for _, rec := range records {
		if err := r.turn.Calls.Transition(rec.ID, toolcall.StateExecuting); err != nil {
			log.Warn().Err(err).Str("tool_call_id", rec.ID).Msg("could not mark tool call executing")
		}
		r.publish(ctx, events.NewToolCallStartEvent(r.turn.MessageID, toolRef(rec)))
	}
	r.publish(ctx, events.NewToolChainStartEvent(r.turn.MessageID, ids))

	for _, rec := range records {
		r.publish(ctx, events.NewToolCallExecutingEvent(r.turn.MessageID, toolRef(rec), ""))
	}

	if r.o.router == nil {
		err := errors.WithMessage(tools.ErrInvalidCall, "no tool router configured")
		for _, call := range calls {
			r.settle(ctx, tools.Outcome{Call: call, Err: err})
		}
	} else {
		for outcome := range r.o.router.CallMany(ctx, calls) {
			r.settle(ctx, outcome)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, rootID := range rootIDs(records) {
		if !r.turn.Calls.IsToolChainCompleted(rootID) {
			log.Warn().Str("tool_call_id", rootID).Msg("tool chain still active after settlement")
		}
	}
	r.publish(ctx, events.NewToolChainCompleteEvent(r.turn.MessageID, ids))

	for _, id := range ids {
		rec, ok := r.turn.Calls.Get(id)
		if !ok {
			continue
		}
		r.messages = append(r.messages, r.provider.FormatToolCallResult(rec.Name, rec.ID, rec.Arguments, foldResult(rec))...)
	}
	return nil
}

// settle advances one record to its terminal state and emits the matching
// event. Local faults (unresolvable name, bad arguments) become FAILED,
// backend errors become ERROR, deadline expiry becomes TIMEOUT. A
// settlement produced by the turn's own cancellation becomes FAILED with
// the abort reason and emits nothing; the turn-level ABORT covers it.
func (r *turnRun) settle(ctx context.Context, outcome tools.Outcome) {
	id := outcome.Call.ID
	ref := events.ToolRef{
		ToolCallID:       id,
		ToolName:         outcome.Call.Name,
		ParentToolCallID: outcome.Call.ParentID,
	}

	switch {
	case outcome.TimedOut:
		if err := r.turn.Calls.Timeout(id); err != nil {
			log.Warn().Err(err).Str("tool_call_id", id).Msg("could not settle tool call")
		}
		r.publish(ctx, events.NewToolCallTimeoutEvent(r.turn.MessageID, ref))

	case outcome.Err != nil && ctx.Err() != nil && errors.Is(outcome.Err, context.Canceled):
		if err := r.turn.Calls.Fail(id, toolcall.AbortReason); err != nil {
			log.Warn().Err(err).Str("tool_call_id", id).Msg("could not settle tool call")
		}

	case outcome.Err != nil && errors.Is(outcome.Err, tools.ErrInvalidCall):
		if err := r.turn.Calls.Fail(id, outcome.Err.Error()); err != nil {
			log.Warn().Err(err).Str("tool_call_id", id).Msg("could not settle tool call")
		}
		r.publish(ctx, events.NewToolCallErrorEvent(r.turn.MessageID, ref, outcome.Err.Error()))

	case outcome.Err != nil:
		if err := r.turn.Calls.MarkError(id, outcome.Err.Error()); err != nil {
			log.Warn().Err(err).Str("tool_call_id", id).Msg("could not settle tool call")
		}
		r.publish(ctx, events.NewToolCallErrorEvent(r.turn.MessageID, ref, outcome.Err.Error()))

	default:
		if err := r.turn.Calls.Complete(id, outcome.Result); err != nil {
			log.Warn().Err(err).Str("tool_call_id", id).Msg("could not settle tool call")
		}
		r.publish(ctx, events.NewToolCallSuccessEvent(r.turn.MessageID, ref, outcome.Result))
	}
}

// foldResult renders a settled record as the payload replayed to the
// model. Failures become error text so the model can react to them.
func foldResult(rec toolcall.Record) any {
	switch rec.State {
	case toolcall.StateCompleted:
		return rec.Result
	case toolcall.StateTimeout:
		return "Error: tool execution timed out"
	default:
		return "Error: " + rec.Error
	}
}

// rootIDs returns the chain roots of a batch: records whose parent is
// absent or outside the batch.
func rootIDs(records []toolcall.Record) []string {
	inBatch := map[string]struct{}{}
	for _, rec := range records {
		inBatch[rec.ID] = struct{}{}
	}
	var roots []string
	for _, rec := range records {
		if rec.ParentID == "" {
			roots = append(roots, rec.ID)
			continue
		}
		if _, ok := inBatch[rec.ParentID]; !ok {
			roots = append(roots, rec.ID)
		}
	}
	return roots
}
