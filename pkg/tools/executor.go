package tools

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxParallel = 4
	defaultCallTimeout = 30 * time.Second
)

// CallMany dispatches all calls concurrently and returns a channel that
// yields one Outcome per call as each settles, then closes. A failure or
// timeout in one call never cancels its siblings; cancel ctx to stop the
// whole batch.
func (r *Router) CallMany(ctx context.Context, calls []Call) <-chan Outcome {
	out := make(chan Outcome, len(calls))

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		sem := make(chan struct{}, r.maxParallel)

		for _, call := range calls {
			wg.Add(1)
			go func(call Call) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				out <- r.callOne(ctx, call)
			}(call)
		}

		wg.Wait()
	}()

	return out
}

// callOne runs a single call under the router's per-call timeout. The
// dispatch runs in its own goroutine so a tool that ignores its context
// still settles as TIMEOUT when the deadline passes; the stray goroutine is
// abandoned and exits when the tool finally returns. A deadline expiry is
// tagged TimedOut only when the parent context is still live, so batch
// cancellation does not masquerade as a timeout.
func (r *Router) callOne(ctx context.Context, call Call) Outcome {
	start := time.Now()

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	type settled struct {
		result any
		err    error
	}
	ch := make(chan settled, 1)
	go func() {
		result, err := r.Call(callCtx, call)
		ch <- settled{result: result, err: err}
	}()

	outcome := Outcome{Call: call}
	select {
	case s := <-ch:
		outcome.Result = s.result
		outcome.Err = s.err
		if s.err != nil && errors.Is(s.err, context.DeadlineExceeded) && ctx.Err() == nil {
			outcome.TimedOut = true
		}
	case <-callCtx.Done():
		outcome.Err = callCtx.Err()
		if ctx.Err() == nil {
			outcome.TimedOut = true
		}
	}
	outcome.Duration = time.Since(start)

	log.Debug().
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Dur("duration", outcome.Duration).
		Bool("ok", outcome.OK()).
		Msg("tool call settled")
	return outcome
}
