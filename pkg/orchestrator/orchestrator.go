package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

const defaultMaxRounds = 10

// Orchestrator drives assistant turns: it sends each request round to the
// vendor, feeds the streamed bytes through the provider adapter, keeps the
// turn accumulator and tool-call ledger current, executes tool calls
// through the router, and emits the event stream consumers subscribe to.
//
// An Orchestrator is safe for concurrent use; every RunTurn call owns its
// turn state. Abort cancels a running turn by message id from any
// goroutine.
type Orchestrator struct {
	router      *tools.Router
	sinks       []events.EventSink
	client      *http.Client
	maxRounds   int
	toolTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

type Option func(*Orchestrator)

// WithRouter sets the tool router used to list and execute tools. Without
// one the model gets no tool definitions and any call it emits anyway is
// settled as a local failure.
func WithRouter(router *tools.Router) Option {
	return func(o *Orchestrator) {
		o.router = router
	}
}

// WithEventSinks adds sinks every turn publishes to, in addition to any
// sinks carried in the context and the per-turn callback.
func WithEventSinks(sinks ...events.EventSink) Option {
	return func(o *Orchestrator) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithHTTPClient replaces the HTTP client used for vendor requests. The
// default client has no global timeout; streams are bounded by the turn
// context instead.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) {
		if client != nil {
			o.client = client
		}
	}
}

// WithMaxRounds caps the request rounds of one turn (default 10). The cap
// is a safety valve against models that keep asking for tools; hitting it
// ends the turn through the SESSION_ERROR path.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithToolTimeout overrides the router's per-call execution deadline. When
// unset the router's own deadline applies (30s unless configured
// otherwise).
func WithToolTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.toolTimeout = d
	}
}

// New builds an orchestrator.
func New(options ...Option) *Orchestrator {
	o := &Orchestrator{
		client:    &http.Client{},
		maxRounds: defaultMaxRounds,
		cancels:   map[string]context.CancelFunc{},
	}
	for _, opt := range options {
		opt(o)
	}
	if o.router != nil && o.toolTimeout > 0 {
		o.router = o.router.WithTimeout(o.toolTimeout)
	}
	return o
}

// Abort cancels the turn running under messageID. It reports whether such
// a turn was found; the turn itself finishes by forcing its active
// tool-call records to FAILED and emitting ABORT.
func (o *Orchestrator) Abort(messageID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[messageID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	log.Debug().Str("message_id", messageID).Msg("abort requested")
	cancel()
	return true
}

func (o *Orchestrator) registerCancel(messageID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[messageID] = cancel
}

func (o *Orchestrator) unregisterCancel(messageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, messageID)
}

// publish validates an event and fans it out to the given sinks plus any
// sinks carried in the context. An event that fails validation is logged
// and dropped; a failing sink never disturbs the turn.
func (o *Orchestrator) publish(ctx context.Context, sinks []events.EventSink, event events.Event) {
	if err := events.ValidateEvent(event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("dropping invalid event")
		return
	}
	if m, ok := event.(zerolog.LogObjectMarshaler); ok {
		log.Debug().Object("event", m).Msg("publishing event")
	}
	for _, sink := range sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event to sink")
		}
	}
	events.PublishEventToContext(ctx, event)
}
