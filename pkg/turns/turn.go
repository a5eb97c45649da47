package turns

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
)

// Turn accumulates one in-flight assistant message: the growing text, the
// tool calls observed so far (owned by the embedded ledger), and the turn
// metadata. It is mutated only by the orchestrator and adapters while the
// turn is open; Freeze makes it read-only once the turn reaches a terminal
// outcome.
type Turn struct {
	MessageID string `json:"messageId"`
	// FullContent only ever grows; it is never rewritten.
	FullContent   string           `json:"fullContent"`
	Calls         *toolcall.Ledger `json:"toolCalls"`
	Metadata      Metadata         `json:"metadata"`
	CreatedAt     time.Time        `json:"createdAt"`
	LastUpdatedAt time.Time        `json:"lastUpdatedAt"`

	frozen bool
}

// ErrFrozen is returned by mutators after the turn reached its terminal
// outcome.
var ErrFrozen = errors.New("turn is frozen")

// NewTurn creates an accumulator for one assistant message. An empty
// messageID gets a fresh UUID. The metadata map is copied so the caller's
// map stays independent.
func NewTurn(messageID string, meta Metadata) *Turn {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	m := Metadata{}
	for k, v := range meta {
		m[k] = v
	}
	now := time.Now()
	return &Turn{
		MessageID:     messageID,
		Calls:         toolcall.NewLedger(),
		Metadata:      m,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// AppendContent appends text to the accumulated content.
func (t *Turn) AppendContent(text string) error {
	if t.frozen {
		return ErrFrozen
	}
	if text == "" {
		return nil
	}
	t.FullContent += text
	t.LastUpdatedAt = time.Now()
	return nil
}

// UpsertToolCallFragment merges an adapter-reported fragment into the
// ledger: a new id inserts a PENDING record, a known id merges fields and
// appends the argument delta. The created/finalized flags pass through from
// the ledger so the orchestrator can emit its events exactly once.
func (t *Turn) UpsertToolCallFragment(frag toolcall.Fragment) (rec toolcall.Record, created bool, finalized bool, err error) {
	if t.frozen {
		return toolcall.Record{}, false, false, ErrFrozen
	}
	rec, created, finalized, err = t.Calls.Upsert(frag)
	if err != nil {
		return rec, created, finalized, err
	}
	t.LastUpdatedAt = time.Now()
	return rec, created, finalized, nil
}

// SetMetadata stores a metadata value under an arbitrary string key.
func (t *Turn) SetMetadata(key string, value any) error {
	if t.frozen {
		return ErrFrozen
	}
	if t.Metadata == nil {
		t.Metadata = Metadata{}
	}
	t.Metadata[key] = value
	t.LastUpdatedAt = time.Now()
	return nil
}

// GetMetadata returns the raw metadata value for key.
func (t *Turn) GetMetadata(key string) (any, bool) {
	v, ok := t.Metadata[key]
	return v, ok
}

// Freeze marks the turn immutable. Called when the turn reaches
// DONE/ABORT/ERROR; further mutations return ErrFrozen.
func (t *Turn) Freeze() {
	if !t.frozen {
		t.frozen = true
		log.Debug().Str("message_id", t.MessageID).Int("tool_calls", t.Calls.Len()).Msg("turn frozen")
	}
}

// Frozen reports whether the turn has been frozen.
func (t *Turn) Frozen() bool {
	return t.frozen
}

// ToJSON serializes the turn.
func (t *Turn) ToJSON() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "marshal turn")
	}
	return b, nil
}

// FromJSON rebuilds a turn from its serialized form. Content, tool-call
// records, and metadata come back exactly; the frozen flag is runtime
// state and starts cleared.
func FromJSON(data []byte) (*Turn, error) {
	t := &Turn{Calls: toolcall.NewLedger()}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "unmarshal turn")
	}
	if t.MessageID == "" {
		return nil, errors.New("turn has no message id")
	}
	if t.Calls == nil {
		t.Calls = toolcall.NewLedger()
	}
	return t, nil
}
