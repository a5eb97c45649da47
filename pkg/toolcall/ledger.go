package toolcall

import (
	"encoding/json"
	"sync"
	"time"

	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AbortReason is the fixed error recorded on active calls that are forced
// down by an abort.
const AbortReason = "aborted before completion"

// Ledger tracks every tool-call record of one turn: the full history in
// insertion order plus the set of currently active (non-terminal) calls.
//
// All methods are safe for concurrent use. Chain queries operate on a
// deep-copied snapshot taken under the read lock, so a settlement being
// written concurrently can never make IsToolChainCompleted report
// completion early.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	active  map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		records: map[string]*Record{},
		active:  map[string]struct{}{},
	}
}

// Upsert merges a fragment into the ledger. An unknown id inserts a new
// PENDING record; a known id merges the fragment's fields and appends its
// argument delta. A record that receives argument text moves to
// COLLECTING_ARGS; a fragment with Complete set finalizes the arguments.
//
// The returned flags tell the caller what actually happened so it can emit
// the matching events exactly once: created is true for a new record,
// finalized is true when this fragment completed the record's arguments.
// Fragments for terminal records are ignored.
func (l *Ledger) Upsert(frag Fragment) (rec Record, created bool, finalized bool, err error) {
	if frag.ID == "" {
		return Record{}, false, false, errors.New("tool call fragment has no id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[frag.ID]
	if !ok {
		now := time.Now()
		r = &Record{
			ID:        frag.ID,
			Name:      frag.Name,
			Arguments: frag.ArgumentsDelta,
			State:     StatePending,
			ParentID:  frag.ParentID,
			StartTime: now,
			UpdatedAt: now,
		}
		l.records[frag.ID] = r
		l.order = append(l.order, frag.ID)
		l.active[frag.ID] = struct{}{}
		created = true
		log.Debug().Str("tool_call_id", frag.ID).Str("tool_name", frag.Name).Msg("tool call record created")
	} else {
		if r.State.Terminal() {
			return cloneRecord(r), false, false, nil
		}
		if frag.Name != "" && r.Name == "" {
			r.Name = frag.Name
		}
		if frag.ParentID != "" && r.ParentID == "" {
			r.ParentID = frag.ParentID
		}
		r.Arguments += frag.ArgumentsDelta
		r.UpdatedAt = time.Now()
	}

	if frag.ArgumentsDelta != "" && r.State == StatePending {
		r.State = StateCollectingArgs
	}
	if frag.Complete && !r.ArgsComplete {
		r.ArgsComplete = true
		finalized = true
	}

	return cloneRecord(r), created, finalized, nil
}

// FinalizeArgs marks the record's arguments complete. It is the stream-end
// finalizer: calling it on an already finalized or terminal record is a
// no-op and reports changed == false, so the caller emits its completion
// event at most once per call.
func (l *Ledger) FinalizeArgs(id string) (rec Record, changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[id]
	if !ok {
		return Record{}, false, errors.Errorf("unknown tool call %s", id)
	}
	if r.ArgsComplete || r.State.Terminal() {
		return cloneRecord(r), false, nil
	}
	r.ArgsComplete = true
	r.UpdatedAt = time.Now()
	return cloneRecord(r), true, nil
}

// Transition moves a record to the given state, enforcing the monotonic
// guard. Terminal targets set EndTime and drop the record from the active
// set. An illegal transition returns an error and leaves the record
// untouched.
func (l *Ledger) Transition(id string, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(id, to, "", nil)
}

// Complete settles a record with the backend's result.
func (l *Ledger) Complete(id string, result any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(id, StateCompleted, "", result)
}

// Fail settles a record that was rejected locally (unresolvable name,
// malformed arguments) or forced down by an abort.
func (l *Ledger) Fail(id string, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(id, StateFailed, reason, nil)
}

// MarkError settles a record whose backend returned an error.
func (l *Ledger) MarkError(id string, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(id, StateError, reason, nil)
}

// Timeout settles a record that ran past its deadline. Timeouts are
// terminal and never retried automatically.
func (l *Ledger) Timeout(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(id, StateTimeout, "tool execution timed out", nil)
}

func (l *Ledger) transitionLocked(id string, to State, errMsg string, result any) error {
	r, ok := l.records[id]
	if !ok {
		return errors.Errorf("unknown tool call %s", id)
	}
	if !canTransition(r.State, to) {
		return errors.Errorf("illegal tool call transition %s → %s for %s", r.State, to, id)
	}

	log.Debug().
		Str("tool_call_id", id).
		Str("from", string(r.State)).
		Str("to", string(to)).
		Msg("tool call transition")

	r.State = to
	r.UpdatedAt = time.Now()
	if errMsg != "" {
		r.Error = errMsg
	}
	if result != nil {
		r.Result = result
	}
	if to.Terminal() {
		now := time.Now()
		r.EndTime = &now
		delete(l.active, id)
	}
	return nil
}

// Abort forces every active record to FAILED with the given reason (the
// fixed AbortReason when empty) and clears the active set. It is the only
// way to end calls without a backend response. The affected ids are
// returned in insertion order.
func (l *Ledger) Abort(reason string) []string {
	if reason == "" {
		reason = AbortReason
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var aborted []string
	for _, id := range l.order {
		if _, ok := l.active[id]; !ok {
			continue
		}
		if err := l.transitionLocked(id, StateFailed, reason, nil); err != nil {
			log.Warn().Err(err).Str("tool_call_id", id).Msg("abort transition failed")
			continue
		}
		aborted = append(aborted, id)
	}
	return aborted
}

// Get returns a deep copy of the record, if present.
func (l *Ledger) Get(id string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(r), true
}

// All returns deep copies of every record in insertion order.
func (l *Ledger) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, cloneRecord(l.records[id]))
	}
	return out
}

// ActiveIDs returns the ids of non-terminal records in insertion order.
func (l *Ledger) ActiveIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.active))
	for _, id := range l.order {
		if _, ok := l.active[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the total number of records, terminal ones included.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// GetToolCallChain collects the root record and every descendant linked
// through ParentID, in insertion order, from one consistent snapshot.
func (l *Ledger) GetToolCallChain(rootID string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.records[rootID]; !ok {
		return nil
	}

	inChain := map[string]struct{}{rootID: {}}
	// Insertion order means parents precede children, so one forward pass
	// closes the chain.
	var out []Record
	for _, id := range l.order {
		r := l.records[id]
		if _, ok := inChain[id]; !ok {
			if r.ParentID == "" {
				continue
			}
			if _, parentIn := inChain[r.ParentID]; !parentIn {
				continue
			}
			inChain[id] = struct{}{}
		}
		out = append(out, cloneRecord(r))
	}
	return out
}

// IsToolChainCompleted reports whether every record in the chain rooted at
// rootID is terminal. It is false for an unknown root, false while any
// descendant is active, and permanently true afterward.
func (l *Ledger) IsToolChainCompleted(rootID string) bool {
	chain := l.GetToolCallChain(rootID)
	if len(chain) == 0 {
		return false
	}
	for _, r := range chain {
		if !r.State.Terminal() {
			return false
		}
	}
	return true
}

func cloneRecord(r *Record) Record {
	return *clone.Clone(r).(*Record)
}

type ledgerJSON struct {
	Records []Record `json:"records"`
}

// MarshalJSON serializes the records in insertion order.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(ledgerJSON{Records: l.All()})
}

// UnmarshalJSON rebuilds the ledger from a serialized form; the active set
// is derived from the record states.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var raw ledgerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unmarshal ledger")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = map[string]*Record{}
	l.order = nil
	l.active = map[string]struct{}{}
	for i := range raw.Records {
		r := raw.Records[i]
		if r.ID == "" {
			return errors.New("ledger record has no id")
		}
		if !r.State.IsValid() {
			return errors.Errorf("ledger record %s has unknown state %q", r.ID, r.State)
		}
		cp := r
		l.records[r.ID] = &cp
		l.order = append(l.order, r.ID)
		if r.State.Active() {
			l.active[r.ID] = struct{}{}
		}
	}
	return nil
}
