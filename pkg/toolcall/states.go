package toolcall

// State is the lifecycle state of a tool-call record.
//
// The transition graph is strictly forward:
//
//	PENDING → COLLECTING_ARGS → EXECUTING → {COMPLETED | FAILED | ERROR | TIMEOUT}
//
// Intermediate states may be skipped (a call with no streamed arguments can
// go straight from PENDING to EXECUTING), but a record never moves backward
// and a terminal record never moves again.
type State string

const (
	// StatePending means the record was created but no arguments have been
	// confirmed yet.
	StatePending State = "PENDING"
	// StateCollectingArgs means the vendor is streaming argument fragments.
	StateCollectingArgs State = "COLLECTING_ARGS"
	// StateExecuting means the arguments are final and the call has been
	// dispatched to the tool backend.
	StateExecuting State = "EXECUTING"
	// StateCompleted means the backend returned a result.
	StateCompleted State = "COMPLETED"
	// StateFailed means the call was rejected locally or forced down by an
	// abort.
	StateFailed State = "FAILED"
	// StateError means the backend returned an error.
	StateError State = "ERROR"
	// StateTimeout means no response arrived within the configured deadline.
	StateTimeout State = "TIMEOUT"
)

var stateRank = map[State]int{
	StatePending:        0,
	StateCollectingArgs: 1,
	StateExecuting:      2,
	StateCompleted:      3,
	StateFailed:         3,
	StateError:          3,
	StateTimeout:        3,
}

// Terminal reports whether the state ends the record's lifecycle.
func (s State) Terminal() bool {
	return stateRank[s] == 3
}

// Active reports whether the record still participates in the turn's active
// set.
func (s State) Active() bool {
	r, ok := stateRank[s]
	return ok && r < 3
}

// IsValid reports whether s is one of the defined states.
func (s State) IsValid() bool {
	_, ok := stateRank[s]
	return ok
}

// canTransition implements the monotonic guard: only forward moves from a
// non-terminal state are allowed.
func canTransition(from State, to State) bool {
	fr, ok := stateRank[from]
	tr, ok2 := stateRank[to]
	if !ok || !ok2 {
		return false
	}
	if fr == 3 {
		return false
	}
	return tr > fr
}
