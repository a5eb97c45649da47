package turns

import (
	"encoding/json"

	pkgerrors "github.com/pkg/errors"
)

// Metadata is the free-form per-turn metadata map (model id, provider id,
// temperature, …). Values must be JSON-serializable so the turn survives a
// round-trip.
type Metadata map[string]any

// MetaKey is a typed accessor for a well-known Metadata entry. Get decodes
// through JSON so values read back after a round-trip (where numbers come
// back as float64) still land in the declared type.
type MetaKey[T any] struct {
	id string
}

// MetaK constructs a typed key for Metadata.
func MetaK[T any](id string) MetaKey[T] {
	return MetaKey[T]{id: id}
}

func (k MetaKey[T]) String() string { return k.id }

// Get returns the decoded value, whether the key was present, and any
// decode error.
func (k MetaKey[T]) Get(m Metadata) (T, bool, error) {
	var zero T
	if m == nil {
		return zero, false, nil
	}
	raw, ok := m[k.id]
	if !ok {
		return zero, false, nil
	}
	v, err := decodeViaJSON[T](raw)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// Set stores the value, allocating the map when needed.
func (k MetaKey[T]) Set(m *Metadata, v T) {
	if *m == nil {
		*m = Metadata{}
	}
	(*m)[k.id] = v
}

// Well-known metadata keys. Arbitrary string keys remain valid; these are
// the entries the orchestrator and adapters read.
var (
	KeyModel       = MetaK[string]("model")
	KeyProvider    = MetaK[string]("provider")
	KeyTemperature = MetaK[float64]("temperature")
	KeyMaxTokens   = MetaK[int]("max_tokens")
	KeyBaseURL     = MetaK[string]("base_url")
	KeyTopicID     = MetaK[string]("topic_id")
)

func decodeViaJSON[T any](raw any) (T, error) {
	var out T
	if direct, ok := raw.(T); ok {
		return direct, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return out, pkgerrors.Wrapf(err, "json marshal %T", raw)
	}
	ptr := new(T)
	if err := json.Unmarshal(b, ptr); err != nil {
		return out, pkgerrors.Wrapf(err, "json unmarshal into %T", out)
	}
	return *ptr, nil
}
