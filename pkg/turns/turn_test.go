package turns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/toolcall"
)

func TestTurn_AppendContentIsAppendOnly(t *testing.T) {
	tn := NewTurn("msg-1", nil)
	require.NoError(t, tn.AppendContent("Hello"))
	require.NoError(t, tn.AppendContent(", world"))
	require.NoError(t, tn.AppendContent(""))
	assert.Equal(t, "Hello, world", tn.FullContent)
}

func TestTurn_UpsertMergesFragmentsByID(t *testing.T) {
	tn := NewTurn("msg-1", nil)

	rec, created, _, err := tn.UpsertToolCallFragment(toolcall.Fragment{ID: "call-1", Name: "add"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, toolcall.StatePending, rec.State)

	rec, created, finalized, err := tn.UpsertToolCallFragment(toolcall.Fragment{ID: "call-1", ArgumentsDelta: `{"a":1,`})
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, finalized)
	assert.Equal(t, toolcall.StateCollectingArgs, rec.State)

	rec, _, finalized, err = tn.UpsertToolCallFragment(toolcall.Fragment{ID: "call-1", ArgumentsDelta: `"b":1}`, Complete: true})
	require.NoError(t, err)
	assert.True(t, finalized)
	assert.Equal(t, `{"a":1,"b":1}`, rec.Arguments)
}

func TestTurn_MetadataAndTypedKeys(t *testing.T) {
	meta := Metadata{}
	KeyModel.Set(&meta, "gpt-4o-mini")
	KeyMaxTokens.Set(&meta, 512)

	tn := NewTurn("msg-1", meta)
	require.NoError(t, tn.SetMetadata("custom", "value"))

	model, ok, err := KeyModel.Get(tn.Metadata)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", model)

	v, ok := tn.GetMetadata("custom")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok, err = KeyTemperature.Get(tn.Metadata)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTurn_FreezeStopsMutation(t *testing.T) {
	tn := NewTurn("msg-1", nil)
	require.NoError(t, tn.AppendContent("final"))
	tn.Freeze()

	assert.ErrorIs(t, tn.AppendContent("more"), ErrFrozen)
	assert.ErrorIs(t, tn.SetMetadata("k", "v"), ErrFrozen)
	_, _, _, err := tn.UpsertToolCallFragment(toolcall.Fragment{ID: "x", Name: "y"})
	assert.ErrorIs(t, err, ErrFrozen)
	assert.Equal(t, "final", tn.FullContent)
	assert.True(t, tn.Frozen())
}

func TestTurn_JSONRoundTrip(t *testing.T) {
	meta := Metadata{}
	KeyModel.Set(&meta, "claude-3-5-sonnet")
	KeyProvider.Set(&meta, "anthropic")
	KeyTemperature.Set(&meta, 0.7)
	KeyMaxTokens.Set(&meta, 1024)

	tn := NewTurn("msg-42", meta)
	require.NoError(t, tn.AppendContent("I will look that up."))
	_, _, _, err := tn.UpsertToolCallFragment(toolcall.Fragment{ID: "call-1", Name: "search", ArgumentsDelta: `{"q":"tides"}`, Complete: true})
	require.NoError(t, err)
	_, _, _, err = tn.UpsertToolCallFragment(toolcall.Fragment{ID: "call-2", Name: "fetch", ParentID: "call-1"})
	require.NoError(t, err)

	data, err := tn.ToJSON()
	require.NoError(t, err)

	back, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, tn.MessageID, back.MessageID)
	assert.Equal(t, tn.FullContent, back.FullContent)
	assert.Equal(t, tn.Calls.Len(), back.Calls.Len())

	// serialized forms must match bit for bit
	data2, err := back.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(data2))

	// typed reads survive the float64 shape JSON gives numbers
	maxTokens, ok, err := KeyMaxTokens.Get(back.Metadata)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1024, maxTokens)

	_, err = FromJSON([]byte(`{"fullContent":"x"}`))
	assert.Error(t, err)
}
