package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendRegistryPreservesOrder(t *testing.T) {
	registry := NewBackendRegistry()
	require.NoError(t, registry.Register(&stubBackend{id: "filesystem"}))
	require.NoError(t, registry.Register(&stubBackend{id: "calculator"}))
	require.NoError(t, registry.Register(&stubBackend{id: "search"}))

	ids := make([]string, 0, 3)
	for _, b := range registry.List() {
		ids = append(ids, b.ID())
	}
	assert.Equal(t, []string{"filesystem", "calculator", "search"}, ids)

	first, ok := registry.First()
	require.True(t, ok)
	assert.Equal(t, "filesystem", first.ID())
}

func TestBackendRegistryRejectsDuplicates(t *testing.T) {
	registry := NewBackendRegistry()
	require.NoError(t, registry.Register(&stubBackend{id: "calculator"}))
	err := registry.Register(&stubBackend{id: "calculator"})
	require.Error(t, err)
}

func TestBackendRegistryRemove(t *testing.T) {
	registry := NewBackendRegistry()
	require.NoError(t, registry.Register(&stubBackend{id: "filesystem"}))
	require.NoError(t, registry.Register(&stubBackend{id: "calculator"}))

	require.NoError(t, registry.Remove("filesystem"))
	assert.Equal(t, 1, registry.Len())

	first, ok := registry.First()
	require.True(t, ok)
	assert.Equal(t, "calculator", first.ID())

	require.Error(t, registry.Remove("filesystem"))

	_, err := registry.Get("filesystem")
	require.Error(t, err)
}
