package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

func TestResolveModelPrecedence(t *testing.T) {
	cfg := &Config{Model: "gpt-4o-mini"}

	model, err := cfg.ResolveModel(turns.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model)

	meta := turns.Metadata{}
	turns.KeyModel.Set(&meta, "gpt-4o")
	model, err = cfg.ResolveModel(meta)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", model)
}

func TestResolveModelMissingFailsLoudly(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.ResolveModel(turns.Metadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model selected")
}

func TestResolveSamplingSettings(t *testing.T) {
	temp := 0.2
	cfg := &Config{Temperature: &temp, MaxTokens: 512}

	got, ok, err := cfg.ResolveTemperature(turns.Metadata{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.2, got)

	meta := turns.Metadata{}
	turns.KeyTemperature.Set(&meta, 0.9)
	got, ok, err = cfg.ResolveTemperature(meta)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.9, got)

	n, ok, err := cfg.ResolveMaxTokens(turns.Metadata{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 512, n)

	_, ok, err = (&Config{}).ResolveTemperature(turns.Metadata{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveBaseURL(t *testing.T) {
	cfg := &Config{}
	u, err := cfg.ResolveBaseURL(turns.Metadata{}, "http://localhost:1234/v1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1234/v1", u)

	cfg.BaseURL = "https://proxy.internal/v1"
	u, err = cfg.ResolveBaseURL(turns.Metadata{}, "http://localhost:1234/v1")
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.internal/v1", u)

	meta := turns.Metadata{}
	turns.KeyBaseURL.Set(&meta, "http://db-proxy:8080/v1")
	u, err = cfg.ResolveBaseURL(meta, "http://localhost:1234/v1")
	require.NoError(t, err)
	assert.Equal(t, "http://db-proxy:8080/v1", u)
}

func TestConfigClone(t *testing.T) {
	temp := 0.5
	cfg := &Config{Provider: "openai", APIKey: "sk-test", Temperature: &temp}

	clone := cfg.Clone()
	*clone.Temperature = 1.0
	clone.APIKey = "sk-other"

	assert.Equal(t, 0.5, *cfg.Temperature)
	assert.Equal(t, "sk-test", cfg.APIKey)
}
