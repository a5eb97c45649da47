package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/providers"
)

func TestStandardFactory_SupportedProviders(t *testing.T) {
	factory := NewStandardFactory()

	supported := factory.SupportedProviders()

	assert.Contains(t, supported, "openai")
	assert.Contains(t, supported, "anthropic")
	assert.Contains(t, supported, "claude")
	assert.Contains(t, supported, "gemini")
	assert.Contains(t, supported, "ollama")
	assert.Contains(t, supported, "lmstudio")
}

func TestStandardFactory_DefaultProvider(t *testing.T) {
	factory := NewStandardFactory()

	assert.Equal(t, "openai", factory.DefaultProvider())
}

func TestStandardFactory_CreateProvider_NilConfig(t *testing.T) {
	factory := NewStandardFactory()

	provider, err := factory.CreateProvider(nil)

	assert.Nil(t, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be nil")
}

func TestStandardFactory_CreateProvider_Vendors(t *testing.T) {
	factory := NewStandardFactory()

	cases := []struct {
		vendor string
		id     string
	}{
		{"openai", "openai"},
		{"OpenAI", "openai"},
		{"lmstudio", "lmstudio"},
		{"anthropic", "anthropic"},
		{"claude", "anthropic"},
		{"google", "google"},
		{"gemini", "google"},
		{"ollama", "ollama"},
	}

	for _, tc := range cases {
		t.Run(tc.vendor, func(t *testing.T) {
			provider, err := factory.CreateProvider(&providers.Config{Provider: tc.vendor})
			require.NoError(t, err)
			require.NotNil(t, provider)
			assert.Equal(t, tc.id, provider.ID())
		})
	}
}

func TestStandardFactory_CreateProvider_EmptyDefaultsToOpenAI(t *testing.T) {
	factory := NewStandardFactory()

	provider, err := factory.CreateProvider(&providers.Config{})
	require.NoError(t, err)
	assert.Equal(t, "openai", provider.ID())
}

func TestStandardFactory_CreateProvider_Unsupported(t *testing.T) {
	factory := NewStandardFactory()

	provider, err := factory.CreateProvider(&providers.Config{Provider: "bedrock"})

	assert.Nil(t, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider bedrock")
	assert.Contains(t, err.Error(), "Supported providers")
}

func TestNew_Convenience(t *testing.T) {
	provider, err := New(&providers.Config{Provider: "ollama", Model: "llama3.2"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", provider.ID())
}
