package providers

import (
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

// Config holds the connection and sampling settings for one provider.
// Zero values mean "let the vendor default apply"; pointer fields
// distinguish unset from explicit zero.
type Config struct {
	// Provider selects the adapter: openai, lmstudio, anthropic, google,
	// ollama.
	Provider string `yaml:"provider" json:"provider"`
	// APIKey is sent on every request for vendors that require one.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	// BaseURL overrides the vendor's default endpoint, e.g. for proxies
	// or local servers.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	// Model is the default model; turn metadata takes precedence.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// APIVersion is the vendor API revision header where one applies
	// (Anthropic's anthropic-version).
	APIVersion string `yaml:"api_version,omitempty" json:"api_version,omitempty"`
}

// Clone returns a deep copy, so callers can tweak per-turn settings
// without mutating the shared config.
func (c *Config) Clone() *Config {
	return clone.Clone(c).(*Config)
}

// ResolveModel picks the model for a turn: metadata first, config second.
// A turn without any model is refused up front rather than letting the
// vendor reply with an opaque 400.
func (c *Config) ResolveModel(meta turns.Metadata) (string, error) {
	model, ok, err := turns.KeyModel.Get(meta)
	if err != nil {
		return "", errors.Wrap(err, "invalid model in turn metadata")
	}
	if ok && model != "" {
		return model, nil
	}
	if c.Model != "" {
		return c.Model, nil
	}
	return "", errors.New("no model selected: set one in the provider config or in turn metadata")
}

// ResolveTemperature returns the sampling temperature for a turn,
// metadata first. The second return is false when neither side set one.
func (c *Config) ResolveTemperature(meta turns.Metadata) (float64, bool, error) {
	t, ok, err := turns.KeyTemperature.Get(meta)
	if err != nil {
		return 0, false, errors.Wrap(err, "invalid temperature in turn metadata")
	}
	if ok {
		return t, true, nil
	}
	if c.Temperature != nil {
		return *c.Temperature, true, nil
	}
	return 0, false, nil
}

// ResolveMaxTokens returns the output token cap for a turn, metadata
// first. The second return is false when neither side set one.
func (c *Config) ResolveMaxTokens(meta turns.Metadata) (int, bool, error) {
	n, ok, err := turns.KeyMaxTokens.Get(meta)
	if err != nil {
		return 0, false, errors.Wrap(err, "invalid max_tokens in turn metadata")
	}
	if ok {
		return n, true, nil
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens, true, nil
	}
	return 0, false, nil
}

// ResolveBaseURL returns the endpoint base for a turn: metadata first,
// config second, then the adapter's fallback.
func (c *Config) ResolveBaseURL(meta turns.Metadata, fallback string) (string, error) {
	u, ok, err := turns.KeyBaseURL.Get(meta)
	if err != nil {
		return "", errors.Wrap(err, "invalid base_url in turn metadata")
	}
	if ok && u != "" {
		return u, nil
	}
	if c.BaseURL != "" {
		return c.BaseURL, nil
	}
	return fallback, nil
}
