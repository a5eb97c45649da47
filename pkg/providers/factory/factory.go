package factory

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/claude"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/gemini"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/lmstudio"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/ollama"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/openai"
)

// Factory creates provider adapters from configuration. It is the only
// place that maps vendor names to implementations; callers hold a
// providers.Provider and never branch on the vendor themselves.
type Factory interface {
	// CreateProvider builds an adapter for cfg.Provider. Returns an
	// error when the vendor is unknown.
	CreateProvider(cfg *providers.Config) (providers.Provider, error)

	// SupportedProviders returns the vendor names this factory accepts,
	// aliases included.
	SupportedProviders() []string

	// DefaultProvider returns the vendor used when cfg.Provider is empty.
	DefaultProvider() string
}

// StandardFactory is the default Factory covering the built-in adapters.
type StandardFactory struct{}

// NewStandardFactory creates a factory over the built-in adapters.
func NewStandardFactory() *StandardFactory {
	return &StandardFactory{}
}

// CreateProvider builds the adapter named by cfg.Provider, falling back
// to the default vendor when the field is empty.
func (f *StandardFactory) CreateProvider(cfg *providers.Config) (providers.Provider, error) {
	if cfg == nil {
		return nil, errors.New("provider config cannot be nil")
	}

	vendor := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if vendor == "" {
		vendor = f.DefaultProvider()
	}

	switch vendor {
	case "openai":
		return openai.New(cfg), nil

	case "lmstudio", "lm-studio":
		return lmstudio.New(cfg), nil

	case "anthropic", "claude":
		return claude.New(cfg), nil

	case "google", "gemini":
		return gemini.New(cfg), nil

	case "ollama":
		return ollama.New(cfg), nil

	default:
		supported := strings.Join(f.SupportedProviders(), ", ")
		return nil, errors.Errorf("unsupported provider %s. Supported providers: %s", vendor, supported)
	}
}

// SupportedProviders returns the vendor names CreateProvider accepts.
func (f *StandardFactory) SupportedProviders() []string {
	return []string{
		"openai",
		"lmstudio",
		"anthropic",
		"claude", // alias for anthropic
		"google",
		"gemini", // alias for google
		"ollama",
	}
}

// DefaultProvider returns the vendor used when none is configured.
func (f *StandardFactory) DefaultProvider() string {
	return "openai"
}

// New creates an adapter directly from a config. This is a convenience
// function over a StandardFactory.
func New(cfg *providers.Config) (providers.Provider, error) {
	return NewStandardFactory().CreateProvider(cfg)
}

var _ Factory = (*StandardFactory)(nil)
