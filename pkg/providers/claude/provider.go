package claude

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/claude/api"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"

	// the API refuses requests without max_tokens
	defaultMaxTokens = 4096
)

// Provider speaks the Anthropic Messages API. An instance serves one
// turn at a time: BuildRequestBody resets the framing state,
// ParseStreamChunk advances it.
type Provider struct {
	cfg *providers.Config

	// resolved by the last BuildRequestBody
	model   string
	baseURL string

	// per-stream framing state
	lines        providers.LineBuffer
	blockByIndex map[int]*blockState
	stopReason   string
	usage        *events.Usage
	done         bool
}

// blockState remembers what a content block index refers to, so
// input_json_delta and content_block_stop events can be attributed to
// their call.
type blockState struct {
	id      string
	name    string
	toolUse bool
}

var _ providers.Provider = (*Provider)(nil)

// New builds a Messages API adapter over its own copy of cfg.
func New(cfg *providers.Config) *Provider {
	if cfg == nil {
		cfg = &providers.Config{}
	}
	return &Provider{
		cfg:          cfg.Clone(),
		blockByIndex: map[int]*blockState{},
	}
}

func (p *Provider) ID() string {
	return "anthropic"
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) Endpoint() (string, error) {
	base := p.baseURL
	if base == "" {
		var err error
		base, err = p.cfg.ResolveBaseURL(nil, defaultBaseURL)
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSuffix(base, "/") + "/v1/messages", nil
}

func (p *Provider) Headers() http.Header {
	version := p.cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", version)
	if p.cfg.APIKey != "" {
		h.Set("x-api-key", p.cfg.APIKey)
	}
	return h
}

// FormatTool renders a definition as a Messages API tool declaration.
func (p *Provider) FormatTool(def tools.Definition) (interface{}, error) {
	if def.Name == "" {
		return nil, errors.New("tool definition has no name")
	}
	var schema interface{} = def.Parameters
	if def.Parameters == nil {
		schema = map[string]interface{}{"type": "object"}
	}
	return api.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schema,
	}, nil
}

func (p *Provider) FormatToolCallResult(name string, id string, args interface{}, result interface{}) []chat.Message {
	return providers.CanonicalToolExchange(name, id, args, result)
}

func (p *Provider) SupportsEmbeddedToolCalls() bool {
	return false
}

func (p *Provider) ExtractEmbeddedToolCalls(string) []tools.Call {
	return nil
}

func (p *Provider) resetStream() {
	p.lines = providers.LineBuffer{}
	p.blockByIndex = map[int]*blockState{}
	p.stopReason = ""
	p.usage = nil
	p.done = false
}
