package ollama

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

const defaultBaseURL = "http://localhost:11434"

// Provider speaks the Ollama chat API. Models with native tool support
// return structured tool_calls; for the rest, embedded extraction over
// the assistant text is the fallback. An instance serves one turn at a
// time.
type Provider struct {
	cfg *providers.Config

	// resolved by the last BuildRequestBody
	model   string
	baseURL string

	// per-stream framing state
	lines providers.LineBuffer
	usage *events.Usage
	done  bool
}

var _ providers.Provider = (*Provider)(nil)

// New builds an Ollama adapter over its own copy of cfg.
func New(cfg *providers.Config) *Provider {
	if cfg == nil {
		cfg = &providers.Config{}
	}
	return &Provider{cfg: cfg.Clone()}
}

func (p *Provider) ID() string {
	return "ollama"
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
	return strings.TrimSuffix(base, "/") + "/api/chat", nil
}

func (p *Provider) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	// a local server needs no key; proxies in front of one might
	if p.cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return h
}

// FormatTool renders a definition in the function-tool shape the server
// shares with the chat completions dialect.
func (p *Provider) FormatTool(def tools.Definition) (interface{}, error) {
	if def.Name == "" {
		return nil, errors.New("tool definition has no name")
	}
	var params interface{} = def.Parameters
	if def.Parameters == nil {
		params = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	return tool{
		Type: "function",
		Function: toolFunction{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		},
	}, nil
}

func (p *Provider) FormatToolCallResult(name string, id string, args interface{}, result interface{}) []chat.Message {
	return providers.CanonicalToolExchange(name, id, args, result)
}

func (p *Provider) SupportsEmbeddedToolCalls() bool {
	return true
}

func (p *Provider) ExtractEmbeddedToolCalls(text string) []tools.Call {
	return providers.ExtractEmbeddedCalls(text)
}

func (p *Provider) resetStream() {
	p.lines = providers.LineBuffer{}
	p.usage = nil
	p.done = false
}
