package gemini

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Provider speaks the Generative Language REST API. The model is part
// of the URL, so Endpoint depends on the resolution BuildRequestBody
// performs. An instance serves one turn at a time.
type Provider struct {
	cfg *providers.Config

	// resolved by the last BuildRequestBody
	model   string
	baseURL string

	// per-stream framing state
	lines      providers.LineBuffer
	stopReason string
	usage      *events.Usage
	done       bool
}

var _ providers.Provider = (*Provider)(nil)

// New builds a Generative Language adapter over its own copy of cfg.
func New(cfg *providers.Config) *Provider {
	if cfg == nil {
		cfg = &providers.Config{}
	}
	return &Provider{cfg: cfg.Clone()}
}

func (p *Provider) ID() string {
	return "google"
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) Endpoint() (string, error) {
	model := p.model
	if model == "" {
		var err error
		model, err = p.cfg.ResolveModel(nil)
		if err != nil {
			return "", err
		}
	}
	base := p.baseURL
	if base == "" {
		var err error
		base, err = p.cfg.ResolveBaseURL(nil, defaultBaseURL)
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSuffix(base, "/") + "/v1beta/models/" + model + ":streamGenerateContent?alt=sse", nil
}

func (p *Provider) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		h.Set("x-goog-api-key", p.cfg.APIKey)
	}
	return h
}

// FormatTool renders a definition as a function declaration. The schema
// is stripped down to the keywords the API tolerates; anything else in
// the declaration earns a 400.
func (p *Provider) FormatTool(def tools.Definition) (interface{}, error) {
	if def.Name == "" {
		return nil, errors.New("tool definition has no name")
	}
	var params interface{}
	if def.Parameters != nil {
		params = sanitizeSchema(def.Parameters)
	}
	return functionDeclaration{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  params,
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
	p.stopReason = ""
	p.usage = nil
	p.done = false
}
