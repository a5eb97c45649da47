package openai

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	doneSentinel   = "[DONE]"
)

// Provider speaks the Chat Completions dialect, for api.openai.com and
// the many servers that imitate it. An instance serves one turn at a
// time: BuildRequestBody resets the framing state, ParseStreamChunk
// advances it.
type Provider struct {
	cfg        *providers.Config
	id         string
	defaultURL string
	embedded   bool

	// resolved by the last BuildRequestBody
	model   string
	baseURL string

	// per-stream framing state
	lines      providers.LineBuffer
	idByIndex  map[int]string
	stopReason string
	usage      *events.Usage
	done       bool
}

var _ providers.Provider = (*Provider)(nil)

type Option func(*Provider)

// WithIdentifier overrides the provider id reported in events and
// errors. OpenAI-compatible servers reuse this adapter under their own
// name.
func WithIdentifier(id string) Option {
	return func(p *Provider) {
		p.id = id
	}
}

// WithDefaultBaseURL sets the endpoint used when neither the config nor
// the turn metadata names one.
func WithDefaultBaseURL(u string) Option {
	return func(p *Provider) {
		p.defaultURL = u
	}
}

// WithEmbeddedToolCalls toggles extraction of tool calls written into
// assistant text, for servers whose models lack native tool support.
func WithEmbeddedToolCalls(enabled bool) Option {
	return func(p *Provider) {
		p.embedded = enabled
	}
}

// New builds a chat-completions adapter over its own copy of cfg.
func New(cfg *providers.Config, options ...Option) *Provider {
	if cfg == nil {
		cfg = &providers.Config{}
	}
	ret := &Provider{
		cfg:        cfg.Clone(),
		id:         "openai",
		defaultURL: defaultBaseURL,
		idByIndex:  map[int]string{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) Endpoint() (string, error) {
	base := p.baseURL
	if base == "" {
		var err error
		base, err = p.cfg.ResolveBaseURL(nil, p.defaultURL)
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSuffix(base, "/") + "/chat/completions", nil
}

func (p *Provider) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return h
}

// FormatTool renders a definition as a function tool. Tools without a
// parameter schema get an empty object schema, which the API requires.
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
	return go_openai.Tool{
		Type: go_openai.ToolTypeFunction,
		Function: go_openai.FunctionDefinition{
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
	return p.embedded
}

func (p *Provider) ExtractEmbeddedToolCalls(text string) []tools.Call {
	if !p.embedded {
		return nil
	}
	return providers.ExtractEmbeddedCalls(text)
}

// resetStream clears the framing state carried between reads. Called by
// BuildRequestBody, which starts each new round.
func (p *Provider) resetStream() {
	p.lines = providers.LineBuffer{}
	p.idByIndex = map[int]string{}
	p.stopReason = ""
	p.usage = nil
	p.done = false
}
