package lmstudio

import (
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/openai"
)

const defaultBaseURL = "http://localhost:1234/v1"

// New builds the LM Studio adapter. The server speaks the chat
// completions dialect byte for byte, so this is the openai adapter under
// another identifier, pointed at the local default port, with embedded
// tool-call extraction enabled because local models often write their
// calls into plain text.
func New(cfg *providers.Config) *openai.Provider {
	return openai.New(cfg,
		openai.WithIdentifier("lmstudio"),
		openai.WithDefaultBaseURL(defaultBaseURL),
		openai.WithEmbeddedToolCalls(true),
	)
}
