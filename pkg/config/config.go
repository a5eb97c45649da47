// Package config loads the application configuration file: provider
// profiles and the MCP servers to register. The library core never reads
// files on its own; this package serves embedding applications and the
// example commands.
//
//	default_provider: anthropic
//	providers:
//	  anthropic:
//	    provider: anthropic
//	    api_key: ${ANTHROPIC_API_KEY}
//	    model: claude-sonnet-4-20250514
//	  local:
//	    provider: ollama
//	    base_url: http://localhost:11434
//	    model: llama3.2
//	mcp_servers:
//	  - id: filesystem
//	    transport: stdio
//	    command: npx
//	    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
//	    timeout: 30s
//
// ${NAME} references are replaced from the environment at load time, so
// secrets never live in the file.
package config

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/tools/mcp"
)

// Config is the decoded configuration file.
type Config struct {
	// DefaultProvider names the profile used when the caller does not pick
	// one. It may stay empty when the file holds a single profile.
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// Providers maps profile names to vendor configurations.
	Providers map[string]*providers.Config `yaml:"providers,omitempty"`

	// MCPServers lists the servers to register with the MCP manager.
	MCPServers []mcp.ServerConfig `yaml:"mcp_servers,omitempty"`
}

// NewConfigFromYAML decodes a configuration document after expanding its
// environment references.
func NewConfigFromYAML(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config")
	}
	expanded, err := ExpandEnv(raw)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, errors.Wrap(err, "could not parse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and decodes the configuration file at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open config file")
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := NewConfigFromYAML(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "config file %s", path)
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv substitutes every ${NAME} occurrence with the named
// environment variable. Referencing an unset variable is an error, so a
// missing secret fails at load time instead of reaching a vendor as an
// empty key.
func ExpandEnv(raw []byte) ([]byte, error) {
	var missing []string
	seen := map[string]struct{}{}
	expanded := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(envPattern.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, errors.Errorf("config references unset environment variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

func (c *Config) validate() error {
	for name, p := range c.Providers {
		if p == nil {
			return errors.Errorf("provider profile %s is empty", name)
		}
		if p.Provider == "" {
			return errors.Errorf("provider profile %s does not name a provider", name)
		}
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return errors.Errorf("default_provider %s has no profile", c.DefaultProvider)
		}
	}

	// Transport-level checks happen in Manager.AddServer; the file-level
	// invariant is distinct ids.
	ids := map[string]struct{}{}
	for _, s := range c.MCPServers {
		if s.ID == "" {
			return errors.New("mcp server with empty id")
		}
		if _, dup := ids[s.ID]; dup {
			return errors.Errorf("duplicate mcp server id %s", s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	return nil
}

// Provider returns the named profile. An empty name falls back to
// default_provider, or to the file's single profile when only one exists.
func (c *Config) Provider(name string) (*providers.Config, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	if name == "" {
		if len(c.Providers) == 1 {
			for _, p := range c.Providers {
				return p, nil
			}
		}
		return nil, errors.New("no provider profile selected and no default_provider set")
	}
	p, ok := c.Providers[name]
	if !ok {
		return nil, errors.Errorf("unknown provider profile %s", name)
	}
	return p, nil
}

// RegisterServers adds every configured MCP server to the manager without
// connecting.
func (c *Config) RegisterServers(m *mcp.Manager) error {
	for _, s := range c.MCPServers {
		if err := m.AddServer(s); err != nil {
			return err
		}
	}
	return nil
}
