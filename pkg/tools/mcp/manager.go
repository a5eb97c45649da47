package mcp

import (
	"context"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// TransportType selects how a server is reached.
type TransportType string

const (
	TransportStdio      TransportType = "stdio"
	TransportSSE        TransportType = "sse"
	TransportStreamable TransportType = "streamable"
)

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	ID        string        `yaml:"id" json:"id"`
	Transport TransportType `yaml:"transport" json:"transport"`

	// URL is the endpoint for sse and streamable transports.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Command and Args launch the server process for the stdio transport.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Timeout bounds connecting and every per-call operation. Zero means
	// the 30 second default. YAML takes Go duration strings ("30s").
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	type wire struct {
		ID        string        `yaml:"id"`
		Transport TransportType `yaml:"transport"`
		URL       string        `yaml:"url"`
		Command   string        `yaml:"command"`
		Args      []string      `yaml:"args"`
		Timeout   string        `yaml:"timeout"`
	}
	var w wire
	if err := value.Decode(&w); err != nil {
		return err
	}
	*c = ServerConfig{
		ID:        w.ID,
		Transport: w.Transport,
		URL:       w.URL,
		Command:   w.Command,
		Args:      w.Args,
	}
	if w.Timeout != "" {
		d, err := time.ParseDuration(w.Timeout)
		if err != nil {
			return errors.Wrapf(err, "server %s: invalid timeout", w.ID)
		}
		c.Timeout = d
	}
	return nil
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

const defaultTimeout = 30 * time.Second

// State is the lifecycle state of one managed server connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ServerStatus is a point-in-time snapshot of one managed connection.
type ServerStatus struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Error       string     `json:"error,omitempty"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	ToolCount   int        `json:"toolCount"`
}

type clientInstance struct {
	cfg         ServerConfig
	session     *mcpsdk.ClientSession
	state       State
	lastError   string
	connectedAt *time.Time
	toolCache   []tools.Definition
}

// Manager owns a set of MCP server connections and their lifecycle:
// add, connect, disconnect, remove, repair. All session access for tool,
// resource, and prompt calls goes through it.
type Manager struct {
	clientName    string
	clientVersion string

	mu      sync.RWMutex
	clients map[string]*clientInstance
	order   []string
}

// NewManager creates a Manager. The name and version identify this client
// to servers during the MCP handshake.
func NewManager(clientName string, clientVersion string) *Manager {
	return &Manager{
		clientName:    clientName,
		clientVersion: clientVersion,
		clients:       make(map[string]*clientInstance),
	}
}

// AddServer registers a server configuration without connecting to it.
func (m *Manager) AddServer(cfg ServerConfig) error {
	if cfg.ID == "" {
		return errors.New("server ID cannot be empty")
	}
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return errors.Errorf("server %s: stdio transport needs a command", cfg.ID)
		}
	case TransportSSE, TransportStreamable:
		if cfg.URL == "" {
			return errors.Errorf("server %s: %s transport needs a URL", cfg.ID, cfg.Transport)
		}
	default:
		return errors.Errorf("server %s: unknown transport %q", cfg.ID, cfg.Transport)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[cfg.ID]; exists {
		return errors.Errorf("server already registered: %s", cfg.ID)
	}
	m.clients[cfg.ID] = &clientInstance{
		cfg:   cfg,
		state: StateDisconnected,
	}
	m.order = append(m.order, cfg.ID)

	log.Debug().Str("server", cfg.ID).Str("transport", string(cfg.Transport)).Msg("registered MCP server")
	return nil
}

// Connect establishes the session for one server and refreshes its tool
// cache. Connecting an already connected server is a no-op.
func (m *Manager) Connect(ctx context.Context, id string) (ServerStatus, error) {
	m.mu.Lock()
	instance, exists := m.clients[id]
	if !exists {
		m.mu.Unlock()
		return ServerStatus{}, errors.Errorf("server not found: %s", id)
	}
	if instance.state == StateConnected {
		status := statusOf(instance)
		m.mu.Unlock()
		return status, nil
	}
	cfg := instance.cfg
	instance.state = StateConnecting
	instance.lastError = ""
	m.mu.Unlock()

	session, defs, err := m.dial(ctx, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	// the server may have been removed while we were dialing
	instance, exists = m.clients[id]
	if !exists {
		if session != nil {
			_ = session.Close()
		}
		return ServerStatus{}, errors.Errorf("server removed while connecting: %s", id)
	}

	if err != nil {
		instance.state = StateError
		instance.lastError = err.Error()
		log.Warn().Err(err).Str("server", id).Msg("MCP connect failed")
		return statusOf(instance), errors.Wrapf(err, "could not connect to server %s", id)
	}

	now := time.Now()
	instance.session = session
	instance.state = StateConnected
	instance.connectedAt = &now
	instance.toolCache = defs

	log.Info().Str("server", id).Int("tools", len(defs)).Msg("MCP server connected")
	return statusOf(instance), nil
}

// dial builds the transport, performs the MCP handshake, and fetches the
// initial tool listing.
func (m *Manager) dial(ctx context.Context, cfg ServerConfig) (*mcpsdk.ClientSession, []tools.Definition, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, nil, err
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    m.clientName,
		Version: m.clientVersion,
	}, nil)

	session, err := client.Connect(dialCtx, transport, nil)
	if err != nil {
		return nil, nil, err
	}

	defs, err := fetchTools(dialCtx, session)
	if err != nil {
		_ = session.Close()
		return nil, nil, err
	}
	return session, defs, nil
}

// buildTransport is a variable so tests can substitute in-memory transports.
var buildTransport = defaultTransport

func defaultTransport(cfg ServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		// The process must outlive any per-call deadline; the session's
		// Close terminates it.
		command := exec.CommandContext(context.Background(), cfg.Command, cfg.Args...)
		return &mcpsdk.CommandTransport{Command: command}, nil
	case TransportSSE:
		return &mcpsdk.SSEClientTransport{Endpoint: cfg.URL}, nil
	case TransportStreamable:
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
	default:
		return nil, errors.Errorf("unknown transport %q", cfg.Transport)
	}
}

// ConnectAll connects every registered server concurrently. Individual
// failures are recorded in the server statuses and do not stop the others;
// the returned statuses reflect the final state of each server.
func (m *Manager) ConnectAll(ctx context.Context) []ServerStatus {
	m.mu.RLock()
	ids := append([]string{}, m.order...)
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := m.Connect(gctx, id); err != nil {
				log.Warn().Err(err).Str("server", id).Msg("MCP connect failed during ConnectAll")
			}
			return nil
		})
	}
	_ = g.Wait()

	return m.Statuses()
}

// Disconnect closes a server's session but keeps its configuration so it
// can be reconnected later.
func (m *Manager) Disconnect(id string) (ServerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	instance, exists := m.clients[id]
	if !exists {
		return ServerStatus{}, errors.Errorf("server not found: %s", id)
	}
	if instance.session != nil {
		if err := instance.session.Close(); err != nil {
			log.Warn().Err(err).Str("server", id).Msg("error closing MCP session")
		}
		instance.session = nil
	}
	instance.state = StateDisconnected
	instance.connectedAt = nil
	instance.toolCache = nil

	log.Debug().Str("server", id).Msg("MCP server disconnected")
	return statusOf(instance), nil
}

// Remove disconnects a server and deletes its configuration.
func (m *Manager) Remove(id string) error {
	if _, err := m.Disconnect(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.clients, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Status returns the snapshot for one server.
func (m *Manager) Status(id string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instance, exists := m.clients[id]
	if !exists {
		return ServerStatus{}, errors.Errorf("server not found: %s", id)
	}
	return statusOf(instance), nil
}

// Statuses returns snapshots for all servers in registration order.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, statusOf(m.clients[id]))
	}
	return out
}

// Repair reconnects a server that lost its session. A connected server is
// left untouched.
func (m *Manager) Repair(ctx context.Context, id string) (ServerStatus, error) {
	m.mu.RLock()
	instance, exists := m.clients[id]
	if !exists {
		m.mu.RUnlock()
		return ServerStatus{}, errors.Errorf("server not found: %s", id)
	}
	if instance.state == StateConnected {
		status := statusOf(instance)
		m.mu.RUnlock()
		return status, nil
	}
	m.mu.RUnlock()

	log.Info().Str("server", id).Msg("repairing MCP server connection")
	return m.Connect(ctx, id)
}

// IDs returns the registered server IDs in registration order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.order...)
}

// session returns the live session for a connected server.
func (m *Manager) sessionFor(id string) (*mcpsdk.ClientSession, time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instance, exists := m.clients[id]
	if !exists {
		return nil, 0, errors.Errorf("server not found: %s", id)
	}
	if instance.state != StateConnected || instance.session == nil {
		return nil, 0, errors.Errorf("server not connected: %s", id)
	}
	return instance.session, instance.cfg.timeout(), nil
}

func statusOf(instance *clientInstance) ServerStatus {
	return ServerStatus{
		ID:          instance.cfg.ID,
		State:       instance.state,
		Error:       instance.lastError,
		ConnectedAt: instance.connectedAt,
		ToolCount:   len(instance.toolCache),
	}
}
