package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// Backend exposes one managed MCP server as a tool backend. The server ID
// doubles as the tool scope, so a tool "add" on server "calculator" is
// addressed as "calculator:add".
type Backend struct {
	manager  *Manager
	serverID string
}

// NewBackend wraps one of the manager's servers. The server does not have
// to be connected yet; calls fail until it is.
func NewBackend(manager *Manager, serverID string) *Backend {
	return &Backend{manager: manager, serverID: serverID}
}

var _ tools.Backend = (*Backend)(nil)

func (b *Backend) ID() string {
	return b.serverID
}

// ListTools serves the listing cached at connect time. Use
// Manager.RefreshTools to pick up server-side changes.
func (b *Backend) ListTools(ctx context.Context) ([]tools.Definition, error) {
	b.manager.mu.RLock()
	defer b.manager.mu.RUnlock()

	instance, exists := b.manager.clients[b.serverID]
	if !exists {
		return nil, errors.Errorf("server not found: %s", b.serverID)
	}
	if instance.state != StateConnected {
		return nil, errors.Errorf("server not connected: %s", b.serverID)
	}
	return append([]tools.Definition{}, instance.toolCache...), nil
}

// CallTool invokes a tool on the server and decodes its result.
func (b *Backend) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	session, timeout, err := b.manager.sessionFor(b.serverID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "tool call %s failed on server %s", name, b.serverID)
	}
	return decodeCallResult(name, result)
}

// RefreshTools re-fetches the tool listing for a connected server.
func (m *Manager) RefreshTools(ctx context.Context, id string) ([]tools.Definition, error) {
	session, timeout, err := m.sessionFor(id)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defs, err := fetchTools(listCtx, session)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list tools on server %s", id)
	}

	m.mu.Lock()
	if instance, exists := m.clients[id]; exists {
		instance.toolCache = defs
	}
	m.mu.Unlock()

	return defs, nil
}

func fetchTools(ctx context.Context, session *mcpsdk.ClientSession) ([]tools.Definition, error) {
	var defs []tools.Definition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		def := tools.Definition{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if schema, err := schemaFromMCP(tool.InputSchema); err != nil {
			log.Warn().Err(err).Str("tool", tool.Name).Msg("could not decode tool input schema")
		} else {
			def.Parameters = schema
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// schemaFromMCP converts the wire-level input schema into our schema type
// through a JSON round trip.
func schemaFromMCP(input interface{}) (*jsonschema.Schema, error) {
	if input == nil {
		return nil, nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// decodeCallResult flattens an MCP tool result into a plain value. Text
// content that parses as JSON becomes the parsed value, so a server that
// answers "2" yields the number 2.
func decodeCallResult(name string, result *mcpsdk.CallToolResult) (interface{}, error) {
	texts := make([]string, 0, len(result.Content))
	var values []interface{}
	for _, content := range result.Content {
		switch c := content.(type) {
		case *mcpsdk.TextContent:
			texts = append(texts, c.Text)
			values = append(values, parseTextValue(c.Text))
		default:
			// non-text content is passed through as its wire form
			raw, err := json.Marshal(content)
			if err != nil {
				continue
			}
			var value interface{}
			if err := json.Unmarshal(raw, &value); err != nil {
				continue
			}
			values = append(values, value)
		}
	}

	if result.IsError {
		msg := strings.Join(texts, "\n")
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, errors.Errorf("tool %s: %s", name, msg)
	}

	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}

func parseTextValue(text string) interface{} {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	switch trimmed[0] {
	case '{', '[', '"', 't', 'f', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var value interface{}
		if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
			return value
		}
	}
	return text
}

// Backends returns a tool backend for every registered server, in
// registration order.
func (m *Manager) Backends() []*Backend {
	ids := m.IDs()
	out := make([]*Backend, 0, len(ids))
	for _, id := range ids {
		out = append(out, NewBackend(m, id))
	}
	return out
}
