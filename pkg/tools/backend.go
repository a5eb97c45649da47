package tools

import "context"

// Backend executes tools on behalf of the router. Implementations wrap a
// concrete tool source: an MCP server session, locally registered Go
// functions, or a test double.
//
// ListTools must be cheap to call repeatedly; backends that talk to a
// remote server are expected to serve it from a cached listing.
type Backend interface {
	// ID is the scope under which the backend's tools are addressed
	// (e.g. "filesystem" for "filesystem:read_file").
	ID() string

	ListTools(ctx context.Context) ([]Definition, error)

	// CallTool invokes the named tool with a structured argument object.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}
