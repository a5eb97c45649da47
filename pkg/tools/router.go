package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidCall marks failures that happened before the backend was
// reached: unresolvable names, malformed arguments, schema violations.
// Callers use it to distinguish local faults from backend faults.
var ErrInvalidCall = errors.New("invalid tool call")

// ScopedDefinition is a tool definition qualified by the backend it came
// from. The qualified form disambiguates identically named tools across
// backends.
type ScopedDefinition struct {
	Scope string `json:"scope"`
	Definition
}

// Qualified returns the scope:name form under which the tool is routable.
func (d ScopedDefinition) Qualified() string {
	return d.Scope + ":" + d.Name
}

// Router resolves tool names to backends, normalizes model-supplied
// arguments, and dispatches calls. A Router is read-only after
// construction and safe for concurrent use across turns.
type Router struct {
	registry    *BackendRegistry
	validate    bool
	maxParallel int
	callTimeout time.Duration
}

type RouterOption func(*Router)

// WithValidation toggles JSON-schema validation of arguments against the
// resolved tool's parameter schema. On by default.
func WithValidation(validate bool) RouterOption {
	return func(r *Router) {
		r.validate = validate
	}
}

// WithMaxParallel caps the number of concurrently executing calls in
// CallMany.
func WithMaxParallel(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxParallel = n
		}
	}
}

// WithCallTimeout sets the per-call deadline applied by CallMany.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		r.callTimeout = d
	}
}

// NewRouter creates a Router over the given backend registry.
func NewRouter(registry *BackendRegistry, options ...RouterOption) *Router {
	ret := &Router{
		registry:    registry,
		validate:    true,
		maxParallel: defaultMaxParallel,
		callTimeout: defaultCallTimeout,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// WithTimeout returns a copy of the router with a different per-call
// deadline. The receiver is unchanged; a non-positive duration returns an
// identical copy.
func (r *Router) WithTimeout(d time.Duration) *Router {
	cp := *r
	if d > 0 {
		cp.callTimeout = d
	}
	return &cp
}

// ListTools aggregates tool definitions. With a scope, only that backend is
// listed and its failure is the caller's. Without a scope, all backends are
// listed concurrently and a failing backend is skipped with a warning so one
// dead server does not hide every other tool.
func (r *Router) ListTools(ctx context.Context, scope string) ([]ScopedDefinition, error) {
	if scope != "" {
		backend, err := r.registry.Get(scope)
		if err != nil {
			return nil, err
		}
		defs, err := backend.ListTools(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "could not list tools for backend %s", scope)
		}
		return scoped(scope, defs), nil
	}

	backends := r.registry.List()
	perBackend := make([][]ScopedDefinition, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultMaxParallel)
	for i, backend := range backends {
		g.Go(func() error {
			defs, err := backend.ListTools(gctx)
			if err != nil {
				log.Warn().Err(err).Str("backend", backend.ID()).Msg("skipping backend during tool listing")
				return nil
			}
			perBackend[i] = scoped(backend.ID(), defs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ScopedDefinition, 0, len(backends)*4)
	for _, defs := range perBackend {
		out = append(out, defs...)
	}
	return out, nil
}

func scoped(scope string, defs []Definition) []ScopedDefinition {
	out := make([]ScopedDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, ScopedDefinition{Scope: scope, Definition: d})
	}
	return out
}

// Resolve maps a possibly scoped tool name to its backend and local name.
// Accepted forms: "name", "scope:name", "mcp:scope:name". An unscoped name
// routes to the first registered backend; with multiple backends that
// choice is a heuristic, so it is logged.
func (r *Router) Resolve(name string) (Backend, string, error) {
	scope, tool := splitScopedName(name)
	if tool == "" {
		return nil, "", errors.WithMessagef(ErrInvalidCall, "empty tool name %q", name)
	}

	if scope != "" {
		backend, err := r.registry.Get(scope)
		if err != nil {
			return nil, "", errors.WithMessagef(ErrInvalidCall, "cannot route %q: %v", name, err)
		}
		return backend, tool, nil
	}

	backend, ok := r.registry.First()
	if !ok {
		return nil, "", errors.WithMessage(ErrInvalidCall, "no tool backends configured")
	}
	if r.registry.Len() > 1 {
		log.Debug().
			Str("tool", tool).
			Str("backend", backend.ID()).
			Msg("unscoped tool name routed to first registered backend")
	}
	return backend, tool, nil
}

// splitScopedName splits "scope:name" into its parts. A leading "mcp:" on a
// doubly prefixed name is stripped first, so "mcp:fs:read" and "fs:read"
// resolve identically.
func splitScopedName(name string) (string, string) {
	rest := name
	if strings.HasPrefix(rest, "mcp:") && strings.Count(rest, ":") >= 2 {
		rest = strings.TrimPrefix(rest, "mcp:")
	}
	if idx := strings.Index(rest, ":"); idx >= 0 {
		return rest[:idx], rest[idx+1:]
	}
	return "", rest
}

// Call resolves, normalizes, and dispatches one tool call. Resolution,
// coercion, and validation failures are tagged ErrInvalidCall; anything
// else came from the backend.
func (r *Router) Call(ctx context.Context, call Call) (any, error) {
	backend, toolName, err := r.Resolve(call.Name)
	if err != nil {
		return nil, err
	}

	args, err := CoerceArguments(call.Arguments)
	if err != nil {
		return nil, errors.WithMessagef(ErrInvalidCall, "tool %s: %v", toolName, err)
	}
	args = unwrapEnvelope(args, toolName)

	if r.validate {
		if err := r.validateArguments(ctx, backend, toolName, args); err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("backend", backend.ID()).
		Str("tool", toolName).
		Str("tool_call_id", call.ID).
		Msg("dispatching tool call")
	return backend.CallTool(ctx, toolName, args)
}

// CoerceArguments turns a model-supplied argument payload into a structured
// object. Strings are parsed as JSON; an empty string means no arguments.
// Already-structured input passes through.
func CoerceArguments(args any) (map[string]any, error) {
	switch v := args.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		return parseArgumentString(v)
	case json.RawMessage:
		return parseArgumentString(string(v))
	case []byte:
		return parseArgumentString(string(v))
	default:
		// Structured but not map[string]any (e.g. a typed struct); go
		// through JSON to flatten it.
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "arguments are not JSON-encodable")
		}
		return parseArgumentString(string(b))
	}
}

func parseArgumentString(s string) (map[string]any, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil, errors.Wrapf(err, "arguments do not decode to an object: %q", s)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// unwrapEnvelope undoes the {name, arguments} nesting some models produce,
// where the real argument object sits one level deep.
func unwrapEnvelope(args map[string]any, toolName string) map[string]any {
	if len(args) != 2 {
		return args
	}
	innerName, ok := args["name"].(string)
	if !ok {
		return args
	}
	inner, ok := args["arguments"]
	if !ok {
		return args
	}

	unwrapped, err := CoerceArguments(inner)
	if err != nil {
		return args
	}
	if innerName != toolName {
		log.Warn().
			Str("tool", toolName).
			Str("envelope_name", innerName).
			Msg("unwrapped argument envelope names a different tool")
	}
	log.Debug().Str("tool", toolName).Msg("unwrapped {name, arguments} envelope")
	return unwrapped
}

// validateArguments checks args against the tool's parameter schema when
// the backend advertises one. Tools absent from the listing are passed
// through; the backend is the authority on its own catalog.
func (r *Router) validateArguments(ctx context.Context, backend Backend, toolName string, args map[string]any) error {
	defs, err := backend.ListTools(ctx)
	if err != nil {
		log.Warn().Err(err).Str("backend", backend.ID()).Msg("skipping argument validation, tool listing failed")
		return nil
	}

	for _, def := range defs {
		if def.Name != toolName || def.Parameters == nil {
			continue
		}
		result, err := gojsonschema.Validate(
			gojsonschema.NewGoLoader(def.Parameters),
			gojsonschema.NewGoLoader(args),
		)
		if err != nil {
			log.Warn().Err(err).Str("tool", toolName).Msg("skipping argument validation, schema unusable")
			return nil
		}
		if !result.Valid() {
			descs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				descs = append(descs, e.String())
			}
			return errors.WithMessagef(ErrInvalidCall, "tool %s arguments rejected: %s", toolName, strings.Join(descs, "; "))
		}
		return nil
	}
	return nil
}
