package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

// FuncBackend serves tools implemented as in-process Go functions. It is
// the local counterpart to an MCP backend: same contract, no transport.
type FuncBackend struct {
	id string

	mu    sync.RWMutex
	defs  map[string]Definition
	fns   map[string]func(ctx context.Context, args []byte) (interface{}, error)
	order []string
}

// NewFuncBackend creates an empty function backend with the given scope ID.
func NewFuncBackend(id string) *FuncBackend {
	return &FuncBackend{
		id:   id,
		defs: make(map[string]Definition),
		fns:  make(map[string]func(ctx context.Context, args []byte) (interface{}, error)),
	}
}

func (b *FuncBackend) ID() string { return b.id }

// RegisterFunc registers fn as a tool. The argument schema is derived from
// fn's input struct. An empty name is derived from the function's own name,
// lowered to snake_case.
func (b *FuncBackend) RegisterFunc(name string, description string, fn interface{}) error {
	if name == "" {
		name = funcName(fn)
	}
	if name == "" {
		return errors.New("tool name cannot be empty")
	}

	schema, err := SchemaFromFunc(fn)
	if err != nil {
		return errors.Wrapf(err, "could not derive schema for tool %s", name)
	}
	invoke, err := invokerFromFunc(fn)
	if err != nil {
		return errors.Wrapf(err, "could not compile tool %s", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.defs[name]; exists {
		return errors.Errorf("tool already registered: %s", name)
	}
	b.defs[name] = Definition{
		Name:        name,
		Description: description,
		Parameters:  schema,
	}
	b.fns[name] = invoke
	b.order = append(b.order, name)
	return nil
}

// ListTools returns the registered definitions in registration order.
func (b *FuncBackend) ListTools(_ context.Context) ([]Definition, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Definition, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.defs[name])
	}
	return out, nil
}

// CallTool invokes the named tool with the given argument object.
func (b *FuncBackend) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	b.mu.RLock()
	invoke, exists := b.fns[name]
	b.mu.RUnlock()

	if !exists {
		return nil, errors.Errorf("tool not found: %s", name)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode arguments")
	}
	return invoke(ctx, raw)
}

var _ Backend = (*FuncBackend)(nil)

// funcName resolves a function's symbol name to a snake_case tool name.
// Anonymous functions yield an empty string.
func funcName(fn interface{}) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return ""
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return ""
	}
	full := rf.Name()
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		full = full[idx+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	if strings.HasPrefix(full, "func") {
		// function literal like func1; no usable name
		return ""
	}
	return strcase.ToSnake(full)
}
