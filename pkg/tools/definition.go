package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Definition describes a tool a model can call. Parameters is the JSON
// schema for the tool's argument object, in the shape vendors expect.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// SchemaFromFunc derives the argument schema for a tool function.
// Supported signatures:
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
//
// where Input is a struct whose fields (with json tags) become the
// argument object's properties. Definitions are expanded inline so the
// schema can be shipped to vendors that do not resolve $refs.
func SchemaFromFunc(fn interface{}) (*jsonschema.Schema, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}

	inputType, err := inputTypeOf(funcType)
	if err != nil {
		return nil, err
	}
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}, nil
	}

	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inputType).Elem().Interface())
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func inputTypeOf(funcType reflect.Type) (reflect.Type, error) {
	switch funcType.NumIn() {
	case 0:
		return nil, nil
	case 1:
		if funcType.In(0) == contextType {
			return nil, nil
		}
		return funcType.In(0), nil
	case 2:
		if funcType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		return funcType.In(1), nil
	default:
		return nil, errors.Errorf("tool function takes %d parameters, want (Input) or (context.Context, Input)", funcType.NumIn())
	}
}

func validateOutputs(funcType reflect.Type) error {
	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return errors.New("tool function must return (Result) or (Result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return errors.New("second return value must be an error")
	}
	return nil
}

// invokerFromFunc compiles fn into a closure that unmarshals a JSON
// argument object, calls fn, and returns its result.
func invokerFromFunc(fn interface{}) (func(ctx context.Context, args []byte) (interface{}, error), error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if err := validateOutputs(funcType); err != nil {
		return nil, err
	}
	inputType, err := inputTypeOf(funcType)
	if err != nil {
		return nil, err
	}

	wantsContext := funcType.NumIn() > 0 && funcType.In(0) == contextType
	funcValue := reflect.ValueOf(fn)

	return func(ctx context.Context, args []byte) (interface{}, error) {
		in := make([]reflect.Value, 0, 2)
		if wantsContext {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inputType != nil {
			input := reflect.New(inputType)
			if len(args) > 0 {
				if err := json.Unmarshal(args, input.Interface()); err != nil {
					return nil, errors.Wrap(err, "failed to unmarshal arguments")
				}
			}
			in = append(in, input.Elem())
		}

		results := funcValue.Call(in)
		return extractResults(results)
	}, nil
}

func extractResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		if errV := results[1].Interface(); errV != nil {
			return result, errV.(error)
		}
		return result, nil
	default:
		return nil, errors.Errorf("unexpected number of return values: %d", len(results))
	}
}
