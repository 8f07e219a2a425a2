package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Func adapts a typed function into a Handler. fn must look like one of
//
//	func(ctx context.Context, args T) error
//	func(ctx context.Context, args T) (R, error)
//	func(args T) error
//	func(ctx context.Context) (R, error)
//
// The job payload is decoded into T and R is encoded as the return value.
func Func(fn any) (Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("handler function cannot be nil")
	}
	fnType := fnVal.Type()

	numIn := fnType.NumIn()
	if numIn < 1 || numIn > 2 {
		return nil, fmt.Errorf("handler must have 1-2 arguments")
	}
	hasContext := fnType.In(0).Implements(contextType)
	var argsType reflect.Type
	switch {
	case hasContext && numIn == 2:
		argsType = fnType.In(1)
	case !hasContext && numIn == 1:
		argsType = fnType.In(0)
	case !hasContext:
		return nil, fmt.Errorf("handler with two arguments must take a context first")
	}

	switch fnType.NumOut() {
	case 1:
		if !fnType.Out(0).Implements(errorType) {
			return nil, fmt.Errorf("handler must return error")
		}
	case 2:
		if !fnType.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("handler must return (T, error)")
		}
	default:
		return nil, fmt.Errorf("handler must return error or (T, error)")
	}

	return func(ctx context.Context, job *Job) (json.RawMessage, error) {
		var in []reflect.Value
		if hasContext {
			in = append(in, reflect.ValueOf(ctx))
		}
		if argsType != nil {
			argVal := reflect.New(argsType)
			if len(job.Data) > 0 {
				if err := json.Unmarshal(job.Data, argVal.Interface()); err != nil {
					return nil, fmt.Errorf("failed to unmarshal args: %w", err)
				}
			}
			in = append(in, argVal.Elem())
		}

		out := fnVal.Call(in)
		if errVal := out[len(out)-1]; !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
		if len(out) == 1 {
			return nil, nil
		}
		result, err := json.Marshal(out[0].Interface())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return result, nil
	}, nil
}

// MustFunc is like Func but panics on an invalid signature.
func MustFunc(fn any) Handler {
	h, err := Func(fn)
	if err != nil {
		panic(fmt.Sprintf("worker: %v", err))
	}
	return h
}
