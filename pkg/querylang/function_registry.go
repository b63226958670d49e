package querylang

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrFunctionNotRegistered is returned when an expression calls an unknown function.
	ErrFunctionNotRegistered = errors.New("querylang: function not registered")
	// ErrFunctionExists is returned when a name is registered twice.
	ErrFunctionExists = errors.New("querylang: function already registered")
)

// Function is a callable exposed to expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry holds the functions script filters and queries may call.
// Names are case-insensitive.
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: map[string]Function{}}
}

// BuiltinFunctions returns a registry with the document helpers available to
// every default evaluator:
//
//	lookup(doc, "a.b")          value at a dotted path, or nil
//	phrase(value, "some text")  case-insensitive phrase containment
//	between(value, low, high)   inclusive numeric range check
func BuiltinFunctions() *FunctionRegistry {
	r := NewFunctionRegistry()
	r.funcs["lookup"] = lookupFunction
	r.funcs["phrase"] = phraseFunction
	r.funcs["between"] = betweenFunction
	return r
}

// Register adds fn under name. Names already taken fail with ErrFunctionExists.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	key := strings.ToLower(strings.TrimSpace(name))
	switch {
	case key == "":
		return fmt.Errorf("querylang: function name must not be empty")
	case fn == nil:
		return fmt.Errorf("querylang: function %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs == nil {
		r.funcs = map[string]Function{}
	}
	if _, taken := r.funcs[key]; taken {
		return fmt.Errorf("%w: %q", ErrFunctionExists, name)
	}
	r.funcs[key] = fn
	return nil
}

// Lookup returns the function registered for name.
func (r *FunctionRegistry) Lookup(name string) (Function, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[strings.ToLower(name)]
	return fn, ok
}

// Call runs the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotRegistered, name)
	}
	return fn(args...)
}

// Clone returns an independent registry holding the same functions.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	funcs := maps.Clone(r.funcs)
	if funcs == nil {
		funcs = map[string]Function{}
	}
	return &FunctionRegistry{funcs: funcs}
}

// With returns a clone of r that also holds every function of other not
// already registered in r.
func (r *FunctionRegistry) With(other *FunctionRegistry) *FunctionRegistry {
	out := r.Clone()
	if out == nil {
		out = NewFunctionRegistry()
	}
	if other == nil {
		return out
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	for name, fn := range other.funcs {
		if _, taken := out.funcs[name]; !taken {
			out.funcs[name] = fn
		}
	}
	return out
}

// Names returns the registered names in sorted order.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.funcs))
}

func lookupFunction(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("querylang: lookup expects 2 arguments, got %d", len(args))
	}
	document, _ := args[0].(map[string]any)
	path, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("querylang: lookup path must be a string")
	}
	value, _ := LookupField(document, path)
	return value, nil
}

func phraseFunction(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("querylang: phrase expects 2 arguments, got %d", len(args))
	}
	if args[0] == nil {
		return false, nil
	}
	text := strings.ToLower(fmt.Sprint(args[0]))
	return strings.Contains(text, strings.ToLower(fmt.Sprint(args[1]))), nil
}

func betweenFunction(args ...any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("querylang: between expects 3 arguments, got %d", len(args))
	}
	var bounds [3]float64
	for i, arg := range args {
		number, ok := toFloat(arg)
		if !ok {
			return false, nil
		}
		bounds[i] = number
	}
	return bounds[0] >= bounds[1] && bounds[0] <= bounds[2], nil
}
