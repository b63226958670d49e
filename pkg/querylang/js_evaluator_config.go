package querylang

import (
	"errors"
	"time"
)

const engineJS = "js"

// DefaultScriptTimeout bounds a single JavaScript evaluation.
const DefaultScriptTimeout = 250 * time.Millisecond

// ErrScriptTimeout is returned when a script runs past its timeout.
var ErrScriptTimeout = errors.New("querylang: script timed out")

// JSEvaluatorOption configures the JS evaluator.
type JSEvaluatorOption func(*jsOptions)

type jsOptions struct {
	cache    ProgramCache
	registry *FunctionRegistry
	timeout  time.Duration
}

// JSWithProgramCache caches compiled goja programs.
func JSWithProgramCache(cache ProgramCache) JSEvaluatorOption {
	return func(o *jsOptions) {
		o.cache = cache
	}
}

// JSWithFunctionRegistry exposes registry to scripts through call(name, ...).
func JSWithFunctionRegistry(registry *FunctionRegistry) JSEvaluatorOption {
	return func(o *jsOptions) {
		o.registry = registry.Clone()
	}
}

// JSWithTimeout interrupts scripts that run longer than d. Zero or negative
// values keep DefaultScriptTimeout.
func JSWithTimeout(d time.Duration) JSEvaluatorOption {
	return func(o *jsOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func newJSOptions(opts []JSEvaluatorOption) jsOptions {
	o := jsOptions{timeout: DefaultScriptTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
