// Package querylang evaluates query-bar expressions and filters against
// documents. Each language is served by an Evaluator; a Registry maps language
// names to evaluators and a Matcher combines a query with a filter list.
package querylang

import (
	"errors"
	"time"
)

var (
	// ErrUnknownLanguage is returned when no evaluator is registered for a language.
	ErrUnknownLanguage = errors.New("querylang: unknown language")
	// ErrEmptyExpression is returned when an evaluator receives an empty expression.
	ErrEmptyExpression = errors.New("querylang: expression must not be empty")
	// ErrUnsupportedClause is returned for filter queries the matcher cannot run.
	ErrUnsupportedClause = errors.New("querylang: unsupported filter clause")
)

// MatchContext carries the inputs of one evaluation.
type MatchContext struct {
	Document map[string]any
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
	// Source labels where the expression came from ("query", a filter alias).
	Source string
}

func (ctx MatchContext) withDefaultNow() MatchContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx MatchContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx MatchContext) withDefaultMaps() MatchContext {
	if ctx.Document == nil {
		ctx.Document = map[string]any{}
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx MatchContext) withDefaults() MatchContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx MatchContext) sourceLabel() string {
	if ctx.Source != "" {
		return ctx.Source
	}
	return "unknown"
}

// Evaluator executes expressions of one language against a match context.
type Evaluator interface {
	Evaluate(ctx MatchContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule is a reusable program produced by Evaluator.Compile.
type CompiledRule interface {
	Evaluate(ctx MatchContext) (any, error)
}

type engineNamer interface {
	Engine() string
}

// EngineName returns the engine label of e, or "custom" for evaluators that do
// not report one.
func EngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	if named, ok := e.(engineNamer); ok {
		return named.Engine()
	}
	return "custom"
}

// CompileOption configures Compile.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct {
	variables []string
}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// WithVariables declares document fields up front. The CEL and expr engines
// then compile once against them instead of once per document key set.
func WithVariables(names ...string) CompileOption {
	return compileOptionFunc(func(cfg *compileConfig) {
		cfg.variables = append(cfg.variables, names...)
	})
}

func applyCompileOptions(opts []CompileOption) compileConfig {
	cfg := compileConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyCompileOption(&cfg)
		}
	}
	return cfg
}

// Truthy reports whether an evaluation result counts as a match. Only a
// boolean true matches.
func Truthy(value any) bool {
	b, ok := value.(bool)
	return ok && b
}
