package querylang

import (
	"slices"
	"strings"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprparser "github.com/expr-lang/expr/parser"
	exprvm "github.com/expr-lang/expr/vm"
)

const engineExpr = "expr"

// ExprEvaluatorOption configures the expr evaluator.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache caches compiled expr programs.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry declares every function of registry as an expr
// function and also exposes call(name, ...).
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.registry = registry.Clone()
	}
}

type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator returns an Evaluator backed by expr-lang/expr. Document
// fields are top-level variables and are also reachable through doc; now (a
// time.Time), args and metadata come from the MatchContext. These bindings
// shadow expr builtins of the same name, and so do document fields: a
// document with a date field reads date as that field. Undefined variables
// evaluate to nil so filters over sparse documents do not fail.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Engine() string { return engineExpr }

func (e *exprEvaluator) Evaluate(ctx MatchContext, expression string) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	ctx = ctx.withDefaults()
	program, err := e.loadOrCompile(expression, documentKeys(ctx.Document))
	if err != nil {
		return nil, err
	}
	return e.run(ctx, expression, program)
}

// Compile checks syntax only unless WithVariables names the document fields,
// in which case the program is built once. Otherwise each document key set
// gets its own cached program.
func (e *exprEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	cfg := applyCompileOptions(opts)
	rule := &exprRule{evaluator: e, expression: expression}
	if len(cfg.variables) == 0 {
		if _, err := exprparser.Parse(expression); err != nil {
			return nil, wrapEvaluationError(engineExpr, expression, "", err)
		}
		return rule, nil
	}
	variables := slices.Clone(cfg.variables)
	slices.Sort(variables)
	program, err := e.loadOrCompile(expression, variables)
	if err != nil {
		return nil, err
	}
	rule.program = program
	return rule, nil
}

// programKey identifies a program by the declared functions, the declared
// variables and the source.
func (e *exprEvaluator) programKey(expression string, variables []string) string {
	return cacheKey(engineExpr, strings.Join(e.registry.Names(), ",")+"\x00"+strings.Join(variables, ",")+"\x00"+expression)
}

func (e *exprEvaluator) loadOrCompile(expression string, variables []string) (*exprvm.Program, error) {
	key := e.programKey(expression, variables)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}

	names := e.registry.Names()
	options := make([]exprlang.Option, 0, len(names)+2)
	options = append(options, exprlang.Env(e.declarations(variables, names)), exprlang.AllowUndefinedVariables())
	for _, name := range names {
		options = append(options, exprlang.Function(name, e.bind(name)))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapEvaluationError(engineExpr, expression, "", err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

// declarations types the context bindings and declares every document field
// as an untyped variable. Fields named like a binding or a registered
// function are only reachable through doc.
func (e *exprEvaluator) declarations(variables, functions []string) map[string]any {
	env := map[string]any{
		"now":      time.Time{},
		"doc":      map[string]any{},
		"args":     map[string]any{},
		"metadata": map[string]any{},
	}
	if e.registry != nil {
		env["call"] = e.registry.Call
	}
	for _, name := range variables {
		if _, bound := env[name]; bound || slices.Contains(functions, name) {
			continue
		}
		env[name] = nil
	}
	return env
}

func (e *exprEvaluator) bind(name string) func(...any) (any, error) {
	return func(args ...any) (any, error) {
		return e.registry.Call(name, args...)
	}
}

func (e *exprEvaluator) env(ctx MatchContext) map[string]any {
	env := make(map[string]any, len(ctx.Document)+5)
	for field, value := range ctx.Document {
		env[field] = value
	}
	env["doc"] = ctx.Document
	env["now"] = ctx.timestamp()
	env["args"] = ctx.Args
	env["metadata"] = ctx.Metadata
	if e.registry != nil {
		env["call"] = e.registry.Call
	}
	return env
}

func (e *exprEvaluator) run(ctx MatchContext, expression string, program *exprvm.Program) (any, error) {
	result, err := exprlang.Run(program, e.env(ctx))
	if err != nil {
		return nil, wrapEvaluationError(engineExpr, expression, ctx.sourceLabel(), err)
	}
	return result, nil
}

type exprRule struct {
	evaluator  *exprEvaluator
	expression string
	program    *exprvm.Program
}

func (r *exprRule) Evaluate(ctx MatchContext) (any, error) {
	ctx = ctx.withDefaults()
	program := r.program
	if program == nil {
		var err error
		program, err = r.evaluator.loadOrCompile(r.expression, documentKeys(ctx.Document))
		if err != nil {
			return nil, err
		}
	}
	return r.evaluator.run(ctx, r.expression, program)
}
