package querylang

import (
	"regexp"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	functions "github.com/google/cel-go/common/functions"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

const engineCEL = "cel"

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. CEL type-checks
// against declared variables, so programs are compiled per document key set
// unless the field names are declared with WithVariables.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Engine() string { return engineCEL }

func (e *celEvaluator) Evaluate(ctx MatchContext, expression string) (any, error) {
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

func (e *celEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	cfg := applyCompileOptions(opts)
	rule := &celCompiledRule{evaluator: e, expression: expression}
	if len(cfg.variables) == 0 {
		env, err := e.buildEnv(nil)
		if err != nil {
			return nil, wrapEvaluatorError(engineCEL, err)
		}
		if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
			return nil, wrapEvaluationError(engineCEL, expression, "", issues.Err())
		}
		return rule, nil
	}
	variables := append([]string(nil), cfg.variables...)
	sort.Strings(variables)
	program, err := e.loadOrCompile(expression, variables)
	if err != nil {
		return nil, err
	}
	rule.program = program
	return rule, nil
}

func (e *celEvaluator) loadOrCompile(expression string, variables []string) (*celProgram, error) {
	key := cacheKey(engineCEL, strings.Join(e.registry.Names(), ",")+"\x00"+strings.Join(variables, ",")+"\x00"+expression)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv(variables)
	if err != nil {
		return nil, wrapEvaluatorError(engineCEL, err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError(engineCEL, expression, "", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, wrapEvaluationError(engineCEL, expression, "", err)
	}

	bundle := &celProgram{
		env:     env,
		program: prg,
	}
	if e.cache != nil {
		e.cache.Set(key, bundle)
	}
	return bundle, nil
}

func (e *celEvaluator) buildEnv(variables []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
		celgo.Variable("doc", celgo.DynType),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call", e.callOverloads()...))
	}
	for _, name := range variables {
		if reservedVariable(name) || !celIdentifier.MatchString(name) {
			continue
		}
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) run(ctx MatchContext, expression string, program *celProgram) (any, error) {
	out, _, err := program.program.Eval(e.activation(ctx))
	if err != nil {
		return nil, wrapEvaluationError(engineCEL, expression, ctx.sourceLabel(), err)
	}
	return out.Value(), nil
}

func (e *celEvaluator) activation(ctx MatchContext) map[string]any {
	activation := make(map[string]any, len(ctx.Document)+4)
	for key, value := range ctx.Document {
		activation[key] = value
	}
	activation["doc"] = ctx.Document
	activation["now"] = ctx.timestamp()
	activation["args"] = ctx.Args
	activation["metadata"] = ctx.Metadata
	return activation
}

type celCompiledRule struct {
	evaluator  *celEvaluator
	expression string
	program    *celProgram
}

func (r *celCompiledRule) Evaluate(ctx MatchContext) (any, error) {
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

// celIdentifier matches field names CEL can declare as variables. Other
// fields, such as @timestamp, stay reachable through doc["@timestamp"].
var celIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedVariable reports names a document field cannot take as a CEL
// variable: the context bindings, the builtin type identifiers and the
// language keywords. Such fields stay reachable through doc.
func reservedVariable(name string) bool {
	switch name {
	case "now", "args", "metadata", "doc", "call":
		return true
	case "bool", "bytes", "double", "duration", "dyn", "int", "list", "map",
		"null_type", "string", "timestamp", "type", "uint", "optional_type":
		return true
	case "true", "false", "null", "in", "as", "break", "const", "continue",
		"else", "for", "function", "if", "import", "let", "loop", "package",
		"namespace", "return", "var", "void", "while":
		return true
	}
	return false
}

func documentKeys(document map[string]any) []string {
	keys := make([]string, 0, len(document))
	for key := range document {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// callOverloads declares call(name, args...) for up to maxCallArgs arguments.
func (e *celEvaluator) callOverloads() []celgo.FunctionOpt {
	overloads := make([]celgo.FunctionOpt, 0, maxCallArgs+1)
	argTypes := []*celgo.Type{celgo.StringType}
	id := "call_string"
	for i := 0; i <= maxCallArgs; i++ {
		overloads = append(overloads, celgo.Overload(
			id,
			append([]*celgo.Type(nil), argTypes...),
			celgo.DynType,
			celgo.FunctionBinding(e.callBinding()),
		))
		argTypes = append(argTypes, celgo.DynType)
		id += "_dyn"
	}
	return overloads
}

const maxCallArgs = 4

func (e *celEvaluator) callBinding() functions.FunctionOp {
	return func(values ...ref.Val) ref.Val {
		if len(values) == 0 {
			return types.NewErr("querylang: call requires function name")
		}
		name, ok := values[0].Value().(string)
		if !ok {
			return types.NewErr("querylang: call name must be string")
		}
		args := make([]any, 0, len(values)-1)
		for _, val := range values[1:] {
			args = append(args, val.Value())
		}
		result, err := e.registry.Call(name, args...)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		if result == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
}
