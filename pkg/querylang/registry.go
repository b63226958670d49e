package querylang

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	querystate "github.com/goliatone/go-query-state"
)

// Language names registered by DefaultRegistry.
const (
	LanguageKuery = "kuery"
	LanguageExpr  = "expr"
	LanguageCEL   = "cel"
	LanguageJS    = "js"
)

// RegistryOption configures a Registry and the evaluators DefaultRegistry
// builds.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	cache     ProgramCache
	functions *FunctionRegistry
	logger    EvaluatorLogger
	timeout   time.Duration
}

// WithProgramCache shares cache between the default evaluators.
func WithProgramCache(cache ProgramCache) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.cache = cache
	}
}

// WithFunctionRegistry exposes registry to the default evaluators.
func WithFunctionRegistry(registry *FunctionRegistry) RegistryOption {
	return func(cfg *registryConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for the default evaluators.
func WithCustomFunction(name string, fn Function) RegistryOption {
	return func(cfg *registryConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}

// WithScriptTimeout bounds each JavaScript evaluation.
func WithScriptTimeout(d time.Duration) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.timeout = d
	}
}

// WithEvaluatorLogger records every Registry evaluation.
func WithEvaluatorLogger(logger EvaluatorLogger) RegistryOption {
	return func(cfg *registryConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

func applyRegistryOptions(opts []RegistryOption) registryConfig {
	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = noopEvaluatorLogger{}
	}
	return cfg
}

// Registry maps query language names to evaluators. Names are matched
// case-insensitively.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
	logger     EvaluatorLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := applyRegistryOptions(opts)
	return &Registry{
		evaluators: make(map[string]Evaluator),
		logger:     cfg.logger,
	}
}

// DefaultRegistry returns a registry serving kuery, expr and cel, plus js when
// the binary is built with the js_eval tag. The expression engines see the
// builtin functions plus any registered through the options; custom functions
// shadow builtins of the same name.
func DefaultRegistry(opts ...RegistryOption) *Registry {
	cfg := applyRegistryOptions(opts)
	cfg.functions = cfg.functions.With(BuiltinFunctions())
	r := &Registry{
		evaluators: make(map[string]Evaluator),
		logger:     cfg.logger,
	}
	r.evaluators[LanguageKuery] = NewKueryEvaluator(KueryWithProgramCache(cfg.cache))
	r.evaluators[LanguageExpr] = NewExprEvaluator(ExprWithProgramCache(cfg.cache), ExprWithFunctionRegistry(cfg.functions))
	r.evaluators[LanguageCEL] = NewCELEvaluator(CELWithProgramCache(cfg.cache), CELWithFunctionRegistry(cfg.functions))
	if js := NewJSEvaluator(JSWithProgramCache(cfg.cache), JSWithFunctionRegistry(cfg.functions), JSWithTimeout(cfg.timeout)); js != nil {
		r.evaluators[LanguageJS] = js
	}
	return r
}

func normalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// Register adds or replaces the evaluator for language.
func (r *Registry) Register(language string, evaluator Evaluator) error {
	language = normalizeLanguage(language)
	if language == "" {
		return fmt.Errorf("querylang: language name must not be empty")
	}
	if evaluator == nil {
		return fmt.Errorf("querylang: evaluator for %q is nil", language)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evaluators == nil {
		r.evaluators = make(map[string]Evaluator)
	}
	r.evaluators[language] = evaluator
	return nil
}

// Lookup returns the evaluator for language.
func (r *Registry) Lookup(language string) (Evaluator, error) {
	key := normalizeLanguage(language)
	r.mu.RLock()
	evaluator := r.evaluators[key]
	r.mu.RUnlock()
	if evaluator == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, language)
	}
	return evaluator, nil
}

// Languages lists registered language names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs expr in language against ctx and logs the attempt.
func (r *Registry) Evaluate(language string, ctx MatchContext, expr string) (any, error) {
	evaluator, err := r.Lookup(language)
	if err != nil {
		return nil, err
	}
	ctx = ctx.withDefaults()
	engine := EngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = wrapEvaluationError(engine, expr, ctx.sourceLabel(), evalErr)
	r.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Language: normalizeLanguage(language),
		Expr:     expr,
		Source:   ctx.sourceLabel(),
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return value, nil
}

// Compile compiles expr with the evaluator registered for language.
func (r *Registry) Compile(language, expr string, opts ...CompileOption) (CompiledRule, error) {
	evaluator, err := r.Lookup(language)
	if err != nil {
		return nil, err
	}
	rule, err := evaluator.Compile(expr, opts...)
	if err != nil {
		return nil, wrapEvaluatorError(EngineName(evaluator), err)
	}
	return rule, nil
}

// Validate reports whether query can be compiled. Empty queries are valid in
// every language, including unregistered ones.
func (r *Registry) Validate(query querystate.Query) error {
	if strings.TrimSpace(query.Query) == "" {
		return nil
	}
	_, err := r.Compile(query.Language, query.Query)
	return err
}
