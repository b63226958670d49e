package querylang

import (
	"fmt"
	"sort"
	"strings"
	"time"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/timefilter"
)

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithScriptLanguage sets the language of script filters that do not name
// one. The default is expr.
func WithScriptLanguage(language string) MatcherOption {
	return func(m *Matcher) {
		if language = normalizeLanguage(language); language != "" {
			m.scriptLanguage = language
		}
	}
}

// WithClock sets the clock used for "now" in date math and expressions.
func WithClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) {
		if now != nil {
			m.now = now
		}
	}
}

// Matcher tests documents against a query state: the free-text query, the
// enabled filters and, optionally, a time range.
type Matcher struct {
	registry       *Registry
	scriptLanguage string
	now            func() time.Time
}

// NewMatcher returns a matcher using registry, or DefaultRegistry when nil.
func NewMatcher(registry *Registry, opts ...MatcherOption) *Matcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	m := &Matcher{
		registry:       registry,
		scriptLanguage: LanguageExpr,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Request is the query state a Predicate is built from. TimeField is only
// read when Time is set.
type Request struct {
	Query     *querystate.Query
	Filters   []querystate.Filter
	Time      *querystate.TimeRange
	TimeField string
}

// RequestFromState builds a Request from a shared state snapshot.
func RequestFromState(state querystate.SharedState, timeField string) Request {
	return Request{
		Query:     state.Query,
		Filters:   state.Filters,
		Time:      state.Time,
		TimeField: timeField,
	}
}

// Predicate is a compiled Request.
type Predicate struct {
	query   CompiledRule
	source  string
	filters []compiledFilter
	field   string
	bounds  *timefilter.Bounds
	now     time.Time
}

type compiledFilter struct {
	label  string
	negate bool
	clause clause
}

// Compile resolves the time range against the matcher clock and compiles the
// query and every enabled filter.
func (m *Matcher) Compile(req Request) (*Predicate, error) {
	now := m.now()
	p := &Predicate{now: now, field: req.TimeField}

	if req.Query != nil && strings.TrimSpace(req.Query.Query) != "" {
		language := req.Query.Language
		if language == "" {
			language = LanguageKuery
		}
		rule, err := m.registry.Compile(language, req.Query.Query)
		if err != nil {
			return nil, err
		}
		p.query = rule
		p.source = "query"
	}

	for i, filter := range req.Filters {
		if filter.Meta.Disabled {
			continue
		}
		label := filterLabel(i, filter)
		c, err := m.compileClause(filter.Query)
		if err != nil {
			return nil, fmt.Errorf("querylang: filter %s: %w", label, err)
		}
		p.filters = append(p.filters, compiledFilter{label: label, negate: filter.Meta.Negate, clause: c})
	}

	if req.Time != nil {
		if req.TimeField == "" {
			return nil, fmt.Errorf("querylang: time range requires a time field")
		}
		bounds, err := timefilter.CalculateBounds(*req.Time, now)
		if err != nil {
			return nil, fmt.Errorf("querylang: time range: %w", err)
		}
		p.bounds = &bounds
	}
	return p, nil
}

// Match compiles req and tests document against it.
func (m *Matcher) Match(req Request, document map[string]any) (bool, error) {
	p, err := m.Compile(req)
	if err != nil {
		return false, err
	}
	return p.Match(document)
}

// Filter returns the documents that match req, in order.
func (m *Matcher) Filter(req Request, documents []map[string]any) ([]map[string]any, error) {
	p, err := m.Compile(req)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(documents))
	for _, document := range documents {
		ok, err := p.Match(document)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, document)
		}
	}
	return out, nil
}

// Match reports whether document satisfies the time range, every filter and
// the query. Evaluation stops at the first miss.
func (p *Predicate) Match(document map[string]any) (bool, error) {
	if p.bounds != nil && !p.inRange(document) {
		return false, nil
	}
	for _, filter := range p.filters {
		ctx := MatchContext{Document: document, Now: &p.now, Source: "filter:" + filter.label}
		ok, err := filter.clause.match(ctx)
		if err != nil {
			return false, err
		}
		if ok == filter.negate {
			return false, nil
		}
	}
	if p.query == nil {
		return true, nil
	}
	result, err := p.query.Evaluate(MatchContext{Document: document, Now: &p.now, Source: p.source})
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

func (p *Predicate) inRange(document map[string]any) bool {
	value, ok := LookupField(document, p.field)
	if !ok {
		return false
	}
	return anyValue(value, func(item any) bool {
		t, ok := toTime(item, p.now, false)
		if !ok {
			return false
		}
		return !t.Before(p.bounds.Min) && !t.After(p.bounds.Max)
	})
}

func filterLabel(index int, filter querystate.Filter) string {
	switch {
	case filter.Meta.Alias != "":
		return filter.Meta.Alias
	case filter.Meta.Key != "":
		return filter.Meta.Key
	}
	return fmt.Sprintf("#%d", index)
}

// clause is one compiled filter query node.
type clause interface {
	match(ctx MatchContext) (bool, error)
}

type clauseFunc func(ctx MatchContext) (bool, error)

func (f clauseFunc) match(ctx MatchContext) (bool, error) { return f(ctx) }

func constClause(result bool) clause {
	return clauseFunc(func(MatchContext) (bool, error) { return result, nil })
}

// compileClause compiles an Elasticsearch-style query object. Several keys
// in one object must all match.
func (m *Matcher) compileClause(query map[string]any) (clause, error) {
	if len(query) == 0 {
		return constClause(true), nil
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clauses := make([]clause, 0, len(keys))
	for _, key := range keys {
		c, err := m.compileNamedClause(key, query[key])
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return allOf(clauses), nil
}

func (m *Matcher) compileNamedClause(name string, body any) (clause, error) {
	switch name {
	case "match_all":
		return constClause(true), nil
	case "match_none":
		return constClause(false), nil
	case "query":
		inner, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: query must be an object", ErrUnsupportedClause)
		}
		return m.compileClause(inner)
	case "match_phrase", "match":
		return fieldClause(name, body, "query", func(docValue, want any) bool {
			return anyValue(docValue, func(item any) bool { return phraseMatches(item, want) })
		})
	case "term":
		return fieldClause(name, body, "value", func(docValue, want any) bool {
			return anyValue(docValue, func(item any) bool { return equalValues(item, want) })
		})
	case "wildcard":
		return m.compileWildcard(body)
	case "terms":
		return compileTerms(body)
	case "exists":
		return compileExists(body)
	case "range":
		return compileRange(body)
	case "bool":
		return m.compileBool(body)
	case "query_string":
		return m.compileQueryString(body)
	case "script":
		return m.compileScript(body)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedClause, name)
}

// singleField unpacks {field: value}.
func singleField(name string, body any) (string, any, error) {
	fields, ok := body.(map[string]any)
	if !ok || len(fields) != 1 {
		return "", nil, fmt.Errorf("%w: %s expects exactly one field", ErrUnsupportedClause, name)
	}
	for field, value := range fields {
		return field, value, nil
	}
	return "", nil, nil
}

// fieldClause handles {field: value} and {field: {param: value}}.
func fieldClause(name string, body any, param string, test func(docValue, want any) bool) (clause, error) {
	field, value, err := singleField(name, body)
	if err != nil {
		return nil, err
	}
	if nested, ok := value.(map[string]any); ok {
		value, ok = nested[param]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s missing %q", ErrUnsupportedClause, name, field, param)
		}
	}
	return clauseFunc(func(ctx MatchContext) (bool, error) {
		docValue, ok := LookupField(ctx.Document, field)
		if !ok || docValue == nil {
			return false, nil
		}
		return test(docValue, value), nil
	}), nil
}

func (m *Matcher) compileWildcard(body any) (clause, error) {
	field, value, err := singleField("wildcard", body)
	if err != nil {
		return nil, err
	}
	if nested, ok := value.(map[string]any); ok {
		value = nested["value"]
	}
	pattern, err := wildcardPattern(toString(value))
	if err != nil {
		return nil, fmt.Errorf("%w: wildcard: %v", ErrUnsupportedClause, err)
	}
	return clauseFunc(func(ctx MatchContext) (bool, error) {
		docValue, ok := LookupField(ctx.Document, field)
		if !ok || docValue == nil {
			return false, nil
		}
		return anyValue(docValue, func(item any) bool { return pattern.MatchString(toString(item)) }), nil
	}), nil
}

func compileTerms(body any) (clause, error) {
	field, value, err := singleField("terms", body)
	if err != nil {
		return nil, err
	}
	wants, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("%w: terms.%s must be a list", ErrUnsupportedClause, field)
	}
	return clauseFunc(func(ctx MatchContext) (bool, error) {
		docValue, ok := LookupField(ctx.Document, field)
		if !ok || docValue == nil {
			return false, nil
		}
		return anyValue(docValue, func(item any) bool {
			for _, want := range wants {
				if equalValues(item, want) {
					return true
				}
			}
			return false
		}), nil
	}), nil
}

func compileExists(body any) (clause, error) {
	params, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: exists must be an object", ErrUnsupportedClause)
	}
	field, ok := params["field"].(string)
	if !ok || field == "" {
		return nil, fmt.Errorf("%w: exists requires a field", ErrUnsupportedClause)
	}
	return clauseFunc(func(ctx MatchContext) (bool, error) {
		return fieldExists(ctx.Document, field), nil
	}), nil
}

type rangeBound struct {
	op      string
	value   any
	roundUp bool
}

func compileRange(body any) (clause, error) {
	field, value, err := singleField("range", body)
	if err != nil {
		return nil, err
	}
	params, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: range.%s must be an object", ErrUnsupportedClause, field)
	}
	var bounds []rangeBound
	for _, op := range []string{"gt", "gte", "lt", "lte"} {
		if bound, ok := params[op]; ok && bound != nil {
			bounds = append(bounds, rangeBound{op: op, value: bound, roundUp: op == "gt" || op == "lte"})
		}
	}
	if len(bounds) == 0 {
		return nil, fmt.Errorf("%w: range.%s has no bounds", ErrUnsupportedClause, field)
	}
	return clauseFunc(func(ctx MatchContext) (bool, error) {
		docValue, ok := LookupField(ctx.Document, field)
		if !ok || docValue == nil {
			return false, nil
		}
		now := ctx.timestamp()
		return anyValue(docValue, func(item any) bool {
			for _, bound := range bounds {
				cmp, ok := compareValues(item, bound.value, now, bound.roundUp)
				if !ok {
					return false
				}
				switch bound.op {
				case "gt":
					ok = cmp > 0
				case "gte":
					ok = cmp >= 0
				case "lt":
					ok = cmp < 0
				case "lte":
					ok = cmp <= 0
				}
				if !ok {
					return false
				}
			}
			return true
		}), nil
	}), nil
}

func (m *Matcher) compileBool(body any) (clause, error) {
	params, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: bool must be an object", ErrUnsupportedClause)
	}
	compileList := func(key string) ([]clause, error) {
		raw, ok := params[key]
		if !ok || raw == nil {
			return nil, nil
		}
		items, ok := asList(raw)
		if !ok {
			items = []any{raw}
		}
		out := make([]clause, 0, len(items))
		for _, item := range items {
			query, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: bool.%s entries must be objects", ErrUnsupportedClause, key)
			}
			c, err := m.compileClause(query)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}

	must, err := compileList("must")
	if err != nil {
		return nil, err
	}
	filter, err := compileList("filter")
	if err != nil {
		return nil, err
	}
	should, err := compileList("should")
	if err != nil {
		return nil, err
	}
	mustNot, err := compileList("must_not")
	if err != nil {
		return nil, err
	}
	required := append(must, filter...)

	minimumShould := 0
	if len(should) > 0 && len(required) == 0 {
		minimumShould = 1
	}
	if raw, ok := params["minimum_should_match"]; ok {
		n, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("%w: minimum_should_match must be a number", ErrUnsupportedClause)
		}
		minimumShould = int(n)
	}

	return clauseFunc(func(ctx MatchContext) (bool, error) {
		for _, c := range required {
			ok, err := c.match(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		for _, c := range mustNot {
			ok, err := c.match(ctx)
			if err != nil || ok {
				return false, err
			}
		}
		if minimumShould == 0 {
			return true, nil
		}
		matched := 0
		for _, c := range should {
			ok, err := c.match(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				matched++
				if matched >= minimumShould {
					return true, nil
				}
			}
		}
		return false, nil
	}), nil
}

func (m *Matcher) compileQueryString(body any) (clause, error) {
	params, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: query_string must be an object", ErrUnsupportedClause)
	}
	text, _ := params["query"].(string)
	rule, err := m.registry.Compile(LanguageKuery, text)
	if err != nil {
		return nil, err
	}
	return ruleClause(rule, nil), nil
}

// compileScript handles {"script": {"source": "...", "lang": "...", "params": {...}}}
// and the Elasticsearch form that nests it once more under "script".
func (m *Matcher) compileScript(body any) (clause, error) {
	params, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: script must be an object", ErrUnsupportedClause)
	}
	if nested, ok := params["script"].(map[string]any); ok {
		params = nested
	}
	source, _ := params["source"].(string)
	if source == "" {
		source, _ = params["inline"].(string)
	}
	if source == "" {
		return nil, fmt.Errorf("%w: script requires a source", ErrUnsupportedClause)
	}
	language, _ := params["lang"].(string)
	if language == "" {
		language = m.scriptLanguage
	}
	args, _ := params["params"].(map[string]any)
	rule, err := m.registry.Compile(language, source)
	if err != nil {
		return nil, err
	}
	return ruleClause(rule, args), nil
}

func ruleClause(rule CompiledRule, args map[string]any) clause {
	return clauseFunc(func(ctx MatchContext) (bool, error) {
		if args != nil {
			ctx.Args = args
		}
		result, err := rule.Evaluate(ctx)
		if err != nil {
			return false, err
		}
		return Truthy(result), nil
	})
}

func allOf(clauses []clause) clause {
	return clauseFunc(func(ctx MatchContext) (bool, error) {
		for _, c := range clauses {
			ok, err := c.match(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}
