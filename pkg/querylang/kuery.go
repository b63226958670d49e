package querylang

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const engineKuery = "kuery"

// ErrSyntax is returned for malformed kuery expressions.
var ErrSyntax = errors.New("querylang: syntax error")

// KueryEvaluatorOption configures the kuery evaluator.
type KueryEvaluatorOption func(*kueryEvaluator)

// KueryWithProgramCache caches parsed kuery expressions.
func KueryWithProgramCache(cache ProgramCache) KueryEvaluatorOption {
	return func(e *kueryEvaluator) {
		e.cache = cache
	}
}

type kueryEvaluator struct {
	cache ProgramCache
}

// NewKueryEvaluator returns an evaluator for the Kibana query language subset:
// field:value, quoted phrases, * wildcards, field:* existence, range operators
// (< <= > >=), value lists field:(a or b), free text, and/or/not with
// parentheses. Adjacent clauses without an operator are or-ed. An empty
// expression matches every document. Results are always booleans.
func NewKueryEvaluator(opts ...KueryEvaluatorOption) Evaluator {
	e := &kueryEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *kueryEvaluator) Engine() string { return engineKuery }

func (e *kueryEvaluator) Evaluate(ctx MatchContext, expression string) (any, error) {
	node, err := e.loadOrParse(expression)
	if err != nil {
		return nil, err
	}
	ctx = ctx.withDefaults()
	return node.match(ctx.Document, ctx.timestamp()), nil
}

func (e *kueryEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	node, err := e.loadOrParse(expression)
	if err != nil {
		return nil, err
	}
	return kueryRule{node: node}, nil
}

func (e *kueryEvaluator) loadOrParse(expression string) (kueryNode, error) {
	key := cacheKey(engineKuery, expression)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if node, ok := cached.(kueryNode); ok {
				return node, nil
			}
		}
	}
	node, err := parseKuery(expression)
	if err != nil {
		return nil, wrapEvaluationError(engineKuery, expression, "", err)
	}
	if e.cache != nil {
		e.cache.Set(key, node)
	}
	return node, nil
}

type kueryRule struct {
	node kueryNode
}

func (r kueryRule) Evaluate(ctx MatchContext) (any, error) {
	ctx = ctx.withDefaults()
	return r.node.match(ctx.Document, ctx.timestamp()), nil
}

type kueryNode interface {
	match(document map[string]any, now time.Time) bool
}

type matchAllNode struct{}

func (matchAllNode) match(map[string]any, time.Time) bool { return true }

type andNode struct{ left, right kueryNode }

func (n andNode) match(document map[string]any, now time.Time) bool {
	return n.left.match(document, now) && n.right.match(document, now)
}

type orNode struct{ left, right kueryNode }

func (n orNode) match(document map[string]any, now time.Time) bool {
	return n.left.match(document, now) || n.right.match(document, now)
}

type notNode struct{ inner kueryNode }

func (n notNode) match(document map[string]any, now time.Time) bool {
	return !n.inner.match(document, now)
}

type existsNode struct{ field string }

func (n existsNode) match(document map[string]any, _ time.Time) bool {
	return fieldExists(document, n.field)
}

type fieldNode struct {
	field string
	value valueNode
}

func (n fieldNode) match(document map[string]any, _ time.Time) bool {
	value, ok := LookupField(document, n.field)
	if !ok || value == nil {
		return false
	}
	return n.value.matches(value)
}

type rangeNode struct {
	field string
	op    string
	bound string
}

func (n rangeNode) match(document map[string]any, now time.Time) bool {
	value, ok := LookupField(document, n.field)
	if !ok || value == nil {
		return false
	}
	roundUp := n.op == "<=" || n.op == ">"
	return anyValue(value, func(item any) bool {
		cmp, ok := compareValues(item, n.bound, now, roundUp)
		if !ok {
			return false
		}
		switch n.op {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		default:
			return cmp >= 0
		}
	})
}

type freeTextNode struct{ term termValue }

func (n freeTextNode) match(document map[string]any, _ time.Time) bool {
	return anyLeaf(document, n.term.matchScalar)
}

func anyLeaf(value any, match func(any) bool) bool {
	switch v := value.(type) {
	case map[string]any:
		for _, item := range v {
			if anyLeaf(item, match) {
				return true
			}
		}
		return false
	case nil:
		return false
	}
	if values, ok := asList(value); ok {
		for _, item := range values {
			if anyLeaf(item, match) {
				return true
			}
		}
		return false
	}
	return match(value)
}

type valueNode interface {
	matches(docValue any) bool
}

type valueAnd struct{ left, right valueNode }

func (v valueAnd) matches(docValue any) bool { return v.left.matches(docValue) && v.right.matches(docValue) }

type valueOr struct{ left, right valueNode }

func (v valueOr) matches(docValue any) bool { return v.left.matches(docValue) || v.right.matches(docValue) }

type valueNot struct{ inner valueNode }

func (v valueNot) matches(docValue any) bool { return !v.inner.matches(docValue) }

type termValue struct {
	text    string
	quoted  bool
	pattern *regexp.Regexp
}

func (t termValue) matches(docValue any) bool {
	return anyValue(docValue, t.matchScalar)
}

func (t termValue) matchScalar(value any) bool {
	switch {
	case t.quoted:
		return phraseMatches(value, t.text)
	case t.pattern != nil:
		return t.pattern.MatchString(toString(value))
	}
	if s, ok := value.(string); ok {
		return strings.EqualFold(s, t.text)
	}
	return equalValues(value, t.text)
}

func newTermValue(tok kueryToken) (termValue, error) {
	term := termValue{text: tok.text, quoted: tok.kind == tokenQuoted}
	if !term.quoted && strings.Contains(tok.text, "*") {
		pattern, err := wildcardPattern(tok.text)
		if err != nil {
			return termValue{}, err
		}
		term.pattern = pattern
	}
	return term, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenWord
	tokenQuoted
	tokenLParen
	tokenRParen
	tokenColon
	tokenRange
	tokenAnd
	tokenOr
	tokenNot
)

type kueryToken struct {
	kind tokenKind
	text string
	pos  int
}

func lexKuery(input string) ([]kueryToken, error) {
	var tokens []kueryToken
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, kueryToken{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, kueryToken{kind: tokenRParen, text: ")", pos: i})
			i++
		case r == ':':
			tokens = append(tokens, kueryToken{kind: tokenColon, text: ":", pos: i})
			i++
		case r == '<' || r == '>':
			op := string(r)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
			}
			tokens = append(tokens, kueryToken{kind: tokenRange, text: op, pos: i})
			i += len(op)
		case r == '"':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == '"' {
					closed = true
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, start)
			}
			tokens = append(tokens, kueryToken{kind: tokenQuoted, text: b.String(), pos: start})
		default:
			start := i
			var b strings.Builder
			for i < len(runes) && !isKueryDelimiter(runes[i]) {
				if runes[i] == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				b.WriteRune(runes[i])
				i++
			}
			word := b.String()
			kind := tokenWord
			switch strings.ToLower(word) {
			case "and":
				kind = tokenAnd
			case "or":
				kind = tokenOr
			case "not":
				kind = tokenNot
			}
			tokens = append(tokens, kueryToken{kind: kind, text: word, pos: start})
		}
	}
	return append(tokens, kueryToken{kind: tokenEOF, pos: len(runes)}), nil
}

func isKueryDelimiter(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(`():<>"`, r)
}

type kueryParser struct {
	tokens []kueryToken
	pos    int
}

func parseKuery(input string) (kueryNode, error) {
	tokens, err := lexKuery(input)
	if err != nil {
		return nil, err
	}
	p := &kueryParser{tokens: tokens}
	if p.peek().kind == tokenEOF {
		return matchAllNode{}, nil
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, p.unexpected(tok)
	}
	return node, nil
}

func (p *kueryParser) peek() kueryToken {
	return p.tokens[p.pos]
}

func (p *kueryParser) next() kueryToken {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *kueryParser) unexpected(tok kueryToken) error {
	if tok.kind == tokenEOF {
		return fmt.Errorf("%w: unexpected end of query", ErrSyntax)
	}
	return fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, tok.text, tok.pos)
}

func startsClause(kind tokenKind) bool {
	switch kind {
	case tokenWord, tokenQuoted, tokenLParen, tokenNot:
		return true
	}
	return false
}

func (p *kueryParser) parseOr() (kueryNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.peek().kind == tokenOr:
			p.next()
		case startsClause(p.peek().kind):
		default:
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
}

func (p *kueryParser) parseAnd() (kueryNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *kueryParser) parseNot() (kueryNode, error) {
	if p.peek().kind == tokenNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *kueryParser) parsePrimary() (kueryNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokenLParen:
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, p.unexpected(closing)
		}
		return node, nil
	case tokenQuoted:
		term, _ := newTermValue(tok)
		return freeTextNode{term: term}, nil
	case tokenWord:
		switch p.peek().kind {
		case tokenColon:
			p.next()
			return p.parseFieldValue(tok.text)
		case tokenRange:
			op := p.next()
			bound := p.next()
			if bound.kind != tokenWord && bound.kind != tokenQuoted {
				return nil, p.unexpected(bound)
			}
			return rangeNode{field: tok.text, op: op.text, bound: bound.text}, nil
		}
		term, err := newTermValue(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return freeTextNode{term: term}, nil
	}
	return nil, p.unexpected(tok)
}

func (p *kueryParser) parseFieldValue(field string) (kueryNode, error) {
	if tok := p.peek(); tok.kind == tokenWord && tok.text == "*" {
		p.next()
		return existsNode{field: field}, nil
	}
	value, err := p.parseValueOperand()
	if err != nil {
		return nil, err
	}
	return fieldNode{field: field, value: value}, nil
}

func (p *kueryParser) parseValueOr() (valueNode, error) {
	left, err := p.parseValueAnd()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.peek().kind == tokenOr:
			p.next()
		case startsClause(p.peek().kind):
		default:
			return left, nil
		}
		right, err := p.parseValueAnd()
		if err != nil {
			return nil, err
		}
		left = valueOr{left: left, right: right}
	}
}

func (p *kueryParser) parseValueAnd() (valueNode, error) {
	left, err := p.parseValueNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseValueNot()
		if err != nil {
			return nil, err
		}
		left = valueAnd{left: left, right: right}
	}
	return left, nil
}

func (p *kueryParser) parseValueNot() (valueNode, error) {
	if p.peek().kind == tokenNot {
		p.next()
		inner, err := p.parseValueNot()
		if err != nil {
			return nil, err
		}
		return valueNot{inner: inner}, nil
	}
	return p.parseValueOperand()
}

func (p *kueryParser) parseValueOperand() (valueNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokenLParen:
		value, err := p.parseValueOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, p.unexpected(closing)
		}
		return value, nil
	case tokenWord, tokenQuoted:
		term, err := newTermValue(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return term, nil
	}
	return nil, p.unexpected(tok)
}
