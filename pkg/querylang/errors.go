package querylang

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
)

const unknownSource = "unknown"

// EvaluationError reports a failed compile or evaluation with the engine, the
// expression and the source (the query or a filter label) involved.
type EvaluationError struct {
	Engine string
	Expr   string
	Source string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "querylang: %s evaluator", e.Engine)
	if e.Expr == "" {
		b.WriteString(" expr=<empty>")
	} else {
		fmt.Fprintf(&b, " expr=%q", e.Expr)
	}
	fmt.Fprintf(&b, " source=%s: %v", cmp.Or(e.Source, unknownSource), e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapEvaluatorError prefixes err with the engine unless it already carries
// package context.
func wrapEvaluatorError(engine string, err error) error {
	var evalErr *EvaluationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &evalErr), strings.HasPrefix(err.Error(), "querylang:"):
		return err
	}
	return fmt.Errorf("querylang: %s evaluator: %w", engine, err)
}

// wrapEvaluationError returns err as an EvaluationError. An EvaluationError
// already in the chain is copied with its empty fields filled in; the
// original is left untouched.
func wrapEvaluationError(engine, expr, source string, err error) error {
	if err == nil {
		return nil
	}
	var existing *EvaluationError
	if !errors.As(err, &existing) {
		return &EvaluationError{Engine: engine, Expr: expr, Source: source, Err: err}
	}

	out := *existing
	out.Engine = cmp.Or(out.Engine, engine)
	out.Expr = cmp.Or(out.Expr, expr)
	if out.Source == "" || out.Source == unknownSource {
		out.Source = source
	}
	return &out
}
