package querylang

import (
	"errors"
	"testing"
	"time"
)

func TestKueryMatches(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	document := map[string]any{
		"response":   200,
		"extension":  "php",
		"message":    "Connection refused by upstream",
		"tags":       []any{"prod", "eu-west"},
		"@timestamp": "2024-06-01T11:30:00Z",
		"host": map[string]any{
			"name": "web-01",
		},
		"owner": nil,
	}

	cases := []struct {
		query string
		want  bool
	}{
		{query: "", want: true},
		{query: "response:200", want: true},
		{query: "response:404", want: false},
		{query: "extension:PHP", want: true},
		{query: "response:200 and extension:php", want: true},
		{query: "response:200 and extension:css", want: false},
		{query: "response:404 or extension:php", want: true},
		{query: "response:404 extension:php", want: true},
		{query: "not response:404", want: true},
		{query: "not (response:200 or extension:css)", want: false},
		{query: `message:"connection refused"`, want: true},
		{query: `message:"refused connection"`, want: false},
		{query: "host.name:web-*", want: true},
		{query: "host.name:db-*", want: false},
		{query: "tags:eu-west", want: true},
		{query: "tags:(us-east or eu-west)", want: true},
		{query: "tags:(prod and not staging)", want: true},
		{query: "host.name:*", want: true},
		{query: "owner:*", want: false},
		{query: "missing:*", want: false},
		{query: "response >= 200 and response < 300", want: true},
		{query: "response > 200", want: false},
		{query: "@timestamp >= now-1h", want: true},
		{query: "@timestamp < now-1h", want: false},
		{query: `"upstream"`, want: true},
		{query: "refused", want: false},
		{query: "*refused*", want: true},
		{query: `message:Connection\ refused\ by\ upstream`, want: true},
	}

	evaluator := NewKueryEvaluator()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.query, func(t *testing.T) {
			got, err := evaluator.Evaluate(MatchContext{Document: document, Now: &now}, tc.query)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestKuerySyntaxErrors(t *testing.T) {
	evaluator := NewKueryEvaluator()
	for _, query := range []string{
		"response:",
		"(response:200",
		`message:"unterminated`,
		"response:200 and",
		"response >",
		")",
	} {
		_, err := evaluator.Compile(query)
		if !errors.Is(err, ErrSyntax) {
			t.Fatalf("%q: expected ErrSyntax, got %v", query, err)
		}
		var evalErr *EvaluationError
		if !errors.As(err, &evalErr) || evalErr.Engine != "kuery" {
			t.Fatalf("%q: expected kuery EvaluationError, got %v", query, err)
		}
	}
}

func TestKueryCachesParsedQueries(t *testing.T) {
	cache := &fakeProgramCache{}
	evaluator := NewKueryEvaluator(KueryWithProgramCache(cache))
	for i := 0; i < 2; i++ {
		if _, err := evaluator.Compile("response:200"); err != nil {
			t.Fatalf("compile: %v", err)
		}
	}
	if cache.misses != 1 || cache.hits != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got %d misses %d hits", cache.misses, cache.hits)
	}
}
