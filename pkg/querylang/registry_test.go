package querylang

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/querystring"
)

var _ querystring.Validator = (*Registry)(nil)

func TestDefaultRegistryLanguages(t *testing.T) {
	registry := DefaultRegistry()
	want := []string{"cel", "expr", "kuery"}
	if JSAvailable() {
		want = []string{"cel", "expr", "js", "kuery"}
	}
	got := registry.Languages()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if _, err := registry.Lookup(" KUERY "); err != nil {
		t.Fatalf("expected case-insensitive lookup, got %v", err)
	}
	if _, err := registry.Lookup("lucene"); !errors.Is(err, ErrUnknownLanguage) {
		t.Fatalf("expected ErrUnknownLanguage, got %v", err)
	}
}

func TestRegistryValidate(t *testing.T) {
	registry := DefaultRegistry()
	cases := []struct {
		query   querystate.Query
		wantErr bool
	}{
		{query: querystate.Query{Query: "", Language: "lucene"}},
		{query: querystate.Query{Query: "response:200", Language: "kuery"}},
		{query: querystate.Query{Query: "response:", Language: "kuery"}, wantErr: true},
		{query: querystate.Query{Query: "status == 200", Language: "expr"}},
		{query: querystate.Query{Query: "status ==", Language: "expr"}, wantErr: true},
		{query: querystate.Query{Query: "status == 200", Language: "cel"}},
		{query: querystate.Query{Query: "response:200", Language: "lucene"}, wantErr: true},
	}
	for _, tc := range cases {
		err := registry.Validate(tc.query)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%+v: expected error=%v, got %v", tc.query, tc.wantErr, err)
		}
	}
}

func TestRegistryEvaluateLogs(t *testing.T) {
	var events []EvaluatorLogEvent
	registry := DefaultRegistry(WithEvaluatorLogger(EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		events = append(events, event)
	})))

	got, err := registry.Evaluate("expr", MatchContext{Document: map[string]any{"a": 1}, Source: "query"}, "a == 1")
	if err != nil || !Truthy(got) {
		t.Fatalf("expected match, got %v / %v", got, err)
	}
	if _, err := registry.Evaluate("expr", MatchContext{}, "a =="); err == nil {
		t.Fatalf("expected compile error")
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 log events, got %d", len(events))
	}
	if events[0].Engine != "expr" || events[0].Language != "expr" || events[0].Source != "query" || events[0].Err != nil {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Err == nil || events[1].Source != "unknown" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestRegistryRegisterCustomEvaluator(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("", NewExprEvaluator()); err == nil {
		t.Fatalf("expected empty name to fail")
	}
	if err := registry.Register("rules", nil); err == nil {
		t.Fatalf("expected nil evaluator to fail")
	}
	if err := registry.Register("Rules", NewExprEvaluator()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := registry.Compile("rules", "1 + 1 == 2"); err != nil {
		t.Fatalf("compile: %v", err)
	}
}

func TestQueryStringManagerUsesRegistry(t *testing.T) {
	manager := querystring.NewManager(querystring.WithValidator(DefaultRegistry()))
	if err := manager.SetQuery(querystate.Query{Query: "response:200", Language: "kuery"}); err != nil {
		t.Fatalf("set valid query: %v", err)
	}
	if err := manager.SetQuery(querystate.Query{Query: "response:(", Language: "kuery"}); err == nil {
		t.Fatalf("expected invalid query to be rejected")
	}
	if got := manager.GetQuery(); got.Query != "response:200" {
		t.Fatalf("expected previous query kept, got %+v", got)
	}
}

func TestSlogEvaluatorLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogEvaluatorLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	logger.LogEvaluation(EvaluatorLogEvent{Engine: "cel", Language: "cel", Expr: "a", Source: "query"})
	logger.LogEvaluation(EvaluatorLogEvent{Engine: "cel", Expr: "b", Err: errors.New("boom")})

	out := buf.String()
	if !strings.Contains(out, `msg="querylang evaluation"`) || !strings.Contains(out, "engine=cel") {
		t.Fatalf("missing debug line: %s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "error=boom") {
		t.Fatalf("missing warn line: %s", out)
	}
}
