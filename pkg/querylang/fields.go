package querylang

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-query-state/pkg/datemath"
)

// LookupField resolves a field in document. A literal key wins over a dotted
// path through nested maps.
func LookupField(document map[string]any, field string) (any, bool) {
	if document == nil || field == "" {
		return nil, false
	}
	if value, ok := document[field]; ok {
		return value, true
	}
	current := any(document)
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// fieldExists follows Elasticsearch: null and empty lists do not exist.
func fieldExists(document map[string]any, field string) bool {
	value, ok := LookupField(document, field)
	if !ok || value == nil {
		return false
	}
	if values, ok := asList(value); ok {
		return len(values) > 0
	}
	return true
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	}
	return nil, false
}

// anyValue applies match to value, or to each element when value is a list.
func anyValue(value any, match func(any) bool) bool {
	if values, ok := asList(value); ok {
		for _, item := range values {
			if match(item) {
				return true
			}
		}
		return false
	}
	return match(value)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case time.Time:
		return v.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(value)
}

// equalValues compares scalars exactly, with numbers compared numerically.
func equalValues(docValue, want any) bool {
	if docValue == nil || want == nil {
		return docValue == nil && want == nil
	}
	if a, ok := toFloat(docValue); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
	}
	if a, ok := docValue.(bool); ok {
		switch b := want.(type) {
		case bool:
			return a == b
		case string:
			return strconv.FormatBool(a) == strings.ToLower(b)
		}
		return false
	}
	return toString(docValue) == toString(want)
}

// phraseMatches reports whether a string value contains phrase, ignoring
// case. Non-string values fall back to equalValues.
func phraseMatches(docValue any, phrase any) bool {
	text, ok := docValue.(string)
	if !ok {
		return equalValues(docValue, phrase)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(toString(phrase)))
}

// compareValues orders a document value against a bound. Numbers compare
// numerically; otherwise both sides are read as date math, anchored at now.
func compareValues(docValue, bound any, now time.Time, roundUp bool) (int, bool) {
	if a, ok := toFloat(docValue); ok {
		if b, ok := toFloat(bound); ok {
			return compareFloat(a, b), true
		}
	}
	a, ok := toTime(docValue, now, false)
	if !ok {
		return strings.Compare(toString(docValue), toString(bound)), docIsString(docValue) && docIsString(bound)
	}
	b, ok := toTime(bound, now, roundUp)
	if !ok {
		return 0, false
	}
	return a.Compare(b), true
}

func docIsString(value any) bool {
	_, ok := value.(string)
	return ok
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toTime(value any, now time.Time, roundUp bool) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		opts := []datemath.Option{datemath.WithNow(now)}
		if roundUp {
			opts = append(opts, datemath.WithRoundUp())
		}
		t, err := datemath.Parse(v, opts...)
		return t, err == nil
	}
	return time.Time{}, false
}

// wildcardPattern compiles a KQL/Lucene style pattern where * matches any run
// of characters. Matching ignores case.
func wildcardPattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.Compile("(?is)^" + strings.Join(parts, ".*") + "$")
}
