package querystate

import (
	"reflect"

	"github.com/goliatone/go-query-state/layering"
)

// CompareOptions selects which filter attributes take part in a comparison on
// top of the filter query itself.
type CompareOptions struct {
	Index    bool
	Disabled bool
	Negate   bool
	State    bool
	Alias    bool
}

// CompareAllOptions compares every attribute, including the scope tag.
var CompareAllOptions = CompareOptions{
	Index:    true,
	Disabled: true,
	Negate:   true,
	State:    true,
	Alias:    true,
}

// WithoutState returns a copy of o that ignores the scope tag. It is the mode
// used when comparing a single partition against a scope-less list.
func (o CompareOptions) WithoutState() CompareOptions {
	o.State = false
	return o
}

type comparableFilter struct {
	Query    map[string]any
	Store    FilterStore
	Index    string
	Alias    string
	Disabled bool
	Negate   bool
}

func normalizeFilter(filter Filter, opts CompareOptions) comparableFilter {
	out := comparableFilter{}
	if len(filter.Query) > 0 {
		out.Query = filter.Query
	}
	if opts.State {
		out.Store = filter.Store()
	}
	if opts.Index {
		out.Index = filter.Meta.Index
	}
	if opts.Alias {
		out.Alias = filter.Meta.Alias
	}
	if opts.Disabled {
		out.Disabled = filter.Meta.Disabled
	}
	if opts.Negate {
		out.Negate = filter.Meta.Negate
	}
	return out
}

// CompareFilter reports whether two filters are equal under opts.
func CompareFilter(first, second Filter, opts CompareOptions) bool {
	return reflect.DeepEqual(normalizeFilter(first, opts), normalizeFilter(second, opts))
}

// CompareFilters reports whether two filter lists are equal under opts. A nil
// list stands for an absent key and never equals anything. Order matters.
func CompareFilters(first, second []Filter, opts CompareOptions) bool {
	if first == nil || second == nil {
		return false
	}
	if len(first) != len(second) {
		return false
	}
	for i := range first {
		if !CompareFilter(first[i], second[i], opts) {
			return false
		}
	}
	return true
}

// UniqFilters drops filters that equal an earlier entry under opts.
func UniqFilters(filters []Filter, opts CompareOptions) []Filter {
	out := make([]Filter, 0, len(filters))
	for _, candidate := range filters {
		if containsFilter(out, candidate, opts) {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

func containsFilter(filters []Filter, candidate Filter, opts CompareOptions) bool {
	for _, existing := range filters {
		if CompareFilter(existing, candidate, opts) {
			return true
		}
	}
	return false
}

// IsFilterPinned reports whether the filter lives in the global partition.
func IsFilterPinned(filter Filter) bool {
	return filter.Store() == FilterStoreGlobal
}

// WithFilterStore tags every filter in filters with store, in place.
func WithFilterStore(filters []Filter, store FilterStore) []Filter {
	for i := range filters {
		filters[i].State = &FilterState{Store: store}
	}
	return filters
}

// CloneFilters returns a deep copy of filters, keeping nil as nil.
func CloneFilters(filters []Filter) []Filter {
	return layering.Clone(filters)
}

// CloneState returns a deep copy of state.
func CloneState(state SharedState) SharedState {
	return layering.Clone(state)
}
