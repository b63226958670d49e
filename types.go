package querystate

// TimeRange is a time window expressed as date-math bounds ("now-15m", ISO
// timestamps, ...).
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
	Mode string `json:"mode,omitempty"`
}

// RefreshInterval controls auto-refresh. Value is in milliseconds.
type RefreshInterval struct {
	Pause bool  `json:"pause"`
	Value int64 `json:"value"`
}

// Query is the free-text query and the language it is written in.
type Query struct {
	Query    string `json:"query"`
	Language string `json:"language"`
}

// FilterStore is the partition a filter belongs to.
type FilterStore string

const (
	// FilterStoreApp scopes a filter to the current application.
	FilterStoreApp FilterStore = "appState"
	// FilterStoreGlobal pins a filter across applications.
	FilterStoreGlobal FilterStore = "globalState"
)

// FilterMeta carries the descriptive part of a filter. Only Index, Negate,
// Disabled and Alias take part in comparisons.
type FilterMeta struct {
	Alias    string `json:"alias,omitempty"`
	Disabled bool   `json:"disabled"`
	Negate   bool   `json:"negate"`
	Index    string `json:"index,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	Type     string `json:"type,omitempty"`
	Params   any    `json:"params,omitempty"`
}

// FilterState holds the scope tag of a filter.
type FilterState struct {
	Store FilterStore `json:"store"`
}

// Filter is a structured filter tagged with the partition it lives in.
type Filter struct {
	Meta  FilterMeta     `json:"meta"`
	Query map[string]any `json:"query,omitempty"`
	State *FilterState   `json:"$state,omitempty"`
}

// Store returns the partition the filter is tagged with, or "" when untagged.
func (f Filter) Store() FilterStore {
	if f.State == nil {
		return ""
	}
	return f.State.Store
}

// SharedState is the externally visible query state. Every key is optional:
// nil pointers and a nil Filters slice mean the key is absent. A non-nil empty
// Filters slice is a present, empty list.
type SharedState struct {
	Time            *TimeRange       `json:"time,omitempty"`
	RefreshInterval *RefreshInterval `json:"refreshInterval,omitempty"`
	Query           *Query           `json:"query,omitempty"`
	Filters         []Filter         `json:"filters,omitempty"`
}

// StatePatch is a partial SharedState update. Keys left nil are untouched when
// the patch is applied.
type StatePatch struct {
	Time            *TimeRange
	RefreshInterval *RefreshInterval
	Query           *Query
	Filters         []Filter
}

// Empty reports whether the patch carries no keys.
func (p StatePatch) Empty() bool {
	return p.Time == nil && p.RefreshInterval == nil && p.Query == nil && p.Filters == nil
}

// Keys lists the keys carried by the patch.
func (p StatePatch) Keys() []string {
	var keys []string
	if p.Time != nil {
		keys = append(keys, KeyTime)
	}
	if p.RefreshInterval != nil {
		keys = append(keys, KeyRefreshInterval)
	}
	if p.Query != nil {
		keys = append(keys, KeyQuery)
	}
	if p.Filters != nil {
		keys = append(keys, KeyFilters)
	}
	return keys
}

// Apply shallow-merges the patch over base and returns the result. base is
// not modified.
func (p StatePatch) Apply(base SharedState) SharedState {
	out := base
	if p.Time != nil {
		out.Time = p.Time
	}
	if p.RefreshInterval != nil {
		out.RefreshInterval = p.RefreshInterval
	}
	if p.Query != nil {
		out.Query = p.Query
	}
	if p.Filters != nil {
		out.Filters = p.Filters
	}
	return out
}

// Shared state keys.
const (
	KeyTime            = "time"
	KeyRefreshInterval = "refreshInterval"
	KeyQuery           = "query"
	KeyFilters         = "filters"
	KeyAppFilters      = "appFilters"
	KeyGlobalFilters   = "globalFilters"
)

// ChangeSet flags which keys changed in a StateChange. AppFilters and
// GlobalFilters are the per-partition variants of Filters.
type ChangeSet struct {
	Time            bool `json:"time,omitempty"`
	RefreshInterval bool `json:"refreshInterval,omitempty"`
	Query           bool `json:"query,omitempty"`
	Filters         bool `json:"filters,omitempty"`
	AppFilters      bool `json:"appFilters,omitempty"`
	GlobalFilters   bool `json:"globalFilters,omitempty"`
}

// Any reports whether any flag is set.
func (c ChangeSet) Any() bool {
	return c.Time || c.RefreshInterval || c.Query || c.Filters || c.AppFilters || c.GlobalFilters
}

// StateChange is one notification of the domain-service aggregate.
type StateChange struct {
	State   SharedState
	Changes ChangeSet
}
