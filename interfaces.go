package querystate

import "github.com/goliatone/go-query-state/pkg/observable"

// TimeService owns the time range and the refresh interval. Setters may
// notify listeners synchronously and return their errors.
type TimeService interface {
	GetTime() TimeRange
	SetTime(TimeRange) error
	GetTimeDefaults() TimeRange
	GetRefreshInterval() RefreshInterval
	SetRefreshInterval(RefreshInterval) error
	GetRefreshIntervalDefaults() RefreshInterval
}

// FilterService owns the app and global filter partitions. Getters must
// return non-nil slices. Setters may mutate the filters they receive.
type FilterService interface {
	GetFilters() []Filter
	GetAppFilters() []Filter
	GetGlobalFilters() []Filter
	SetFilters([]Filter) error
	SetAppFilters([]Filter) error
	SetGlobalFilters([]Filter) error
}

// QueryService owns the free-text query.
type QueryService interface {
	GetQuery() Query
	SetQuery(Query) error
}

// ChangeStream is the aggregated change notification stream of the domain
// services.
type ChangeStream interface {
	Subscribe(observable.Listener[StateChange]) *observable.Subscription
}

// StateContainer is the shared, observable state store. Values passed to
// listeners must be treated as read-only.
type StateContainer interface {
	Get() SharedState
	Set(SharedState) error
	Subscribe(observable.Listener[SharedState]) *observable.Subscription
}

// Services bundles the collaborators a bridge syncs with.
type Services struct {
	Time    TimeService
	Filters FilterService
	Query   QueryService
	Changes ChangeStream
}
