// Package query combines the time, filter and query services into a single
// change stream and connects bridges to it.
package query

import (
	"sync"
	"sync/atomic"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/filters"
	"github.com/goliatone/go-query-state/pkg/observable"
	"github.com/goliatone/go-query-state/pkg/querystring"
	"github.com/goliatone/go-query-state/pkg/timefilter"
)

// Service aggregates the three query services. Every service update becomes
// one StateChange carrying the full snapshot and the keys that changed.
type Service struct {
	Timefilter  *timefilter.Timefilter
	Filters     *filters.Manager
	QueryString *querystring.Manager

	mu      sync.Mutex
	state   querystate.SharedState
	changes observable.Subject[querystate.StateChange]
	subs    []*observable.Subscription
	closed  atomic.Bool
}

var _ querystate.ChangeStream = (*Service)(nil)

// New wires the aggregate over the given services. Nil services are replaced
// by fresh defaults.
func New(tf *timefilter.Timefilter, fm *filters.Manager, qs *querystring.Manager) *Service {
	if tf == nil {
		tf = timefilter.New(timefilter.DefaultConfig())
	}
	if fm == nil {
		fm = filters.NewManager()
	}
	if qs == nil {
		qs = querystring.NewManager()
	}

	s := &Service{Timefilter: tf, Filters: fm, QueryString: qs}
	s.state = s.snapshot()
	s.subs = []*observable.Subscription{
		qs.Subscribe(func(querystate.Query) error {
			return s.apply(querystate.ChangeSet{Query: true}, func(state *querystate.SharedState) {
				query := qs.GetQuery()
				state.Query = &query
			})
		}),
		tf.SubscribeTime(func(querystate.TimeRange) error {
			return s.apply(querystate.ChangeSet{Time: true}, func(state *querystate.SharedState) {
				tr := tf.GetTime()
				state.Time = &tr
			})
		}),
		tf.SubscribeRefreshInterval(func(querystate.RefreshInterval) error {
			return s.apply(querystate.ChangeSet{RefreshInterval: true}, func(state *querystate.SharedState) {
				interval := tf.GetRefreshInterval()
				state.RefreshInterval = &interval
			})
		}),
		fm.Subscribe(func(filters.Update) error {
			return s.applyFilters()
		}),
	}
	return s
}

func (s *Service) snapshot() querystate.SharedState {
	tr := s.Timefilter.GetTime()
	interval := s.Timefilter.GetRefreshInterval()
	query := s.QueryString.GetQuery()
	return querystate.SharedState{
		Time:            &tr,
		RefreshInterval: &interval,
		Query:           &query,
		Filters:         s.Filters.GetFilters(),
	}
}

func (s *Service) apply(changes querystate.ChangeSet, mutate func(*querystate.SharedState)) error {
	if s.closed.Load() {
		return nil
	}
	s.mu.Lock()
	mutate(&s.state)
	change := querystate.StateChange{State: querystate.CloneState(s.state), Changes: changes}
	s.mu.Unlock()
	return s.changes.Emit(change)
}

// applyFilters flags the partitions that differ from the last snapshot.
func (s *Service) applyFilters() error {
	globalNew := s.Filters.GetGlobalFilters()
	appNew := s.Filters.GetAppFilters()
	all := s.Filters.GetFilters()

	s.mu.Lock()
	old := s.state.Filters
	s.mu.Unlock()

	changes := querystate.ChangeSet{Filters: true}
	if old == nil {
		changes.GlobalFilters, changes.AppFilters = true, true
	} else {
		globalOld, appOld := splitPinned(old)
		changes.GlobalFilters = !querystate.CompareFilters(globalOld, globalNew, querystate.CompareAllOptions)
		changes.AppFilters = !querystate.CompareFilters(appOld, appNew, querystate.CompareAllOptions)
	}

	return s.apply(changes, func(state *querystate.SharedState) {
		state.Filters = all
	})
}

func splitPinned(filters []querystate.Filter) (global, app []querystate.Filter) {
	global, app = []querystate.Filter{}, []querystate.Filter{}
	for _, filter := range filters {
		if querystate.IsFilterPinned(filter) {
			global = append(global, filter)
			continue
		}
		app = append(app, filter)
	}
	return global, app
}

// State returns the last aggregated snapshot.
func (s *Service) State() querystate.SharedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return querystate.CloneState(s.state)
}

// Subscribe registers listener on the aggregated change stream.
func (s *Service) Subscribe(listener observable.Listener[querystate.StateChange]) *observable.Subscription {
	return s.changes.Subscribe(listener)
}

// Services returns the bundle a bridge syncs with.
func (s *Service) Services() querystate.Services {
	return querystate.Services{
		Time:    s.Timefilter,
		Filters: s.Filters,
		Query:   s.QueryString,
		Changes: s,
	}
}

// Connect connects container to the services of s.
func (s *Service) Connect(container querystate.StateContainer, cfg querystate.SyncConfig, opts ...querystate.Option) (*querystate.Bridge, error) {
	return querystate.Connect(s.Services(), container, cfg, opts...)
}

// Close detaches the aggregate from the services. Bridges already connected
// stop receiving service changes.
func (s *Service) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
}
