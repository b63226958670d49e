// Package filters holds the app and global filter partitions of a query
// state.
package filters

import (
	"errors"
	"sync"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/observable"
)

// ErrFilterNotFound is returned by RemoveFilter when no filter matches.
var ErrFilterNotFound = errors.New("filters: filter not found")

// Partitions is a snapshot of both filter partitions.
type Partitions struct {
	Global []querystate.Filter
	App    []querystate.Filter
}

// All returns the global filters followed by the app filters.
func (p Partitions) All() []querystate.Filter {
	out := make([]querystate.Filter, 0, len(p.Global)+len(p.App))
	out = append(out, p.Global...)
	return append(out, p.App...)
}

// Update is emitted whenever the stored filters change.
type Update struct {
	Previous Partitions
	Current  Partitions
	// OnlyDisabledChanged is set when the enabled filters are unchanged.
	OnlyDisabledChanged bool
}

// Manager implements querystate.FilterService.
//
// Setters tag the filters they receive in place, the same way the filter bar
// does, so callers that keep a reference must pass a copy. Stored filters are
// copies and every getter returns a fresh copy.
type Manager struct {
	mu      sync.RWMutex
	global  []querystate.Filter
	app     []querystate.Filter
	updates observable.Subject[Update]
}

var _ querystate.FilterService = (*Manager)(nil)

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		global: []querystate.Filter{},
		app:    []querystate.Filter{},
	}
}

// GetFilters returns global filters followed by app filters.
func (m *Manager) GetFilters() []querystate.Filter {
	return m.partitions().All()
}

// GetAppFilters returns the app partition.
func (m *Manager) GetAppFilters() []querystate.Filter {
	return m.partitions().App
}

// GetGlobalFilters returns the global partition.
func (m *Manager) GetGlobalFilters() []querystate.Filter {
	return m.partitions().Global
}

func (m *Manager) partitions() Partitions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Partitions{
		Global: cloneNonNil(m.global),
		App:    cloneNonNil(m.app),
	}
}

// SetFilters replaces both partitions. Untagged filters go to the app
// partition.
func (m *Manager) SetFilters(filters []querystate.Filter) error {
	tagMissing(filters, querystate.FilterStoreApp)
	return m.handleStateUpdate(filters)
}

// SetAppFilters replaces the app partition, keeping the global one.
func (m *Manager) SetAppFilters(filters []querystate.Filter) error {
	querystate.WithFilterStore(filters, querystate.FilterStoreApp)
	next := append(m.GetGlobalFilters(), filters...)
	return m.handleStateUpdate(next)
}

// SetGlobalFilters replaces the global partition, keeping the app one.
func (m *Manager) SetGlobalFilters(filters []querystate.Filter) error {
	querystate.WithFilterStore(filters, querystate.FilterStoreGlobal)
	next := append(append([]querystate.Filter{}, filters...), m.GetAppFilters()...)
	return m.handleStateUpdate(next)
}

// AddFilters appends filters to the partition selected by pinned. Filters
// that already carry a store tag keep it.
func (m *Manager) AddFilters(filters []querystate.Filter, pinned bool) error {
	store := querystate.FilterStoreApp
	if pinned {
		store = querystate.FilterStoreGlobal
	}
	tagMissing(filters, store)

	current := m.partitions()
	incoming := partition(filters)
	current.Global = append(current.Global, incoming.Global...)
	current.App = append(current.App, incoming.App...)
	return m.handleStateUpdate(mergeIncoming(current).All())
}

// RemoveFilter drops the first stored filter equal to filter, scope included.
func (m *Manager) RemoveFilter(filter querystate.Filter) error {
	all := m.GetFilters()
	for i, candidate := range all {
		if querystate.CompareFilter(candidate, filter, querystate.CompareAllOptions) {
			next := append(all[:i:i], all[i+1:]...)
			return m.handleStateUpdate(next)
		}
	}
	return ErrFilterNotFound
}

// RemoveAll clears both partitions.
func (m *Manager) RemoveAll() error {
	return m.SetFilters([]querystate.Filter{})
}

// Subscribe registers listener for filter changes.
func (m *Manager) Subscribe(listener observable.Listener[Update]) *observable.Subscription {
	return m.updates.Subscribe(listener)
}

func (m *Manager) handleStateUpdate(filters []querystate.Filter) error {
	next := mergeIncoming(partition(querystate.UniqFilters(filters, querystate.CompareOptions{})))
	next.Global = cloneNonNil(next.Global)
	next.App = cloneNonNil(next.App)

	m.mu.Lock()
	previous := Partitions{Global: m.global, App: m.app}
	if querystate.CompareFilters(previous.All(), next.All(), querystate.CompareAllOptions) {
		m.mu.Unlock()
		return nil
	}
	m.global, m.app = next.Global, next.App
	m.mu.Unlock()

	return m.updates.Emit(Update{
		Previous:            Partitions{Global: cloneNonNil(previous.Global), App: cloneNonNil(previous.App)},
		Current:             Partitions{Global: cloneNonNil(next.Global), App: cloneNonNil(next.App)},
		OnlyDisabledChanged: onlyDisabledChanged(previous.All(), next.All()),
	})
}

func partition(filters []querystate.Filter) Partitions {
	out := Partitions{Global: []querystate.Filter{}, App: []querystate.Filter{}}
	for _, filter := range filters {
		if querystate.IsFilterPinned(filter) {
			out.Global = append(out.Global, filter)
			continue
		}
		out.App = append(out.App, filter)
	}
	return out
}

// mergeIncoming drops app filters whose query is already pinned. The pinned
// copy takes the app copy's meta.
func mergeIncoming(p Partitions) Partitions {
	global := append([]querystate.Filter{}, p.Global...)
	app := make([]querystate.Filter, 0, len(p.App))
	for _, filter := range p.App {
		matched := false
		for i := range global {
			if querystate.CompareFilter(global[i], filter, querystate.CompareOptions{}) {
				global[i].Meta = filter.Meta
				matched = true
				break
			}
		}
		if !matched {
			app = append(app, filter)
		}
	}
	return Partitions{
		Global: querystate.UniqFilters(global, querystate.CompareOptions{}),
		App:    querystate.UniqFilters(app, querystate.CompareOptions{}),
	}
}

func onlyDisabledChanged(previous, next []querystate.Filter) bool {
	enabled := func(filters []querystate.Filter) []querystate.Filter {
		out := []querystate.Filter{}
		for _, filter := range filters {
			if !filter.Meta.Disabled {
				out = append(out, filter)
			}
		}
		return out
	}
	return querystate.CompareFilters(enabled(previous), enabled(next), querystate.CompareAllOptions)
}

func tagMissing(filters []querystate.Filter, store querystate.FilterStore) {
	for i := range filters {
		if filters[i].Store() == "" {
			filters[i].State = &querystate.FilterState{Store: store}
		}
	}
}

func cloneNonNil(filters []querystate.Filter) []querystate.Filter {
	if filters == nil {
		return []querystate.Filter{}
	}
	return querystate.CloneFilters(filters)
}
