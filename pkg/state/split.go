package state

import (
	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/layering"
)

// Split divides state into its global and app partitions. Filters tagged
// global go to the global partition; the rest, untagged included, go to the
// app partition. A present filter list yields present (possibly empty) lists
// on both sides so saving clears stale filters.
func Split(state querystate.SharedState) (global, app querystate.SharedState) {
	state = layering.Clone(state)
	global = querystate.SharedState{
		Time:            state.Time,
		RefreshInterval: state.RefreshInterval,
	}
	app = querystate.SharedState{
		Query: state.Query,
	}
	if state.Filters == nil {
		return global, app
	}
	global.Filters = []querystate.Filter{}
	app.Filters = []querystate.Filter{}
	for _, filter := range state.Filters {
		if filter.Store() == querystate.FilterStoreGlobal {
			global.Filters = append(global.Filters, filter)
			continue
		}
		app.Filters = append(app.Filters, tagged(filter, querystate.FilterStoreApp))
	}
	return global, app
}

// Join layers app over global. Filters are concatenated, global first, and
// tagged with the partition they came from.
func Join(global, app querystate.SharedState) querystate.SharedState {
	merged := layering.MergeLayers(app, global)
	merged.Filters = nil
	if global.Filters == nil && app.Filters == nil {
		return merged
	}
	merged.Filters = make([]querystate.Filter, 0, len(global.Filters)+len(app.Filters))
	for _, filter := range global.Filters {
		merged.Filters = append(merged.Filters, tagged(layering.Clone(filter), querystate.FilterStoreGlobal))
	}
	for _, filter := range app.Filters {
		merged.Filters = append(merged.Filters, tagged(layering.Clone(filter), querystate.FilterStoreApp))
	}
	return merged
}

func tagged(filter querystate.Filter, store querystate.FilterStore) querystate.Filter {
	filter.State = &querystate.FilterState{Store: store}
	return filter
}
