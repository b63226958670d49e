package querystate

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-query-state/layering"
	"github.com/goliatone/go-query-state/pkg/activity"
	"github.com/goliatone/go-query-state/pkg/observable"
)

// Bridge keeps a StateContainer and the query services in sync. Create it
// with Connect and release it with Disconnect.
//
// Service values always win when the bridge connects. After that, service
// changes flow into the container (forward) and container changes flow into
// the services (reverse). While a reverse pass runs, forward notifications are
// dropped so the bridge does not echo its own service writes back into the
// container. Forward passes are not guarded against reverse passes.
type Bridge struct {
	services  Services
	container StateContainer
	sync      SyncConfig
	cfg       bridgeConfig

	guard        reentrancyGuard
	subs         []*observable.Subscription
	disconnected atomic.Bool
}

// Connect reconciles container with the services, then subscribes to both
// change streams. Reconciliation errors abort the connection.
func Connect(services Services, container StateContainer, sync SyncConfig, opts ...Option) (*Bridge, error) {
	if container == nil {
		return nil, ErrContainerRequired
	}
	if services.Changes == nil {
		return nil, ErrChangeStreamRequired
	}
	if err := services.requireFor(sync); err != nil {
		return nil, err
	}

	b := &Bridge{
		services:  services,
		container: container,
		sync:      sync,
		cfg:       applyOptions(opts),
	}

	if _, err := b.reconcile(); err != nil {
		return nil, err
	}

	b.subs = []*observable.Subscription{
		services.Changes.Subscribe(b.forward),
		container.Subscribe(b.reverse),
	}
	return b, nil
}

func (s Services) requireFor(sync SyncConfig) error {
	switch {
	case (sync.Time || sync.RefreshInterval) && s.Time == nil:
		return wrapServiceRequired("time")
	case sync.Query && s.Query == nil:
		return wrapServiceRequired(KeyQuery)
	case sync.Filters.Enabled() && s.Filters == nil:
		return wrapServiceRequired(KeyFilters)
	}
	return nil
}

func wrapServiceRequired(service string) error {
	return &SyncError{Direction: DirectionInitial, Key: service, Err: ErrServiceRequired}
}

// ID returns the identifier used in logs and activity events.
func (b *Bridge) ID() string {
	return b.cfg.id
}

// SyncConfig returns the configuration the bridge was connected with.
func (b *Bridge) SyncConfig() SyncConfig {
	return b.sync
}

// Reconcile re-runs the connect-time reconciliation and reports whether it
// wrote to the container. A second call with no change in between writes
// nothing.
func (b *Bridge) Reconcile() (bool, error) {
	return b.reconcile()
}

// Disconnect releases both subscriptions. It is meant to be called once;
// later calls do nothing.
func (b *Bridge) Disconnect() {
	if !b.disconnected.CompareAndSwap(false, true) {
		return
	}
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
}

// reconcile copies diverging service values into the container. The query key
// is not checked.
func (b *Bridge) reconcile() (bool, error) {
	direction := DirectionInitial
	started := time.Now()
	current := b.container.Get()
	patch := StatePatch{}

	if b.sync.Time {
		if value := b.services.Time.GetTime(); current.Time == nil || !reflect.DeepEqual(*current.Time, value) {
			patch.Time = &value
		}
	}
	if b.sync.RefreshInterval {
		if value := b.services.Time.GetRefreshInterval(); current.RefreshInterval == nil || *current.RefreshInterval != value {
			patch.RefreshInterval = &value
		}
	}
	if b.sync.Filters.Enabled() {
		value, opts := b.serviceFilters()
		if !CompareFilters(current.Filters, value, opts) {
			patch.Filters = nonNilFilters(CloneFilters(value))
		}
	}

	if patch.Empty() {
		b.log(direction, nil, "unchanged", started, nil)
		return false, nil
	}

	keys := patch.Keys()
	err := wrapSyncError(direction, "", b.container.Set(patch.Apply(current)))
	b.report(direction, keys, started, err)
	return true, err
}

// forward handles a service change notification.
func (b *Bridge) forward(change StateChange) error {
	if b.guard.held() {
		b.log(DirectionForward, nil, "guard", time.Now(), nil)
		return nil
	}
	if !b.sync.Matches(change.Changes) {
		return nil
	}

	started := time.Now()
	patch := b.changedValues(change.Changes)
	if patch.Empty() {
		return nil
	}

	keys := patch.Keys()
	err := wrapSyncError(DirectionForward, "", b.container.Set(patch.Apply(b.container.Get())))
	b.report(DirectionForward, keys, started, err)
	return err
}

// changedValues re-reads every synced key flagged in changes from its
// service. The notification snapshot is never used.
func (b *Bridge) changedValues(changes ChangeSet) StatePatch {
	patch := StatePatch{}
	if b.sync.Time && changes.Time {
		value := b.services.Time.GetTime()
		patch.Time = &value
	}
	if b.sync.Query && changes.Query {
		value := b.services.Query.GetQuery()
		patch.Query = &value
	}
	if b.sync.RefreshInterval && changes.RefreshInterval {
		value := b.services.Time.GetRefreshInterval()
		patch.RefreshInterval = &value
	}

	var filters []Filter
	switch {
	case b.sync.Filters == FilterSyncAll && changes.Filters:
		filters = b.services.Filters.GetFilters()
	case b.sync.Filters == FilterSyncApp && changes.AppFilters:
		filters = b.services.Filters.GetAppFilters()
	case b.sync.Filters == FilterSyncGlobal && changes.GlobalFilters:
		filters = b.services.Filters.GetGlobalFilters()
	default:
		return patch
	}
	patch.Filters = nonNilFilters(CloneFilters(filters))
	return patch
}

// reverse pushes container values that differ from the services into them.
// Every value handed to a setter is a deep copy. The first failing setter
// stops the pass.
func (b *Bridge) reverse(state SharedState) (err error) {
	release := b.guard.acquire()
	defer release()

	started := time.Now()
	var keys []string
	defer func() {
		if len(keys) == 0 && err == nil {
			return
		}
		b.report(DirectionReverse, keys, started, err)
	}()

	if b.sync.Time {
		value := state.Time
		if value == nil || !b.cfg.validTime(value) {
			defaults := b.services.Time.GetTimeDefaults()
			value = &defaults
		}
		if !reflect.DeepEqual(*value, b.services.Time.GetTime()) {
			keys = append(keys, KeyTime)
			if err := b.services.Time.SetTime(layering.Clone(*value)); err != nil {
				return wrapSyncError(DirectionReverse, KeyTime, err)
			}
		}
	}

	if b.sync.RefreshInterval {
		value := state.RefreshInterval
		if value == nil {
			defaults := b.services.Time.GetRefreshIntervalDefaults()
			value = &defaults
		}
		if *value != b.services.Time.GetRefreshInterval() {
			keys = append(keys, KeyRefreshInterval)
			if err := b.services.Time.SetRefreshInterval(*value); err != nil {
				return wrapSyncError(DirectionReverse, KeyRefreshInterval, err)
			}
		}
	}

	if b.sync.Query {
		current := b.services.Query.GetQuery()
		value := state.Query
		if value == nil {
			value = &current
		}
		if *value != current {
			keys = append(keys, KeyQuery)
			if err := b.services.Query.SetQuery(*value); err != nil {
				return wrapSyncError(DirectionReverse, KeyQuery, err)
			}
		}
	}

	if b.sync.Filters.Enabled() {
		value := nonNilFilters(state.Filters)
		current, opts := b.serviceFilters()
		if !CompareFilters(value, current, opts) {
			keys = append(keys, KeyFilters)
			if err := b.setServiceFilters(CloneFilters(value)); err != nil {
				return wrapSyncError(DirectionReverse, KeyFilters, err)
			}
		}
	}

	return nil
}

// serviceFilters returns the filter partition the bridge syncs together with
// the comparison mode for it.
func (b *Bridge) serviceFilters() ([]Filter, CompareOptions) {
	switch b.sync.Filters {
	case FilterSyncApp:
		return b.services.Filters.GetAppFilters(), CompareAllOptions.WithoutState()
	case FilterSyncGlobal:
		return b.services.Filters.GetGlobalFilters(), CompareAllOptions.WithoutState()
	default:
		return b.services.Filters.GetFilters(), CompareAllOptions
	}
}

func (b *Bridge) setServiceFilters(filters []Filter) error {
	switch b.sync.Filters {
	case FilterSyncApp:
		return b.services.Filters.SetAppFilters(filters)
	case FilterSyncGlobal:
		return b.services.Filters.SetGlobalFilters(filters)
	default:
		return b.services.Filters.SetFilters(filters)
	}
}

func nonNilFilters(filters []Filter) []Filter {
	if filters == nil {
		return []Filter{}
	}
	return filters
}

type versioned interface {
	Version() uint64
}

func (b *Bridge) report(direction Direction, keys []string, started time.Time, err error) {
	b.log(direction, keys, "", started, err)

	if !b.cfg.emitter.Enabled() {
		return
	}
	input := activity.SyncEventInput{
		ActorID:  b.cfg.actorID,
		TenantID: b.cfg.tenantID,
		BridgeID: b.cfg.id,
		App:      b.cfg.app,
		Keys:     keys,
		Err:      err,
	}
	if v, ok := b.container.(versioned); ok {
		input.Version = v.Version()
	}

	var event activity.Event
	switch direction {
	case DirectionForward:
		event = activity.BuildForwardSyncEvent(input)
	case DirectionReverse:
		event = activity.BuildReverseSyncEvent(input)
	default:
		event = activity.BuildInitialSyncEvent(input)
	}
	if emitErr := b.cfg.emitter.Emit(context.Background(), event); emitErr != nil {
		b.cfg.logger.LogSync(SyncLogEvent{
			BridgeID:  b.cfg.id,
			Direction: direction,
			Keys:      keys,
			Err:       emitErr,
		})
	}
}

func (b *Bridge) log(direction Direction, keys []string, skipped string, started time.Time, err error) {
	b.cfg.logger.LogSync(SyncLogEvent{
		BridgeID:  b.cfg.id,
		Direction: direction,
		Keys:      keys,
		Skipped:   skipped,
		Duration:  time.Since(started),
		Err:       err,
	})
}
