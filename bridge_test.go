package querystate

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/goliatone/go-query-state/pkg/activity"
	"github.com/goliatone/go-query-state/pkg/observable"
)

type fakeContainer struct {
	state     SharedState
	sets      int
	transform func(SharedState) SharedState
	subject   observable.Subject[SharedState]
}

// Set stores and emits state without copying it, so tests can observe
// whether the bridge hands shared references to services.
func (c *fakeContainer) Set(state SharedState) error {
	if c.transform != nil {
		state = c.transform(state)
	}
	c.sets++
	c.state = state
	return c.subject.Emit(c.state)
}

func (c *fakeContainer) Get() SharedState { return c.state }

func (c *fakeContainer) Subscribe(listener observable.Listener[SharedState]) *observable.Subscription {
	return c.subject.Subscribe(listener)
}

type fakeTime struct {
	time             TimeRange
	defaults         TimeRange
	interval         RefreshInterval
	intervalDefaults RefreshInterval
	setTime          []TimeRange
	setInterval      []RefreshInterval
	err              error
	onSetTime        func(TimeRange)
}

func (f *fakeTime) GetTime() TimeRange                          { return f.time }
func (f *fakeTime) GetTimeDefaults() TimeRange                  { return f.defaults }
func (f *fakeTime) GetRefreshInterval() RefreshInterval         { return f.interval }
func (f *fakeTime) GetRefreshIntervalDefaults() RefreshInterval { return f.intervalDefaults }

func (f *fakeTime) SetTime(tr TimeRange) error {
	f.setTime = append(f.setTime, tr)
	if f.err != nil {
		return f.err
	}
	f.time = tr
	if f.onSetTime != nil {
		f.onSetTime(tr)
	}
	return nil
}

func (f *fakeTime) SetRefreshInterval(interval RefreshInterval) error {
	f.setInterval = append(f.setInterval, interval)
	f.interval = interval
	return nil
}

type fakeFilters struct {
	app      []Filter
	global   []Filter
	calls    []string
	received []Filter
}

func (f *fakeFilters) GetFilters() []Filter {
	return append(append([]Filter{}, f.global...), f.app...)
}
func (f *fakeFilters) GetAppFilters() []Filter    { return append([]Filter{}, f.app...) }
func (f *fakeFilters) GetGlobalFilters() []Filter { return append([]Filter{}, f.global...) }

// The setters keep and tag the slice they receive, like a real filter manager.
func (f *fakeFilters) SetFilters(filters []Filter) error {
	f.calls = append(f.calls, "SetFilters")
	f.received = filters
	f.global, f.app = nil, nil
	for _, filter := range filters {
		if IsFilterPinned(filter) {
			f.global = append(f.global, filter)
			continue
		}
		f.app = append(f.app, filter)
	}
	return nil
}

func (f *fakeFilters) SetAppFilters(filters []Filter) error {
	f.calls = append(f.calls, "SetAppFilters")
	f.received = WithFilterStore(filters, FilterStoreApp)
	f.app = filters
	return nil
}

func (f *fakeFilters) SetGlobalFilters(filters []Filter) error {
	f.calls = append(f.calls, "SetGlobalFilters")
	f.received = WithFilterStore(filters, FilterStoreGlobal)
	f.global = filters
	return nil
}

type fakeQuery struct {
	query Query
	sets  []Query
}

func (f *fakeQuery) GetQuery() Query { return f.query }

func (f *fakeQuery) SetQuery(q Query) error {
	f.sets = append(f.sets, q)
	f.query = q
	return nil
}

type fakeChanges struct {
	observable.Subject[StateChange]
}

type fixture struct {
	time      *fakeTime
	filters   *fakeFilters
	query     *fakeQuery
	changes   *fakeChanges
	container *fakeContainer
}

func newFixture() *fixture {
	return &fixture{
		time: &fakeTime{
			time:             TimeRange{From: "now-15m", To: "now"},
			defaults:         TimeRange{From: "now-15m", To: "now"},
			interval:         RefreshInterval{Pause: true},
			intervalDefaults: RefreshInterval{Pause: true},
		},
		filters:   &fakeFilters{app: []Filter{}, global: []Filter{}},
		query:     &fakeQuery{query: Query{Language: "kuery"}},
		changes:   &fakeChanges{},
		container: &fakeContainer{},
	}
}

func (f *fixture) services() Services {
	return Services{Time: f.time, Filters: f.filters, Query: f.query, Changes: f.changes}
}

func (f *fixture) connect(t *testing.T, cfg SyncConfig, opts ...Option) *Bridge {
	t.Helper()
	bridge, err := Connect(f.services(), f.container, cfg, opts...)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(bridge.Disconnect)
	return bridge
}

func filterFor(field, value string) Filter {
	return Filter{
		Meta:  FilterMeta{Key: field, Value: value},
		Query: map[string]any{"match_phrase": map[string]any{field: value}},
	}
}

func TestConnectValidatesCollaborators(t *testing.T) {
	f := newFixture()

	if _, err := Connect(f.services(), nil, SyncConfig{Time: true}); !errors.Is(err, ErrContainerRequired) {
		t.Fatalf("expected ErrContainerRequired, got %v", err)
	}

	services := f.services()
	services.Changes = nil
	if _, err := Connect(services, f.container, SyncConfig{}); !errors.Is(err, ErrChangeStreamRequired) {
		t.Fatalf("expected ErrChangeStreamRequired, got %v", err)
	}

	services = f.services()
	services.Query = nil
	if _, err := Connect(services, f.container, SyncConfig{Query: true}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected ErrServiceRequired, got %v", err)
	}

	if _, err := Connect(services, f.container, SyncConfig{Time: true}); err != nil {
		t.Fatalf("expected a missing service for an unsynced key to be accepted, got %v", err)
	}
}

func TestEndToEndTimeScenario(t *testing.T) {
	f := newFixture()
	f.connect(t, SyncConfig{Time: true})

	want := SharedState{Time: &TimeRange{From: "now-15m", To: "now"}}
	if !reflect.DeepEqual(f.container.Get(), want) {
		t.Fatalf("expected container %+v, got %+v", want, f.container.Get())
	}

	if err := f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(f.time.setTime) != 1 || f.time.setTime[0] != (TimeRange{From: "now-1h", To: "now"}) {
		t.Fatalf("expected SetTime(now-1h..now), got %+v", f.time.setTime)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture()
	f.filters.app = []Filter{WithFilterStore([]Filter{filterFor("host", "a")}, FilterStoreApp)[0]}
	f.time.interval = RefreshInterval{Value: 10000}

	bridge := f.connect(t, SyncConfig{Time: true, RefreshInterval: true, Filters: FilterSyncAll})
	if f.container.sets != 1 {
		t.Fatalf("expected one write on connect, got %d", f.container.sets)
	}

	wrote, err := bridge.Reconcile()
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if wrote || f.container.sets != 1 {
		t.Fatalf("expected second reconciliation to write nothing, wrote=%t sets=%d", wrote, f.container.sets)
	}
}

func TestReconcileLeavesMatchingContainerAlone(t *testing.T) {
	f := newFixture()
	f.container.state = SharedState{Time: &TimeRange{From: "now-15m", To: "now"}}

	f.connect(t, SyncConfig{Time: true})
	if f.container.sets != 0 {
		t.Fatalf("expected no write, got %d", f.container.sets)
	}
}

func TestReconcileSkipsQuery(t *testing.T) {
	f := newFixture()
	f.query.query = Query{Query: "host:a", Language: "kuery"}
	f.container.state = SharedState{Query: &Query{Query: "host:b", Language: "kuery"}}

	f.connect(t, SyncConfig{Query: true})
	if f.container.sets != 0 {
		t.Fatalf("expected query divergence to be ignored on connect, got %d writes", f.container.sets)
	}
	if f.container.Get().Query.Query != "host:b" {
		t.Fatalf("expected container query untouched")
	}
}

func TestReconcileScopedFiltersIgnoreStoreTag(t *testing.T) {
	f := newFixture()
	f.filters.app = WithFilterStore([]Filter{filterFor("host", "a")}, FilterStoreApp)
	f.container.state = SharedState{Filters: []Filter{filterFor("host", "a")}}

	f.connect(t, SyncConfig{Filters: FilterSyncApp})
	if f.container.sets != 0 {
		t.Fatalf("expected untagged container filters to match app filters, got %d writes", f.container.sets)
	}

	g := newFixture()
	g.filters.app = WithFilterStore([]Filter{filterFor("host", "a")}, FilterStoreApp)
	g.container.state = SharedState{Filters: []Filter{filterFor("host", "a")}}

	g.connect(t, SyncConfig{Filters: FilterSyncAll})
	if g.container.sets != 1 {
		t.Fatalf("expected unified sync to compare store tags, got %d writes", g.container.sets)
	}
}

func TestReconcileKeepsOtherKeys(t *testing.T) {
	f := newFixture()
	f.container.state = SharedState{Query: &Query{Query: "keep"}}

	f.connect(t, SyncConfig{Time: true})
	got := f.container.Get()
	if got.Query == nil || got.Query.Query != "keep" || got.Time == nil {
		t.Fatalf("expected merge over existing state, got %+v", got)
	}
}

func TestForwardSyncRereadsChangedKeys(t *testing.T) {
	f := newFixture()
	f.container.state = SharedState{
		Time:  &TimeRange{From: "now-15m", To: "now"},
		Query: &Query{Query: "untouched"},
	}
	f.connect(t, SyncConfig{Time: true, Query: true})

	f.time.time = TimeRange{From: "now-7d", To: "now"}
	err := f.changes.Emit(StateChange{
		State:   SharedState{Time: &TimeRange{From: "stale", To: "stale"}},
		Changes: ChangeSet{Time: true},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	got := f.container.Get()
	if got.Time.From != "now-7d" {
		t.Fatalf("expected value read from the service, got %+v", got.Time)
	}
	if got.Query == nil || got.Query.Query != "untouched" {
		t.Fatalf("expected unchanged keys to stay, got %+v", got.Query)
	}
}

func TestSelectiveKeySync(t *testing.T) {
	f := newFixture()
	f.connect(t, SyncConfig{Time: true})
	writes := f.container.sets

	f.query.query = Query{Query: "host:a"}
	_ = f.changes.Emit(StateChange{Changes: ChangeSet{Query: true, Filters: true, RefreshInterval: true}})
	if f.container.sets != writes {
		t.Fatalf("expected unsynced changes to be dropped")
	}
	if f.container.Get().Query != nil {
		t.Fatalf("expected query never to reach the container")
	}

	_ = f.container.Set(SharedState{
		Time:    &TimeRange{From: "now-15m", To: "now"},
		Query:   &Query{Query: "host:b"},
		Filters: []Filter{filterFor("host", "b")},
	})
	if len(f.query.sets) != 0 || len(f.filters.calls) != 0 || len(f.time.setInterval) != 0 {
		t.Fatalf("expected unsynced keys never to reach services: query=%v filters=%v", f.query.sets, f.filters.calls)
	}
}

func TestFilterScopeIsolation(t *testing.T) {
	f := newFixture()
	f.connect(t, SyncConfig{Filters: FilterSyncApp})
	writes := f.container.sets

	f.filters.global = WithFilterStore([]Filter{filterFor("env", "prod")}, FilterStoreGlobal)
	_ = f.changes.Emit(StateChange{Changes: ChangeSet{Filters: true, GlobalFilters: true}})
	if f.container.sets != writes {
		t.Fatalf("expected global filter change to be ignored")
	}

	_ = f.container.Set(SharedState{Filters: []Filter{filterFor("host", "a")}})
	if !reflect.DeepEqual(f.filters.calls, []string{"SetAppFilters"}) {
		t.Fatalf("expected only SetAppFilters, got %v", f.filters.calls)
	}

	f.filters.app = WithFilterStore([]Filter{filterFor("host", "z")}, FilterStoreApp)
	_ = f.changes.Emit(StateChange{Changes: ChangeSet{Filters: true, AppFilters: true}})
	got := f.container.Get().Filters
	if len(got) != 1 || got[0].Meta.Value != "z" {
		t.Fatalf("expected app filters written, got %+v", got)
	}
}

func TestFilterRouting(t *testing.T) {
	cases := []struct {
		name string
		sync FilterSync
		want string
	}{
		{name: "all", sync: FilterSyncAll, want: "SetFilters"},
		{name: "app", sync: FilterSyncApp, want: "SetAppFilters"},
		{name: "global", sync: FilterSyncGlobal, want: "SetGlobalFilters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.connect(t, SyncConfig{Filters: tc.sync})
			_ = f.container.Set(SharedState{Filters: []Filter{filterFor("host", "a")}})
			if !reflect.DeepEqual(f.filters.calls, []string{tc.want}) {
				t.Fatalf("expected %s, got %v", tc.want, f.filters.calls)
			}
		})
	}
}

func TestAbsentFiltersClearService(t *testing.T) {
	f := newFixture()
	f.filters.global = WithFilterStore([]Filter{filterFor("env", "prod")}, FilterStoreGlobal)
	f.connect(t, SyncConfig{Filters: FilterSyncGlobal})

	_ = f.container.Set(SharedState{})
	if !reflect.DeepEqual(f.filters.calls, []string{"SetGlobalFilters"}) {
		t.Fatalf("expected SetGlobalFilters, got %v", f.filters.calls)
	}
	if f.filters.received == nil || len(f.filters.received) != 0 {
		t.Fatalf("expected an empty non-nil list, got %#v", f.filters.received)
	}
}

func TestInvalidTimeUsesDefaults(t *testing.T) {
	f := newFixture()
	f.time.time = TimeRange{From: "now-1h", To: "now"}
	f.connect(t, SyncConfig{Time: true})

	_ = f.container.Set(SharedState{Time: &TimeRange{From: "not-a-date", To: "now"}})
	if len(f.time.setTime) != 1 || f.time.setTime[0] != (TimeRange{From: "now-15m", To: "now"}) {
		t.Fatalf("expected defaults written, got %+v", f.time.setTime)
	}

	_ = f.container.Set(SharedState{})
	if len(f.time.setTime) != 1 {
		t.Fatalf("expected absent time to resolve to the defaults already set, got %+v", f.time.setTime)
	}
}

func TestCustomTimeRangeValidator(t *testing.T) {
	f := newFixture()
	f.connect(t, SyncConfig{Time: true}, WithTimeRangeValidator(func(tr *TimeRange) bool {
		return tr.From != "now-1h"
	}))

	_ = f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}})
	if len(f.time.setTime) != 0 {
		t.Fatalf("expected rejected range replaced by unchanged defaults, got %+v", f.time.setTime)
	}
}

func TestAbsentRefreshIntervalAndQuery(t *testing.T) {
	f := newFixture()
	f.time.interval = RefreshInterval{Value: 5000}
	f.query.query = Query{Query: "host:a"}
	f.connect(t, SyncConfig{RefreshInterval: true, Query: true})

	_ = f.container.Set(SharedState{})
	if len(f.time.setInterval) != 1 || f.time.setInterval[0] != f.time.intervalDefaults {
		t.Fatalf("expected refresh defaults written, got %+v", f.time.setInterval)
	}
	if len(f.query.sets) != 0 {
		t.Fatalf("expected absent query to be a no-op, got %+v", f.query.sets)
	}

	_ = f.container.Set(SharedState{Query: &Query{Query: "host:b", Language: "kuery"}})
	if len(f.query.sets) != 1 || f.query.sets[0].Query != "host:b" {
		t.Fatalf("expected query written, got %+v", f.query.sets)
	}
}

func TestReverseWritesDoNotLoopBack(t *testing.T) {
	f := newFixture()
	f.time.onSetTime = func(TimeRange) {
		_ = f.changes.Emit(StateChange{Changes: ChangeSet{Time: true}})
	}
	f.connect(t, SyncConfig{Time: true})
	writes := f.container.sets

	_ = f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}})

	if len(f.time.setTime) != 1 {
		t.Fatalf("expected one service write, got %d", len(f.time.setTime))
	}
	if f.container.sets != writes+1 {
		t.Fatalf("expected only the external write, got %d writes", f.container.sets-writes)
	}
}

func TestDeepCloneBeforeServiceWrites(t *testing.T) {
	f := newFixture()
	f.connect(t, SyncConfig{Filters: FilterSyncApp})

	_ = f.container.Set(SharedState{Filters: []Filter{filterFor("host", "a")}})

	stored := f.container.Get().Filters
	if stored[0].State != nil {
		t.Fatalf("expected service tagging not to reach the container, got %+v", stored[0].State)
	}

	f.filters.received[0].Meta.Negate = true
	f.filters.received[0].Query["match_phrase"].(map[string]any)["host"] = "mutated"
	stored = f.container.Get().Filters
	if stored[0].Meta.Negate || stored[0].Query["match_phrase"].(map[string]any)["host"] != "a" {
		t.Fatalf("expected container value isolated from service mutation, got %+v", stored[0])
	}
}

func TestGuardReleasedOnError(t *testing.T) {
	f := newFixture()
	f.connect(t, SyncConfig{Time: true})
	boom := errors.New("boom")
	f.time.err = boom

	err := f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected service error returned to the caller, got %v", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Direction != DirectionReverse || syncErr.Key != KeyTime {
		t.Fatalf("expected reverse SyncError for time, got %#v", err)
	}

	f.time.err = nil
	f.time.time = TimeRange{From: "now-2d", To: "now"}
	writes := f.container.sets
	_ = f.changes.Emit(StateChange{Changes: ChangeSet{Time: true}})
	if f.container.sets != writes+1 {
		t.Fatalf("expected forward sync to run after a failed reverse pass")
	}
}

func TestGuardReleasedOnPanic(t *testing.T) {
	f := newFixture()
	bridge := f.connect(t, SyncConfig{Time: true})
	f.time.onSetTime = func(TimeRange) { panic("service exploded") }

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}})
	}()

	if bridge.guard.held() {
		t.Fatalf("expected guard released after panic")
	}
}

// Forward passes are not guarded: a container that rewrites values on Set
// triggers a reverse pass from inside the forward pass.
func TestReverseSyncIsNotGuardedDuringForwardSync(t *testing.T) {
	f := newFixture()
	f.connect(t, SyncConfig{Time: true})
	f.container.transform = func(state SharedState) SharedState {
		if state.Time != nil && state.Time.From == "now-30m" {
			state.Time = &TimeRange{From: "now-30m", To: "now", Mode: "relative"}
		}
		return state
	}

	f.time.time = TimeRange{From: "now-30m", To: "now"}
	_ = f.changes.Emit(StateChange{Changes: ChangeSet{Time: true}})

	if len(f.time.setTime) != 1 || f.time.setTime[0].Mode != "relative" {
		t.Fatalf("expected the reverse pass to run during the forward pass, got %+v", f.time.setTime)
	}
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	f := newFixture()
	bridge, err := Connect(f.services(), f.container, SyncConfig{Time: true})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if f.changes.Len() != 1 || f.container.subject.Len() != 1 {
		t.Fatalf("expected both subscriptions active")
	}

	bridge.Disconnect()
	bridge.Disconnect()
	if f.changes.Len() != 0 || f.container.subject.Len() != 0 {
		t.Fatalf("expected both subscriptions released")
	}

	_ = f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}})
	if len(f.time.setTime) != 0 {
		t.Fatalf("expected no sync after disconnect")
	}
}

func TestBridgeReportsActivityAndLogs(t *testing.T) {
	f := newFixture()
	capture := &activity.CaptureHook{}
	var logged []SyncLogEvent

	bridge := f.connect(t, SyncConfig{Time: true},
		WithBridgeID("discover-bridge"),
		WithApp("discover"),
		WithActivityHooks(activity.Hooks{capture}),
		WithLogger(SyncLoggerFunc(func(event SyncLogEvent) { logged = append(logged, event) })),
	)
	if bridge.ID() != "discover-bridge" {
		t.Fatalf("unexpected bridge id %q", bridge.ID())
	}

	_ = f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}})
	f.time.time = TimeRange{From: "now-2h", To: "now"}
	_ = f.changes.Emit(StateChange{Changes: ChangeSet{Time: true}})

	verbs := capture.Verbs()
	want := []string{activity.VerbSyncInitial, activity.VerbSyncReverse, activity.VerbSyncForward}
	if !reflect.DeepEqual(verbs, want) {
		t.Fatalf("unexpected activity verbs %v", verbs)
	}
	first := capture.Events[0]
	if first.ObjectID != "discover-bridge" || first.Metadata["app"] != "discover" {
		t.Fatalf("unexpected event payload %+v", first)
	}
	last, ok := capture.Last()
	if keys, _ := last.Metadata["keys"].([]string); !ok || !reflect.DeepEqual(keys, []string{KeyTime}) {
		t.Fatalf("expected forward event to list the time key, got %+v", last.Metadata)
	}
	if len(logged) == 0 || logged[0].BridgeID != "discover-bridge" {
		t.Fatalf("expected sync logs, got %+v", logged)
	}
}

func TestActivityFailuresDoNotBreakSync(t *testing.T) {
	f := newFixture()
	var logged []SyncLogEvent
	failing := activity.HookFunc(func(context.Context, activity.Event) error { return errors.New("sink down") })

	f.connect(t, SyncConfig{Time: true},
		WithActivityHooks(activity.Hooks{failing}),
		WithLogger(SyncLoggerFunc(func(event SyncLogEvent) { logged = append(logged, event) })),
	)

	if err := f.container.Set(SharedState{Time: &TimeRange{From: "now-1h", To: "now"}}); err != nil {
		t.Fatalf("expected sync to succeed, got %v", err)
	}
	if len(f.time.setTime) != 1 {
		t.Fatalf("expected service write")
	}
	failures := 0
	for _, event := range logged {
		if event.Err != nil {
			failures++
		}
	}
	if failures == 0 {
		t.Fatalf("expected hook failure to be logged")
	}
}
