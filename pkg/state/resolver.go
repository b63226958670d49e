package state

import (
	"context"
	"fmt"
	"time"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/layering"
	"golang.org/x/sync/errgroup"
)

// Resolver loads, layers and saves the partitions of an app.
type Resolver struct {
	Store Store[querystate.SharedState]
	// Clock stamps UpdatedAt. Defaults to time.Now.
	Clock func() time.Time
}

// Layer is one loaded partition.
type Layer struct {
	Ref   Ref
	Meta  Meta
	Found bool
	State querystate.SharedState
}

// Resolved is the layered state of an app with the partitions it came from,
// strongest first.
type Resolved struct {
	State  querystate.SharedState
	Layers []Layer
}

// Provenance records whether one partition carried a key.
type Provenance struct {
	Ref        string `json:"ref"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Key        string `json:"key"`
	Value      any    `json:"value,omitempty"`
	Found      bool   `json:"found"`
}

// Trace reports, strongest first, which partitions carried key.
func (r Resolved) Trace(key string) []Provenance {
	out := make([]Provenance, 0, len(r.Layers))
	for _, layer := range r.Layers {
		p := Provenance{Ref: layer.Ref.String(), SnapshotID: layer.Meta.SnapshotID, Key: key}
		if layer.Found {
			p.Value, p.Found = keyValue(layer.State, key)
		}
		out = append(out, p)
	}
	return out
}

func keyValue(state querystate.SharedState, key string) (any, bool) {
	switch key {
	case querystate.KeyTime:
		return state.Time, state.Time != nil
	case querystate.KeyRefreshInterval:
		return state.RefreshInterval, state.RefreshInterval != nil
	case querystate.KeyQuery:
		return state.Query, state.Query != nil
	case querystate.KeyFilters:
		return state.Filters, state.Filters != nil
	}
	return nil, false
}

func (r Resolver) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// Resolve loads both partitions of app concurrently and layers them. It fails
// with ErrNotFound when neither partition is stored.
func (r Resolver) Resolve(ctx context.Context, app string) (Resolved, error) {
	if r.Store == nil {
		return Resolved{}, ErrStoreRequired
	}
	refs := chain(app)
	if _, err := refs[0].Identifier(); err != nil {
		return Resolved{}, err
	}

	layers := make([]Layer, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			snapshot, meta, ok, err := r.Store.Load(gctx, ref)
			if err != nil {
				return fmt.Errorf("state: load %s: %w", ref, err)
			}
			layers[i] = Layer{Ref: ref, Meta: meta, Found: ok, State: snapshot}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Resolved{}, err
	}

	appLayer, globalLayer := layers[0], layers[1]
	if !appLayer.Found && !globalLayer.Found {
		return Resolved{}, fmt.Errorf("%w: app %q", ErrNotFound, app)
	}
	return Resolved{
		State:  Join(globalLayer.State, appLayer.State),
		Layers: layers,
	}, nil
}

// Save splits snapshot and writes both partitions of app. Existing ETags are
// not checked; use Mutate for conditional writes.
func (r Resolver) Save(ctx context.Context, app string, snapshot querystate.SharedState) (global, appMeta Meta, err error) {
	if r.Store == nil {
		return Meta{}, Meta{}, ErrStoreRequired
	}
	if _, err := AppRef(app).Identifier(); err != nil {
		return Meta{}, Meta{}, err
	}
	globalState, appState := Split(snapshot)
	now := r.now()

	global, err = r.save(ctx, GlobalRef(), globalState, Meta{}, now)
	if err != nil {
		return Meta{}, Meta{}, err
	}
	appMeta, err = r.save(ctx, AppRef(app), appState, Meta{}, now)
	if err != nil {
		return global, Meta{}, err
	}
	return global, appMeta, nil
}

func (r Resolver) save(ctx context.Context, ref Ref, snapshot querystate.SharedState, meta Meta, now time.Time) (Meta, error) {
	stamped, err := stamp(snapshot, meta, now)
	if err != nil {
		return Meta{}, err
	}
	saved, err := r.Store.Save(ctx, ref, snapshot, stamped)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %s: %w", ref, err)
	}
	return saved, nil
}

func (r Resolver) saveIf(ctx context.Context, ref Ref, etag string, snapshot querystate.SharedState, meta Meta, now time.Time) (Meta, error) {
	conditional, ok := r.Store.(ConditionalSaver[querystate.SharedState])
	if !ok {
		return r.save(ctx, ref, snapshot, meta, now)
	}
	stamped, err := stamp(snapshot, meta, now)
	if err != nil {
		return Meta{}, err
	}
	saved, err := conditional.SaveIf(ctx, ref, etag, snapshot, stamped)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %s: %w", ref, err)
	}
	return saved, nil
}

// Mutate loads one partition, applies fn, validates the result and saves it.
// When expected.ETag is set it must match the stored ETag. Extra from
// expected is merged into the saved metadata. Stores implementing
// ConditionalSaver also reject the save when the partition changed after it
// was loaded; with other stores the check happens at load time only.
func (r Resolver) Mutate(ctx context.Context, ref Ref, expected Meta, fn Mutator[querystate.SharedState]) (querystate.SharedState, Meta, error) {
	if r.Store == nil {
		return querystate.SharedState{}, Meta{}, ErrStoreRequired
	}
	if _, err := ref.Identifier(); err != nil {
		return querystate.SharedState{}, Meta{}, err
	}
	if fn == nil {
		return querystate.SharedState{}, Meta{}, fmt.Errorf("state: mutator is required")
	}

	snapshot, loaded, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return querystate.SharedState{}, Meta{}, fmt.Errorf("state: load %s: %w", ref, err)
	}
	if !ok {
		snapshot = querystate.SharedState{}
		loaded = Meta{}
	}
	if expected.ETag != "" && expected.ETag != loaded.ETag {
		return querystate.SharedState{}, loaded, mismatch(expected.ETag, loaded.ETag)
	}

	snapshot = layering.Clone(snapshot)
	if err := fn(&snapshot); err != nil {
		return querystate.SharedState{}, loaded, err
	}
	if err := validatePartition(ref, snapshot); err != nil {
		return querystate.SharedState{}, loaded, err
	}

	meta := mergeMeta(loaded, Meta{Extra: expected.Extra})
	saved, err := r.saveIf(ctx, ref, loaded.ETag, snapshot, meta, r.now())
	if err != nil {
		return querystate.SharedState{}, loaded, err
	}
	return snapshot, saved, nil
}

// validatePartition rejects unparsable time ranges and filters tagged for the
// other partition.
func validatePartition(ref Ref, snapshot querystate.SharedState) error {
	if snapshot.Time != nil && !querystate.ValidateTimeRange(snapshot.Time) {
		return fmt.Errorf("%w: time range %q..%q", ErrInvalidSnapshot, snapshot.Time.From, snapshot.Time.To)
	}
	for i, filter := range snapshot.Filters {
		if store := filter.Store(); store != "" && store != ref.Store {
			return fmt.Errorf("%w: filter %d is tagged %s in the %s partition", ErrInvalidSnapshot, i, store, ref.Store)
		}
	}
	return nil
}
