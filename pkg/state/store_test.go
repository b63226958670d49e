package state

import (
	"context"
	"errors"
	"testing"
	"time"

	querystate "github.com/goliatone/go-query-state"
)

// exerciseStore runs the behavior every Store implementation shares.
func exerciseStore(t *testing.T, store interface {
	Store[querystate.SharedState]
	Deleter
}) {
	t.Helper()
	ctx := context.Background()

	if _, _, ok, err := store.Load(ctx, AppRef("discover")); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	snapshot := querystate.SharedState{
		Query:   &querystate.Query{Query: "a:b", Language: "kuery"},
		Filters: []querystate.Filter{filter("local", querystate.FilterStoreApp)},
	}
	meta := Meta{
		SnapshotID: "snap-1",
		ETag:       "etag-1",
		UpdatedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Extra:      map[string]string{"actor": "u1"},
	}
	saved, err := store.Save(ctx, AppRef("discover"), snapshot, meta)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ETag != "etag-1" || saved.SnapshotID != "snap-1" {
		t.Fatalf("unexpected saved meta: %+v", saved)
	}

	got, gotMeta, ok, err := store.Load(ctx, AppRef("discover"))
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Query == nil || *got.Query != *snapshot.Query {
		t.Fatalf("unexpected query: %+v", got.Query)
	}
	if !querystate.CompareFilters(got.Filters, snapshot.Filters, querystate.CompareAllOptions) {
		t.Fatalf("unexpected filters: %+v", got.Filters)
	}
	if gotMeta.ETag != "etag-1" || !gotMeta.UpdatedAt.Equal(meta.UpdatedAt) || gotMeta.Extra["actor"] != "u1" {
		t.Fatalf("unexpected loaded meta: %+v", gotMeta)
	}

	if _, _, ok, _ := store.Load(ctx, AppRef("dashboards")); ok {
		t.Fatalf("expected partitions of other apps to stay separate")
	}
	if _, _, ok, _ := store.Load(ctx, GlobalRef()); ok {
		t.Fatalf("expected global partition to stay empty")
	}

	if _, err := store.Save(ctx, AppRef(""), snapshot, meta); err == nil {
		t.Fatalf("expected invalid ref to be rejected")
	}

	if err := store.Delete(ctx, AppRef("discover")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, ok, _ := store.Load(ctx, AppRef("discover")); ok {
		t.Fatalf("expected deleted partition to be gone")
	}
	if err := store.Delete(ctx, AppRef("discover")); err != nil {
		t.Fatalf("expected deleting a missing partition to succeed, got %v", err)
	}
}

// exerciseConditionalSave checks that SaveIf only writes over the expected
// ETag.
func exerciseConditionalSave(t *testing.T, store interface {
	Store[querystate.SharedState]
	ConditionalSaver[querystate.SharedState]
}) {
	t.Helper()
	ctx := context.Background()
	ref := AppRef("conditional")
	snapshot := querystate.SharedState{Query: &querystate.Query{Query: "a", Language: "kuery"}}

	if _, err := store.SaveIf(ctx, ref, "etag-0", snapshot, Meta{ETag: "etag-1"}); !errors.Is(err, ErrETagMismatch) {
		t.Fatalf("expected a missing partition to reject a non-empty etag, got %v", err)
	}
	if _, err := store.SaveIf(ctx, ref, "", snapshot, Meta{ETag: "etag-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.SaveIf(ctx, ref, "", snapshot, Meta{ETag: "etag-2"}); !errors.Is(err, ErrETagMismatch) {
		t.Fatalf("expected an existing partition to reject an empty etag, got %v", err)
	}
	if _, err := store.SaveIf(ctx, ref, "stale", snapshot, Meta{ETag: "etag-2"}); !errors.Is(err, ErrETagMismatch) {
		t.Fatalf("expected stale etag to be rejected, got %v", err)
	}

	snapshot.Query.Query = "b"
	saved, err := store.SaveIf(ctx, ref, "etag-1", snapshot, Meta{ETag: "etag-2"})
	if err != nil || saved.ETag != "etag-2" {
		t.Fatalf("update: %+v / %v", saved, err)
	}
	got, meta, ok, err := store.Load(ctx, ref)
	if err != nil || !ok || got.Query.Query != "b" || meta.ETag != "etag-2" {
		t.Fatalf("unexpected stored record: %+v / %+v / %v / %v", got.Query, meta, ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore[querystate.SharedState]())
	exerciseConditionalSave(t, NewMemoryStore[querystate.SharedState]())
}

func TestMemoryStoreCopiesSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore[querystate.SharedState]()
	snapshot := querystate.SharedState{Time: &querystate.TimeRange{From: "now-15m", To: "now"}}
	meta := Meta{Extra: map[string]string{"k": "v"}}

	if _, err := store.Save(ctx, GlobalRef(), snapshot, meta); err != nil {
		t.Fatalf("save: %v", err)
	}
	snapshot.Time.From = "mutated"
	meta.Extra["k"] = "mutated"

	got, gotMeta, _, _ := store.Load(ctx, GlobalRef())
	if got.Time.From != "now-15m" || gotMeta.Extra["k"] != "v" {
		t.Fatalf("expected stored copy to be isolated, got %+v / %+v", got.Time, gotMeta)
	}
	got.Time.From = "mutated"
	again, _, _, _ := store.Load(ctx, GlobalRef())
	if again.Time.From != "now-15m" {
		t.Fatalf("expected loaded copy to be isolated")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one record, got %d", store.Len())
	}
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadgerStore[querystate.SharedState](BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store)
	exerciseConditionalSave(t, store)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	snapshot := querystate.SharedState{RefreshInterval: &querystate.RefreshInterval{Pause: false, Value: 5000}}

	store, err := OpenBadgerStore[querystate.SharedState](BadgerConfig{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Save(ctx, GlobalRef(), snapshot, Meta{ETag: "e1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenBadgerStore[querystate.SharedState](BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	got, meta, ok, err := reopened.Load(ctx, GlobalRef())
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.RefreshInterval == nil || got.RefreshInterval.Value != 5000 || meta.ETag != "e1" {
		t.Fatalf("unexpected snapshot after reopen: %+v / %+v", got, meta)
	}
}

func TestOpenBadgerStoreRequiresPath(t *testing.T) {
	if _, err := OpenBadgerStore[querystate.SharedState](BadgerConfig{}); err == nil {
		t.Fatalf("expected missing path error")
	}
}
