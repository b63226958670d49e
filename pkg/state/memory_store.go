package state

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/goliatone/go-query-state/layering"
)

// MemoryStore keeps partitions in process, keyed by Ref.Identifier. Records
// are deep copied on the way in and out, so callers never share memory with
// the store.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	records map[string]record[T]
}

// NewMemoryStore returns an empty store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{records: map[string]record[T]{}}
}

func (s *MemoryStore[T]) Load(ctx context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := memoryKey(ctx, ref)
	if err != nil {
		return zero, Meta{}, false, err
	}

	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return zero, Meta{}, false, nil
	}
	rec = layering.Clone(rec)
	return rec.Snapshot, rec.Meta, true, nil
}

func (s *MemoryStore[T]) Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := memoryKey(ctx, ref)
	if err != nil {
		return Meta{}, err
	}

	rec := layering.Clone(record[T]{Snapshot: snapshot, Meta: meta})
	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()
	return cloneMeta(meta), nil
}

// SaveIf saves only when the stored ETag equals etag.
func (s *MemoryStore[T]) SaveIf(ctx context.Context, ref Ref, etag string, snapshot T, meta Meta) (Meta, error) {
	key, err := memoryKey(ctx, ref)
	if err != nil {
		return Meta{}, err
	}

	rec := layering.Clone(record[T]{Snapshot: snapshot, Meta: meta})
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored := s.records[key].Meta.ETag; stored != etag {
		return Meta{}, mismatch(etag, stored)
	}
	s.records[key] = rec
	return cloneMeta(meta), nil
}

// Delete drops the partition. Missing partitions are not an error.
func (s *MemoryStore[T]) Delete(ctx context.Context, ref Ref) error {
	key, err := memoryKey(ctx, ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored partitions.
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Keys returns the identifiers of the stored partitions in sorted order.
func (s *MemoryStore[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.records))
}

func memoryKey(ctx context.Context, ref Ref) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return ref.Identifier()
}
