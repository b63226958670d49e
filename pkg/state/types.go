package state

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
)

var (
	// ErrETagMismatch is returned when a write expected a different stored version.
	ErrETagMismatch = errors.New("state: etag mismatch")
	// ErrNotFound is returned when no partition of an app is stored.
	ErrNotFound = errors.New("state: not found")
	// ErrStoreRequired is returned by a Resolver without a Store.
	ErrStoreRequired = errors.New("state: store is required")
	// ErrInvalidSnapshot is returned when a mutated snapshot fails validation.
	ErrInvalidSnapshot = errors.New("state: invalid snapshot")
)

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads and saves one snapshot for a single partition.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

// ConditionalSaver is implemented by stores that can check the stored ETag and
// write in one atomic step. An empty etag requires the partition to be absent.
// A stale etag fails with ErrETagMismatch.
type ConditionalSaver[T any] interface {
	SaveIf(ctx context.Context, ref Ref, etag string, snapshot T, meta Meta) (Meta, error)
}

func mismatch(expected, stored string) error {
	return fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, expected, stored)
}

// Deleter is implemented by stores that can drop a partition.
type Deleter interface {
	Delete(ctx context.Context, ref Ref) error
}

// Mutator edits a snapshot in place.
type Mutator[T any] func(*T) error

// ETag hashes snapshot. Equal snapshots share an ETag.
func ETag(snapshot any) (string, error) {
	sum, err := hashstructure.Hash(snapshot, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("state: etag: %w", err)
	}
	return fmt.Sprintf("%016x", sum), nil
}

// stamp fills the generated fields of meta for a new version of snapshot.
func stamp(snapshot any, meta Meta, now time.Time) (Meta, error) {
	etag, err := ETag(snapshot)
	if err != nil {
		return Meta{}, err
	}
	meta.ETag = etag
	meta.SnapshotID = uuid.NewString()
	meta.UpdatedAt = now.UTC()
	return meta, nil
}

func cloneMeta(meta Meta) Meta {
	meta.Extra = maps.Clone(meta.Extra)
	return meta
}

// mergeMeta overlays the set fields of override onto base. A non-nil Extra in
// override replaces base's.
func mergeMeta(base, override Meta) Meta {
	out := cloneMeta(base)
	out.SnapshotID = cmp.Or(override.SnapshotID, out.SnapshotID)
	out.ETag = cmp.Or(override.ETag, out.ETag)
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = maps.Clone(override.Extra)
	}
	return out
}
