// Package state persists query state snapshots split into the two partitions
// a query state is shared through: the global partition (time range, refresh
// interval, pinned filters) shared by every app, and the per-app partition
// (query, app filters).
//
// Store[T] loads and saves one snapshot for one Ref. Resolver loads both
// partitions of an app and layers the app partition over the global one:
//
//	Store -> Resolver.Resolve -> layering.MergeLayers(app, global) -> SharedState
//
// Filters are not layered; the resolved list is the global filters followed by
// the app filters, each tagged with its partition.
//
// Meta.ETag is a content hash of the stored snapshot. Resolver.Mutate rejects
// writes whose expected ETag no longer matches (ErrETagMismatch).
//
// Ref.Identifier() gives the deterministic storage key: "global" for the
// shared partition and "app/<app>" for app partitions. Backends add their own
// prefix.
package state
