package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures an embedded Badger database.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// Prefix is prepended to every key. Defaults to "querystate/".
	Prefix string
	// Logger receives Badger's own log lines. Nil silences them.
	Logger *slog.Logger
}

// BadgerStore persists snapshots in Badger as JSON records.
type BadgerStore[T any] struct {
	db     *badger.DB
	prefix string
	owned  bool
}

// OpenBadgerStore opens a database for cfg. Close releases it.
func OpenBadgerStore[T any](cfg BadgerConfig) (*BadgerStore[T], error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("state: badger path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("state: create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("state: open badger: %w", err)
	}
	store := NewBadgerStoreWithDB[T](db, cfg.Prefix)
	store.owned = true
	return store, nil
}

// NewBadgerStoreWithDB wraps an open database. Close does not close db.
func NewBadgerStoreWithDB[T any](db *badger.DB, prefix string) *BadgerStore[T] {
	if prefix == "" {
		prefix = "querystate/"
	}
	return &BadgerStore[T]{db: db, prefix: prefix}
}

func (s *BadgerStore[T]) key(ref Ref) ([]byte, error) {
	id, err := ref.Identifier()
	if err != nil {
		return nil, err
	}
	return []byte(s.prefix + id), nil
}

func (s *BadgerStore[T]) Load(ctx context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, Meta{}, false, err
	}
	key, err := s.key(ref)
	if err != nil {
		return zero, Meta{}, false, err
	}

	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return zero, Meta{}, false, nil
	}
	if err != nil {
		return zero, Meta{}, false, fmt.Errorf("state: badger load %s: %w", key, err)
	}

	snapshot, meta, err := decodeRecord[T](data)
	if err != nil {
		return zero, Meta{}, false, err
	}
	return snapshot, meta, true, nil
}

func (s *BadgerStore[T]) Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	key, err := s.key(ref)
	if err != nil {
		return Meta{}, err
	}
	data, err := encodeRecord(snapshot, meta)
	if err != nil {
		return Meta{}, err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return Meta{}, fmt.Errorf("state: badger save %s: %w", key, err)
	}
	return cloneMeta(meta), nil
}

// SaveIf compares the stored ETag with etag and writes in one transaction.
// Badger aborts the commit when another transaction wrote the key first.
func (s *BadgerStore[T]) SaveIf(ctx context.Context, ref Ref, etag string, snapshot T, meta Meta) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	key, err := s.key(ref)
	if err != nil {
		return Meta{}, err
	}
	data, err := encodeRecord(snapshot, meta)
	if err != nil {
		return Meta{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		stored := ""
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			current, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			_, storedMeta, err := decodeRecord[T](current)
			if err != nil {
				return err
			}
			stored = storedMeta.ETag
		}
		if stored != etag {
			return mismatch(etag, stored)
		}
		return txn.Set(key, data)
	})
	switch {
	case err == nil:
		return cloneMeta(meta), nil
	case errors.Is(err, ErrETagMismatch):
		return Meta{}, err
	case errors.Is(err, badger.ErrConflict):
		return Meta{}, fmt.Errorf("%w: %s changed during save", ErrETagMismatch, key)
	default:
		return Meta{}, fmt.Errorf("state: badger save %s: %w", key, err)
	}
}

func (s *BadgerStore[T]) Delete(ctx context.Context, ref Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := s.key(ref)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("state: badger delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database when the store opened it.
func (s *BadgerStore[T]) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
