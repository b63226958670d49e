package main

import (
	"fmt"
	"io"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/state"
)

type stateStore interface {
	state.Store[querystate.SharedState]
	state.Deleter
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the backend selected by cfg.Store. A preset store is used
// as is.
func (rt *runtime) openStore() (stateStore, io.Closer, error) {
	if rt.store != nil {
		return rt.store, nopCloser{}, nil
	}
	cfg := rt.cfg.Store
	switch cfg.Driver {
	case "", "memory":
		return state.NewMemoryStore[querystate.SharedState](), nopCloser{}, nil
	case "badger":
		store, err := state.OpenBadgerStore[querystate.SharedState](state.BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: true,
			Prefix:     cfg.Prefix,
			Logger:     rt.logger.With("component", "badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "redis":
		store, err := state.NewRedisStore[querystate.SharedState](cfg.URL,
			state.WithRedisPrefix(cfg.Prefix),
			state.WithRedisTTL(cfg.TTL),
		)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	return nil, nil, usageError{fmt.Errorf("unknown store driver %q", cfg.Driver)}
}

func (rt *runtime) resolver(store stateStore) state.Resolver {
	return state.Resolver{Store: store}
}

func (rt *runtime) appName(flag string) string {
	if flag != "" {
		return flag
	}
	return rt.cfg.App
}
