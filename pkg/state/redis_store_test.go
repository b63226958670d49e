package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	querystate "github.com/goliatone/go-query-state"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore[querystate.SharedState], *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	store, err := NewRedisStore[querystate.SharedState]("redis://"+srv.Addr(), opts...)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, srv
}

func TestRedisStore(t *testing.T) {
	store, _ := newTestRedisStore(t)
	exerciseStore(t, store)
	exerciseConditionalSave(t, store)
}

func TestRedisStoreUsesPrefixAndTTL(t *testing.T) {
	store, srv := newTestRedisStore(t, WithRedisPrefix("qs:"), WithRedisTTL(time.Minute))
	ctx := context.Background()

	if _, err := store.Save(ctx, AppRef("discover"), querystate.SharedState{}, Meta{ETag: "e"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !srv.Exists("qs:app/discover") {
		t.Fatalf("expected prefixed key, got %v", srv.Keys())
	}
	if ttl := srv.TTL("qs:app/discover"); ttl != time.Minute {
		t.Fatalf("expected ttl of one minute, got %v", ttl)
	}

	srv.FastForward(2 * time.Minute)
	if _, _, ok, _ := store.Load(ctx, AppRef("discover")); ok {
		t.Fatalf("expected partition to expire")
	}
}

func TestRedisStoreRejectsCorruptRecords(t *testing.T) {
	store, srv := newTestRedisStore(t)
	if err := srv.Set("querystate:global", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, _, err := store.Load(context.Background(), GlobalRef()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewRedisStoreFailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()
	if _, err := NewRedisStore[querystate.SharedState]("redis://" + addr); err == nil {
		t.Fatalf("expected connection error")
	}
	if _, err := NewRedisStore[querystate.SharedState]("::bad-url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRedisStorePing(t *testing.T) {
	srv := miniredis.RunT(t)
	store := NewRedisStoreWithClient[querystate.SharedState](redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
