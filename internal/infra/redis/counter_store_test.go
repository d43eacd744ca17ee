package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestCounterStoreIncrement(t *testing.T) {
	t.Parallel()

	store, mr := newTestCounterStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "ST_260314")
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if got != want {
			t.Fatalf("Increment() = %d, want %d", got, want)
		}
	}

	got, err := store.Increment(ctx, "HT_260314")
	if err != nil || got != 1 {
		t.Fatalf("Increment(other key) = %d, %v; want 1", got, err)
	}

	if value, err := mr.Get("ticket:serial:ST_260314"); err != nil || value != "3" {
		t.Fatalf("stored value = %q, %v; want 3", value, err)
	}
}

func TestCounterStoreCounters(t *testing.T) {
	t.Parallel()

	store, _ := newTestCounterStore(t)
	ctx := context.Background()

	empty, err := store.Counters(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("Counters() on empty store = %v, %v", empty, err)
	}

	for _, key := range []string{"ST_260314", "ST_260314", "HT_260315"} {
		if _, err := store.Increment(ctx, key); err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
	}

	counters, err := store.Counters(ctx)
	if err != nil {
		t.Fatalf("Counters() error = %v", err)
	}
	if len(counters) != 2 || counters["ST_260314"] != 2 || counters["HT_260315"] != 1 {
		t.Fatalf("Counters() = %v", counters)
	}
}

func TestCounterStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	store, _ := newTestCounterStore(t)
	if _, err := store.Increment(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func newTestCounterStore(t *testing.T) (*CounterStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	store, err := NewCounterStore(rdb)
	if err != nil {
		t.Fatalf("NewCounterStore() error = %v", err)
	}
	return store, mr
}
