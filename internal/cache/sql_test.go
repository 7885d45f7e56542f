package cache

import (
	"context"
	"testing"
	"time"
)

func openSQLTestStore(t *testing.T, clock Clock) *Store {
	t.Helper()
	s, err := Open(Options{Backend: "sqlite3", DSN: ":memory:", Clock: clock})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLBackendRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s := openSQLTestStore(t, clock)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	if err := s.Put(ctx, "docs", payload{Name: "report.pdf"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "docs", payload{Name: "revised.pdf"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	var got payload
	ok, err := s.Get(ctx, "docs", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "revised.pdf" {
		t.Fatalf("overwrite did not replace payload: %#v", got)
	}

	clock.Advance(DefaultTTL + time.Millisecond)
	if ok, _ := s.Get(ctx, "docs", &got); ok {
		t.Fatalf("expired entry served from sqlite")
	}
}

func TestSQLBackendDeleteMany(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s := openSQLTestStore(t, clock)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, key, key); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := s.RemoveAll(ctx, "a", "c"); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if expired, err := s.IsExpired(ctx, "a"); err != nil || !expired {
		t.Fatalf("a should be gone: expired=%v err=%v", expired, err)
	}
	if expired, err := s.IsExpired(ctx, "b"); err != nil || expired {
		t.Fatalf("b should remain: expired=%v err=%v", expired, err)
	}
}

func TestSQLBackendRequiresDSN(t *testing.T) {
	if _, err := Open(Options{Backend: "sqlite3"}); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}
