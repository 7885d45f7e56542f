package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s, err := Open(Options{Backend: "memory", Clock: clock})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, clock
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "docs", []string{"a", "b"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got []string
	ok, err := s.Get(ctx, "docs", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("payload mismatch: %#v", got)
	}
}

func TestEntryExpiresStrictlyAfterTTL(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "docs", "payload"); err != nil {
		t.Fatalf("put: %v", err)
	}

	clock.Advance(DefaultTTL - time.Millisecond)
	var got string
	if ok, err := s.Get(ctx, "docs", &got); err != nil || !ok {
		t.Fatalf("entry aged ttl-1ms should be fresh: ok=%v err=%v", ok, err)
	}

	clock.Advance(2 * time.Millisecond)
	if ok, err := s.Get(ctx, "docs", &got); err != nil || ok {
		t.Fatalf("entry aged ttl+1ms should be absent: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.b.get(ctx, "docs"); ok {
		t.Fatalf("expired entry not purged by the read")
	}
}

func TestIsExpiredReportsWithoutPurging(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if expired, err := s.IsExpired(ctx, "missing"); err != nil || !expired {
		t.Fatalf("absent key should count as expired: expired=%v err=%v", expired, err)
	}

	if err := s.Put(ctx, "docs", 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	if expired, err := s.IsExpired(ctx, "docs"); err != nil || expired {
		t.Fatalf("fresh entry reported expired: expired=%v err=%v", expired, err)
	}

	clock.Advance(DefaultTTL + time.Millisecond)
	if expired, err := s.IsExpired(ctx, "docs"); err != nil || !expired {
		t.Fatalf("stale entry reported fresh: expired=%v err=%v", expired, err)
	}
	if _, ok, _ := s.b.get(ctx, "docs"); !ok {
		t.Fatalf("IsExpired consumed the entry")
	}
}

func TestLegacyEntryFreshOnceThenRestamped(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	raw, err := json.Marshal(entry{Payload: json.RawMessage(`"old"`)})
	if err != nil {
		t.Fatalf("marshal legacy entry: %v", err)
	}
	if err := s.b.set(ctx, "docs", raw, s.ttl); err != nil {
		t.Fatalf("seed legacy entry: %v", err)
	}

	var got string
	ok, err := s.Get(ctx, "docs", &got)
	if err != nil || !ok || got != "old" {
		t.Fatalf("legacy entry should read fresh: ok=%v got=%q err=%v", ok, got, err)
	}

	stored, ok, err := s.b.get(ctx, "docs")
	if err != nil || !ok {
		t.Fatalf("restamped entry missing: ok=%v err=%v", ok, err)
	}
	var env entry
	if err := json.Unmarshal(stored, &env); err != nil {
		t.Fatalf("decode restamped entry: %v", err)
	}
	if env.WrittenAt != clock.Now().UnixMilli() {
		t.Fatalf("entry not restamped: written_at=%d", env.WrittenAt)
	}

	clock.Advance(DefaultTTL + time.Millisecond)
	if ok, _ := s.Get(ctx, "docs", &got); ok {
		t.Fatalf("restamped entry should expire like any other")
	}
}

func TestPurgeExpiredSweepsOnlyStaleKeys(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "stale", 1); err != nil {
		t.Fatalf("put stale: %v", err)
	}
	clock.Advance(DefaultTTL)
	if err := s.Put(ctx, "fresh", 2); err != nil {
		t.Fatalf("put fresh: %v", err)
	}
	clock.Advance(time.Millisecond)

	if err := s.PurgeExpired(ctx, "stale", "fresh", "missing"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok, _ := s.b.get(ctx, "stale"); ok {
		t.Fatalf("stale entry survived purge")
	}
	if _, ok, _ := s.b.get(ctx, "fresh"); !ok {
		t.Fatalf("fresh entry removed by purge")
	}
}

func TestPurgeExpiredDropsUndecodableEntry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.b.set(ctx, "garbled", []byte("{not json"), s.ttl); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.PurgeExpired(ctx, "garbled"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok, _ := s.b.get(ctx, "garbled"); ok {
		t.Fatalf("undecodable entry survived purge")
	}
}

func TestRemoveAllDeletesEveryKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, key, key); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := s.RemoveAll(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if _, ok, _ := s.b.get(ctx, key); ok {
			t.Fatalf("key %s survived RemoveAll", key)
		}
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(Options{Backend: "bolt"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
