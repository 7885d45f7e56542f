// Package cache is the expiring local store for guest datasets. Every entry
// carries a write stamp; entries older than the TTL are treated as absent and
// purged by the read that discovers them, so stale guest data is never served
// no matter how long the process was away.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// DefaultTTL is how long a cached dataset stays fresh.
const DefaultTTL = 24 * time.Hour

// backend is the raw key/value surface each storage engine provides. Values
// are opaque envelope bytes; freshness decisions stay in Store.
type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, keys ...string) error
	close() error
}

// entry is the stored envelope. WrittenAt is a millisecond timestamp; zero
// marks an entry written before stamping existed.
type entry struct {
	Payload   json.RawMessage `json:"payload"`
	WrittenAt int64           `json:"written_at,omitempty"`
}

// Store is a TTL'd key/value cache over one of the configured backends.
type Store struct {
	b     backend
	clock Clock
	ttl   time.Duration
}

// Options selects and configures a cache backend.
type Options struct {
	Backend  string // memory, sqlite3, mysql or redis
	DSN      string // sqlite3/mysql data source
	Addr     string // redis address as host:port
	Username string
	Password string
	DB       int
	TTL      time.Duration // zero means DefaultTTL
	Clock    Clock         // nil means RealClock
}

// Open builds a Store for the configured backend.
func Open(opts Options) (*Store, error) {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var (
		b   backend
		err error
	)
	switch strings.ToLower(opts.Backend) {
	case "", "memory":
		b = newMemoryBackend()
	case "sqlite", "sqlite3", "mysql":
		b, err = openSQLBackend(opts.Backend, opts.DSN)
	case "redis":
		b, err = openRedisBackend(opts)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return &Store{b: b, clock: clock, ttl: ttl}, nil
}

// Put stores payload under key with a fresh write stamp.
func (s *Store) Put(ctx context.Context, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload %s: %w", key, err)
	}
	env, err := json.Marshal(entry{Payload: raw, WrittenAt: s.clock.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}
	return s.b.set(ctx, key, env, s.ttl)
}

// Get loads key into dest, reporting false when the key is absent or past its
// TTL. An expired entry is removed on the spot. An entry with no write stamp
// is served fresh exactly once and restamped so the TTL applies from now on.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := s.b.get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	var env entry
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	if env.WrittenAt == 0 {
		env.WrittenAt = s.clock.Now().UnixMilli()
		if restamped, err := json.Marshal(env); err == nil {
			if err := s.b.set(ctx, key, restamped, s.ttl); err != nil {
				log.Printf("cache: restamp %s failed: %v", key, err)
			}
		}
	} else if s.expired(env.WrittenAt) {
		if err := s.b.del(ctx, key); err != nil {
			log.Printf("cache: purge expired %s failed: %v", key, err)
		}
		return false, nil
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		return false, fmt.Errorf("decode cache payload %s: %w", key, err)
	}
	return true, nil
}

// IsExpired reports whether key is absent or past its TTL without touching the
// stored entry. Unstamped entries count as fresh, matching what Get would do.
func (s *Store) IsExpired(ctx context.Context, key string) (bool, error) {
	raw, ok, err := s.b.get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	var env entry
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	if env.WrittenAt == 0 {
		return false, nil
	}
	return s.expired(env.WrittenAt), nil
}

// Remove deletes key regardless of freshness.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.b.del(ctx, key)
}

// RemoveAll deletes every given key regardless of freshness.
func (s *Store) RemoveAll(ctx context.Context, keys ...string) error {
	return s.b.del(ctx, keys...)
}

// PurgeExpired removes any of the given keys whose entries are past the TTL.
// An undecodable entry counts as expired. Run at application start so stale
// guest data does not outlive a restart.
func (s *Store) PurgeExpired(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		raw, ok, err := s.b.get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var env entry
		if err := json.Unmarshal(raw, &env); err == nil && (env.WrittenAt == 0 || !s.expired(env.WrittenAt)) {
			continue
		}
		if err := s.b.del(ctx, key); err != nil {
			return fmt.Errorf("purge cache entry %s: %w", key, err)
		}
	}
	return nil
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.b.close()
}

// expired applies the strict-past-TTL rule: an entry aged exactly TTL is
// still fresh.
func (s *Store) expired(writtenAt int64) bool {
	return s.clock.Now().UnixMilli()-writtenAt > s.ttl.Milliseconds()
}
