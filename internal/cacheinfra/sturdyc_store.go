package cacheinfra

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"
)

// entry carries a value with its own expiry, since sturdyc only knows the
// client wide TTL.
type entry struct {
	value     []byte
	expiresAt time.Time
}

type counter struct {
	value     int64
	expiresAt time.Time
}

// SturdycStore is an in-process store. Values live in a sharded sturdyc client;
// counters live in an xsync map so increments are atomic per key.
type SturdycStore struct {
	cfg      Config
	client   *sturdyc.Client[entry]
	counters *xsync.MapOf[string, counter]
	now      func() time.Time
}

// NewSturdycStore validates cfg and builds the store.
func NewSturdycStore(cfg Config) (*SturdycStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var options []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		options...,
	)

	return &SturdycStore{
		cfg:      cfg,
		client:   client,
		counters: xsync.NewMapOf[string, counter](),
		now:      time.Now,
	}, nil
}

func (s *SturdycStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		s.client.Delete(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *SturdycStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok, _ := s.Get(ctx, key); ok {
			out[key] = v
		}
	}
	return out, nil
}

func (s *SturdycStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.client.Set(key, entry{value: stored, expiresAt: s.now().Add(s.cfg.ttlFor(ttl))})
	return nil
}

func (s *SturdycStore) IncrBy(ctx context.Context, key string, delta int64) (int64, bool, error) {
	now := s.now()
	var (
		result int64
		found  bool
	)
	s.counters.Compute(key, func(old counter, loaded bool) (counter, bool) {
		if !loaded || !now.Before(old.expiresAt) {
			return old, true
		}
		old.value += delta
		result, found = old.value, true
		return old, false
	})
	return result, found, nil
}

func (s *SturdycStore) AddCounter(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	now := s.now()
	added := false
	s.counters.Compute(key, func(old counter, loaded bool) (counter, bool) {
		if loaded && now.Before(old.expiresAt) {
			return old, false
		}
		added = true
		return counter{value: value, expiresAt: now.Add(s.cfg.ttlFor(ttl))}, false
	})
	return added, nil
}

func (s *SturdycStore) Expire(ctx context.Context, key string) error {
	s.client.Delete(key)
	s.counters.Delete(key)
	return nil
}

// DeleteByPrefix removes all values and counters whose key starts with prefix.
func (s *SturdycStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}

	now := s.now()
	s.counters.Range(func(key string, c counter) bool {
		if strings.HasPrefix(key, prefix) || !now.Before(c.expiresAt) {
			s.counters.Delete(key)
		}
		return true
	})
	return nil
}

// Size returns the number of values held, expired entries included until evicted.
func (s *SturdycStore) Size() int {
	return s.client.Size()
}
