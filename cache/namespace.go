package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultMaxKeyLength mirrors the memcached key limit.
const DefaultMaxKeyLength = 250

// DigestMarker prefixes the digest segment of keys that were too long to store.
const DigestMarker = "#"

// NamespacedStore scopes every key of a base Store under a fixed prefix.
//
// Keys longer than the configured maximum are replaced by "<namespace>/#<xxhash>".
// Digested keys still live under the namespace, so DeleteByPrefix("") drops them,
// but a narrower prefix will not match them.
type NamespacedStore struct {
	base         Store
	namespace    string
	maxKeyLength int
}

// WithNamespace wraps base so every key is stored under namespace. A maxKeyLength
// of zero or less disables digesting.
func WithNamespace(base Store, namespace string, maxKeyLength int) *NamespacedStore {
	return &NamespacedStore{base: base, namespace: namespace, maxKeyLength: maxKeyLength}
}

// Namespace returns the prefix applied to every key.
func (s *NamespacedStore) Namespace() string {
	return s.namespace
}

// Key returns the physical key used for key.
func (s *NamespacedStore) Key(key string) string {
	full := s.namespace + "/" + key
	if s.maxKeyLength > 0 && len(full) > s.maxKeyLength {
		return s.namespace + "/" + DigestMarker + strconv.FormatUint(xxhash.Sum64String(key), 16)
	}
	return full
}

func (s *NamespacedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.base.Get(ctx, s.Key(key))
}

func (s *NamespacedStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	physical := make([]string, len(keys))
	logical := make(map[string]string, len(keys))
	for i, k := range keys {
		physical[i] = s.Key(k)
		logical[physical[i]] = k
	}

	found, err := s.base.GetMany(ctx, physical)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(found))
	for k, v := range found {
		out[logical[k]] = v
	}
	return out, nil
}

func (s *NamespacedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.base.Set(ctx, s.Key(key), value, ttl)
}

func (s *NamespacedStore) IncrBy(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.base.IncrBy(ctx, s.Key(key), delta)
}

func (s *NamespacedStore) AddCounter(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	return s.base.AddCounter(ctx, s.Key(key), value, ttl)
}

func (s *NamespacedStore) Expire(ctx context.Context, key string) error {
	return s.base.Expire(ctx, s.Key(key))
}

func (s *NamespacedStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	return s.base.DeleteByPrefix(ctx, s.namespace+"/"+strings.TrimPrefix(prefix, "/"))
}
