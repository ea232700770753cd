package indexcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-index-cache/cache"
)

// observedStore turns cache store failures into misses. Every failure is
// logged and counted, then the caller proceeds as if the key were absent.
type observedStore struct {
	base    cache.Store
	model   string
	logger  *zap.Logger
	metrics *Metrics
}

var _ cache.Store = (*observedStore)(nil)

func (s *observedStore) fail(op, key string, err error) {
	s.logger.Warn("cache store failure",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
	s.metrics.cacheError(s.model, op)
}

func (s *observedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := s.base.Get(ctx, key)
	if err != nil {
		s.fail("get", key, err)
		return nil, false, nil
	}
	return v, ok, nil
}

func (s *observedStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out, err := s.base.GetMany(ctx, keys)
	if err != nil {
		first := ""
		if len(keys) > 0 {
			first = keys[0]
		}
		s.fail("get_many", first, err)
		return map[string][]byte{}, nil
	}
	return out, nil
}

func (s *observedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.base.Set(ctx, key, value, ttl); err != nil {
		s.fail("set", key, err)
	}
	return nil
}

func (s *observedStore) IncrBy(ctx context.Context, key string, delta int64) (int64, bool, error) {
	v, ok, err := s.base.IncrBy(ctx, key, delta)
	if err != nil {
		s.fail("incr", key, err)
		return 0, false, nil
	}
	return v, ok, nil
}

func (s *observedStore) AddCounter(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	added, err := s.base.AddCounter(ctx, key, value, ttl)
	if err != nil {
		s.fail("add_counter", key, err)
		return false, nil
	}
	return added, nil
}

func (s *observedStore) Expire(ctx context.Context, key string) error {
	if err := s.base.Expire(ctx, key); err != nil {
		s.fail("expire", key, err)
	}
	return nil
}

func (s *observedStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if err := s.base.DeleteByPrefix(ctx, prefix); err != nil {
		s.fail("delete_prefix", prefix, err)
	}
	return nil
}
