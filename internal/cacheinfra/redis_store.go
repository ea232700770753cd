package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// incrIfExists increments a counter only when it is already present, so a
// missing counter is reported instead of silently starting from zero.
var incrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return {1, redis.call("INCRBY", KEYS[1], ARGV[1])}
end
return {0, 0}
`)

// scanCount is the COUNT hint used while iterating keys for prefix deletes.
const scanCount = 500

// RedisStore is a store backed by redis. Values and counters share the key space.
type RedisStore struct {
	cfg    Config
	client redis.UniversalClient
}

// NewRedisStore builds a store on client. Only cfg.TTL is used.
func NewRedisStore(client redis.UniversalClient, cfg Config) (*RedisStore, error) {
	if client == nil {
		return nil, goerrors.New("redis client cannot be nil", goerrors.CategoryBadInput)
	}
	if cfg.TTL <= 0 {
		return nil, goerrors.NewValidationFromMap("invalid cache config", map[string]string{
			"TTL": "must be greater than 0",
		})
	}
	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapRedis(err, "get")
	}
	return value, true, nil
}

func (s *RedisStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapRedis(err, "mget")
	}
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[keys[i]] = []byte(str)
		}
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, s.cfg.ttlFor(ttl)).Err(); err != nil {
		return wrapRedis(err, "set")
	}
	return nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, bool, error) {
	res, err := incrIfExists.Run(ctx, s.client, []string{key}, delta).Int64Slice()
	if err != nil {
		return 0, false, wrapRedis(err, "incrby")
	}
	if len(res) != 2 || res[0] != 1 {
		return 0, false, nil
	}
	return res[1], true, nil
}

func (s *RedisStore) AddCounter(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	added, err := s.client.SetNX(ctx, key, value, s.cfg.ttlFor(ttl)).Result()
	if err != nil {
		return false, wrapRedis(err, "setnx")
	}
	return added, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrapRedis(err, "del")
	}
	return nil
}

// DeleteByPrefix scans for keys matching prefix and deletes them in batches.
// On a cluster client only the node serving the scan is visited.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()

	batch := make([]string, 0, scanCount)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return wrapRedis(err, "del")
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return wrapRedis(err, "scan")
	}
	return flush()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

func wrapRedis(err error, op string) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "redis "+op+" failed")
}
