package cache

import (
	"time"

	"github.com/goliatone/go-index-cache/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration

	// Namespace, when set, prefixes every key written through the store.
	Namespace string
	// MaxKeyLength bounds physical key length; longer keys are digested.
	MaxKeyLength int
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.MaxKeyLength = DefaultMaxKeyLength
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewStore constructs the in-process store backed by sturdyc.
func NewStore(cfg Config) (Store, error) {
	store, err := cacheinfra.NewSturdycStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return cfg.wrap(store), nil
}

// NewRedisStore constructs a store backed by a redis client. Only TTL, Namespace
// and MaxKeyLength apply to redis.
func NewRedisStore(client redis.UniversalClient, cfg Config) (Store, error) {
	store, err := cacheinfra.NewRedisStore(client, cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return cfg.wrap(store), nil
}

func (c Config) wrap(s Store) Store {
	if c.Namespace == "" {
		return s
	}
	return WithNamespace(s, c.Namespace, c.MaxKeyLength)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
