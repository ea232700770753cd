package di

import (
	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goliatone/go-index-cache/cache"
	"github.com/goliatone/go-index-cache/indexcache"
	"github.com/goliatone/go-index-cache/repositorycache"
)

// Option customises a Container.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	redis      redis.UniversalClient
}

// WithLogger sets the logger handed to every engine and repository.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers the cache metrics with reg. Without it the metrics
// are still counted but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRedis stores cache entries in redis instead of the in-process store.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// Container provides dependency injection for cache related components.
// It owns the shared cache store, logger, metrics and key serializer, and
// builds engines and cached repositories on top of them.
type Container struct {
	store   cache.Store
	keys    cache.KeySerializer
	config  cache.Config
	logger  *zap.Logger
	metrics *indexcache.Metrics
}

// NewContainer creates a new DI container with the provided cache configuration.
// The store is backed by sturdyc unless WithRedis is given.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store cache.Store
		err   error
	)
	if o.redis != nil {
		store, err = cache.NewRedisStore(o.redis, config)
	} else {
		store, err = cache.NewStore(config)
	}
	if err != nil {
		return nil, err
	}

	metrics, err := indexcache.NewMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	return &Container{
		store:   store,
		keys:    cache.NewDefaultKeySerializer(),
		config:  config,
		logger:  o.logger,
		metrics: metrics,
	}, nil
}

// NewContainerWithDefaults creates a new DI container using default configuration.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// Store returns the singleton cache store shared by every engine.
func (c *Container) Store() cache.Store {
	return c.store
}

// KeySerializer returns the singleton key serializer instance.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keys
}

// Config returns a copy of the cache configuration used by this container.
func (c *Container) Config() cache.Config {
	return c.config
}

func (c *Container) Logger() *zap.Logger          { return c.logger }
func (c *Container) Metrics() *indexcache.Metrics { return c.metrics }

func (c *Container) engineOptions() []indexcache.Option {
	opts := []indexcache.Option{
		indexcache.WithLogger(c.logger),
		indexcache.WithMetrics(c.metrics),
		indexcache.WithKeySerializer(c.keys),
	}
	if c.config.MaxKeyLength > 0 {
		opts = append(opts, indexcache.WithMaxKeyLength(c.config.MaxKeyLength))
	}
	return opts
}

// NewEngine builds an index cache for model T reading misses from records.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewEngine[*Book](container, cfg, records)
func NewEngine[T any](c *Container, cfg indexcache.Config, records indexcache.RecordStore[T], opts ...indexcache.Option) (*indexcache.Engine[T], error) {
	return indexcache.New[T](cfg, c.store, records, append(c.engineOptions(), opts...)...)
}

// NewCachedRepository wires base into an index cache declared by cfg and returns
// the decorated repository. Misses are read back through base.
func NewCachedRepository[T any](c *Container, cfg indexcache.Config, base repository.Repository[T]) (*repositorycache.CachedRepository[T], error) {
	engine, err := NewEngine[T](c, cfg, repositorycache.NewRecordStore(base, cfg.PrimaryKey()))
	if err != nil {
		return nil, err
	}
	return repositorycache.New(base, engine, c.logger), nil
}
