package indexcache

import (
	"context"
	"errors"
	"strconv"

	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"

	"github.com/goliatone/go-index-cache/cache"
)

// Option customises an Engine.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	metrics      *Metrics
	maxKeyLength int
	keys         cache.KeySerializer
}

// WithLogger sets the logger used for cache failures and populations.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records cache traffic on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxKeyLength overrides the length above which keys are digested.
func WithMaxKeyLength(n int) Option {
	return func(o *options) { o.maxKeyLength = n }
}

// WithKeySerializer replaces the serializer rendering attribute values in keys.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(o *options) {
		if s != nil {
			o.keys = s
		}
	}
}

// Engine keeps the declared indices of model T consistent with the record
// store and answers queries from them.
type Engine[T any] struct {
	cfg     Config
	schema  *Schema[T]
	store   cache.Store
	records RecordStore[T]
	indices []*Index[T]
	primary *Index[T]
	logger  *zap.Logger
	metrics *Metrics
}

// New validates cfg against T and builds an engine caching into store under
// the model namespace.
func New[T any](cfg Config, store cache.Store, records RecordStore[T], opts ...Option) (*Engine[T], error) {
	if store == nil || records == nil {
		return nil, goerrors.New("index cache requires a cache store and a record store", goerrors.CategoryBadInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	schema, err := NewSchema[T]()
	if err != nil {
		return nil, err
	}
	if err := checkColumns(cfg, schema); err != nil {
		return nil, err
	}

	o := options{
		logger:       zap.NewNop(),
		maxKeyLength: cache.DefaultMaxKeyLength,
		keys:         cache.NewDefaultKeySerializer(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("model", cfg.Name()))

	e := &Engine[T]{
		cfg:    cfg,
		schema: schema,
		store: &observedStore{
			base:    cache.WithNamespace(store, cfg.Namespace(), o.maxKeyLength),
			model:   cfg.Name(),
			logger:  logger,
			metrics: o.metrics,
		},
		records: &countingStore[T]{base: records, model: cfg.Name(), metrics: o.metrics},
		logger:  logger,
		metrics: o.metrics,
	}

	for n, decl := range cfg.Indices() {
		idx := &Index[T]{
			decl:    decl,
			primary: n == 0,
			pk:      cfg.PrimaryKey(),
			schema:  schema,
			store:   e.store,
			records: e.records,
			keys:    o.keys,
			logger:  logger.With(zap.String("index", decl.Name())),
		}
		e.indices = append(e.indices, idx)
	}
	e.primary = e.indices[0]
	return e, nil
}

func checkColumns[T any](cfg Config, schema *Schema[T]) error {
	fields := map[string]string{}
	if !schema.HasColumn(cfg.PrimaryKey()) {
		fields["primary_key"] = "unknown column " + cfg.PrimaryKey()
	}
	for n, d := range cfg.Indices() {
		for _, attr := range d.Attributes {
			if !schema.HasColumn(attr) {
				fields["indices."+strconv.Itoa(n)] = "unknown column " + attr
			}
		}
	}
	if len(fields) > 0 {
		return goerrors.NewValidationFromMap("invalid index cache config for "+cfg.Name(), fields)
	}
	return nil
}

func (e *Engine[T]) Config() Config       { return e.cfg }
func (e *Engine[T]) Schema() *Schema[T]   { return e.schema }
func (e *Engine[T]) Indices() []*Index[T] { return e.indices }

// Create adds a newly stored record to every index.
func (e *Engine[T]) Create(ctx context.Context, record T) error {
	t := Transition[T]{Record: record}
	return e.each(func(idx *Index[T]) error { return idx.Add(ctx, t) })
}

// Update applies changes, the attribute diff between the stored versions of
// record, to every index.
func (e *Engine[T]) Update(ctx context.Context, record T, changes Changes) error {
	t := Transition[T]{Record: record, Changes: changes}
	return e.each(func(idx *Index[T]) error { return idx.Update(ctx, t) })
}

// UpdateFrom diffs before and after and applies the result.
func (e *Engine[T]) UpdateFrom(ctx context.Context, before, after T) error {
	return e.Update(ctx, after, Diff(e.schema, before, after))
}

// Destroy removes a deleted record from every index.
func (e *Engine[T]) Destroy(ctx context.Context, record T) error {
	t := Transition[T]{Record: record}
	return e.each(func(idx *Index[T]) error { return idx.Remove(ctx, t) })
}

// Expire drops every entry record is keyed under.
func (e *Engine[T]) Expire(ctx context.Context, record T) error {
	t := Transition[T]{Record: record}
	return e.each(func(idx *Index[T]) error { return idx.Delete(ctx, t) })
}

// Flush drops every entry of the model namespace.
func (e *Engine[T]) Flush(ctx context.Context) error {
	e.logger.Debug("flushing model cache")
	return e.store.DeleteByPrefix(ctx, "")
}

// Perform answers q from the cache when possible and from the record store
// otherwise.
func (e *Engine[T]) Perform(ctx context.Context, q Query) ([]T, error) {
	p, ok := e.plan(q)
	if !ok {
		e.metrics.uncacheable(e.cfg.Name())
		return e.records.Find(ctx, q)
	}
	return e.execute(ctx, p)
}

// FindByIDs returns the records with the given ids in the order requested.
// Unknown ids are skipped and not cached.
func (e *Engine[T]) FindByIDs(ctx context.Context, ids ...int64) ([]T, error) {
	found, err := e.findByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if r, ok := found[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *Engine[T]) findByIDs(ctx context.Context, ids []int64) (map[int64]T, error) {
	keys := make([]string, 0, len(ids))
	byKey := make(map[string]int64, len(ids))
	for _, id := range ids {
		key, ok := e.primary.Key(Conditions{e.cfg.PrimaryKey(): id})
		if !ok {
			continue
		}
		if _, dup := byKey[key]; !dup {
			keys = append(keys, key)
		}
		byKey[key] = id
	}

	missedKeys := 0
	entries, err := cache.GetOrFetchMany[[]T](ctx, e.store, keys, e.primary.ttl(), func(ctx context.Context, missed []string) (map[string][]T, error) {
		missedKeys = len(missed)
		want := make([]int64, len(missed))
		for n, key := range missed {
			want[n] = byKey[key]
		}
		records, err := e.records.FindByIDs(ctx, want)
		if err != nil {
			return nil, err
		}
		out := make(map[string][]T, len(records))
		for _, r := range records {
			id, ok := e.schema.Int(r, e.cfg.PrimaryKey())
			if !ok {
				continue
			}
			if key, ok := e.primary.Key(Conditions{e.cfg.PrimaryKey(): id}); ok {
				out[key] = []T{r}
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	e.count(true, len(keys)-missedKeys)
	e.count(false, missedKeys)

	out := make(map[int64]T, len(entries))
	for key, records := range entries {
		if len(records) > 0 {
			out[byKey[key]] = records[0]
		}
	}
	return out, nil
}

// each runs fn on every index. A failure on one index does not stop the
// others; all failures are returned together.
func (e *Engine[T]) each(fn func(*Index[T]) error) error {
	var errs []error
	for _, idx := range e.indices {
		if err := fn(idx); err != nil {
			errs = append(errs, err)
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return errors.Join(errs...)
}
