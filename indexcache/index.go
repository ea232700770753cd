package indexcache

import (
	"cmp"
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-index-cache/cache"
)

// CountSuffix names the counter kept next to a plain index key.
const CountSuffix = "/count"

// Index maintains the cached entries of one declared index. Keys are built from
// the indexed attribute values; plain indices store ordered primary keys, the
// primary-key index stores the record itself and range indices store a trie
// of cache.RangeData nodes.
type Index[T any] struct {
	decl    IndexDecl
	primary bool
	pk      string
	schema  *Schema[T]
	store   cache.Store
	records RecordStore[T]
	keys    cache.KeySerializer
	logger  *zap.Logger
}

// Decl returns the declaration the index was built from.
func (i *Index[T]) Decl() IndexDecl { return i.decl }

// Attributes lists the indexed columns in key order.
func (i *Index[T]) Attributes() []string { return i.decl.Attributes }

// IsPrimary reports whether this is the primary key index.
func (i *Index[T]) IsPrimary() bool { return i.primary }

// Ranges reports whether the index is a range trie.
func (i *Index[T]) Ranges() bool { return i.decl.Ranges }

func (i *Index[T]) ttl() time.Duration { return i.decl.TTL }

// Key builds the cache key of the index for the given attribute values. It
// reports false when a value is missing or cannot key an entry.
func (i *Index[T]) Key(values Conditions) (string, bool) {
	pairs := make([]cache.Pair, 0, len(i.decl.Attributes))
	for _, attr := range i.decl.Attributes {
		v, ok := values[attr]
		if !ok {
			return "", false
		}
		pairs = append(pairs, cache.Pair{Attribute: attr, Value: v})
	}
	return i.keys.SerializeKey(pairs...)
}

func (i *Index[T]) values(t Transition[T], previous bool) Conditions {
	out := make(Conditions, len(i.decl.Attributes))
	for _, attr := range i.decl.Attributes {
		if previous {
			out[attr] = t.Previous(i.schema, attr)
		} else {
			out[attr] = t.Current(i.schema, attr)
		}
	}
	return out
}

func (i *Index[T]) id(t Transition[T], previous bool) (int64, bool) {
	if previous {
		return toInt64(t.Previous(i.schema, i.pk))
	}
	return toInt64(t.Current(i.schema, i.pk))
}

// Add records the current state of t.Record in the index.
func (i *Index[T]) Add(ctx context.Context, t Transition[T]) error {
	if i.decl.Ranges {
		return i.rangeAdd(ctx, t)
	}
	values := i.values(t, false)
	key, ok := i.Key(values)
	if !ok {
		return nil
	}
	if i.primary {
		return cache.SetValue(ctx, i.store, key, []T{t.Record}, i.ttl())
	}

	id, ok := i.id(t, false)
	if !ok {
		return nil
	}
	if err := i.insert(ctx, key, values, id); err != nil {
		return i.abandon(ctx, key, err)
	}
	if _, err := cache.Incr(ctx, i.store, key+CountSuffix, i.ttl(), i.counter(values)); err != nil {
		return i.abandon(ctx, key, err)
	}
	return nil
}

// Update moves the record between keys when an indexed attribute changed and
// otherwise refreshes the entries that carry record data or bounded windows.
func (i *Index[T]) Update(ctx context.Context, t Transition[T]) error {
	if t.Changes.Changed(i.decl.Attributes...) || t.Changes.Changed(i.pk) {
		if err := i.Remove(ctx, t); err != nil {
			return err
		}
		return i.Add(ctx, t)
	}

	switch {
	case i.decl.Ranges:
		return nil
	case i.primary:
		return i.Add(ctx, t)
	case i.decl.Window() > 0:
		values := i.values(t, false)
		key, ok := i.Key(values)
		if !ok {
			return nil
		}
		id, ok := i.id(t, false)
		if !ok {
			return nil
		}
		if err := i.insert(ctx, key, values, id); err != nil {
			return i.abandon(ctx, key, err)
		}
	}
	return nil
}

// Remove takes the previous state of t.Record out of the index.
func (i *Index[T]) Remove(ctx context.Context, t Transition[T]) error {
	if i.decl.Ranges {
		return i.rangeRemove(ctx, t)
	}
	values := i.values(t, true)
	key, ok := i.Key(values)
	if !ok {
		return nil
	}
	if i.primary {
		return cache.SetValue(ctx, i.store, key, []T{}, i.ttl())
	}

	id, ok := i.id(t, true)
	if !ok {
		return nil
	}
	ids, err := i.load(ctx, key, values)
	if err != nil {
		return i.abandon(ctx, key, err)
	}
	ids = removeID(ids, id)

	count, err := cache.Decr(ctx, i.store, key+CountSuffix, i.ttl(), i.counter(values))
	if err != nil {
		return i.abandon(ctx, key, err)
	}
	if limit := i.decl.Limit; limit > 0 && len(ids) < limit && int64(len(ids)) < count {
		i.logger.Debug("refilling index window",
			zap.String("key", key),
			zap.Int("cached", len(ids)),
			zap.Int64("count", count),
		)
		if ids, err = i.fetchIDs(ctx, values); err != nil {
			return i.abandon(ctx, key, err)
		}
	}
	return cache.SetValue(ctx, i.store, key, ids, i.ttl())
}

// Delete expires every entry the previous state of t.Record is keyed under.
func (i *Index[T]) Delete(ctx context.Context, t Transition[T]) error {
	if i.decl.Ranges {
		keys, ok := i.pointKeys(t, true)
		if !ok {
			return nil
		}
		return i.expireBranch(ctx, keys)
	}
	key, ok := i.Key(i.values(t, true))
	if !ok {
		return nil
	}
	if err := i.store.Expire(ctx, key); err != nil {
		return err
	}
	if !i.primary {
		return i.store.Expire(ctx, key+CountSuffix)
	}
	return nil
}

func (i *Index[T]) insert(ctx context.Context, key string, values Conditions, id int64) error {
	ids, err := i.load(ctx, key, values)
	if err != nil {
		return err
	}
	ids = insertID(ids, id, i.decl.Order)
	if w := i.decl.Window(); w > 0 && len(ids) > w {
		ids = ids[:w]
	}
	return cache.SetValue(ctx, i.store, key, ids, i.ttl())
}

// load returns the ids cached under key, populating the entry on a miss.
func (i *Index[T]) load(ctx context.Context, key string, values Conditions) ([]int64, error) {
	ids, _, err := cache.GetOrFetch[[]int64](ctx, i.store, key, i.ttl(), func(ctx context.Context) ([]int64, error) {
		i.logger.Debug("populating index key", zap.String("key", key))
		return i.fetchIDs(ctx, values)
	})
	return ids, err
}

func (i *Index[T]) fetchIDs(ctx context.Context, values Conditions) ([]int64, error) {
	records, err := i.fetch(ctx, values)
	if err != nil {
		return nil, err
	}
	return i.idsOf(records), nil
}

func (i *Index[T]) fetch(ctx context.Context, values Conditions) ([]T, error) {
	return i.records.Find(ctx, Query{
		Where: values,
		Order: orderClause(i.pk, i.decl.Order),
		Limit: i.decl.Window(),
	})
}

func (i *Index[T]) counter(values Conditions) cache.InitFn {
	return func(ctx context.Context) (int64, error) {
		return i.records.Count(ctx, values)
	}
}

func (i *Index[T]) idsOf(records []T) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if id, ok := i.schema.Int(r, i.pk); ok {
			ids = append(ids, id)
		}
	}
	return sortIDs(ids, i.decl.Order)
}

// abandon expires key after a failed read-modify-write so a later read
// repopulates it from the record store.
func (i *Index[T]) abandon(ctx context.Context, key string, err error) error {
	i.logger.Warn("index update failed, expiring key",
		zap.String("key", key),
		zap.Error(err),
	)
	_ = i.store.Expire(ctx, key)
	return err
}

func compareIDs(order Order) func(a, b int64) int {
	if order == Descending {
		return func(a, b int64) int { return cmp.Compare(b, a) }
	}
	return cmp.Compare[int64]
}

func insertID(ids []int64, id int64, order Order) []int64 {
	pos, found := slices.BinarySearchFunc(ids, id, compareIDs(order))
	if found {
		return ids
	}
	return slices.Insert(slices.Clone(ids), pos, id)
}

func removeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// sortIDs orders ids per order and drops duplicates.
func sortIDs(ids []int64, order Order) []int64 {
	out := slices.Clone(ids)
	slices.SortFunc(out, compareIDs(order))
	return slices.Compact(out)
}
