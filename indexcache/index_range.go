package indexcache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/goliatone/go-index-cache/cache"
)

func (i *Index[T]) attribute() string {
	return i.decl.Attributes[0]
}

// rangeKey prefixes a key suffix with the indexed attribute.
func (i *Index[T]) rangeKey(suffix string) string {
	return i.attribute() + cache.KeySeparator + suffix
}

// pointKeys lists every trie key containing the attribute value of the record,
// most specific first. Nil and negative values are not keyed.
func (i *Index[T]) pointKeys(t Transition[T], previous bool) ([]string, bool) {
	var raw any
	if previous {
		raw = t.Previous(i.schema, i.attribute())
	} else {
		raw = t.Current(i.schema, i.attribute())
	}
	v, ok := toInt64(raw)
	if !ok || v < 0 {
		return nil, false
	}
	suffixes, err := cache.PointKeys(i.decl.Arity, v)
	if err != nil {
		return nil, false
	}
	keys := make([]string, len(suffixes))
	for n, s := range suffixes {
		keys[n] = i.rangeKey(s)
	}
	return keys, true
}

func (i *Index[T]) rangeAdd(ctx context.Context, t Transition[T]) error {
	keys, ok := i.pointKeys(t, false)
	if !ok {
		return nil
	}
	id, ok := i.id(t, false)
	if !ok {
		return nil
	}
	if i.seedExact(ctx, keys[0], id) {
		keys = keys[1:]
	}
	return i.walk(ctx, keys, func(ids []int64) []int64 {
		return insertID(ids, id, i.decl.Order)
	})
}

// seedExact creates the exact value key holding id when it is absent.
// Wildcard keys are never created by a write.
func (i *Index[T]) seedExact(ctx context.Context, key string, id int64) bool {
	if cache.IsWildcardKey(key) {
		return false
	}
	_, ok, err := cache.GetValue[cache.RangeData](ctx, i.store, key)
	if err != nil || ok {
		return false
	}
	if err := cache.SetValue(ctx, i.store, key, cache.NewRangeData([]int64{id}, ""), i.ttl()); err != nil {
		i.logger.Warn("range key create failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (i *Index[T]) rangeRemove(ctx context.Context, t Transition[T]) error {
	keys, ok := i.pointKeys(t, true)
	if !ok {
		return nil
	}
	id, ok := i.id(t, true)
	if !ok {
		return nil
	}
	return i.walk(ctx, keys, func(ids []int64) []int64 {
		return removeID(ids, id)
	})
}

// walk applies update to every populated node reachable from keys. Absent
// nodes are skipped and placeholders are never filled: a node whose members
// are unknown only forwards the walk to its parent.
func (i *Index[T]) walk(ctx context.Context, keys []string, update func([]int64) []int64) error {
	queue := append([]string(nil), keys...)
	seen := make(map[string]struct{}, len(keys))

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		node, ok, err := cache.GetValue[cache.RangeData](ctx, i.store, key)
		if err != nil || !ok {
			continue
		}
		if node.Parent != "" {
			queue = append(queue, node.Parent)
		}
		if !node.Populated {
			continue
		}
		if err := cache.SetValue(ctx, i.store, key, node.WithData(update(node.Data)), i.ttl()); err != nil {
			i.logger.Warn("range node update failed", zap.String("key", key), zap.Error(err))
			_ = i.store.Expire(ctx, key)
		}
	}
	return nil
}

// expireBranch expires every node reachable from keys, following parent links
// so that coarser collections holding the record are dropped too.
func (i *Index[T]) expireBranch(ctx context.Context, keys []string) error {
	queue := append([]string(nil), keys...)
	seen := make(map[string]struct{}, len(keys))
	var errs []error
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		node, ok, err := cache.GetValue[cache.RangeData](ctx, i.store, key)
		if err == nil && ok && node.Parent != "" {
			queue = append(queue, node.Parent)
		}
		if err := i.store.Expire(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
