package indexcache

import (
	"cmp"
	"context"
	"reflect"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/goliatone/go-index-cache/cache"
)

// plan is a query the cache can answer.
type plan[T any] struct {
	index  *Index[T]
	where  Conditions
	ranged bool
	rng    cache.Range
	limit  int
	offset int
}

// plan decides whether q can be served from the cache. Any shape it does not
// recognise reports false and the query goes to the record store untouched.
func (e *Engine[T]) plan(q Query) (*plan[T], bool) {
	if q.Readonly || len(q.Select) > 0 || len(q.Joins) > 0 || len(q.Group) > 0 {
		return nil, false
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, false
	}

	where := make(Conditions, len(q.Where))
	for k, v := range q.Where {
		where[k] = v
	}
	if q.SQL != "" || len(q.Args) > 0 {
		terms, ok := parseConditions(q.SQL, q.Args, e.schema.Table(), e.schema.Cast)
		if !ok {
			return nil, false
		}
		for k, v := range terms {
			if _, dup := where[k]; dup {
				return nil, false
			}
			where[k] = v
		}
	}
	if len(where) == 0 {
		return nil, false
	}

	p := &plan[T]{where: where, limit: q.Limit, offset: q.Offset}
	attrs := make([]string, 0, len(where))
	rangeAttr := ""
	for attr, v := range where {
		if !e.schema.HasColumn(attr) || !cacheableValue(v) {
			return nil, false
		}
		if r, ok := v.(cache.Range); ok {
			if p.ranged {
				return nil, false
			}
			p.ranged, p.rng, rangeAttr = true, r, attr
		}
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	idx := e.indexFor(attrs)
	if idx == nil {
		return nil, false
	}
	p.index = idx

	if idx.Ranges() {
		if !p.ranged {
			// equality on a range index is the single value range
			v, ok := toInt64(where[idx.attribute()])
			if !ok {
				return nil, false
			}
			p.ranged, p.rng, rangeAttr = true, cache.NewRange(v, v), idx.attribute()
		}
		if rangeAttr != idx.attribute() || p.rng.First < 0 || p.rng.Last < 0 {
			return nil, false
		}
	} else if p.ranged {
		return nil, false
	}

	if !e.orderMatches(q.Order, idx) {
		return nil, false
	}
	if limit := idx.Decl().Limit; limit > 0 {
		if q.Limit <= 0 || q.Limit+q.Offset > limit {
			return nil, false
		}
	}
	return p, true
}

// cacheableValue rejects nil, collections and other values that cannot key
// an entry. Byte slices and range values are accepted.
func cacheableValue(v any) bool {
	if v == nil {
		return false
	}
	switch v.(type) {
	case cache.Range, []byte:
		return true
	case []cache.Range:
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Func, reflect.Chan:
		return false
	}
	return true
}

func (e *Engine[T]) orderMatches(order string, idx *Index[T]) bool {
	if order == "" {
		return idx.Decl().Order == Ascending
	}
	table, column, dir, ok := parseOrder(order)
	if !ok {
		return false
	}
	if table != "" && table != e.schema.Table() {
		return false
	}
	return column == e.cfg.PrimaryKey() && dir == idx.Decl().Order
}

func (e *Engine[T]) indexFor(attrs []string) *Index[T] {
	for _, idx := range e.indices {
		if idx.Decl().sameAttributes(attrs) {
			return idx
		}
	}
	return nil
}

func (e *Engine[T]) execute(ctx context.Context, p *plan[T]) ([]T, error) {
	switch {
	case p.ranged:
		return e.executeRange(ctx, p)
	case p.index.IsPrimary():
		return e.executePrimary(ctx, p)
	default:
		return e.executePlain(ctx, p)
	}
}

func (e *Engine[T]) executePrimary(ctx context.Context, p *plan[T]) ([]T, error) {
	key, _ := p.index.Key(p.where)
	records, hit, err := cache.GetOrFetch[[]T](ctx, e.store, key, p.index.ttl(), func(ctx context.Context) ([]T, error) {
		return p.index.fetch(ctx, p.where)
	})
	if err != nil {
		return nil, err
	}
	e.count(hit, 1)
	return page(records, p.offset, p.limit), nil
}

func (e *Engine[T]) executePlain(ctx context.Context, p *plan[T]) ([]T, error) {
	key, _ := p.index.Key(p.where)
	ids, ok, err := cache.GetValue[[]int64](ctx, e.store, key)
	if err == nil && ok {
		e.count(true, 1)
		return e.resolve(ctx, page(ids, p.offset, p.limit), nil)
	}

	e.count(false, 1)
	records, err := p.index.fetch(ctx, p.where)
	if err != nil {
		return nil, err
	}
	ids = p.index.idsOf(records)
	e.logger.Debug("populating index key", zap.String("key", key), zap.Int("ids", len(ids)))
	_ = cache.SetValue(ctx, e.store, key, ids, p.index.ttl())
	fetched := e.prime(ctx, records)
	return e.resolve(ctx, page(ids, p.offset, p.limit), fetched)
}

func (e *Engine[T]) executeRange(ctx context.Context, p *plan[T]) ([]T, error) {
	idx := p.index
	suffixes, err := cache.RangeCacheKeys(idx.Decl().Arity, p.rng)
	if err != nil || len(suffixes) == 0 {
		return []T{}, err
	}
	keys := make([]string, len(suffixes))
	for n, s := range suffixes {
		keys[n] = idx.rangeKey(s)
	}

	nodes, err := cache.GetValues[cache.RangeData](ctx, e.store, keys)
	if err != nil {
		nodes = map[string]cache.RangeData{}
	}

	var ids []int64
	var missedKeys []string
	for _, key := range keys {
		if node, ok := nodes[key]; ok && node.Populated {
			ids = append(ids, node.Data...)
			continue
		}
		missedKeys = append(missedKeys, key)
	}
	e.count(true, len(keys)-len(missedKeys))
	e.count(false, len(missedKeys))

	var fetched map[int64]T
	if len(missedKeys) > 0 {
		found, byKey, err := e.populateRange(ctx, idx, missedKeys)
		if err != nil {
			return nil, err
		}
		for _, key := range missedKeys {
			ids = append(ids, byKey[key]...)
		}
		fetched = e.prime(ctx, found)
	}

	ids = sortIDs(ids, idx.Decl().Order)
	return e.resolve(ctx, page(ids, p.offset, p.limit), fetched)
}

type rangeMember struct {
	id    int64
	value int64
}

// populateRange loads the records of every missed key with a single query and
// writes a populated node per key.
func (e *Engine[T]) populateRange(ctx context.Context, idx *Index[T], keys []string) ([]T, map[string][]int64, error) {
	arity := idx.Decl().Arity
	ranges := make([]cache.Range, len(keys))
	for n, key := range keys {
		r, err := cache.RangeFromKey(arity, key)
		if err != nil {
			return nil, nil, err
		}
		ranges[n] = r
	}

	records, err := e.records.Find(ctx, Query{
		Where: Conditions{idx.attribute(): ranges},
		Order: orderClause(idx.attribute(), Ascending),
	})
	if err != nil {
		return nil, nil, err
	}

	members := make([]rangeMember, 0, len(records))
	for _, r := range records {
		id, ok := e.schema.Int(r, e.cfg.PrimaryKey())
		if !ok {
			continue
		}
		v, ok := e.schema.Int(r, idx.attribute())
		if !ok {
			continue
		}
		members = append(members, rangeMember{id: id, value: v})
	}
	slices.SortFunc(members, func(a, b rangeMember) int {
		if c := cmp.Compare(a.value, b.value); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	byKey := make(map[string][]int64, len(keys))
	for n, key := range keys {
		var ids []int64
		for _, m := range members {
			if ranges[n].Contains(m.value) {
				ids = append(ids, m.id)
			}
		}
		ids = sortIDs(ids, idx.Decl().Order)
		byKey[key] = ids

		e.logger.Debug("populating range key", zap.String("key", key), zap.Int("ids", len(ids)))
		if cache.IsLeftBranch(key) {
			e.setLeftBranch(ctx, idx, key, ids)
			continue
		}
		_ = cache.SetValue(ctx, e.store, key, cache.NewRangeData(ids, ""), idx.ttl())
	}
	return records, byKey, nil
}

// setLeftBranch populates an all-wildcard key and links the shorter
// all-wildcard keys below it. Absent nodes become placeholders pointing at the
// previous key and parentless nodes adopt it; the walk stops at the first node
// that is already linked.
func (e *Engine[T]) setLeftBranch(ctx context.Context, idx *Index[T], key string, ids []int64) {
	parent := ""
	if root, ok, err := cache.GetValue[cache.RangeData](ctx, e.store, key); err == nil && ok {
		parent = root.Parent
	}
	_ = cache.SetValue(ctx, e.store, key, cache.NewRangeData(ids, parent), idx.ttl())

	prev := key
	for s := suffix(key); len(s) > 1; {
		s = s[:len(s)-1]
		child := idx.rangeKey(s)

		node, ok, err := cache.GetValue[cache.RangeData](ctx, e.store, child)
		if err != nil {
			return
		}
		switch {
		case !ok:
			_ = cache.SetValue(ctx, e.store, child, cache.PendingRangeData(prev), idx.ttl())
		case node.Parent == "":
			_ = cache.SetValue(ctx, e.store, child, node.WithParent(prev), idx.ttl())
		default:
			return
		}
		prev = child
	}
}

func suffix(key string) string {
	for n := len(key) - 1; n >= 0; n-- {
		if key[n] == '/' {
			return key[n+1:]
		}
	}
	return key
}

// prime stores fetched records under their primary-key entries and returns
// them by id.
func (e *Engine[T]) prime(ctx context.Context, records []T) map[int64]T {
	out := make(map[int64]T, len(records))
	for _, r := range records {
		id, ok := e.schema.Int(r, e.cfg.PrimaryKey())
		if !ok {
			continue
		}
		out[id] = r
		if key, ok := e.primary.Key(Conditions{e.cfg.PrimaryKey(): id}); ok {
			_ = cache.SetValue(ctx, e.store, key, []T{r}, e.primary.ttl())
		}
	}
	return out
}

// resolve turns ids into records, keeping their order. Records already at hand
// are used first; the rest go through the primary-key index.
func (e *Engine[T]) resolve(ctx context.Context, ids []int64, known map[int64]T) ([]T, error) {
	var missing []int64
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		found, err := e.findByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		if known == nil {
			known = make(map[int64]T, len(found))
		}
		for id, r := range found {
			known[id] = r
		}
	}

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if r, ok := known[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *Engine[T]) count(hit bool, n int) {
	if hit {
		e.metrics.hit(e.cfg.Name(), n)
	} else {
		e.metrics.miss(e.cfg.Name(), n)
	}
}

func page[E any](items []E, offset, limit int) []E {
	if offset >= len(items) {
		return []E{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
