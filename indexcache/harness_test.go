package indexcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-index-cache/cache"
	"github.com/goliatone/go-index-cache/pkg/testsupport"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID       int64   `bun:"id,pk,autoincrement"`
	Title    string  `bun:"title"`
	AuthorID int64   `bun:"author_id"`
	NumPages int64   `bun:"num_pages"`
	Genre    *string `bun:"genre"`
}

func book(id, author, pages int64) *Book {
	return &Book{ID: id, Title: fmt.Sprintf("book %d", id), AuthorID: author, NumPages: pages}
}

// bookRecords is a RecordStore over a go-memdb table that counts every query.
type bookRecords struct {
	table   *testsupport.MemTable[*Book]
	schema  *Schema[*Book]
	queries atomic.Int64
	fail    error
}

func newBookRecords(t *testing.T, books ...*Book) *bookRecords {
	t.Helper()
	table, err := testsupport.NewMemTable[*Book]("ID", "AuthorID", "NumPages")
	require.NoError(t, err)
	require.NoError(t, table.Put(books...))
	schema, err := NewSchema[*Book]()
	require.NoError(t, err)
	return &bookRecords{table: table, schema: schema}
}

func (r *bookRecords) Queries() int64 {
	return r.queries.Load()
}

func (r *bookRecords) Find(_ context.Context, q Query) ([]*Book, error) {
	r.queries.Add(1)
	if r.fail != nil {
		return nil, r.fail
	}

	where := Conditions{}
	for k, v := range q.Where {
		where[k] = v
	}
	if q.SQL != "" {
		terms, ok := parseConditions(q.SQL, q.Args, r.schema.Table(), r.schema.Cast)
		if !ok {
			return nil, errors.New("unsupported sql " + q.SQL)
		}
		for k, v := range terms {
			where[k] = v
		}
	}

	var out []*Book
	for _, b := range r.table.All() {
		if r.matches(b, where) {
			out = append(out, b)
		}
	}

	column, dir := "id", Ascending
	if q.Order != "" {
		_, c, d, ok := parseOrder(q.Order)
		if !ok {
			return nil, errors.New("unsupported order " + q.Order)
		}
		column, dir = c, d
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := r.schema.Int(out[i], column)
		b, _ := r.schema.Int(out[j], column)
		if a == b {
			return out[i].ID < out[j].ID
		}
		if dir == Descending {
			return a > b
		}
		return a < b
	})
	return page(out, q.Offset, q.Limit), nil
}

func (r *bookRecords) matches(b *Book, where Conditions) bool {
	for column, want := range where {
		got, _ := r.schema.Value(b, column)
		switch w := want.(type) {
		case nil:
			if got != nil {
				return false
			}
		case cache.Range:
			v, ok := toInt64(got)
			if !ok || !w.Contains(v) {
				return false
			}
		case []cache.Range:
			v, ok := toInt64(got)
			if !ok {
				return false
			}
			hit := false
			for _, rg := range w {
				hit = hit || rg.Contains(v)
			}
			if !hit {
				return false
			}
		default:
			a, aok := toInt64(got)
			b, bok := toInt64(want)
			if aok && bok {
				if a != b {
					return false
				}
				continue
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

func (r *bookRecords) FindByIDs(_ context.Context, ids []int64) ([]*Book, error) {
	r.queries.Add(1)
	if r.fail != nil {
		return nil, r.fail
	}
	var out []*Book
	for _, id := range ids {
		if b, ok := r.table.Get(id); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *bookRecords) Count(_ context.Context, where Conditions) (int64, error) {
	r.queries.Add(1)
	if r.fail != nil {
		return 0, r.fail
	}
	var n int64
	for _, b := range r.table.All() {
		if r.matches(b, where) {
			n++
		}
	}
	return n, nil
}

// recordingStore remembers every key written through it.
type recordingStore struct {
	cache.Store
	mu   sync.Mutex
	sets []string
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.sets = append(s.sets, key)
	s.mu.Unlock()
	return s.Store.Set(ctx, key, value, ttl)
}

func (s *recordingStore) AddCounter(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	s.sets = append(s.sets, key)
	s.mu.Unlock()
	return s.Store.AddCounter(ctx, key, value, ttl)
}

func (s *recordingStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sets...)
}

// failingStore reports a backend failure on every call.
type failingStore struct{}

var errBackend = errors.New("backend down")

func (failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errBackend }
func (failingStore) GetMany(context.Context, []string) (map[string][]byte, error) {
	return nil, errBackend
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error { return errBackend }
func (failingStore) IncrBy(context.Context, string, int64) (int64, bool, error) {
	return 0, false, errBackend
}
func (failingStore) AddCounter(context.Context, string, int64, time.Duration) (bool, error) {
	return false, errBackend
}
func (failingStore) Expire(context.Context, string) error         { return errBackend }
func (failingStore) DeleteByPrefix(context.Context, string) error { return errBackend }

type harness struct {
	engine  *Engine[*Book]
	records *bookRecords
	store   *recordingStore
}

func newStore(t *testing.T) cache.Store {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.Capacity = 1000
	cfg.NumShards = 4
	store, err := cache.NewStore(cfg)
	require.NoError(t, err)
	return store
}

func newHarness(t *testing.T, cfg Config, books ...*Book) *harness {
	t.Helper()
	records := newBookRecords(t, books...)
	store := &recordingStore{Store: newStore(t)}
	engine, err := New[*Book](cfg, store, records)
	require.NoError(t, err)
	return &harness{engine: engine, records: records, store: store}
}

func (h *harness) node(t *testing.T, key string) (cache.RangeData, bool) {
	t.Helper()
	d, ok, err := cache.GetValue[cache.RangeData](context.Background(), h.engine.store, key)
	require.NoError(t, err)
	return d, ok
}

func (h *harness) ids(t *testing.T, key string) ([]int64, bool) {
	t.Helper()
	ids, ok, err := cache.GetValue[[]int64](context.Background(), h.engine.store, key)
	require.NoError(t, err)
	return ids, ok
}

func (h *harness) create(t *testing.T, b *Book) {
	t.Helper()
	require.NoError(t, h.records.table.Put(b))
	require.NoError(t, h.engine.Create(context.Background(), b))
}

func (h *harness) destroy(t *testing.T, b *Book) {
	t.Helper()
	_, err := h.records.table.Delete(b.ID)
	require.NoError(t, err)
	require.NoError(t, h.engine.Destroy(context.Background(), b))
}

func idsOf(books []*Book) []int64 {
	out := make([]int64, len(books))
	for i, b := range books {
		out[i] = b.ID
	}
	return out
}
