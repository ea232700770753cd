package repositorycache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-index-cache/cache"
	"github.com/goliatone/go-index-cache/indexcache"
	"github.com/goliatone/go-index-cache/pkg/testsupport"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID       int64   `bun:"id,pk,autoincrement" json:"id"`
	Title    string  `bun:"title,notnull" json:"title"`
	AuthorID int64   `bun:"author_id,notnull" json:"author_id"`
	NumPages int64   `bun:"num_pages,notnull" json:"num_pages"`
	Genre    *string `bun:"genre" json:"genre"`
}

func book(id, author, pages int64) *Book {
	return &Book{ID: id, Title: fmt.Sprintf("book %d", id), AuthorID: author, NumPages: pages}
}

func (b *Book) clone() *Book {
	cp := *b
	return &cp
}

func bookHandlers() repository.ModelHandlers[*Book] {
	return repository.ModelHandlers[*Book]{
		NewRecord: func() *Book { return &Book{} },
		// integer keys are assigned by the database, never by uuid
		GetID:         func(*Book) uuid.UUID { return uuid.Nil },
		SetID:         func(*Book, uuid.UUID) {},
		GetIdentifier: func() string { return "title" },
	}
}

func ids(books []*Book) []int64 {
	out := make([]int64, len(books))
	for i, b := range books {
		out[i] = b.ID
	}
	return out
}

func newTable(t *testing.T, books ...*Book) *testsupport.MemTable[*Book] {
	t.Helper()
	table, err := testsupport.NewMemTable[*Book]("ID", "AuthorID", "NumPages")
	require.NoError(t, err)
	for _, b := range books {
		require.NoError(t, table.Put(b.clone()))
	}
	return table
}

// bookRepository is an in-memory repository.Repository[*Book] that records
// method calls. Criteria are ignored: reads return every row.
type bookRepository struct {
	table *testsupport.MemTable[*Book]

	mu    sync.Mutex
	calls []string
}

func (m *bookRepository) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
}

func (m *bookRepository) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *bookRepository) clearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *bookRepository) all() []*Book {
	rows := m.table.All()
	out := make([]*Book, len(rows))
	for i, b := range rows {
		out[i] = b.clone()
	}
	return out
}

func (m *bookRepository) get(id string) (*Book, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, repository.NewRecordNotFound()
	}
	b, ok := m.table.Get(n)
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	return b.clone(), nil
}

func (m *bookRepository) put(records ...*Book) ([]*Book, error) {
	for _, b := range records {
		if err := m.table.Put(b.clone()); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (m *bookRepository) update(records ...*Book) ([]*Book, error) {
	for _, b := range records {
		if _, ok := m.table.Get(b.ID); !ok {
			return nil, repository.NewRecordNotFound()
		}
	}
	return m.put(records...)
}

func (m *bookRepository) remove(record *Book) error {
	ok, err := m.table.Delete(record.ID)
	if err != nil {
		return err
	}
	if !ok {
		return repository.NewRecordNotFound()
	}
	return nil
}

func (m *bookRepository) removeAll() error {
	for _, b := range m.table.All() {
		if _, err := m.table.Delete(b.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *bookRepository) Raw(ctx context.Context, sql string, args ...any) ([]*Book, error) {
	m.recordCall("Raw")
	return m.all(), nil
}

func (m *bookRepository) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]*Book, error) {
	m.recordCall("RawTx")
	return m.all(), nil
}

func (m *bookRepository) Get(ctx context.Context, criteria ...repository.SelectCriteria) (*Book, error) {
	m.recordCall("Get")
	rows := m.all()
	if len(rows) == 0 {
		return nil, repository.NewRecordNotFound()
	}
	return rows[0], nil
}

func (m *bookRepository) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (*Book, error) {
	m.recordCall("GetTx")
	return m.Get(ctx, criteria...)
}

func (m *bookRepository) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*Book, error) {
	m.recordCall("GetByID")
	return m.get(id)
}

func (m *bookRepository) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (*Book, error) {
	m.recordCall("GetByIDTx")
	return m.get(id)
}

func (m *bookRepository) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]*Book, int, error) {
	m.recordCall("List")
	rows := m.all()
	return rows, len(rows), nil
}

func (m *bookRepository) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]*Book, int, error) {
	m.recordCall("ListTx")
	rows := m.all()
	return rows, len(rows), nil
}

func (m *bookRepository) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	m.recordCall("Count")
	return len(m.table.All()), nil
}

func (m *bookRepository) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	m.recordCall("CountTx")
	return len(m.table.All()), nil
}

func (m *bookRepository) Create(ctx context.Context, record *Book, criteria ...repository.InsertCriteria) (*Book, error) {
	m.recordCall("Create")
	_, err := m.put(record)
	return record, err
}

func (m *bookRepository) CreateTx(ctx context.Context, tx bun.IDB, record *Book, criteria ...repository.InsertCriteria) (*Book, error) {
	m.recordCall("CreateTx")
	_, err := m.put(record)
	return record, err
}

func (m *bookRepository) CreateMany(ctx context.Context, records []*Book, criteria ...repository.InsertCriteria) ([]*Book, error) {
	m.recordCall("CreateMany")
	return m.put(records...)
}

func (m *bookRepository) CreateManyTx(ctx context.Context, tx bun.IDB, records []*Book, criteria ...repository.InsertCriteria) ([]*Book, error) {
	m.recordCall("CreateManyTx")
	return m.put(records...)
}

func (m *bookRepository) GetOrCreate(ctx context.Context, record *Book) (*Book, error) {
	m.recordCall("GetOrCreate")
	if b, ok := m.table.Get(record.ID); ok {
		return b.clone(), nil
	}
	_, err := m.put(record)
	return record, err
}

func (m *bookRepository) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *Book) (*Book, error) {
	return m.GetOrCreate(ctx, record)
}

func (m *bookRepository) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Book, error) {
	m.recordCall("GetByIdentifier")
	for _, b := range m.all() {
		if b.Title == identifier {
			return b, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (m *bookRepository) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Book, error) {
	return m.GetByIdentifier(ctx, identifier, criteria...)
}

func (m *bookRepository) Update(ctx context.Context, record *Book, criteria ...repository.UpdateCriteria) (*Book, error) {
	m.recordCall("Update")
	_, err := m.update(record)
	return record, err
}

func (m *bookRepository) UpdateTx(ctx context.Context, tx bun.IDB, record *Book, criteria ...repository.UpdateCriteria) (*Book, error) {
	m.recordCall("UpdateTx")
	_, err := m.update(record)
	return record, err
}

func (m *bookRepository) UpdateMany(ctx context.Context, records []*Book, criteria ...repository.UpdateCriteria) ([]*Book, error) {
	m.recordCall("UpdateMany")
	return m.update(records...)
}

func (m *bookRepository) UpdateManyTx(ctx context.Context, tx bun.IDB, records []*Book, criteria ...repository.UpdateCriteria) ([]*Book, error) {
	m.recordCall("UpdateManyTx")
	return m.update(records...)
}

func (m *bookRepository) Upsert(ctx context.Context, record *Book, criteria ...repository.UpdateCriteria) (*Book, error) {
	m.recordCall("Upsert")
	_, err := m.put(record)
	return record, err
}

func (m *bookRepository) UpsertTx(ctx context.Context, tx bun.IDB, record *Book, criteria ...repository.UpdateCriteria) (*Book, error) {
	m.recordCall("UpsertTx")
	_, err := m.put(record)
	return record, err
}

func (m *bookRepository) UpsertMany(ctx context.Context, records []*Book, criteria ...repository.UpdateCriteria) ([]*Book, error) {
	m.recordCall("UpsertMany")
	return m.put(records...)
}

func (m *bookRepository) UpsertManyTx(ctx context.Context, tx bun.IDB, records []*Book, criteria ...repository.UpdateCriteria) ([]*Book, error) {
	m.recordCall("UpsertManyTx")
	return m.put(records...)
}

func (m *bookRepository) Delete(ctx context.Context, record *Book) error {
	m.recordCall("Delete")
	return m.remove(record)
}

func (m *bookRepository) DeleteTx(ctx context.Context, tx bun.IDB, record *Book) error {
	m.recordCall("DeleteTx")
	return m.remove(record)
}

func (m *bookRepository) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	m.recordCall("DeleteMany")
	return m.removeAll()
}

func (m *bookRepository) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	m.recordCall("DeleteManyTx")
	return m.removeAll()
}

func (m *bookRepository) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	m.recordCall("DeleteWhere")
	return m.removeAll()
}

func (m *bookRepository) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	m.recordCall("DeleteWhereTx")
	return m.removeAll()
}

func (m *bookRepository) ForceDelete(ctx context.Context, record *Book) error {
	m.recordCall("ForceDelete")
	return m.remove(record)
}

func (m *bookRepository) ForceDeleteTx(ctx context.Context, tx bun.IDB, record *Book) error {
	m.recordCall("ForceDeleteTx")
	return m.remove(record)
}

func (m *bookRepository) Handlers() repository.ModelHandlers[*Book] {
	return bookHandlers()
}

// tableRecords is the record store the engine reads from in decorator tests.
// It understands the integer conditions and orderings the engine issues.
type tableRecords struct {
	table *testsupport.MemTable[*Book]
	finds atomic.Int64
}

func (r *tableRecords) Finds() int64 {
	return r.finds.Load()
}

func (r *tableRecords) Find(_ context.Context, q indexcache.Query) ([]*Book, error) {
	r.finds.Add(1)
	var out []*Book
	for _, b := range r.table.All() {
		if bookMatches(b, q.Where) {
			out = append(out, b)
		}
	}

	column, desc := "id", false
	if f := strings.Fields(q.Order); len(f) > 0 {
		column = f[0]
		desc = len(f) > 1 && strings.EqualFold(f[1], "desc")
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := bookColumn(out[i], column), bookColumn(out[j], column)
		if a == b {
			return out[i].ID < out[j].ID
		}
		return (a < b) != desc
	})

	if q.Offset >= len(out) {
		return []*Book{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *tableRecords) FindByIDs(_ context.Context, wanted []int64) ([]*Book, error) {
	var out []*Book
	for _, id := range wanted {
		if b, ok := r.table.Get(id); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *tableRecords) Count(_ context.Context, where indexcache.Conditions) (int64, error) {
	var n int64
	for _, b := range r.table.All() {
		if bookMatches(b, where) {
			n++
		}
	}
	return n, nil
}

func bookColumn(b *Book, column string) int64 {
	switch column {
	case "id":
		return b.ID
	case "author_id":
		return b.AuthorID
	case "num_pages":
		return b.NumPages
	}
	panic("unsupported column " + column)
}

func bookMatches(b *Book, where indexcache.Conditions) bool {
	for column, want := range where {
		got := bookColumn(b, column)
		switch w := want.(type) {
		case int:
			if got != int64(w) {
				return false
			}
		case int64:
			if got != w {
				return false
			}
		case cache.Range:
			if !w.Contains(got) {
				return false
			}
		case []cache.Range:
			hit := false
			for _, rg := range w {
				hit = hit || rg.Contains(got)
			}
			if !hit {
				return false
			}
		default:
			panic(fmt.Sprintf("unsupported condition %s=%v", column, want))
		}
	}
	return true
}
