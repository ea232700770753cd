package testsupport

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"
)

const memTableName = "records"

// MemTable is an in-memory table of T rows backed by go-memdb. Rows are keyed by
// an integer id field; additional integer fields may be indexed for range scans.
//
// Every read increments Reads, which tests use to assert how often the
// authoritative store was consulted.
type MemTable[T any] struct {
	db      *memdb.MemDB
	idField string
	fields  map[string]reflect.Type
	reads   atomic.Int64
}

// NewMemTable creates a table keyed by idField with an ordered index on each of
// intFields. Field names are Go struct field names.
func NewMemTable[T any](idField string, intFields ...string) (*MemTable[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("memtable: %T is not a struct", zero)
	}

	fields := make(map[string]reflect.Type, len(intFields)+1)
	indexes := make(map[string]*memdb.IndexSchema, len(intFields)+1)
	for i, name := range append([]string{idField}, intFields...) {
		f, ok := rt.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("memtable: %s has no field %q", rt.Name(), name)
		}
		if _, ok := memdb.IsIntType(f.Type.Kind()); !ok {
			return nil, fmt.Errorf("memtable: field %q is not an integer", name)
		}
		fields[name] = f.Type

		indexName := name
		if i == 0 {
			indexName = "id"
		}
		indexes[indexName] = &memdb.IndexSchema{
			Name:    indexName,
			Unique:  i == 0,
			Indexer: &memdb.IntFieldIndex{Field: name},
		}
	}

	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memTableName: {Name: memTableName, Indexes: indexes},
		},
	})
	if err != nil {
		return nil, err
	}
	return &MemTable[T]{db: db, idField: idField, fields: fields}, nil
}

// Put inserts or replaces rows.
func (m *MemTable[T]) Put(rows ...T) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	for _, row := range rows {
		if err := txn.Insert(memTableName, row); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// Delete removes the row with the given id, reporting whether it existed.
func (m *MemTable[T]) Delete(id int64) (bool, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	row, err := txn.First(memTableName, "id", m.arg(m.idField, id))
	if err != nil || row == nil {
		return false, err
	}
	if err := txn.Delete(memTableName, row); err != nil {
		return false, err
	}
	txn.Commit()
	return true, nil
}

// Get returns the row with the given id.
func (m *MemTable[T]) Get(id int64) (T, bool) {
	m.reads.Add(1)
	var zero T
	row, err := m.db.Txn(false).First(memTableName, "id", m.arg(m.idField, id))
	if err != nil || row == nil {
		return zero, false
	}
	return row.(T), true
}

// All returns every row ordered by id.
func (m *MemTable[T]) All() []T {
	m.reads.Add(1)
	it, err := m.db.Txn(false).Get(memTableName, "id")
	if err != nil {
		return nil
	}
	return collect[T](it, nil)
}

// Between returns rows whose indexed field lies in [lo, hi], ordered by that field.
func (m *MemTable[T]) Between(field string, lo, hi int64) ([]T, error) {
	m.reads.Add(1)
	if _, ok := m.fields[field]; !ok || field == m.idField {
		return nil, fmt.Errorf("memtable: field %q is not range indexed", field)
	}
	it, err := m.db.Txn(false).LowerBound(memTableName, field, m.arg(field, lo))
	if err != nil {
		return nil, err
	}
	return collect[T](it, func(row T) bool {
		return fieldInt(row, field) <= hi
	}), nil
}

// Reads reports how many read calls the table has served.
func (m *MemTable[T]) Reads() int64 {
	return m.reads.Load()
}

// ResetReads zeroes the read counter.
func (m *MemTable[T]) ResetReads() {
	m.reads.Store(0)
}

// arg converts v to the declared type of field, as IntFieldIndex requires
// arguments of the exact integer width.
func (m *MemTable[T]) arg(field string, v int64) any {
	return reflect.ValueOf(v).Convert(m.fields[field]).Interface()
}

func collect[T any](it memdb.ResultIterator, keep func(T) bool) []T {
	var out []T
	for obj := it.Next(); obj != nil; obj = it.Next() {
		row := obj.(T)
		if keep != nil && !keep(row) {
			break
		}
		out = append(out, row)
	}
	return out
}

func fieldInt(row any, field string) int64 {
	return reflect.Indirect(reflect.ValueOf(row)).FieldByName(field).Int()
}
