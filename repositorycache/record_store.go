package repositorycache

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-index-cache/cache"
	"github.com/goliatone/go-index-cache/indexcache"
)

// Interface assertion to ensure RecordStore implements indexcache.RecordStore[T]
var _ indexcache.RecordStore[any] = (*RecordStore[any])(nil)

// RecordStore answers index cache misses through a go-repository-bun repository.
// Queries are translated into select criteria, so soft deletes and model hooks
// of the base repository still apply.
type RecordStore[T any] struct {
	base       repository.Repository[T]
	primaryKey string
}

// NewRecordStore returns a record store reading from base. primaryKey is the
// column FindByIDs matches against.
func NewRecordStore[T any](base repository.Repository[T], primaryKey string) *RecordStore[T] {
	if primaryKey == "" {
		primaryKey = indexcache.DefaultPrimaryKey
	}
	return &RecordStore[T]{base: base, primaryKey: primaryKey}
}

// Find lists the records matching q.
func (s *RecordStore[T]) Find(ctx context.Context, q indexcache.Query) ([]T, error) {
	records, _, err := s.base.List(ctx, Criteria(q)...)
	return records, err
}

// FindByIDs lists the records whose primary key is one of ids.
func (s *RecordStore[T]) FindByIDs(ctx context.Context, ids []int64) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	records, _, err := s.base.List(ctx,
		repository.SelectColumnIn(s.primaryKey, ids),
		repository.SelectPaginate(0, 0),
	)
	return records, err
}

// Count returns the number of records matching where.
func (s *RecordStore[T]) Count(ctx context.Context, where indexcache.Conditions) (int64, error) {
	n, err := s.base.Count(ctx, whereCriteria(where)...)
	return int64(n), err
}

// Criteria translates q into select criteria. An unset Limit lifts the
// default page size of the repository.
func Criteria(q indexcache.Query) []repository.SelectCriteria {
	criteria := whereCriteria(q.Where)

	if q.SQL != "" {
		sql, args := q.SQL, q.Args
		criteria = append(criteria, repository.SelectRawProcessor(func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where(sql, args...)
		}))
	}
	if len(q.Select) > 0 {
		criteria = append(criteria, repository.SelectColumns(q.Select...))
	}
	for _, join := range q.Joins {
		criteria = append(criteria, repository.SelectRawProcessor(func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Join(join)
		}))
	}
	if len(q.Group) > 0 {
		criteria = append(criteria, repository.SelectGroupBy(q.Group...))
	}
	if q.Order != "" {
		criteria = append(criteria, repository.OrderBy(q.Order))
	}
	return append(criteria, repository.SelectPaginate(q.Limit, q.Offset))
}

func whereCriteria(where indexcache.Conditions) []repository.SelectCriteria {
	columns := make([]string, 0, len(where))
	for column := range where {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	criteria := make([]repository.SelectCriteria, 0, len(columns))
	for _, column := range columns {
		criteria = append(criteria, condition(column, where[column]))
	}
	return criteria
}

func condition(column string, value any) repository.SelectCriteria {
	switch v := value.(type) {
	case nil:
		return repository.SelectIsNull(column)
	case cache.Range:
		return repository.SelectBetween(column, v.First, v.Last)
	case []cache.Range:
		return selectRanges(column, v)
	case []byte:
		return selectEqual(column, v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return repository.SelectIsNull(column)
		}
		return condition(column, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return repository.SelectRawProcessor(func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Where("1 = 0")
			})
		}
		return repository.SelectRawProcessor(func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where(fmt.Sprintf("?TableAlias.%s IN (?)", column), bun.In(value))
		})
	}
	return selectEqual(column, value)
}

func selectEqual(column string, value any) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(sq *bun.SelectQuery) *bun.SelectQuery {
		return sq.Where(fmt.Sprintf("?TableAlias.%s = ?", column), value)
	})
}

// selectRanges matches the union of ranges. An empty union matches nothing.
func selectRanges(column string, ranges []cache.Range) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(sq *bun.SelectQuery) *bun.SelectQuery {
		if len(ranges) == 0 {
			return sq.Where("1 = 0")
		}
		expr := fmt.Sprintf("?TableAlias.%s BETWEEN ? AND ?", column)
		return sq.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, r := range ranges {
				sq = sq.WhereOr(expr, r.First, r.Last)
			}
			return sq
		})
	})
}
