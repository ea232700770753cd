package indexcache

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// RecordStore is the authoritative source of records of type T.
type RecordStore[T any] interface {
	// Find returns the records matching q, ordered and paginated as requested.
	Find(ctx context.Context, q Query) ([]T, error)
	// FindByIDs returns the records with the given primary keys in any order.
	// Unknown ids are omitted.
	FindByIDs(ctx context.Context, ids []int64) ([]T, error)
	// Count returns the number of records matching where.
	Count(ctx context.Context, where Conditions) (int64, error)
}

// countingStore counts record-store queries and tags their failures.
type countingStore[T any] struct {
	base    RecordStore[T]
	model   string
	metrics *Metrics
}

func (s *countingStore[T]) Find(ctx context.Context, q Query) ([]T, error) {
	s.metrics.query(s.model, "find")
	records, err := s.base.Find(ctx, q)
	if err != nil {
		return nil, externalError(err, "find "+s.model)
	}
	return records, nil
}

func (s *countingStore[T]) FindByIDs(ctx context.Context, ids []int64) ([]T, error) {
	s.metrics.query(s.model, "find_by_ids")
	records, err := s.base.FindByIDs(ctx, ids)
	if err != nil {
		return nil, externalError(err, "find "+s.model+" by ids")
	}
	return records, nil
}

func (s *countingStore[T]) Count(ctx context.Context, where Conditions) (int64, error) {
	s.metrics.query(s.model, "count")
	n, err := s.base.Count(ctx, where)
	if err != nil {
		return 0, externalError(err, "count "+s.model)
	}
	return n, nil
}

func externalError(err error, msg string) error {
	var ge *goerrors.Error
	if goerrors.As(err, &ge) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, msg)
}
