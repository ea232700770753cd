package repositorycache

import (
	"context"
	"strconv"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-index-cache/indexcache"
)

// Interface assertion to ensure CachedRepository implements Repository[T]
var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// CachedRepository decorates a base repository with an index cache. Writes go
// to the base repository first and, once they succeed, update the indices.
type CachedRepository[T any] struct {
	base    repository.Repository[T]
	engine  *indexcache.Engine[T]
	records *RecordStore[T]
	logger  *zap.Logger
}

// New creates a CachedRepository keeping the indices of engine in step with
// writes made through base. A nil logger discards output.
func New[T any](base repository.Repository[T], engine *indexcache.Engine[T], logger *zap.Logger) *CachedRepository[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRepository[T]{
		base:    base,
		engine:  engine,
		records: NewRecordStore(base, engine.Config().PrimaryKey()),
		logger:  logger.With(zap.String("model", engine.Config().Name())),
	}
}

// Engine returns the index cache behind the repository.
func (c *CachedRepository[T]) Engine() *indexcache.Engine[T] {
	return c.engine
}

// Find answers q from the index cache when the query is cacheable.
func (c *CachedRepository[T]) Find(ctx context.Context, q indexcache.Query) ([]T, error) {
	if bypassed(ctx) {
		return c.records.Find(ctx, q)
	}
	return c.engine.Perform(ctx, q)
}

// FindByIDs returns the records with the given ids through the primary-key index.
func (c *CachedRepository[T]) FindByIDs(ctx context.Context, ids ...int64) ([]T, error) {
	if bypassed(ctx) {
		return c.records.FindByIDs(ctx, ids)
	}
	return c.engine.FindByIDs(ctx, ids...)
}

// Get retrieves a single record using the provided criteria
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.Get(ctx, criteria...)
}

// GetByID serves integer ids without criteria from the primary-key index
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 || bypassed(ctx) {
		return c.base.GetByID(ctx, id, criteria...)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return c.base.GetByID(ctx, id)
	}

	records, err := c.engine.FindByIDs(ctx, n)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(records) == 0 {
		// unknown ids are not cached, the base repository reports the miss
		return c.base.GetByID(ctx, id)
	}
	return records[0], nil
}

// List retrieves multiple records using the provided criteria
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.List(ctx, criteria...)
}

// Count returns the number of records matching the criteria
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.Count(ctx, criteria...)
}

// GetByIdentifier retrieves a record by identifier with optional criteria
func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifier(ctx, identifier, criteria...)
}

// Create creates a new record and adds it to every index
func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.report("create", c.engine.Create(ctx, result))
	}
	return result, err
}

// CreateTx creates a new record within a transaction
func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.expire(ctx, "create", result)
	}
	return result, err
}

// CreateMany creates multiple records
func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		for _, record := range result {
			c.report("create", c.engine.Create(ctx, record))
		}
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction
func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.expire(ctx, "create", result...)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist. The result may
// or may not be new, so its keys are expired rather than updated.
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.expire(ctx, "get_or_create", result)
	}
	return result, err
}

// GetOrCreateTx gets a record or creates it if it doesn't exist within a transaction
func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.expire(ctx, "get_or_create", result)
	}
	return result, err
}

// Update updates a record and moves it between index keys as its attributes change
func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	before, found := c.prior(ctx, nil, record)
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.updated(ctx, before, found, result, false)
	}
	return result, err
}

// UpdateTx updates a record within a transaction
func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	before, found := c.prior(ctx, tx, record)
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.expirePair(ctx, "update", before, found, result)
	}
	return result, err
}

// UpdateMany updates multiple records
func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	befores, found := c.priors(ctx, nil, records)
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		for n, record := range result {
			c.updated(ctx, befores[n], found[n], record, false)
		}
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction
func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	befores, found := c.priors(ctx, tx, records)
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		for n, record := range result {
			c.expirePair(ctx, "update", befores[n], found[n], record)
		}
	}
	return result, err
}

// Upsert inserts or updates a record
func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	before, found := c.prior(ctx, nil, record)
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.updated(ctx, before, found, result, true)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction
func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	before, found := c.prior(ctx, tx, record)
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.expirePair(ctx, "upsert", before, found, result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records
func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	befores, found := c.priors(ctx, nil, records)
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		for n, record := range result {
			c.updated(ctx, befores[n], found[n], record, true)
		}
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction
func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	befores, found := c.priors(ctx, tx, records)
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		for n, record := range result {
			c.expirePair(ctx, "upsert", befores[n], found[n], record)
		}
	}
	return result, err
}

// Delete deletes a record and removes it from every index
func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	before, found := c.prior(ctx, nil, record)
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.destroyed(ctx, before, found, record)
	}
	return err
}

// DeleteTx deletes a record within a transaction
func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	before, found := c.prior(ctx, tx, record)
	err := c.base.DeleteTx(ctx, tx, record)
	if err == nil {
		c.expirePair(ctx, "delete", before, found, record)
	}
	return err
}

// DeleteMany deletes multiple records based on criteria
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.flush(ctx, "delete_many")
	}
	return err
}

// DeleteManyTx deletes multiple records based on criteria within a transaction
func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.flush(ctx, "delete_many")
	}
	return err
}

// DeleteWhere deletes records based on criteria
func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.flush(ctx, "delete_where")
	}
	return err
}

// DeleteWhereTx deletes records based on criteria within a transaction
func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.flush(ctx, "delete_where")
	}
	return err
}

// ForceDelete force deletes a record (bypassing soft delete)
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	before, found := c.prior(ctx, nil, record)
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.destroyed(ctx, before, found, record)
	}
	return err
}

// ForceDeleteTx force deletes a record within a transaction (bypassing soft delete)
func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	before, found := c.prior(ctx, tx, record)
	err := c.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.expirePair(ctx, "force_delete", before, found, record)
	}
	return err
}

// GetTx retrieves a single record using the provided criteria within a transaction
func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

// GetByIDTx retrieves a record by ID with optional criteria within a transaction
func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

// ListTx retrieves multiple records using the provided criteria within a transaction
func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

// CountTx returns the number of records matching the criteria within a transaction
func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

// GetByIdentifierTx retrieves a record by identifier with optional criteria within a transaction
func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL query and returns the results
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

// RawTx executes a raw SQL query within a transaction and returns the results
func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

// Handlers returns the model handlers from the base repository
func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// prior loads the stored version of record before a write. tx is nil outside
// transactions.
func (c *CachedRepository[T]) prior(ctx context.Context, tx bun.IDB, record T) (T, bool) {
	var zero T
	id, ok := c.engine.Schema().Int(record, c.engine.Config().PrimaryKey())
	if !ok {
		return zero, false
	}

	var (
		stored T
		err    error
	)
	if tx != nil {
		stored, err = c.base.GetByIDTx(ctx, tx, strconv.FormatInt(id, 10))
	} else {
		stored, err = c.base.GetByID(ctx, strconv.FormatInt(id, 10))
	}
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			c.logger.Warn("load prior record state", zap.Int64("id", id), zap.Error(err))
		}
		return zero, false
	}
	return stored, true
}

func (c *CachedRepository[T]) priors(ctx context.Context, tx bun.IDB, records []T) ([]T, []bool) {
	befores := make([]T, len(records))
	found := make([]bool, len(records))
	for n, record := range records {
		befores[n], found[n] = c.prior(ctx, tx, record)
	}
	return befores, found
}

// updated applies a committed update. Without a prior state the record is
// treated as new when upserting and expired otherwise.
func (c *CachedRepository[T]) updated(ctx context.Context, before T, found bool, after T, upsert bool) {
	switch {
	case found:
		c.report("update", c.engine.UpdateFrom(ctx, before, after))
	case upsert:
		c.report("create", c.engine.Create(ctx, after))
	default:
		c.expire(ctx, "update", after)
	}
}

func (c *CachedRepository[T]) destroyed(ctx context.Context, before T, found bool, record T) {
	if found {
		record = before
	}
	c.report("delete", c.engine.Destroy(ctx, record))
}

// expirePair expires the keys of both versions of a record written inside a
// transaction, which may still roll back.
func (c *CachedRepository[T]) expirePair(ctx context.Context, op string, before T, found bool, after T) {
	if found {
		c.expire(ctx, op, before)
	}
	c.expire(ctx, op, after)
}

func (c *CachedRepository[T]) expire(ctx context.Context, op string, records ...T) {
	for _, record := range records {
		c.report(op, c.engine.Expire(ctx, record))
	}
}

func (c *CachedRepository[T]) flush(ctx context.Context, op string) {
	c.report(op, c.engine.Flush(ctx))
}

// report logs index maintenance failures. The write itself already succeeded
// and failed indices expire their own keys.
func (c *CachedRepository[T]) report(op string, err error) {
	if err != nil {
		c.logger.Warn("index maintenance failed", zap.String("op", op), zap.Error(err))
	}
}
