// Package repositorycache connects the index cache to go-repository-bun.
//
// # Overview
//
// Two pieces live here. RecordStore adapts a repository.Repository[T] into the
// authoritative record store an indexcache.Engine reads from on a miss, and
// CachedRepository decorates a repository so that every successful write keeps
// the engine's indices in step with the database.
//
// # Basic Usage
//
//	base := repository.NewRepository[*Book](db, handlers)
//	records := repositorycache.NewRecordStore(base, "id")
//
//	cfg := indexcache.NewConfig("books").
//		WithIndex([]string{"author_id"}, indexcache.IndexOptions{}).
//		WithRange("num_pages", 10)
//	engine, err := indexcache.New[*Book](cfg, store, records)
//	if err != nil {
//		return err
//	}
//
//	books := repositorycache.New(base, engine, logger)
//	long, err := books.Find(ctx, indexcache.Between("num_pages", 500, 1000))
//
// # Reads
//
// Find and FindByIDs go through the engine. GetByID answers integer ids from
// the primary-key index when no extra criteria are given. Criteria based reads
// (Get, List, Count, GetByIdentifier) and every *Tx read pass through to the
// base repository, since opaque criteria cannot be matched against an index.
//
// WithCacheBypass sends reads on a context straight to the base repository.
//
// # Writes
//
//   - Create and CreateMany add the new records to every index.
//   - Update and Upsert load the stored version through GetByID first and move
//     the record between keys according to the attribute diff.
//   - Delete and ForceDelete remove the stored version from every index.
//   - DeleteMany and DeleteWhere cannot tell which records went away, so the
//     whole model namespace is flushed.
//   - GetOrCreate may or may not insert; the keys of its result are expired.
//
// Writes made inside a transaction may still roll back. The *Tx variants
// therefore expire the keys of the old and new versions instead of updating
// them, and the next read repopulates from committed data.
//
// # Error Handling
//
// Errors from the base repository are returned unchanged and leave the cache
// untouched. Index maintenance failures after a successful write are logged
// and never fail the write; the engine expires any key it could not update.
package repositorycache
