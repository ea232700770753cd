// Package indexcache maintains cached secondary indices for bun models.
//
// # Overview
//
// An Engine sits between the application, a RecordStore holding the
// authoritative rows and a cache.Store. For every declared index it keeps the
// matching primary keys cached under attr/value keys, updates them on create,
// update and destroy, and answers matching queries without touching the record
// store.
//
// # Declaring indices
//
//	cfg := indexcache.NewConfig("books").
//		WithIndex([]string{"author_id"}, indexcache.IndexOptions{Limit: 20, Buffer: 5}).
//		WithRange("num_pages", 10)
//
//	engine, err := indexcache.New[Book](cfg, store, records)
//
// The primary-key index is always present and stores the records themselves.
// A bounded index keeps Limit+Buffer ids per key together with a count under
// key/count, and refills its window from the record store when removals make
// it shorter than the true count.
//
// # Range indices
//
// A range index stores the members of each value block under keys such as
// num_pages/1** (100..199 in radix 10). A range query is decomposed with
// cache.RangeCacheKeys, hits are read in one batch and every miss is loaded
// with a single record-store query. All-wildcard keys link the shorter
// all-wildcard keys below them through parent pointers so that writes reach
// them, while placeholder nodes are never filled by a single insert.
//
// # Cacheable queries
//
// Perform serves a Query from the cache only when it is a conjunction of
// equalities, with at most one range term, on the attributes of a declared
// index, ordered by the primary key in the index order and within the bounded
// window. Anything else goes to the record store unchanged.
//
// # Error Handling
//
// Cache store failures are logged, counted and treated as misses. Only record
// store failures are returned, tagged with goerrors.CategoryExternal.
package indexcache
