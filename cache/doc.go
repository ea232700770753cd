// Package cache provides the key/value store contract, the range key codec and
// key serialization used by the index cache.
//
// # Overview
//
// The package exports:
//
//   - Store: a byte oriented key/value contract with per-key TTL and counters
//   - KeySerializer: renders attribute/value pairs into "attr/value" keys
//   - the range key codec (KeyFromRange, RangeFromKey, RangeCacheKeys, PointKeys)
//   - RangeData, the payload stored at range trie nodes
//
// Two Store implementations are provided: NewStore builds an in-process store on
// sturdyc, NewRedisStore builds one on a go-redis client.
//
// # Range keys
//
// Integer values are rendered in a configurable radix (arity). A key suffix with
// trailing wildcards denotes every value sharing the leading digits:
//
//	keys, _ := cache.RangeCacheKeys(10, cache.NewRange(0, 1000))
//	// keys == []string{"1000", "***"}
//
// RangeCacheKeys always returns the minimal set of non-overlapping keys whose
// decoded ranges cover the input exactly.
//
// # Read-through helpers
//
// GetOrFetch and GetOrFetchMany read msgpack encoded values and fall back to a
// fetch function on a miss:
//
//	user, hit, err := cache.GetOrFetch(ctx, store, "id/42", time.Hour, func(ctx context.Context) ([]User, error) {
//		return repo.FindByIDs(ctx, []int64{42})
//	})
//
// Incr and Decr maintain counters, seeding absent ones from an init function.
//
// # Error Handling
//
// A miss is never an error. Backend failures are returned to the caller, which is
// expected to treat them as misses. Only failures of the fetch functions are
// meaningful to the application.
package cache
