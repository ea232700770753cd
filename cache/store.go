package cache

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Store is the key/value contract the index cache is built on. Values are opaque
// byte slices; counters are integers maintained atomically by the backend.
//
// A miss is reported as ok == false with a nil error. Errors are reserved for
// backend failures, which callers are free to treat as misses.
type Store interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// GetMany returns the values present among keys. Absent keys are omitted.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	// Set stores value under key. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrBy adds delta to the counter under key only if the counter exists.
	IncrBy(ctx context.Context, key string, delta int64) (value int64, ok bool, err error)
	// AddCounter creates the counter under key unless it already exists.
	AddCounter(ctx context.Context, key string, value int64, ttl time.Duration) (added bool, err error)
	// Expire removes key.
	Expire(ctx context.Context, key string) error
	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// FetchFn loads a value from the authoritative source.
type FetchFn[T any] func(ctx context.Context) (T, error)

// FetchManyFn loads the values for a set of missed keys.
type FetchManyFn[T any] func(ctx context.Context, missed []string) (map[string]T, error)

// InitFn computes the initial value of a counter.
type InitFn func(ctx context.Context) (int64, error)

// GetValue reads and decodes the value under key.
func GetValue[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var out T
	if err := Unmarshal(raw, &out); err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// SetValue encodes value and stores it under key.
func SetValue[T any](ctx context.Context, s Store, key string, value T, ttl time.Duration) error {
	raw, err := Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

// GetValues reads and decodes several keys at once. Keys that are absent or
// fail to decode are left out of the result.
func GetValues[T any](ctx context.Context, s Store, keys []string) (map[string]T, error) {
	if len(keys) == 0 {
		return map[string]T{}, nil
	}
	raw, err := s.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for k, data := range raw {
		var v T
		if err := Unmarshal(data, &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// GetOrFetch returns the value cached under key, or calls fetch and stores its
// result. A cache read failure is treated as a miss and a cache write failure
// is ignored, so only fetch errors are returned.
func GetOrFetch[T any](ctx context.Context, s Store, key string, ttl time.Duration, fetch FetchFn[T]) (T, bool, error) {
	var zero T
	if fetch == nil {
		return zero, false, goerrors.New("fetch function cannot be nil", goerrors.CategoryBadInput)
	}

	if v, ok, err := GetValue[T](ctx, s, key); err == nil && ok {
		return v, true, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, false, err
	}
	_ = SetValue(ctx, s, key, v, ttl)
	return v, false, nil
}

// GetOrFetchMany resolves keys from the cache and loads every miss with a single
// call to fetch. Fetched values are written back.
func GetOrFetchMany[T any](ctx context.Context, s Store, keys []string, ttl time.Duration, fetch FetchManyFn[T]) (map[string]T, error) {
	if fetch == nil {
		return nil, goerrors.New("fetch function cannot be nil", goerrors.CategoryBadInput)
	}

	hits, err := GetValues[T](ctx, s, keys)
	if err != nil {
		hits = map[string]T{}
	}

	var missed []string
	for _, k := range keys {
		if _, ok := hits[k]; !ok {
			missed = append(missed, k)
		}
	}
	if len(missed) == 0 {
		return hits, nil
	}

	fetched, err := fetch(ctx, missed)
	if err != nil {
		return nil, err
	}
	for k, v := range fetched {
		_ = SetValue(ctx, s, k, v, ttl)
		hits[k] = v
	}
	return hits, nil
}

// Incr adds one to the counter under key, initialising it from init when absent.
func Incr(ctx context.Context, s Store, key string, ttl time.Duration, init InitFn) (int64, error) {
	return adjust(ctx, s, key, 1, ttl, init)
}

// Decr subtracts one from the counter under key, initialising it from init when absent.
func Decr(ctx context.Context, s Store, key string, ttl time.Duration, init InitFn) (int64, error) {
	return adjust(ctx, s, key, -1, ttl, init)
}

// adjust applies delta to an existing counter. When the counter is missing it is
// seeded from init, which is expected to already reflect the write being counted.
// If another writer seeds it first, delta is applied to that value instead.
func adjust(ctx context.Context, s Store, key string, delta int64, ttl time.Duration, init InitFn) (int64, error) {
	if v, ok, err := s.IncrBy(ctx, key, delta); err != nil {
		return 0, err
	} else if ok {
		return v, nil
	}

	if init == nil {
		return 0, nil
	}
	seed, err := init(ctx)
	if err != nil {
		return 0, err
	}
	added, err := s.AddCounter(ctx, key, seed, ttl)
	if err != nil {
		return 0, err
	}
	if added {
		return seed, nil
	}

	v, _, err := s.IncrBy(ctx, key, delta)
	return v, err
}

// GetCount reads the counter under key, seeding it from init when absent.
func GetCount(ctx context.Context, s Store, key string, ttl time.Duration, init InitFn) (int64, error) {
	if v, ok, err := s.IncrBy(ctx, key, 0); err == nil && ok {
		return v, nil
	}
	if init == nil {
		return 0, nil
	}
	seed, err := init(ctx)
	if err != nil {
		return 0, err
	}
	_, _ = s.AddCounter(ctx, key, seed, ttl)
	return seed, nil
}
