package cacheinfra

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// byteStore is the method set both stores expose.
type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, delta int64) (int64, bool, error)
	AddCounter(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

func runStoreContract(t *testing.T, store byteStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get miss", func(t *testing.T) {
		v, ok, err := store.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok || v != nil {
			t.Errorf("expected miss, got %q", v)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		if err := store.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		v, ok, err := store.Get(ctx, "k1")
		if err != nil || !ok {
			t.Fatalf("expected hit, ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(v, []byte("v1")) {
			t.Errorf("expected v1, got %q", v)
		}
	})

	t.Run("set keeps an empty value", func(t *testing.T) {
		if err := store.Set(ctx, "empty", []byte{}, time.Minute); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		_, ok, err := store.Get(ctx, "empty")
		if err != nil || !ok {
			t.Errorf("expected empty value to be present, ok=%v err=%v", ok, err)
		}
	})

	t.Run("get many omits misses", func(t *testing.T) {
		_ = store.Set(ctx, "m1", []byte("a"), time.Minute)
		_ = store.Set(ctx, "m2", []byte("b"), time.Minute)

		got, err := store.GetMany(ctx, []string{"m1", "nope", "m2"})
		if err != nil {
			t.Fatalf("get many failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 values, got %d: %v", len(got), got)
		}
		if string(got["m1"]) != "a" || string(got["m2"]) != "b" {
			t.Errorf("unexpected values: %v", got)
		}
	})

	t.Run("incr on missing counter does not create it", func(t *testing.T) {
		_, ok, err := store.IncrBy(ctx, "c-missing", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected missing counter to be reported")
		}
		if _, ok, _ := store.IncrBy(ctx, "c-missing", 0); ok {
			t.Error("expected counter to stay absent")
		}
	})

	t.Run("add counter then incr and decr", func(t *testing.T) {
		added, err := store.AddCounter(ctx, "c1", 5, time.Minute)
		if err != nil || !added {
			t.Fatalf("expected counter to be added, added=%v err=%v", added, err)
		}

		added, err = store.AddCounter(ctx, "c1", 100, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if added {
			t.Error("expected second add to be ignored")
		}

		v, ok, err := store.IncrBy(ctx, "c1", 2)
		if err != nil || !ok || v != 7 {
			t.Errorf("expected 7, got %d ok=%v err=%v", v, ok, err)
		}
		v, ok, err = store.IncrBy(ctx, "c1", -3)
		if err != nil || !ok || v != 4 {
			t.Errorf("expected 4, got %d ok=%v err=%v", v, ok, err)
		}
	})

	t.Run("expire removes values and counters", func(t *testing.T) {
		_ = store.Set(ctx, "gone", []byte("x"), time.Minute)
		_, _ = store.AddCounter(ctx, "gone-count", 1, time.Minute)

		if err := store.Expire(ctx, "gone"); err != nil {
			t.Fatalf("expire failed: %v", err)
		}
		if err := store.Expire(ctx, "gone-count"); err != nil {
			t.Fatalf("expire failed: %v", err)
		}
		if _, ok, _ := store.Get(ctx, "gone"); ok {
			t.Error("expected value to be expired")
		}
		if _, ok, _ := store.IncrBy(ctx, "gone-count", 1); ok {
			t.Error("expected counter to be expired")
		}
	})

	t.Run("delete by prefix", func(t *testing.T) {
		_ = store.Set(ctx, "users:1/id/1", []byte("a"), time.Minute)
		_ = store.Set(ctx, "users:1/id/2", []byte("b"), time.Minute)
		_, _ = store.AddCounter(ctx, "users:1/name/x/count", 3, time.Minute)
		_ = store.Set(ctx, "posts:1/id/1", []byte("c"), time.Minute)

		if err := store.DeleteByPrefix(ctx, "users:1/"); err != nil {
			t.Fatalf("delete by prefix failed: %v", err)
		}

		for _, k := range []string{"users:1/id/1", "users:1/id/2"} {
			if _, ok, _ := store.Get(ctx, k); ok {
				t.Errorf("expected %s to be deleted", k)
			}
		}
		if _, ok, _ := store.IncrBy(ctx, "users:1/name/x/count", 0); ok {
			t.Error("expected counter to be deleted")
		}
		if _, ok, _ := store.Get(ctx, "posts:1/id/1"); !ok {
			t.Error("expected other prefix to be kept")
		}
	})

	t.Run("delete by prefix treats glob characters literally", func(t *testing.T) {
		_ = store.Set(ctx, "r/***", []byte("a"), time.Minute)
		_ = store.Set(ctx, "r/1**", []byte("b"), time.Minute)

		if err := store.DeleteByPrefix(ctx, "r/*"); err != nil {
			t.Fatalf("delete by prefix failed: %v", err)
		}
		if _, ok, _ := store.Get(ctx, "r/***"); ok {
			t.Error("expected r/*** to be deleted")
		}
		if _, ok, _ := store.Get(ctx, "r/1**"); !ok {
			t.Error("expected r/1** to be kept")
		}
	})
}
