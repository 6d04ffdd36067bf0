package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	t.Run("should round trip values", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("should expire after default ttl", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "short", []byte("v"), 0))
		now = now.Add(time.Minute)

		_, err := store.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("should delete keys", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "gone", []byte("v"), time.Hour))
		require.NoError(t, store.Delete(ctx, "gone"))

		_, err := store.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("should reject empty keys", func(t *testing.T) {
		assert.Error(t, store.Set(ctx, "", []byte("v"), 0))
	})
}

func TestDurable(t *testing.T) {
	t.Run("should replace noop with memory", func(t *testing.T) {
		store := Durable(noopStore{})
		_, ok := store.(*MemoryStore)
		assert.True(t, ok)
	})

	t.Run("should keep real stores", func(t *testing.T) {
		mem := NewMemoryStore(0)
		assert.Same(t, mem, Durable(mem))
	})
}
