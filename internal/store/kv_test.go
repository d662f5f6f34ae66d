package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKVContract exercises the behaviour every KV backend shares.
// prefix keeps keys from colliding on shared live backends.
func testKVContract(t *testing.T, kv KV, prefix string) {
	ctx := context.Background()
	k := func(s string) string { return prefix + s }
	t.Cleanup(func() { kv.Delete(ctx, k("a"), k("b"), k("c"), k("missing")) })

	t.Run("miss returns ErrNotFound", func(t *testing.T) {
		_, err := kv.Get(ctx, k("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get round-trips bytes", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, k("a"), []byte{0x00, 0x01, 0xff}, time.Hour))
		got, err := kv.Get(ctx, k("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x01, 0xff}, got)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, k("b"), []byte("old"), time.Hour))
		require.NoError(t, kv.Set(ctx, k("b"), []byte("new"), 0))
		got, err := kv.Get(ctx, k("b"))
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("delete removes several keys and ignores missing ones", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, k("a"), []byte("1"), 0))
		require.NoError(t, kv.Set(ctx, k("c"), []byte("3"), 0))
		require.NoError(t, kv.Delete(ctx, k("a"), k("c"), k("missing")))

		_, err := kv.Get(ctx, k("a"))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = kv.Get(ctx, k("c"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete with no keys is a no-op", func(t *testing.T) {
		assert.NoError(t, kv.Delete(ctx))
	})

	t.Run("health check passes", func(t *testing.T) {
		assert.NoError(t, kv.CheckHealth(ctx))
	})
}
