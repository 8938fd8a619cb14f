package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) *Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb)
}

func TestObtainIsExclusive(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "stock:a:b", time.Minute)
	require.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(shortCtx, "stock:a:b", time.Minute)
	require.Error(t, err)

	require.NoError(t, release(ctx))
	again, err := locker.Obtain(ctx, "stock:a:b", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestObtainDifferentKeys(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	first, err := locker.Obtain(ctx, "stock:a:1", time.Minute)
	require.NoError(t, err)
	second, err := locker.Obtain(ctx, "stock:a:2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, first(ctx))
	require.NoError(t, second(ctx))
}
