package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, prefix string) (*miniredis.Miniredis, RedisAdapter) {
	mr := miniredis.RunT(t)
	a, err := NewRedisAdapter(t.Name(), prefix, &Options{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return mr, a
}

func TestNewRedisAdapter_Cached(t *testing.T) {
	_, a := newTestAdapter(t, "")
	b, err := NewRedisAdapter(t.Name(), "", &Options{Addrs: []string{"127.0.0.1:1"}})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, a, GetRedis(t.Name()))
}

func TestNewRedisAdapter_Unreachable(t *testing.T) {
	_, err := NewRedisAdapter(t.Name(), "", &Options{Addrs: []string{"127.0.0.1:1"}, DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestRedisAdapter_Keys(t *testing.T) {
	mr, a := newTestAdapter(t, "inbox:")
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("inbox:k"))

	v, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	ok, err := a.SetNX(ctx, "k", []byte("other"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := a.Exist(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, a.Del(ctx, "k"))
	_, err = a.Get(ctx, "k")
	assert.ErrorIs(t, err, NilError)
}

func TestRedisAdapter_IncrWithTTL(t *testing.T) {
	mr, a := newTestAdapter(t, "")
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := a.IncrWithTTL(ctx, "retries", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, time.Hour, mr.TTL("retries"))
}

func TestRedisAdapter_Streams(t *testing.T) {
	_, a := newTestAdapter(t, "p:")
	ctx := context.Background()

	require.NoError(t, a.XGroupCreateMkStream(ctx, "s", "g", "0"))

	msgs, err := a.XReadGroup(ctx, "g", "c1", "s", ">", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	id, err := a.XAdd(ctx, "s", map[string]interface{}{"data": "x"})
	require.NoError(t, err)

	msgs, err = a.XReadGroup(ctx, "g", "c1", "s", ">", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "x", msgs[0].Values["data"])

	pending, err := a.XPending(ctx, "s", "g")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)

	require.NoError(t, a.XAck(ctx, "s", "g", id))
	pending, err = a.XPending(ctx, "s", "g")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	n, err := a.XLen(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := a.XRange(ctx, "s", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
