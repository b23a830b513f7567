package channel

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	srv := miniredis.RunT(t)
	r, err := OpenRedis(config.RedisConfig{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedis_SetGetDelete(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, KeyState, []byte(`{"active":false}`)))
	got, ok, err := r.Get(ctx, KeyState)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"active":false}`, string(got))

	require.NoError(t, r.Delete(ctx, KeyState))
	_, ok, err = r.Get(ctx, KeyState)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_TTL(t *testing.T) {
	srv := miniredis.RunT(t)
	r, err := OpenRedis(config.RedisConfig{Addr: srv.Addr()})
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.SetTTL(ctx, KeyRequest, []byte("x"), time.Hour))

	_, ok, err := r.Get(ctx, KeyRequest)
	require.NoError(t, err)
	assert.True(t, ok)

	srv.FastForward(2 * time.Hour)
	_, ok, err = r.Get(ctx, KeyRequest)
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire after TTL")
}

func TestRedis_WatchSignalsOnChange(t *testing.T) {
	r := newTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := r.Watch(ctx, KeyRequest)
	require.NoError(t, r.Set(ctx, KeyRequest, []byte("r1")))

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not signal within poll interval")
	}
}

func TestOpenRedis_Unreachable(t *testing.T) {
	_, err := OpenRedis(config.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
