package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisManager_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	m, err := NewRedisManager(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	assert.NotNil(t, m.Client())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNewRedisManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisManager(context.Background(), Config{Addr: addr})
	require.Error(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	require.NoError(t, m.Subscribe(ctx, "room", func(b []byte) { got <- string(b) }))

	require.NoError(t, m.Publish(ctx, "room", []byte("one")))
	require.NoError(t, m.Publish(ctx, "room", []byte("two")))
	require.NoError(t, m.Publish(ctx, "elsewhere", []byte("x")))

	for _, want := range []string{"one", "two"} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, m.Close())
	require.Error(t, m.Subscribe(context.Background(), "room", func([]byte) {}))
}
