package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStore_UnreachableRedisReturnsErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	store := redisstore.New(client, redisstore.WithKey("test:tokens"), redisstore.WithTimeout(time.Second))

	_, err := store.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "test:tokens")

	require.Error(t, store.Save(token.Pair{AccessToken: "a", RefreshToken: "r"}))
	require.Error(t, store.Clear())
}

func TestStore_RoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstore.New(client, redisstore.WithKey("test:tokens"))

	pair, err := store.Load()
	require.NoError(t, err)
	require.True(t, pair.IsEmpty())

	require.NoError(t, store.Save(token.Pair{AccessToken: "a1", RefreshToken: "r1"}))
	pair, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, token.Pair{AccessToken: "a1", RefreshToken: "r1"}, pair)

	// A pair without a refresh token must not keep the previous one.
	require.NoError(t, store.Save(token.Pair{AccessToken: "a2"}))
	pair, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, token.Pair{AccessToken: "a2"}, pair)
	exists, err := client.HExists(context.Background(), "test:tokens", "refresh_token").Result()
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.Clear())
	pair, err = store.Load()
	require.NoError(t, err)
	require.True(t, pair.IsEmpty())
	require.False(t, server.Exists("test:tokens"))
}

func TestStore_SavingEmptyPairDeletesKey(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstore.New(client)

	require.NoError(t, store.Save(token.Pair{AccessToken: "a", RefreshToken: "r"}))
	require.True(t, server.Exists(redisstore.DefaultKey))
	require.NoError(t, store.Save(token.Pair{}))
	require.False(t, server.Exists(redisstore.DefaultKey))
}
