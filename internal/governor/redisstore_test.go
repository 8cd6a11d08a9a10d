package governor

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedis starts a throwaway Redis container for the duration of the test.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:        endpoint,
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQuotaStore(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	s := NewRedisQuotaStoreFromClient(client, "")
	assert.Equal(t, DefaultQuotaKey, s.Key)

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrQuotaStateNotFound)

	require.NoError(t, s.Save(ctx, QuotaState{DailyCalls: 4, LastResetDate: "2024-03-11"}))
	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, QuotaState{DailyCalls: 4, LastResetDate: "2024-03-11"}, state)

	raw, err := client.Get(ctx, DefaultQuotaKey).Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"dailyCalls":4,"lastResetDate":"2024-03-11"}`, raw)
}

func TestRedisQuotaStore_ControllerRestart(t *testing.T) {
	client := setupRedis(t)
	clock := newManualClock(noon())
	cfg := Config{MaxCallsPerWindow: 5, Window: time.Minute, DailyLimit: 2, Clock: clock}

	first := newTestController(t, cfg, NewRedisQuotaStoreFromClient(client, "test/quota"))
	require.True(t, first.TryAcquire())

	second := newTestController(t, cfg, NewRedisQuotaStoreFromClient(client, "test/quota"))
	assert.Equal(t, 1, second.Stats().DailyCalls)
	assert.True(t, second.TryAcquire())
	assert.False(t, second.TryAcquire())
}

func TestRedisQuotaStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s := NewRedisQuotaStoreFromClient(client, "")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.ErrorIs(t, s.Save(ctx, QuotaState{DailyCalls: 1}), ErrPersistenceUnavailable)
}
