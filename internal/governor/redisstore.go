package governor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultQuotaKey is the fixed key the quota document lives under.
const DefaultQuotaKey = "governor/quota"

// RedisQuotaStore persists quota state in Redis. It gives durability across
// restarts and hosts; it does not coordinate a live window between replicas.
type RedisQuotaStore struct {
	Client *redis.Client
	Key    string
}

var _ QuotaStore = (*RedisQuotaStore)(nil)

func NewRedisQuotaStore(ctx context.Context, redisURL, key string) (*RedisQuotaStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &PersistenceError{Op: "connect", Store: "redis", Err: err}
	}
	return NewRedisQuotaStoreFromClient(rdb, key), nil
}

func NewRedisQuotaStoreFromClient(client *redis.Client, key string) *RedisQuotaStore {
	if key == "" {
		key = DefaultQuotaKey
	}
	return &RedisQuotaStore{Client: client, Key: key}
}

func (s *RedisQuotaStore) Load(ctx context.Context) (QuotaState, error) {
	data, err := s.Client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return QuotaState{}, ErrQuotaStateNotFound
	}
	if err != nil {
		return QuotaState{}, &PersistenceError{Op: "load", Store: "redis", Err: err}
	}
	var state QuotaState
	if err := json.Unmarshal(data, &state); err != nil {
		return QuotaState{}, &PersistenceError{Op: "load", Store: "redis", Err: err}
	}
	return state, nil
}

func (s *RedisQuotaStore) Save(ctx context.Context, state QuotaState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &PersistenceError{Op: "save", Store: "redis", Err: err}
	}
	// no expiration; the date field drives resets
	if err := s.Client.Set(ctx, s.Key, data, 0).Err(); err != nil {
		return &PersistenceError{Op: "save", Store: "redis", Err: err}
	}
	return nil
}

func (s *RedisQuotaStore) Close() error {
	return s.Client.Close()
}
