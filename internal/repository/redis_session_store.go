package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "deevent:session:"

// RedisSessionStore はRedisを使用したセッションストア。
// 1セッションを1つのハッシュとして保持し、キーのTTLで有効期限を管理する。
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore はRedisSessionStoreを生成する。
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// NewRedisClient はRedisクライアントを生成し、接続を確認する。
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Get は指定キーの値を取得する。
func (r *RedisSessionStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	value, err := r.client.HGet(ctx, redisKeyPrefix+sessionID, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis hget session: %w", err)
	}
	return value, nil
}

// Set は複数の値をMULTI/EXECで一括保存し、TTLを延長する。
func (r *RedisSessionStore) Set(ctx context.Context, sessionID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	key := redisKeyPrefix + sessionID

	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, redisKeyPrefix+sessionID, keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel session: %w", err)
	}
	return nil
}

// Clear はセッションの全キーを削除する。
func (r *RedisSessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*RedisSessionStore)(nil)
