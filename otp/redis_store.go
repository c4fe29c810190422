package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps codes in Redis so that several API instances share them.
// The attempt counter lives under its own key and expires with the code.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "otp"}
}

func (r *RedisStore) codeKey(phone string) string {
	return fmt.Sprintf("%s:code:%s", r.prefix, phone)
}

func (r *RedisStore) attemptsKey(phone string) string {
	return fmt.Sprintf("%s:attempts:%s", r.prefix, phone)
}

func (r *RedisStore) Save(ctx context.Context, phone string, entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal code: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.codeKey(phone), data, ttl)
		pipe.Set(ctx, r.attemptsKey(phone), entry.Attempts, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save code to redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, phone string) (Entry, error) {
	data, err := r.client.Get(ctx, r.codeKey(phone)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("failed to get code from redis: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal code: %w", err)
	}

	attempts, err := r.client.Get(ctx, r.attemptsKey(phone)).Int()
	if err != nil && err != redis.Nil {
		return Entry{}, fmt.Errorf("failed to get attempts from redis: %w", err)
	}
	entry.Attempts = attempts
	return entry, nil
}

func (r *RedisStore) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	exists, err := r.client.Exists(ctx, r.codeKey(phone)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check code in redis: %w", err)
	}
	if exists == 0 {
		return 0, ErrNotFound
	}
	n, err := r.client.Incr(ctx, r.attemptsKey(phone)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) Delete(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, r.codeKey(phone), r.attemptsKey(phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete code from redis: %w", err)
	}
	return nil
}
