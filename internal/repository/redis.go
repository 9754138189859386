package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"closer/internal/config"
	"closer/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisChainCache keeps chain reads in redis with a fixed TTL.
type RedisChainCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisChainCache(client *redis.Client, ttl time.Duration) *RedisChainCache {
	return &RedisChainCache{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisChainCache) GetBookings(ctx context.Context, account string, year uint16) ([]models.ChainBookingRecord, bool, error) {
	raw, ok, err := r.get(ctx, bookingsKey(account, year))
	if err != nil || !ok {
		return nil, ok, err
	}
	records := make([]models.ChainBookingRecord, 0)
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal bookings: %w", err)
	}
	return records, true, nil
}

func (r *RedisChainCache) SetBookings(ctx context.Context, account string, year uint16, records []models.ChainBookingRecord) error {
	if records == nil {
		records = []models.ChainBookingRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal bookings: %w", err)
	}
	return r.set(ctx, bookingsKey(account, year), data, r.ttl)
}

func (r *RedisChainCache) GetAmount(ctx context.Context, account, name string) (decimal.Decimal, bool, error) {
	raw, ok, err := r.get(ctx, amountKey(account, name))
	if err != nil || !ok {
		return decimal.Zero, ok, err
	}
	v, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to parse amount: %w", err)
	}
	return v, true, nil
}

func (r *RedisChainCache) SetAmount(ctx context.Context, account, name string, value decimal.Decimal) error {
	return r.set(ctx, amountKey(account, name), []byte(value.String()), r.ttl)
}

// InvalidateAccount deletes every cached read of account.
func (r *RedisChainCache) InvalidateAccount(ctx context.Context, account string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	var keys []string
	iter := r.client.Scan(ctx, 0, accountPrefix(account)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan account keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete account keys: %w", err)
	}
	return nil
}

func (r *RedisChainCache) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	return r.get(ctx, blobKey(key))
}

func (r *RedisChainCache) SetBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.set(ctx, blobKey(key), value, ttl)
}

func (r *RedisChainCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	rk := rateKey(key)
	count, err := r.client.Incr(ctx, rk).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, rk, window)
	}

	return count <= int64(limit), nil
}

func (r *RedisChainCache) get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisChainCache) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
