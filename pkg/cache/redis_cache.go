package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"tetrio-api/pkg/models"
)

// RedisCache implements Backend on top of Redis.
// Values are JSON encoded success entries and Redis expires them itself.
type RedisCache struct {
	client redis.UniversalClient
	logger *zap.Logger
	config *CacheConfig
	clock  clock.Clock
}

// NewRedisCache creates a new instance of RedisCache
func NewRedisCache(config *CacheConfig, logger *zap.Logger) (*RedisCache, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	// Configure the Redis client
	options := &redis.UniversalOptions{
		Addrs:        config.Addresses,
		Password:     config.Password,
		DB:           config.Database,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolTimeout:  config.PoolTimeout,
	}

	client := redis.NewUniversalClient(options)

	// Check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, config, nil, logger), nil
}

// NewRedisCacheFromClient wraps an existing client. A nil clock uses the wall clock.
func NewRedisCacheFromClient(client redis.UniversalClient, config *CacheConfig, clk clock.Clock, logger *zap.Logger) *RedisCache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client: client,
		logger: logger,
		config: config,
		clock:  clk,
	}
}

// Lookup retrieves an entry from the cache
func (rc *RedisCache) Lookup(ctx context.Context, key string) (Item, error) {
	redisKey := rc.key(key)

	data, err := rc.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		rc.logger.Error("failed to get cache item", zap.Error(err), zap.String("key", redisKey))
		return nil, fmt.Errorf("failed to get cache item: %w", err)
	}

	var entry models.RawEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		rc.logger.Error("failed to unmarshal cache item", zap.Error(err), zap.String("key", redisKey))
		return nil, fmt.Errorf("%w: failed to unmarshal cache item: %v", ErrConversion, err)
	}

	// Redis expiry has second granularity, cached_until is the authority
	if entry.Cache.IsExpired(rc.clock.Now()) {
		rc.logger.Debug("cache item expired, removing", zap.String("key", redisKey))
		if err := rc.client.Del(ctx, redisKey).Err(); err != nil {
			rc.logger.Warn("failed to delete expired cache item", zap.Error(err), zap.String("key", redisKey))
		}
		return nil, nil
	}

	rc.logger.Debug("cache item retrieved successfully", zap.String("key", redisKey))
	return &entry, nil
}

// Store saves an entry with SET EX, rounding the remaining TTL up to whole seconds
func (rc *RedisCache) Store(ctx context.Context, key string, item Item) error {
	redisKey := rc.key(key)

	ttl := item.Metadata().TTLRemaining(rc.clock.Now())
	if ttl <= 0 {
		rc.logger.Debug("skipping expired cache item", zap.String("key", redisKey))
		return nil
	}
	seconds := time.Duration(math.Ceil(ttl.Seconds())) * time.Second

	data, err := json.Marshal(item)
	if err != nil {
		rc.logger.Error("failed to marshal cache item", zap.Error(err), zap.String("key", redisKey))
		return fmt.Errorf("%w: failed to marshal cache item: %v", ErrConversion, err)
	}

	if err := rc.client.Set(ctx, redisKey, data, seconds).Err(); err != nil {
		rc.logger.Error("failed to set cache item", zap.Error(err), zap.String("key", redisKey))
		return fmt.Errorf("failed to set cache item: %w", err)
	}

	rc.logger.Debug("cache item set successfully",
		zap.String("key", redisKey),
		zap.Duration("ttl", seconds))

	return nil
}

// Exists checks if a key exists in the cache
func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := rc.client.Exists(ctx, rc.key(key)).Result()
	if err != nil {
		rc.logger.Error("failed to check cache item existence", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("failed to check cache item existence: %w", err)
	}

	return count > 0, nil
}

// Ping checks the connection to Redis
func (rc *RedisCache) Ping(ctx context.Context) error {
	err := rc.client.Ping(ctx).Err()
	if err != nil {
		rc.logger.Error("ping failed", zap.Error(err))
		return fmt.Errorf("ping failed: %w", err)
	}

	return nil
}

// Close closes the connection to Redis
func (rc *RedisCache) Close() error {
	err := rc.client.Close()
	if err != nil {
		rc.logger.Error("failed to close Redis connection", zap.Error(err))
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}

	rc.logger.Info("Redis connection closed successfully")
	return nil
}

func (rc *RedisCache) key(key string) string {
	return rc.config.KeyPrefix + key
}
