package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend kinds accepted by New
const (
	BackendNoop   = "noop"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// CacheConfig configuration for the cache
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// DefaultCacheConfig returns the default configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Backend:      BackendMemory,
		KeyPrefix:    "tetrio:",
		Addresses:    []string{"localhost:6379"},
		Password:     "",
		Database:     0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// New builds the backend selected by config.Backend
func New(config *CacheConfig, logger *zap.Logger) (Backend, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	switch config.Backend {
	case BackendNoop:
		return NewNoopCache(), nil
	case BackendMemory, "":
		return NewMemoryCache(nil, logger), nil
	case BackendRedis:
		return NewRedisCache(config, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", config.Backend)
	}
}
