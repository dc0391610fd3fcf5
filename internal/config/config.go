package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"tetrio-api/pkg/cache"
)

const envPrefix = "TETRIO"

// Config main configuration structure
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	Client  ClientConfig      `mapstructure:"client"`
	Cache   cache.CacheConfig `mapstructure:"cache"`
	Logger  LoggerConfig      `mapstructure:"logger"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ClientConfig upstream API client configuration
type ClientConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent"`
	Coalesce  bool          `mapstructure:"coalesce"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

// MetricsConfig Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
}

// LoadConfig loads the configuration from config files and environment variables.
// Extra search paths are tried before the defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/tetrio-api")

	// Environment variables, e.g. TETRIO_CLIENT_BASE_URL
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// TETRIO_CACHE_ADDRESSES arrives as a single comma separated string
	if addressesStr := v.GetString("cache.addresses"); addressesStr != "" {
		addresses := strings.Split(addressesStr, ",")
		for i, addr := range addresses {
			addresses[i] = strings.TrimSpace(addr)
		}
		config.Cache.Addresses = addresses
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Cache.Backend {
	case cache.BackendNoop, cache.BackendMemory, cache.BackendRedis:
	default:
		return fmt.Errorf("invalid config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == cache.BackendRedis && len(c.Cache.Addresses) == 0 {
		return errors.New("invalid config: redis backend needs at least one address")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Client defaults
	v.SetDefault("client.base_url", "https://ch.tetr.io/api/")
	v.SetDefault("client.interval", "1s")
	v.SetDefault("client.user_agent", "tetrio-api-go")
	v.SetDefault("client.coalesce", false)

	// Cache defaults, redis settings only apply to the redis backend
	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.key_prefix", "tetrio:")
	v.SetDefault("cache.addresses", []string{"localhost:6379"})
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.database", 0)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.min_idle_conns", 5)
	v.SetDefault("cache.dial_timeout", "5s")
	v.SetDefault("cache.read_timeout", "3s")
	v.SetDefault("cache.write_timeout", "3s")
	v.SetDefault("cache.pool_timeout", "4s")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output_path", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// GetAddress returns the full server address
func (sc *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", sc.Host, sc.Port)
}
