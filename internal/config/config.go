package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fab/enumerator/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Fab      FabConfig      `mapstructure:"fab"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Registry RegistryConfig `mapstructure:"registry"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// ServerConfig holds the metrics endpoint configuration
type ServerConfig struct {
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Host    string `mapstructure:"host"`
	Metrics bool   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// FabConfig describes the remote catalog: where the category tree and the
// search API live and how to talk to them.
type FabConfig struct {
	BaseURL              string        `mapstructure:"base_url" validate:"required,url"`
	CategoryRoot         string        `mapstructure:"category_root" validate:"required,url"`
	SearchURL            string        `mapstructure:"search_url" validate:"required,url"`
	Currency             string        `mapstructure:"currency" validate:"required"`
	Fetcher              string        `mapstructure:"fetcher" validate:"oneof=http browser"`
	Headless             bool          `mapstructure:"headless"`
	Timeout              time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRequestsPerSecond int           `mapstructure:"max_requests_per_second" validate:"gt=0"`
	Proxies              []string      `mapstructure:"proxies"`
	Selectors            Selectors     `mapstructure:"selectors"`
	ExcludedNames        []string      `mapstructure:"excluded_names"`
}

// Selectors locate category links on a category page
type Selectors struct {
	CategoryLink    string `mapstructure:"category_link" validate:"required"`
	Counter         string `mapstructure:"counter" validate:"required"`
	NoChildrenClass string `mapstructure:"no_children_class" validate:"required"`
	HrefPrefix      string `mapstructure:"href_prefix" validate:"required"`
}

// DelayRange is a closed interval a random politeness delay is drawn from
type DelayRange struct {
	Min time.Duration `mapstructure:"min" validate:"gte=0"`
	Max time.Duration `mapstructure:"max" validate:"gtefield=Min"`
}

// EngineConfig holds every static knob of the enumeration engine
type EngineConfig struct {
	PaginationCap   int           `mapstructure:"pagination_cap" validate:"gt=0"`
	PriceBoundaries []float64     `mapstructure:"price_boundaries" validate:"min=1"`
	SortOrders      []string      `mapstructure:"sort_orders" validate:"min=1,dive,required"`
	DefaultSort     string        `mapstructure:"default_sort" validate:"required"`
	Workers         int           `mapstructure:"workers" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0"`
	MinBackoff      time.Duration `mapstructure:"min_backoff" validate:"gte=0"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" validate:"gtefield=MinBackoff"`
	ShortDelay      DelayRange    `mapstructure:"short_delay"`
	LongDelay       DelayRange    `mapstructure:"long_delay"`
	ClaimTTL        time.Duration `mapstructure:"claim_ttl" validate:"gt=0"`
	AdaptiveSplit   bool          `mapstructure:"adaptive_split"`
	MaxSplitDepth   int           `mapstructure:"max_split_depth" validate:"gte=0"`
	MinSplitWidth   float64       `mapstructure:"min_split_width" validate:"gt=0"`
}

// RegistryConfig selects the visited registry backend
type RegistryConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=redis memory"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// SinkConfig selects where normalized records go
type SinkConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=postgres memory"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DSN returns the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// RedisConfig holds Redis connection details
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	Database      int    `mapstructure:"database"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	MinIdleTime   int    `mapstructure:"min_idle_time"`
}

// Addr returns host:port for the Redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load loads configuration from a YAML file with environment variable overrides.
// An empty path looks for config.yaml in the current directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Defaults and environment are enough to run
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks field constraints and the price boundary table
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	boundaries := c.Engine.PriceBoundaries
	if boundaries[0] != 0 {
		return fmt.Errorf("invalid config: engine.price_boundaries must start at 0, got %v", boundaries[0])
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return fmt.Errorf("invalid config: engine.price_boundaries must be strictly ascending (%v after %v)",
				boundaries[i], boundaries[i-1])
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.metrics", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("fab.base_url", "https://www.fab.com")
	v.SetDefault("fab.category_root", "https://www.fab.com/category")
	v.SetDefault("fab.search_url", "https://www.fab.com/i/listings/search")
	v.SetDefault("fab.currency", "USD")
	v.SetDefault("fab.fetcher", "http")
	v.SetDefault("fab.headless", true)
	v.SetDefault("fab.timeout", "30s")
	v.SetDefault("fab.max_requests_per_second", 1)
	v.SetDefault("fab.proxies", []string{})
	v.SetDefault("fab.selectors.category_link", `a[href^="/category/"]`)
	v.SetDefault("fab.selectors.counter", "span.fabkit-Counter-root")
	v.SetDefault("fab.selectors.no_children_class", "fabkit-TreeView--noChildren")
	v.SetDefault("fab.selectors.href_prefix", "/category/")
	v.SetDefault("fab.excluded_names", []string{"all products", "trending"})

	v.SetDefault("engine.pagination_cap", 4900)
	v.SetDefault("engine.price_boundaries", []float64{0, 1, 5, 10, 20, 50, 100})
	v.SetDefault("engine.sort_orders", sortOrderNames(domain.SortOrders))
	v.SetDefault("engine.default_sort", domain.SortRelevance.String())
	v.SetDefault("engine.workers", 1)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.min_backoff", "2s")
	v.SetDefault("engine.max_backoff", "30s")
	v.SetDefault("engine.short_delay.min", "2s")
	v.SetDefault("engine.short_delay.max", "5s")
	v.SetDefault("engine.long_delay.min", "7s")
	v.SetDefault("engine.long_delay.max", "15s")
	v.SetDefault("engine.claim_ttl", "30m")
	v.SetDefault("engine.adaptive_split", false)
	v.SetDefault("engine.max_split_depth", 4)
	v.SetDefault("engine.min_split_width", 0.5)

	v.SetDefault("registry.backend", "redis")
	v.SetDefault("registry.key_prefix", "fab:registry:")

	v.SetDefault("sink.backend", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "fab")
	v.SetDefault("database.user", "fab_user")
	v.SetDefault("database.password", "fab_pass")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.consumer_group", "fab_enumerator")
	v.SetDefault("redis.min_idle_time", 120)
}

func sortOrderNames(orders []domain.SortOrder) []string {
	names := make([]string, 0, len(orders))
	for _, order := range orders {
		names = append(names, order.String())
	}
	return names
}
