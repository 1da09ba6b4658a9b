package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chart-gateway/internal/model"
	"chart-gateway/internal/security"
)

type Config struct {
	Server      ServerConfig                `mapstructure:"server"`
	Database    DatabaseConfig              `mapstructure:"database"`
	Security    SecurityConfig              `mapstructure:"security"`
	Logging     LoggingConfig               `mapstructure:"logging"`
	Engine      EngineConfig                `mapstructure:"engine"`
	Pool        PoolConfig                  `mapstructure:"pool"`
	Schema      SchemaConfig                `mapstructure:"schema"`
	DataSources map[string]DataSourceConfig `mapstructure:"datasources"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig is the metadata database holding registered data sources.
// When disabled only the data sources declared in this file are available.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSL             string        `mapstructure:"ssl"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type SecurityConfig struct {
	JWTSecret          string                  `mapstructure:"jwt_secret"`
	JWTExpiration      time.Duration           `mapstructure:"jwt_expiration"`
	RateLimitPerMinute int                     `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int                     `mapstructure:"rate_limit_burst"`
	EnableAuth         bool                    `mapstructure:"enable_auth"`
	EnableRateLimit    bool                    `mapstructure:"enable_rate_limit"`
	VaultKey           string                  `mapstructure:"vault_key"` // base64 AES-256 key
	AWS                security.AWSCredentials `mapstructure:"aws"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig tunes chart query execution
type EngineConfig struct {
	DefaultDataSource  string        `mapstructure:"default_data_source"`
	MaxLimit           int           `mapstructure:"max_limit"`
	StatementTimeout   time.Duration `mapstructure:"statement_timeout"`
	MaxStatementLength int           `mapstructure:"max_statement_length"`
}

type PoolConfig struct {
	MaxSize        int           `mapstructure:"max_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type SchemaConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DataSourceConfig declares a data source in the configuration file
type DataSourceConfig struct {
	Type                   model.DatabaseType `mapstructure:"type"`
	model.DataSourceConfig `mapstructure:",squash"`
}

// Load reads configFile, or config.yaml from ./configs or the working
// directory when configFile is empty. CHART_ environment variables override
// file values, e.g. CHART_ENGINE_MAX_LIMIT.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("CHART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.database", "gateway_db")
	v.SetDefault("database.username", "gateway_user")
	v.SetDefault("database.ssl", "false")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")

	// Security defaults
	v.SetDefault("security.jwt_secret", "your-secret-key")
	v.SetDefault("security.jwt_expiration", "24h")
	v.SetDefault("security.rate_limit_per_minute", 600)
	v.SetDefault("security.rate_limit_burst", 50)
	v.SetDefault("security.enable_auth", true)
	v.SetDefault("security.enable_rate_limit", true)
	v.SetDefault("security.vault_key", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Engine defaults
	v.SetDefault("engine.default_data_source", "")
	v.SetDefault("engine.max_limit", 1000)
	v.SetDefault("engine.statement_timeout", "10s")
	v.SetDefault("engine.max_statement_length", 10000)

	// Pool defaults
	v.SetDefault("pool.max_size", 10)
	v.SetDefault("pool.acquire_timeout", "5s")

	// Schema cache defaults
	v.SetDefault("schema.cache_ttl", "300s")
	v.SetDefault("schema.lookup_timeout", "5s")
	v.SetDefault("schema.cleanup_interval", "10m")
}

// Validate rejects settings the gateway cannot start with. A single
// declared data source becomes the default when none is named.
func (c *Config) Validate() error {
	if c.Engine.MaxLimit <= 0 {
		return fmt.Errorf("engine.max_limit must be positive, got %d", c.Engine.MaxLimit)
	}
	if c.Engine.StatementTimeout <= 0 {
		return fmt.Errorf("engine.statement_timeout must be positive")
	}
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("pool.max_size must be positive, got %d", c.Pool.MaxSize)
	}
	if c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout must be positive")
	}
	if c.Security.EnableAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required when authentication is enabled")
	}

	for name, ds := range c.DataSources {
		if !model.IsValidDatabaseType(string(ds.Type)) {
			return fmt.Errorf("datasources.%s: unsupported type %q", name, ds.Type)
		}
	}

	if c.Engine.DefaultDataSource == "" && len(c.DataSources) == 1 {
		for name := range c.DataSources {
			c.Engine.DefaultDataSource = name
		}
	}

	return nil
}

// StaticDataSources returns the data sources declared in the file, sorted by name
func (c *Config) StaticDataSources() []*model.DataSource {
	names := make([]string, 0, len(c.DataSources))
	for name := range c.DataSources {
		names = append(names, name)
	}
	sort.Strings(names)

	sources := make([]*model.DataSource, 0, len(names))
	for _, name := range names {
		entry := c.DataSources[name]
		sources = append(sources, &model.DataSource{
			Name:   name,
			Type:   entry.Type,
			Config: entry.DataSourceConfig,
			Status: model.DataSourceStatusActive,
		})
	}
	return sources
}

// NewLogger builds the process logger from the logging section
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
