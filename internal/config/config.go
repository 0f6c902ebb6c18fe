package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Database Database `mapstructure:"database"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Report   Report   `mapstructure:"report"`
	Remote   Remote   `mapstructure:"remote"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Ledger names the trade table the aggregations run against.
type Ledger struct {
	Table string `mapstructure:"table"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Report lists the strategies printed by the report command.
// An empty list means every strategy found in the ledger.
type Report struct {
	Strategies []string `mapstructure:"strategies"`
}

// Remote holds the configuration for reading reports from a running server.
type Remote struct {
	BaseURL        string        `mapstructure:"base_url"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config.yml is fine, the defaults cover every key.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "file:trades.sqlite?mode=ro")
	v.SetDefault("ledger.table", "epex_12_20_12_13")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("report.strategies", []string{})
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.rate_limit", 20)      // requests per second
	v.SetDefault("remote.rate_limit_burst", 5) // burst size
	v.SetDefault("remote.timeout", 10*time.Second)
}

// Validate checks the values the binaries cannot run without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Ledger.Table == "" {
		return errors.New("ledger.table is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Remote.RateLimit <= 0 {
		return errors.New("remote.rate_limit must be positive")
	}
	if c.Remote.RateLimitBurst <= 0 {
		return errors.New("remote.rate_limit_burst must be positive")
	}
	return nil
}
