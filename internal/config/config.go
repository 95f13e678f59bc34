// Package config loads the process configuration from /etc/powermon.toml
// (or the file named by POWERMON_CONFIG), applies defaults, and lets
// parsed command line flags override file values.
package config

import (
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"powermon/internal/errors"
)

const (
	DefaultDatabase  = "/var/lib/powermon/power.db"
	DefaultLogLevel  = "info"
	DefaultCacheSize = 128

	configEnvVar = "POWERMON_CONFIG"
)

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

type Config struct {
	Database  string `mapstructure:"database"`
	LogLevel  string `mapstructure:"log_level"`
	CacheSize int    `mapstructure:"cache_size"`
}

// Load reads configuration from all sources and validates it. Flags may
// be nil when no command line overrides apply.
func Load(flags *pflag.FlagSet) (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("cache_size", DefaultCacheSize)

	if path := os.Getenv(configEnvVar); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("powermon")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	errFactory := errors.New()

	bindings := map[string]string{
		"database":   "database",
		"log-level":  "log_level",
		"cache-size": "cache_size",
	}
	for flagName, key := range bindings {
		flag := flags.Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	return nil
}

// Validate checks if the current configuration is valid
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Database == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "database path must not be empty")
	}
	if c.CacheSize < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "cache_size must not be negative")
	}

	return nil
}
