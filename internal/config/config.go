// Package config resolves carelog settings from defaults, a YAML config
// file, CARELOG_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys shared by the config file, environment and flags.
const (
	KeyDB             = "db"
	KeySubject        = "subject"
	KeyCacheTTL       = "cache_ttl"
	KeyDedupTolerance = "dedup_tolerance"
	KeyFetchLimit     = "fetch_limit"
)

// EnvPrefix prefixes every environment override, e.g. CARELOG_DB.
const EnvPrefix = "CARELOG"

// Defaults.
const (
	DefaultDB             = "carelog.db"
	DefaultCacheTTL       = 5 * time.Minute
	DefaultDedupTolerance = 2 * time.Hour
	DefaultFetchLimit     = 50
)

// Config is the resolved configuration.
type Config struct {
	DB             string        `mapstructure:"db"`
	Subject        string        `mapstructure:"subject"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	DedupTolerance time.Duration `mapstructure:"dedup_tolerance"`
	FetchLimit     int           `mapstructure:"fetch_limit"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// Load resolves the configuration. When file is empty, carelog.yaml is
// looked up in the working directory and in ~/.carelog, and a missing file
// is not an error. Flags in fs whose names match a key override every other
// source once they are set.
func Load(file string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault(KeyDB, DefaultDB)
	v.SetDefault(KeySubject, "")
	v.SetDefault(KeyCacheTTL, DefaultCacheTTL)
	v.SetDefault(KeyDedupTolerance, DefaultDedupTolerance)
	v.SetDefault(KeyFetchLimit, DefaultFetchLimit)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("carelog")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".carelog"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		for _, key := range []string{KeyDB, KeySubject, KeyCacheTTL, KeyDedupTolerance, KeyFetchLimit} {
			flag := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyDB))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("%s must be >= 0, got %s", KeyCacheTTL, c.CacheTTL))
	}
	if c.DedupTolerance < 0 {
		errs = append(errs, fmt.Errorf("%s must be >= 0, got %s", KeyDedupTolerance, c.DedupTolerance))
	}
	if c.FetchLimit <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0, got %d", KeyFetchLimit, c.FetchLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireSubject returns the configured subject or an error naming every
// way to set it.
func (c *Config) RequireSubject() (string, error) {
	if c.Subject == "" {
		return "", fmt.Errorf("no subject: pass --subject, set %s_SUBJECT or add %q to the config file", EnvPrefix, KeySubject)
	}
	return c.Subject, nil
}
