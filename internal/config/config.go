// Package config loads client settings from defaults, an optional YAML file and CLINICSYNC_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding settings.
const EnvPrefix = "CLINICSYNC"

// Config is the client configuration.
type Config struct {
	Addr      string `mapstructure:"addr"`
	CACert    string `mapstructure:"cacert"`
	Insecure  bool   `mapstructure:"insecure"`
	Plaintext bool   `mapstructure:"plaintext"`
	DataDir   string `mapstructure:"data_dir"`
	LogLevel  string `mapstructure:"log_level"`

	Sync SyncConfig `mapstructure:"sync"`
	Pin  PinConfig  `mapstructure:"pin"`
}

// SyncConfig tunes synchronisation.
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	PageSize     int           `mapstructure:"page_size"`
	Concurrency  int           `mapstructure:"concurrency"`
	Retries      int           `mapstructure:"retries"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ClearRetries int           `mapstructure:"clear_retries"`
	ClearTimeout time.Duration `mapstructure:"clear_timeout"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
}

// PinConfig is the local PIN brute-force protection.
type PinConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BlockFor    time.Duration `mapstructure:"block_for"`
}

// DefaultDataDir returns $XDG_CONFIG_HOME/clinicsync or ~/.config/clinicsync.
func DefaultDataDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "clinicsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clinicsync")
}

// SetDefaults registers every key so that environment variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", "localhost:8443")
	v.SetDefault("cacert", "")
	v.SetDefault("insecure", false)
	v.SetDefault("plaintext", false)
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("log_level", "info")

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.page_size", 500)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.retries", 2)
	v.SetDefault("sync.timeout", time.Minute)
	v.SetDefault("sync.clear_retries", 0)
	v.SetDefault("sync.clear_timeout", 15*time.Second)
	v.SetDefault("sync.login_timeout", time.Minute)

	v.SetDefault("pin.max_attempts", 5)
	v.SetDefault("pin.block_for", 20*time.Minute)
}

// Load reads configuration into v. An empty file means no config file.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	var problems []error
	if c.Addr == "" {
		problems = append(problems, errors.New("addr is required"))
	}
	if c.DataDir == "" {
		problems = append(problems, errors.New("data_dir is required"))
	}
	if c.Insecure && c.Plaintext {
		problems = append(problems, errors.New("insecure and plaintext are mutually exclusive"))
	}
	if c.Sync.Interval <= 0 {
		problems = append(problems, errors.New("sync.interval must be positive"))
	}
	if c.Sync.PageSize <= 0 {
		problems = append(problems, errors.New("sync.page_size must be positive"))
	}
	if c.Sync.Retries < 0 || c.Sync.ClearRetries < 0 {
		problems = append(problems, errors.New("sync retries must not be negative"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("validation: %w", errors.Join(problems...))
	}
	return nil
}
