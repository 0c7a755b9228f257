// Package config loads runtime configuration from defaults, an optional
// config file, and CYCLICTOOLS_* environment variables, in that precedence
// order (lowest first). Runtime overrides passed by callers win over all.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// SubmitRate caps job submissions per second on the HTTP API (0 disables).
	SubmitRate  float64 `mapstructure:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst"`
}

type JobsConfig struct {
	// RootDir is where per-job directories live. Empty means the
	// user-level default under the home directory.
	RootDir string `mapstructure:"root_dir"`
	// Workers caps concurrently running jobs in serve mode.
	Workers int `mapstructure:"workers"`
	// CancelGrace is how long a cancelled child gets between SIGTERM
	// and SIGKILL.
	CancelGrace time.Duration `mapstructure:"cancel_grace"`
	// DefaultTail is the log tail length used when callers omit one.
	DefaultTail int `mapstructure:"default_tail"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load builds a Config. Optional override maps take highest precedence and
// exist so tests can construct isolated configurations.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.submit_rate", 10.0)
	v.SetDefault("server.submit_burst", 20)

	v.SetDefault("jobs.root_dir", "")
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.cancel_grace", 5*time.Second)
	v.SetDefault("jobs.default_tail", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetEnvPrefix("CYCLICTOOLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cyclictools")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".cyclictools"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from an explicit config file path.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Load(ctx, overrides...)
	}
	o := append([]map[string]any{}, overrides...)
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	o = append([]map[string]any{v.AllSettings()}, o...)
	return Load(ctx, o...)
}

// JobsRootDir resolves the configured jobs root, defaulting to
// ~/.cyclictools/jobs.
func (c *Config) JobsRootDir() (string, error) {
	if dir := strings.TrimSpace(c.Jobs.RootDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".cyclictools", "jobs"), nil
}
