package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds application configuration values
type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	Browser    BrowserConfig   `mapstructure:"browser"`
	UserAgents []string        `mapstructure:"user_agents"`
	RateLimit  RateLimitConfig `mapstructure:"ratelimit"`
	Retry      RetryConfig     `mapstructure:"retry"`
	Proxy      ProxyConfig     `mapstructure:"proxy"`
	Cache      CacheConfig     `mapstructure:"cache"`
	Batch      BatchConfig     `mapstructure:"batch"`
	Server     ServerConfig    `mapstructure:"server"`
	Webhook    WebhookConfig   `mapstructure:"webhook"`

	// Quiet suppresses everything below error level. Flag only.
	Quiet bool `mapstructure:"-"`
	// File is the config file that was read, if any
	File string `mapstructure:"-"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	ChromeTLS bool          `mapstructure:"chrome_tls"`
}

type BrowserConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Headless   bool          `mapstructure:"headless"`
	ChromePath string        `mapstructure:"chrome_path"`
}

type RateLimitConfig struct {
	StaticRPS    float64 `mapstructure:"static_rps"`
	StaticBurst  int     `mapstructure:"static_burst"`
	DynamicRPS   float64 `mapstructure:"dynamic_rps"`
	DynamicBurst int     `mapstructure:"dynamic_burst"`
}

type RetryConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

type ProxyConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	TTL          time.Duration `mapstructure:"ttl"`
	MaxSizeBytes int64         `mapstructure:"max_size_bytes"`
}

type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// APIKeys guards the /v1 routes when non-empty
	APIKeys []string `mapstructure:"api_keys"`
}

type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// flagKeys binds persistent flags to config keys
var flagKeys = map[string]string{
	"json":        "log.json",
	"log-file":    "log.file",
	"chrome-path": "browser.chrome_path",
	"headless":    "browser.headless",
}

// Load builds a Config from defaults, an optional config file, KHOJ_*
// environment variables and CLI flags, in increasing precedence.
// Caller should pass the command being executed so its flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	for key, def := range defaultKeys {
		v.SetDefault(key, def)
	}

	v.SetEnvPrefix("KHOJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var configPath string
	if cmd != nil {
		if f := cmd.Flags().Lookup("config"); f != nil {
			configPath = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("khoj")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".khoj"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if cmd != nil {
		if f := cmd.Flags().Lookup("verbose"); f != nil && f.Value.String() == "true" {
			cfg.Log.Level = "debug"
		}
		if f := cmd.Flags().Lookup("quiet"); f != nil && f.Value.String() == "true" {
			cfg.Quiet = true
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
