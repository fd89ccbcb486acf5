package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Auth     AuthConfig     `mapstructure:"auth"`
	User     UserConfig     `mapstructure:"user"`

	Secrets Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	Timeout        time.Duration `mapstructure:"-"`
}

type OutboxConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	PollIntervalSeconds int           `mapstructure:"poll_interval_seconds"`
	PushTimeoutSeconds  int           `mapstructure:"push_timeout_seconds"`
	ReclaimGraceSeconds int           `mapstructure:"reclaim_grace_seconds"`
	Concurrency         int           `mapstructure:"concurrency"`
	RatePerSecond       float64       `mapstructure:"rate_per_second"`
	PollInterval        time.Duration `mapstructure:"-"`
	PushTimeout         time.Duration `mapstructure:"-"`
	ReclaimGrace        time.Duration `mapstructure:"-"`
}

type AuthConfig struct {
	TokenFile string `mapstructure:"token_file"`
}

type UserConfig struct {
	ID string `mapstructure:"id"`
}

// Secrets come from the environment only, never from the config file.
type Secrets struct {
	APIKey   string `envconfig:"API_KEY" required:"true"`
	TokenKey string `envconfig:"TOKEN_KEY" required:"true"`
}

// Load reads config.yaml, overlays LUME_* secrets from the environment,
// and validates the result.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/lume-sync")

	viper.SetDefault("server.addr", "127.0.0.1:8600")
	viper.SetDefault("database.path", "lume-sync.db")
	viper.SetDefault("remote.timeout_seconds", 15)
	viper.SetDefault("outbox.batch_size", 25)
	viper.SetDefault("outbox.poll_interval_seconds", 5)
	viper.SetDefault("outbox.push_timeout_seconds", 30)
	viper.SetDefault("outbox.reclaim_grace_seconds", 120)
	viper.SetDefault("outbox.concurrency", 4)
	viper.SetDefault("outbox.rate_per_second", 10)
	viper.SetDefault("auth.token_file", "lume-tokens.bin")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("LUME", &config.Secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}

	config.Remote.Timeout = time.Duration(config.Remote.TimeoutSeconds) * time.Second
	config.Outbox.PollInterval = time.Duration(config.Outbox.PollIntervalSeconds) * time.Second
	config.Outbox.PushTimeout = time.Duration(config.Outbox.PushTimeoutSeconds) * time.Second
	config.Outbox.ReclaimGrace = time.Duration(config.Outbox.ReclaimGraceSeconds) * time.Second

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	if _, err := uuid.Parse(c.User.ID); err != nil {
		return fmt.Errorf("user.id must be a UUID: %w", err)
	}
	return nil
}

// UserID returns the configured user id. Call only after Load, which
// validates the format.
func (c *Config) UserID() uuid.UUID {
	return uuid.MustParse(c.User.ID)
}
