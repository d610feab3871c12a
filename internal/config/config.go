// Package config loads the service configuration from a YAML file and
// the environment via Viper. Environment variables use the MAILSYNC_
// prefix with underscores, e.g. MAILSYNC_NATS_URL.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GoogleConfig holds the OAuth client for Gmail.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// MicrosoftConfig holds the OAuth client for the Graph backend.
type MicrosoftConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// IMAPConfig holds the connection settings for the IMAP backend.
type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	// Password is used for plain LOGIN. Leave empty to authenticate
	// with the stored OAuth grant via OAUTHBEARER instead.
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"`
}

// SyncConfig tunes the listing passes.
type SyncConfig struct {
	// LookbackHours bounds the first pass for a never-synced user.
	LookbackHours int `mapstructure:"lookback_hours"`
	// PageSize is the per-page listing cap passed to backends.
	PageSize int `mapstructure:"page_size"`
	// RatePerSecond throttles backend API calls per provider.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// Config is the top-level service configuration.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	DBPath   string `mapstructure:"db_path"`
	NATSURL  string `mapstructure:"nats_url"`
	JWKSURL  string `mapstructure:"jwks_url"`

	Google    GoogleConfig    `mapstructure:"google"`
	Microsoft MicrosoftConfig `mapstructure:"microsoft"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

// Lookback returns the first-sync window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Sync.LookbackHours) * time.Hour
}

// Load reads configuration from path, falling back to defaults and the
// environment when the file does not exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_path", "mailsync.db")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.folder", "INBOX")
	v.SetDefault("sync.lookback_hours", 24)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.rate_per_second", 5.0)

	if err := v.ReadInConfig(); err != nil {
		_, pathErr := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !pathErr && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}
