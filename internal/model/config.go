package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig locates the local SQLite mirror.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// VaultConfig controls where the token encryption key comes from.
type VaultConfig struct {
	// Key is base64 key material. Usually supplied as MAILPIPE_VAULT_KEY.
	Key string `mapstructure:"key" yaml:"key"`

	// Generate creates and stores a key in the OS keyring when none exists.
	Generate bool `mapstructure:"generate" yaml:"generate"`
}

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" yaml:"redirect_url"`
}

// ServerConfig is a host/port pair for IMAP or SMTP.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	TLS  bool   `mapstructure:"tls" yaml:"tls"`
}

// MailboxConfig selects the remote mailbox adapter.
type MailboxConfig struct {
	// Provider is "gmail" or "imap".
	Provider string       `mapstructure:"provider" yaml:"provider"`
	IMAP     ServerConfig `mapstructure:"imap" yaml:"imap"`
	SMTP     ServerConfig `mapstructure:"smtp" yaml:"smtp"`
}

// AIConfig holds settings for the annotation capability.
type AIConfig struct {
	// Provider is "anthropic" or "local". Local skips the remote call.
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Model             string        `mapstructure:"model" yaml:"model"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// SyncConfig tunes inbox fetching.
type SyncConfig struct {
	Limit             int           `mapstructure:"limit" yaml:"limit"`
	PollLimit         int           `mapstructure:"poll_limit" yaml:"poll_limit"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// JobsConfig tunes the annotation worker pool.
type JobsConfig struct {
	Workers     int    `mapstructure:"workers" yaml:"workers"`
	MaxAttempts int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	Batch       int    `mapstructure:"batch" yaml:"batch"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Vault    VaultConfig    `mapstructure:"vault" yaml:"vault"`
	Google   GoogleConfig   `mapstructure:"google" yaml:"google"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	AI       AIConfig       `mapstructure:"ai" yaml:"ai"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Jobs     JobsConfig     `mapstructure:"jobs" yaml:"jobs"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailpipe/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultDatabasePath returns ~/.config/mailpipe/mailpipe.db.
func DefaultDatabasePath() string {
	return filepath.Join(configDir(), "mailpipe.db")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailpipe")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{Path: DefaultDatabasePath()},
		Google: GoogleConfig{
			RedirectURL: "http://localhost:8000/auth/callback",
		},
		Mailbox: MailboxConfig{
			Provider: "gmail",
			IMAP:     ServerConfig{Port: 993, TLS: true},
			SMTP:     ServerConfig{Port: 587},
		},
		AI: AIConfig{
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-20250514",
			MaxTokens:         512,
			Timeout:           20 * time.Second,
			RequestsPerSecond: 2,
		},
		Sync: SyncConfig{
			Limit:             25,
			PollLimit:         10,
			PollInterval:      2 * time.Minute,
			FetchTimeout:      30 * time.Second,
			RequestsPerSecond: 5,
		},
		Jobs: JobsConfig{
			Workers:     4,
			MaxAttempts: 3,
			Batch:       10,
		},
		Log: LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper, cfg *AppConfig) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("vault.key", "")
	v.SetDefault("vault.generate", false)
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", cfg.Google.RedirectURL)
	v.SetDefault("mailbox.provider", cfg.Mailbox.Provider)
	v.SetDefault("mailbox.imap.host", "")
	v.SetDefault("mailbox.imap.port", cfg.Mailbox.IMAP.Port)
	v.SetDefault("mailbox.imap.tls", cfg.Mailbox.IMAP.TLS)
	v.SetDefault("mailbox.smtp.host", "")
	v.SetDefault("mailbox.smtp.port", cfg.Mailbox.SMTP.Port)
	v.SetDefault("mailbox.smtp.tls", cfg.Mailbox.SMTP.TLS)
	v.SetDefault("ai.provider", cfg.AI.Provider)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", cfg.AI.Model)
	v.SetDefault("ai.max_tokens", cfg.AI.MaxTokens)
	v.SetDefault("ai.timeout", cfg.AI.Timeout)
	v.SetDefault("ai.requests_per_second", cfg.AI.RequestsPerSecond)
	v.SetDefault("sync.limit", cfg.Sync.Limit)
	v.SetDefault("sync.poll_limit", cfg.Sync.PollLimit)
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("sync.fetch_timeout", cfg.Sync.FetchTimeout)
	v.SetDefault("sync.requests_per_second", cfg.Sync.RequestsPerSecond)
	v.SetDefault("jobs.workers", cfg.Jobs.Workers)
	v.SetDefault("jobs.max_attempts", cfg.Jobs.MaxAttempts)
	v.SetDefault("jobs.batch", cfg.Jobs.Batch)
	v.SetDefault("jobs.redis_url", "")
	v.SetDefault("log.level", cfg.Log.Level)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Every key can be overridden by a MAILPIPE_ prefixed environment variable,
// e.g. MAILPIPE_AI_API_KEY. A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The vault key is never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	vault := cfg.Vault
	vault.Key = ""

	v.Set("database", cfg.Database)
	v.Set("vault", vault)
	v.Set("google", cfg.Google)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("ai", cfg.AI)
	v.Set("sync", cfg.Sync)
	v.Set("jobs", cfg.Jobs)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
