package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Accounts and storage
	AccountsFile string `env:"ACCOUNTS_FILE" envDefault:"./accounts.yaml"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/maildash.db"`

	// HTTP API
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Connectors
	IMAPDialTimeout  time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT" envDefault:"60s"`
	SearchLimit      int           `env:"SEARCH_LIMIT" envDefault:"25"`

	// ReconnectInterval is how often serve retries failed accounts; zero disables it
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" envDefault:"5m"`

	// Bulk trash fallback: fixed pause between single-message calls and the
	// maximum number of single-message calls per batch
	TrashFallbackDelay     time.Duration `env:"TRASH_FALLBACK_DELAY" envDefault:"250ms"`
	TrashFallbackThreshold int           `env:"TRASH_FALLBACK_THRESHOLD" envDefault:"100"`

	// Credentials
	VaultKey           string `env:"VAULT_KEY"` // 32 bytes for AES-256, optional
	KeyringService     string `env:"KEYRING_SERVICE" envDefault:"maildash"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// Telegram digest (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`
	// DigestInterval is how often serve posts a digest; zero disables it
	DigestInterval time.Duration `env:"DIGEST_INTERVAL" envDefault:"0s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if the Telegram digest is configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// VaultEnabled returns true if vault: credential refs can be decrypted
func (c *Config) VaultEnabled() bool {
	return c.VaultKey != ""
}

// GoogleOAuthEnabled returns true if Gmail tokens can be refreshed
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	// Validate vault key length (32 bytes for AES-256)
	if c.VaultKey != "" && len(c.VaultKey) != 32 {
		return fmt.Errorf("VAULT_KEY must be exactly 32 bytes, got %d", len(c.VaultKey))
	}
	if c.TrashFallbackDelay < 0 {
		return fmt.Errorf("TRASH_FALLBACK_DELAY must not be negative")
	}
	if c.TrashFallbackThreshold < 0 {
		return fmt.Errorf("TRASH_FALLBACK_THRESHOLD must not be negative")
	}
	if c.ReconnectInterval < 0 {
		return fmt.Errorf("RECONNECT_INTERVAL must not be negative")
	}
	if c.DigestInterval < 0 {
		return fmt.Errorf("DIGEST_INTERVAL must not be negative")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("SEARCH_LIMIT must be positive, got %d", c.SearchLimit)
	}
	return nil
}
