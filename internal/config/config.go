// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	// Document store App (required — the remote store is the system of record)
	StoreAppID          int64  `envconfig:"STORE_APP_ID"`
	StoreInstallationID int64  `envconfig:"STORE_INSTALLATION_ID"`
	StorePrivateKeyPath string `envconfig:"STORE_PRIVATE_KEY_PATH"`
	StoreOrg            string `envconfig:"STORE_ORG"`

	// Mirror
	MirrorDBPath  string `envconfig:"MIRROR_DB_PATH" default:"crewdeck.db"`
	MirrorRebuild bool   `envconfig:"MIRROR_REBUILD"`

	// Sessions
	SessionSecret string        `envconfig:"SESSION_SECRET"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	// OAuth provider
	OAuthClientID     string `envconfig:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `envconfig:"OAUTH_CLIENT_SECRET"`
	OAuthRedirectURL  string `envconfig:"OAUTH_REDIRECT_URL"`
	OAuthTokenURL     string `envconfig:"OAUTH_TOKEN_URL"`
	OAuthVerifyURL    string `envconfig:"OAUTH_VERIFY_URL"`

	// Invitation email (optional — invitations still work, silently unmailed)
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	MailFrom     string `envconfig:"MAIL_FROM"`

	// Ops notifications (optional)
	SlackBotToken   string `envconfig:"SLACK_BOT_TOKEN"`
	SlackOpsChannel string `envconfig:"SLACK_OPS_CHANNEL" default:"#crewdeck-ops"`

	// Role policy (optional — built-in defaults when unset)
	PolicyPath string `envconfig:"POLICY_PATH"`

	// Rate limiting
	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"100"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.StoreAppID <= 0 || c.StoreInstallationID <= 0 {
		return fmt.Errorf("STORE_APP_ID and STORE_INSTALLATION_ID are required")
	}
	if c.StorePrivateKeyPath == "" {
		return fmt.Errorf("STORE_PRIVATE_KEY_PATH is required")
	}
	if c.StoreOrg == "" {
		return fmt.Errorf("STORE_ORG is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	return nil
}

// MailEnabled reports whether invitation email is configured.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.MailFrom != ""
}

// SlackEnabled reports whether ops notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != ""
}

// OAuthEnabled reports whether the OAuth provider is configured. Without
// it, only email-based login is available.
func (c *Config) OAuthEnabled() bool {
	return c.OAuthClientID != "" && c.OAuthTokenURL != ""
}
