// Package config loads the server configuration from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/connhub/internal/scheduler"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	DBPath   string `envconfig:"DB_PATH" default:"data/connhub.db"`
	BaseURL  string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// StateSecret signs OAuth state values. Required when any OAuth
	// provider is configured.
	StateSecret string `envconfig:"STATE_SECRET"`

	SessionMaxAge          time.Duration `envconfig:"SESSION_MAX_AGE" default:"720h"`
	SessionUpdateAge       time.Duration `envconfig:"SESSION_UPDATE_AGE" default:"24h"`
	SessionCleanupSchedule string        `envconfig:"SESSION_CLEANUP_SCHEDULE" default:"@hourly"`
	SecureCookies          bool          `envconfig:"SECURE_COOKIES" default:"false"`

	BcryptCost   int           `envconfig:"BCRYPT_COST" default:"12"`
	ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`
	// ProbeAllowLoopback lets connection tests reach 127.0.0.1 / ::1.
	// Off in production; useful when the databases run on the same host.
	ProbeAllowLoopback bool `envconfig:"PROBE_ALLOW_LOOPBACK" default:"false"`

	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
}

// Load reads configuration from environment variables into a Config
// struct and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values envconfig cannot: ranges, pairs and the
// cron spec. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BASE_URL must be an absolute URL, got %q", c.BaseURL))
	}

	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_AGE must be positive"))
	}
	if c.SessionUpdateAge < 0 || c.SessionUpdateAge >= c.SessionMaxAge {
		errs = append(errs, errors.New("SESSION_UPDATE_AGE must be at least 0 and less than SESSION_MAX_AGE"))
	}
	if err := scheduler.ValidateSpec(c.SessionCleanupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("SESSION_CLEANUP_SCHEDULE: %w", err))
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("PROBE_TIMEOUT must be positive"))
	}

	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together"))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"))
	}
	if c.OAuthEnabled() && len(c.StateSecret) < 16 {
		errs = append(errs, errors.New("STATE_SECRET of at least 16 characters is required when an OAuth provider is configured"))
	}

	return errors.Join(errs...)
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// OAuthEnabled reports whether any OAuth provider is configured.
func (c *Config) OAuthEnabled() bool {
	return c.GitHubEnabled() || c.GoogleEnabled()
}

// CallbackURL is the redirect URL registered with provider.
func (c *Config) CallbackURL(provider string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/auth/" + provider + "/callback"
}

// SlogLevel converts LOG_LEVEL to a slog.Level. Unknown values fall back
// to Info; Validate reports them.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}
