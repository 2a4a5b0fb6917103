// Package config loads application settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds all application configuration, loaded from environment
// variables (optionally via a .env file loaded at CLI init).
type Settings struct {
	// Database
	DatabasePath string `mapstructure:"database_path"`

	// Authentication
	AppPassword        string `mapstructure:"app_password"`
	JWTSecret          string `mapstructure:"jwt_secret"`
	JWTExpirationHours int    `mapstructure:"jwt_expiration_hours"`

	// LLM provider
	LLMAPIURL       string `mapstructure:"llm_api_url"`
	CerebrasAPIKey  string `mapstructure:"cerebras_api_key"` // comma-separated list
	CerebrasModel   string `mapstructure:"cerebras_model"`
	CerebrasMaxRPM  int    `mapstructure:"cerebras_max_rpm"`
	CerebrasTimeout int    `mapstructure:"cerebras_timeout"` // seconds
	SummaryLanguage string `mapstructure:"summary_language"`

	// Circuit breaker
	FailureThreshold       int `mapstructure:"failure_threshold"`
	RecoveryTimeoutSeconds int `mapstructure:"recovery_timeout_seconds"`
	HalfOpenMaxRequests    int `mapstructure:"half_open_max_requests"`

	// HTTP rate limiting
	LoginRateLimit        int `mapstructure:"login_rate_limit"`
	ProxyRateLimitPerMin  int `mapstructure:"proxy_rate_limit_per_min"`
	FeedsRefreshRateLimit int `mapstructure:"feeds_refresh_rate_limit"`

	// Retention
	MaxPostAgeDays int `mapstructure:"max_post_age_days"`
	MaxUnreadDays  int `mapstructure:"max_unread_days"`
	MaxDBSizeMB    int `mapstructure:"max_db_size_mb"`

	// Jobs
	FeedUpdateIntervalMinutes int `mapstructure:"feed_update_interval_minutes"`
	SummaryLockTimeoutSeconds int `mapstructure:"summary_lock_timeout_seconds"`
	CleanupHour               int `mapstructure:"cleanup_hour"`

	// Proxy
	ProxyTimeoutSeconds int   `mapstructure:"proxy_timeout_seconds"`
	ProxyMaxSizeBytes   int64 `mapstructure:"proxy_max_size_bytes"`

	// Server
	ListenAddr  string `mapstructure:"listen_addr"`
	CORSOrigins string `mapstructure:"cors_origins"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Prompts
	PromptsPath string `mapstructure:"prompts_path"`
}

// APIKeys returns the configured LLM API keys (comma-separated env value).
func (s *Settings) APIKeys() []string {
	if s.CerebrasAPIKey == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(s.CerebrasAPIKey, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// LLMTimeout returns the LLM request timeout as a duration.
func (s *Settings) LLMTimeout() time.Duration {
	return time.Duration(s.CerebrasTimeout) * time.Second
}

// WorkerTick returns the summary worker interval, derived from the
// configured requests-per-minute budget with a safety margin.
func (s *Settings) WorkerTick() time.Duration {
	secs := 60/s.CerebrasMaxRPM + 1
	if secs < 5 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// Load reads settings from the environment and validates them.
func Load() (*Settings, error) {
	v := viper.New()

	v.SetDefault("database_path", "./data/skimmer.db")
	v.SetDefault("jwt_expiration_hours", 24)
	v.SetDefault("llm_api_url", "https://api.cerebras.ai/v1/chat/completions")
	v.SetDefault("cerebras_model", "llama-3.3-70b")
	v.SetDefault("cerebras_max_rpm", 20)
	v.SetDefault("cerebras_timeout", 30)
	v.SetDefault("summary_language", "Brazilian Portuguese")
	v.SetDefault("failure_threshold", 5)
	v.SetDefault("recovery_timeout_seconds", 300)
	v.SetDefault("half_open_max_requests", 3)
	v.SetDefault("login_rate_limit", 5)
	v.SetDefault("proxy_rate_limit_per_min", 60)
	v.SetDefault("feeds_refresh_rate_limit", 10)
	v.SetDefault("max_post_age_days", 365)
	v.SetDefault("max_unread_days", 90)
	v.SetDefault("max_db_size_mb", 1024)
	v.SetDefault("feed_update_interval_minutes", 30)
	v.SetDefault("summary_lock_timeout_seconds", 300)
	v.SetDefault("cleanup_hour", 3)
	v.SetDefault("proxy_timeout_seconds", 10)
	v.SetDefault("proxy_max_size_bytes", 10*1024*1024)
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("cors_origins", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("prompts_path", "prompts.yaml")

	v.AutomaticEnv()
	// Bind explicitly so AutomaticEnv sees keys that were never Set.
	for _, key := range []string{
		"database_path", "app_password", "jwt_secret", "jwt_expiration_hours",
		"llm_api_url", "cerebras_api_key", "cerebras_model", "cerebras_max_rpm",
		"cerebras_timeout", "summary_language", "failure_threshold",
		"recovery_timeout_seconds", "half_open_max_requests", "login_rate_limit",
		"proxy_rate_limit_per_min", "feeds_refresh_rate_limit",
		"max_post_age_days", "max_unread_days", "max_db_size_mb",
		"feed_update_interval_minutes", "summary_lock_timeout_seconds",
		"cleanup_hour", "proxy_timeout_seconds", "proxy_max_size_bytes",
		"listen_addr", "cors_origins", "log_level", "log_file", "prompts_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate enforces startup invariants on the loaded settings.
func (s *Settings) Validate() error {
	if len(s.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long (got %d)", len(s.JWTSecret))
	}
	if s.AppPassword == "" {
		return fmt.Errorf("APP_PASSWORD must be set")
	}
	if s.CerebrasMaxRPM <= 0 {
		return fmt.Errorf("CEREBRAS_MAX_RPM must be positive")
	}
	if s.FeedUpdateIntervalMinutes <= 0 {
		return fmt.Errorf("FEED_UPDATE_INTERVAL_MINUTES must be positive")
	}
	if s.CleanupHour < 0 || s.CleanupHour > 23 {
		return fmt.Errorf("CLEANUP_HOUR must be between 0 and 23")
	}
	return nil
}
