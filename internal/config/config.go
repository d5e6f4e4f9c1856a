package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Env         string
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	Port        string
	FrontendURL string
	JWTSecret   string
	OTPSalt     string
	DevMode     bool
	// TrustProxy makes client IPs come from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	SMTP SMTPConfig
}

// SMTPConfig holds outgoing mail settings. Mail is only sent when Host is set.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Enabled reports whether an SMTP server is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// IsProduction reports whether the service runs with ENV=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:             "development",
		LogLevel:        "info",
		Port:            "8080",
		AccessTokenTTL:  24 * time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Basego",
		},
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if _, err := url.Parse(databaseURL); err != nil {
		return nil, fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	cfg.DatabaseURL = databaseURL

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	otpSalt := os.Getenv("OTP_SALT")
	if otpSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}
	cfg.OTPSalt = otpSalt

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.FrontendURL = strings.TrimRight(os.Getenv("FRONTEND_URL"), "/")
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"
	cfg.TrustProxy = os.Getenv("TRUST_PROXY") == "true"

	var err error
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = durationEnv("REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL (%s) must be longer than ACCESS_TOKEN_TTL (%s)", cfg.RefreshTokenTTL, cfg.AccessTokenTTL)
	}

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	if p := os.Getenv("SMTP_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORT must be a number: %w", err)
		}
		cfg.SMTP.Port = port
	}
	cfg.SMTP.Username = os.Getenv("SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.FromEmail = os.Getenv("SMTP_FROM_EMAIL")
	if name := os.Getenv("SMTP_FROM_NAME"); name != "" {
		cfg.SMTP.FromName = name
	}
	if cfg.SMTP.Enabled() && cfg.SMTP.FromEmail == "" {
		return nil, fmt.Errorf("SMTP_FROM_EMAIL is required when SMTP_HOST is set")
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 24h: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
