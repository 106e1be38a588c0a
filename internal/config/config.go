package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// PasswordConfirmExact requires password and confirmPassword to match byte for byte
	PasswordConfirmExact = "exact"
	// PasswordConfirmLegacy compares them case-insensitively, as the first version of the API did
	PasswordConfirmLegacy = "legacy-case-insensitive"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	CORSOrigin  string

	JWTUserAppSecret string
	JWTAdminSecret   string
	TokenTTL         time.Duration

	MaxLoginRetry      int
	LoginLockoutWindow time.Duration

	OTPSalt string
	OTPTTL  time.Duration

	SMS  SMSConfig
	SMTP SMTPConfig

	AccessPolicyFile      string
	PasswordConfirmMode   string
	RevokeSessionsOnReset bool

	LogLevel  string
	LogFormat string
}

// SMSConfig configures the OTP SMS gateway
type SMSConfig struct {
	APIKey   string
	BaseURL  string
	Template string
	DryRun   bool
	Timeout  time.Duration
}

// SMTPConfig configures password-change notification emails. Host empty disables mail.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                "8080",
		TokenTTL:            10000 * time.Second,
		MaxLoginRetry:       5,
		LoginLockoutWindow:  2 * time.Minute,
		OTPTTL:              5 * time.Minute,
		PasswordConfirmMode: PasswordConfirmExact,
		LogLevel:            "info",
		LogFormat:           "text",
		SMS: SMSConfig{
			BaseURL:  "https://2factor.in/API/V1",
			Template: "GOGEN-OTP",
			Timeout:  10 * time.Second,
		},
		SMTP: SMTPConfig{Port: 587},
	}

	// Load DATABASE_URL (required)
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.CORSOrigin = os.Getenv("CORS_ORIGIN")

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_USERAPP_SECRET (required); JWT_ADMIN_SECRET enables the admin platform
	cfg.JWTUserAppSecret = os.Getenv("JWT_USERAPP_SECRET")
	if cfg.JWTUserAppSecret == "" {
		return nil, fmt.Errorf("JWT_USERAPP_SECRET environment variable is required")
	}
	cfg.JWTAdminSecret = os.Getenv("JWT_ADMIN_SECRET")

	// Load OTP_SALT (required)
	cfg.OTPSalt = os.Getenv("OTP_SALT")
	if cfg.OTPSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return nil, err
	}
	if cfg.LoginLockoutWindow, err = durationEnv("LOGIN_LOCKOUT_WINDOW", cfg.LoginLockoutWindow); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = durationEnv("OTP_TTL", cfg.OTPTTL); err != nil {
		return nil, err
	}
	if cfg.MaxLoginRetry, err = intEnv("MAX_LOGIN_RETRY", cfg.MaxLoginRetry); err != nil {
		return nil, err
	}
	if cfg.MaxLoginRetry < 1 {
		return nil, fmt.Errorf("MAX_LOGIN_RETRY must be positive")
	}

	// SMS gateway
	cfg.SMS.APIKey = os.Getenv("SMS_API_KEY")
	if v := os.Getenv("SMS_BASE_URL"); v != "" {
		cfg.SMS.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("SMS_TEMPLATE"); v != "" {
		cfg.SMS.Template = v
	}
	cfg.SMS.DryRun = os.Getenv("SMS_DRY_RUN") == "true" || cfg.SMS.APIKey == ""
	if cfg.SMS.Timeout, err = durationEnv("SMS_TIMEOUT", cfg.SMS.Timeout); err != nil {
		return nil, err
	}

	// SMTP (optional)
	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	if cfg.SMTP.Port, err = intEnv("SMTP_PORT", cfg.SMTP.Port); err != nil {
		return nil, err
	}
	cfg.SMTP.User = os.Getenv("SMTP_USER")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = os.Getenv("SMTP_FROM")
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return nil, fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	cfg.AccessPolicyFile = os.Getenv("ACCESS_POLICY_FILE")

	if mode := os.Getenv("PASSWORD_CONFIRM_MODE"); mode != "" {
		if mode != PasswordConfirmExact && mode != PasswordConfirmLegacy {
			return nil, fmt.Errorf("PASSWORD_CONFIRM_MODE must be %q or %q", PasswordConfirmExact, PasswordConfirmLegacy)
		}
		cfg.PasswordConfirmMode = mode
	}
	cfg.RevokeSessionsOnReset = os.Getenv("REVOKE_SESSIONS_ON_RESET") == "true"

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
