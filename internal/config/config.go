package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-trustgate/internal/httputil"
	"github.com/tendant/simple-trustgate/pkg/auth"
	"github.com/tendant/simple-trustgate/pkg/gate"
	"github.com/tendant/simple-trustgate/pkg/repository"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	// NotifyChannel is the LISTEN channel the trust-state triggers publish on.
	NotifyChannel string

	// JWT
	JWTSecret         string
	JWTIssuer         string
	AccessTokenTTL    time.Duration
	ChallengeTokenTTL time.Duration

	// MFA
	MFAEncryptionKey  string
	MFAIssuer         string
	MFAMaxAttempts    int
	MFALockoutWindow  time.Duration
	MFAResetOnSuccess bool

	// Gate
	GatePollInterval time.Duration
	GateEvalTimeout  time.Duration
	GateFailClosed   bool
	GateLandingRoute string
	GateBannedRoute  string
	GateWarningRoute string
	GateMFARoute     string

	// Cookie
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string

	RateLimit          RateLimitConfig
	SecurityHeaders    SecurityHeadersConfig
	MaxRequestBodySize int64
}

// RateLimitConfig holds per-endpoint-group request budgets.
type RateLimitConfig struct {
	Enabled bool

	ChallengeRequestsPerMinute int
	EnrollRequestsPerMinute    int
	ProfileRequestsPerMinute   int
}

// SecurityHeadersConfig holds the response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnvInt("DB_PORT", 25432),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "trustgate"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		NotifyChannel: getEnv("NOTIFY_CHANNEL", repository.DefaultNotifyChannel),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", "trustgate"),
		AccessTokenTTL:    getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		ChallengeTokenTTL: getEnvDuration("MFA_CHALLENGE_TTL", 5*time.Minute),

		MFAEncryptionKey:  getEnv("MFA_ENCRYPTION_KEY", ""),
		MFAIssuer:         getEnv("MFA_ISSUER", "Trustgate"),
		MFAMaxAttempts:    getEnvInt("MFA_MAX_ATTEMPTS", auth.DefaultMaxAttempts),
		MFALockoutWindow:  getEnvDuration("MFA_LOCKOUT_WINDOW", auth.DefaultLockoutWindow),
		MFAResetOnSuccess: getEnvBool("MFA_RESET_ATTEMPTS_ON_SUCCESS", false),

		GatePollInterval: getEnvDuration("GATE_POLL_INTERVAL", 10*time.Second),
		GateEvalTimeout:  getEnvDuration("GATE_EVAL_TIMEOUT", 3*time.Second),
		GateFailClosed:   getEnvBool("GATE_FAIL_CLOSED", false),
		GateLandingRoute: getEnv("GATE_LANDING_ROUTE", "/"),
		GateBannedRoute:  getEnv("GATE_BANNED_ROUTE", "/banned"),
		GateWarningRoute: getEnv("GATE_WARNING_ROUTE", "/warning"),
		GateMFARoute:     getEnv("GATE_MFA_ROUTE", "/mfa"),

		CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),
		CookieSameSite: getEnv("COOKIE_SAMESITE", "lax"),

		RateLimit: RateLimitConfig{
			Enabled:                    getEnvBool("RATE_LIMIT_ENABLED", true),
			ChallengeRequestsPerMinute: getEnvInt("RATE_LIMIT_CHALLENGE_PER_MINUTE", 10),
			EnrollRequestsPerMinute:    getEnvInt("RATE_LIMIT_ENROLL_PER_MINUTE", 10),
			ProfileRequestsPerMinute:   getEnvInt("RATE_LIMIT_PROFILE_PER_MINUTE", 60),
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'self'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", "geolocation=(), microphone=(), camera=()"),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MFAEncryptionKey == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	if _, err := cfg.MFAKey(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MFAKey decodes MFA_ENCRYPTION_KEY into the 32-byte AES-256 key.
func (c *Config) MFAKey() ([]byte, error) {
	key, err := hex.DecodeString(c.MFAEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 64 hex characters, got %d", len(c.MFAEncryptionKey))
	}
	return key, nil
}

// Database returns the repository connection settings.
func (c *Config) Database() repository.Config {
	return repository.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		DBName:   c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

// Tokens returns the JWT settings.
func (c *Config) Tokens() auth.TokenConfig {
	return auth.TokenConfig{
		JWTSecret:         []byte(c.JWTSecret),
		Issuer:            c.JWTIssuer,
		AccessTokenTTL:    c.AccessTokenTTL,
		ChallengeTokenTTL: c.ChallengeTokenTTL,
	}
}

// Cookies returns the access token cookie settings.
func (c *Config) Cookies() httputil.CookieConfig {
	cookies := httputil.DefaultCookieConfig()
	cookies.Domain = c.CookieDomain
	cookies.Secure = c.CookieSecure
	cookies.SameSite = httputil.ParseSameSite(c.CookieSameSite)
	return cookies
}

// Lockout returns the MFA failed-attempt policy.
func (c *Config) Lockout() auth.LockoutPolicy {
	return auth.LockoutPolicy{
		MaxAttempts:    c.MFAMaxAttempts,
		Window:         c.MFALockoutWindow,
		ResetOnSuccess: c.MFAResetOnSuccess,
	}
}

// Gate returns the session gate settings.
func (c *Config) Gate() gate.Config {
	return gate.Config{
		PollInterval: c.GatePollInterval,
		EvalTimeout:  c.GateEvalTimeout,
		FailClosed:   c.GateFailClosed,
		LandingRoute: c.GateLandingRoute,
		BannedRoute:  c.GateBannedRoute,
		WarningRoute: c.GateWarningRoute,
		MFARoute:     c.GateMFARoute,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
