package config

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

const testMFAKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-key")
	t.Setenv("MFA_ENCRYPTION_KEY", testMFAKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	// Clear any other env vars that might interfere
	envVars := []string{
		"SERVER_ADDR", "SERVER_PORT", "DB_HOST", "DB_PORT", "DB_SSLMODE",
		"MFA_MAX_ATTEMPTS", "MFA_LOCKOUT_WINDOW", "MFA_RESET_ATTEMPTS_ON_SUCCESS",
		"GATE_POLL_INTERVAL", "GATE_EVAL_TIMEOUT", "GATE_FAIL_CLOSED", "NOTIFY_CHANNEL",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerAddr != "0.0.0.0" {
		t.Errorf("ServerAddr = %q, want %q", cfg.ServerAddr, "0.0.0.0")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 8080)
	}
	if cfg.DBPort != 25432 {
		t.Errorf("DBPort = %d, want %d", cfg.DBPort, 25432)
	}
	if cfg.NotifyChannel != "trust_state" {
		t.Errorf("NotifyChannel = %q, want %q", cfg.NotifyChannel, "trust_state")
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want %v", cfg.AccessTokenTTL, 15*time.Minute)
	}
	if cfg.ChallengeTokenTTL != 5*time.Minute {
		t.Errorf("ChallengeTokenTTL = %v, want %v", cfg.ChallengeTokenTTL, 5*time.Minute)
	}

	lockout := cfg.Lockout()
	if lockout.MaxAttempts != 5 || lockout.Window != 15*time.Minute || lockout.ResetOnSuccess {
		t.Errorf("Lockout() = %+v, want 5 attempts in 15m without reset", lockout)
	}

	g := cfg.Gate()
	if g.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", g.PollInterval)
	}
	if g.EvalTimeout != 3*time.Second {
		t.Errorf("EvalTimeout = %v, want 3s", g.EvalTimeout)
	}
	if g.FailClosed {
		t.Error("FailClosed should default to false")
	}
	if g.BannedRoute != "/banned" || g.WarningRoute != "/warning" || g.MFARoute != "/mfa" || g.LandingRoute != "/" {
		t.Errorf("unexpected default routes: %+v", g)
	}
}

func TestLoad_RequiredJWTSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Error("Load should fail when JWT_SECRET is not set")
	}
}

func TestLoad_MFAEncryptionKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "missing", key: "", wantErr: "required"},
		{name: "not hex", key: strings.Repeat("zz", 32), wantErr: "hex"},
		{name: "too short", key: "0011223344", wantErr: "64 hex characters"},
		{name: "valid", key: testMFAKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("MFA_ENCRYPTION_KEY", tt.key)

			cfg, err := Load()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Load failed: %v", err)
				}
				key, err := cfg.MFAKey()
				if err != nil || len(key) != 32 {
					t.Errorf("MFAKey() = %d bytes, %v; want 32 bytes", len(key), err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_HOST", "db.example.com")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("MFA_MAX_ATTEMPTS", "3")
	t.Setenv("MFA_RESET_ATTEMPTS_ON_SUCCESS", "true")
	t.Setenv("GATE_POLL_INTERVAL", "2s")
	t.Setenv("GATE_FAIL_CLOSED", "1")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("COOKIE_SAMESITE", "strict")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 9090)
	}
	if cfg.Database().Host != "db.example.com" {
		t.Errorf("Database().Host = %q, want %q", cfg.Database().Host, "db.example.com")
	}
	if cfg.Tokens().AccessTokenTTL != 30*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want %v", cfg.Tokens().AccessTokenTTL, 30*time.Minute)
	}
	if cfg.Lockout().MaxAttempts != 3 || !cfg.Lockout().ResetOnSuccess {
		t.Errorf("Lockout() = %+v, want 3 attempts with reset", cfg.Lockout())
	}
	if cfg.Gate().PollInterval != 2*time.Second || !cfg.Gate().FailClosed {
		t.Errorf("Gate() = %+v, want 2s poll and fail closed", cfg.Gate())
	}
	if c := cfg.Cookies(); !c.Secure || c.SameSite != http.SameSiteStrictMode || c.Path != "/" {
		t.Errorf("Cookies() = %+v, want secure strict cookie on /", c)
	}
}

func TestGetEnvInt_InvalidValue(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")

	result := getEnvInt("TEST_INT", 42)
	if result != 42 {
		t.Errorf("getEnvInt should return default for invalid value, got %d", result)
	}
}

func TestGetEnvDuration_InvalidValue(t *testing.T) {
	t.Setenv("TEST_DURATION", "invalid")

	result := getEnvDuration("TEST_DURATION", 5*time.Minute)
	if result != 5*time.Minute {
		t.Errorf("getEnvDuration should return default for invalid value, got %v", result)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"0", true, false},
		{" TRUE ", false, true},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := getEnvBool("TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}
