package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	clearEnv(t, "HTTP_PORT", "CHUNK_SIZE", "RETRY_MAX_ATTEMPTS", "JWT_EXPIRY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected default HTTPPort 8080, got %d", cfg.HTTPPort)
	}
	if cfg.ChunkSize != 500 {
		t.Errorf("expected default ChunkSize 500, got %d", cfg.ChunkSize)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("expected default JWTExpiry 24h, got %s", cfg.JWTExpiry)
	}
}

func TestLoad_EnvironmentOverridesDefault(t *testing.T) {
	clearEnv(t, "HTTP_PORT", "CHUNK_STRATEGY")
	os.Setenv("HTTP_PORT", "9090")
	os.Setenv("CHUNK_STRATEGY", "semantic")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("expected HTTPPort overridden to 9090, got %d", cfg.HTTPPort)
	}
	if cfg.ChunkStrategy != "semantic" {
		t.Errorf("expected ChunkStrategy overridden to semantic, got %s", cfg.ChunkStrategy)
	}
}

func TestLoad_ParsesDurationFields(t *testing.T) {
	clearEnv(t, "STAGE_TIMEOUT")
	os.Setenv("STAGE_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StageTimeout != 90*time.Second {
		t.Errorf("expected StageTimeout 90s, got %s", cfg.StageTimeout)
	}
}

func TestLoad_InvalidIntReturnsError(t *testing.T) {
	clearEnv(t, "HTTP_PORT")
	os.Setenv("HTTP_PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("expected an error for an unparsable HTTP_PORT")
	}
}
