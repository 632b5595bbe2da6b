package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.WSAddr != ":7070" {
		t.Fatalf("ws addr default")
	}
	if cfg.Session.IdleTimeoutMs != 300000 {
		t.Fatalf("idle timeout default")
	}
	if cfg.Webhook.MaxRetries != 4 {
		t.Fatalf("webhook retries default")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ripple.json")
	data := []byte(`{"wsAddr":":9090","jwtSecret":"s3cret","session":{"idleTimeoutMs":1000,"sweepIntervalMs":100,"maxPayloadBytes":2048}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSAddr != ":9090" {
		t.Fatalf("expected :9090")
	}
	if cfg.JWTSecret != "s3cret" {
		t.Fatalf("expected secret")
	}
	if cfg.Session.IdleTimeoutMs != 1000 {
		t.Fatalf("expected 1000")
	}
	// untouched sections keep defaults
	if cfg.Webhook.TimeoutMs != 5000 {
		t.Fatalf("webhook timeout should keep default")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("RIPPLE_WS_ADDR", ":1234")
	os.Setenv("RIPPLE_JWT_SECRET", "env-secret")
	os.Setenv("RIPPLE_SESSION_IDLE_TIMEOUT_MS", "42")
	t.Cleanup(func() {
		os.Unsetenv("RIPPLE_WS_ADDR")
		os.Unsetenv("RIPPLE_JWT_SECRET")
		os.Unsetenv("RIPPLE_SESSION_IDLE_TIMEOUT_MS")
	})
	FromEnv(&cfg)
	if cfg.WSAddr != ":1234" {
		t.Fatalf("env override addr")
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("env override secret")
	}
	if cfg.Session.IdleTimeoutMs != 42 {
		t.Fatalf("env override idle timeout")
	}
}
