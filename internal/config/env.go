package config

import (
	"os"
	"strconv"
)

// FromEnv overlays RIPPLE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RIPPLE_WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := os.Getenv("RIPPLE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("RIPPLE_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("RIPPLE_SESSION_IDLE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.IdleTimeoutMs = n
		}
	}
	if v := os.Getenv("RIPPLE_SESSION_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.SweepIntervalMs = n
		}
	}
	if v := os.Getenv("RIPPLE_SESSION_MAX_PAYLOAD_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxPayloadBytes = n
		}
	}
	if v := os.Getenv("RIPPLE_WEBHOOK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.TimeoutMs = n
		}
	}
	if v := os.Getenv("RIPPLE_WEBHOOK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.MaxRetries = n
		}
	}
}
