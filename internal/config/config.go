package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	WSAddr    string          `json:"wsAddr"`
	HTTPAddr  string          `json:"httpAddr"`
	JWTSecret string          `json:"jwtSecret"`
	Session   SessionDefaults `json:"session"`
	Webhook   WebhookDefaults `json:"webhook"`
}

// SessionDefaults captures connection lifecycle tunables.
type SessionDefaults struct {
	// IdleTimeoutMs is how long a connection may stay silent before the
	// sweep force-disconnects it.
	IdleTimeoutMs int `json:"idleTimeoutMs"`
	// SweepIntervalMs is the period of the idle sweep.
	SweepIntervalMs int `json:"sweepIntervalMs"`
	// MaxPayloadBytes bounds a single inbound frame.
	MaxPayloadBytes int `json:"maxPayloadBytes"`
}

// WebhookDefaults captures webhook dispatch tunables.
type WebhookDefaults struct {
	TimeoutMs  int `json:"timeoutMs"`
	MaxRetries int `json:"maxRetries"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		WSAddr:    ":7070",
		HTTPAddr:  ":7071",
		JWTSecret: "",
		Session: SessionDefaults{
			IdleTimeoutMs:   5 * 60 * 1000,
			SweepIntervalMs: 30 * 1000,
			MaxPayloadBytes: 1 << 20,
		},
		Webhook: WebhookDefaults{
			TimeoutMs:  5000,
			MaxRetries: 4,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("yaml config not supported; use JSON")
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
