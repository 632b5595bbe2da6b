// Package config loads Ripple's server configuration from a JSON file with
// RIPPLE_* environment variable overlays, and resolves the default data
// directory per host OS.
package config
