// Package log provides Ripple's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves a single
// formatter/output pipeline. This allows adoption of the slog ecosystem
// while keeping consistent output and behavior across the codebase.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("session"), log.Str("conn", id))
//	l.Info("session opened", log.Str("subject", sub))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting
// JSON or text formatting. To integrate with libraries that write through
// the standard library logger, use RedirectStdLog.
package log
