package log

import (
	"fmt"
	stdlog "log"
	"strings"
)

// Config is a declarative logger configuration, typically sourced from
// environment variables at process start.
type Config struct {
	// Level is one of debug|info|warn|error|fatal.
	Level string
	// Format is one of json|text.
	Format string
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from a declarative Config.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json", "":
		formatter = &JSONFormatter{}
	case "text":
		formatter = &TextFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	return NewLogger(
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(NewConsoleOutput()),
	), nil
}

// stdBridge adapts Logger to io.Writer for stdlib log redirection.
type stdBridge struct{ logger Logger }

func (b stdBridge) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		b.logger.Info(msg)
	}
	return len(p), nil
}

// RedirectStdLog routes standard library log output (used by some
// dependencies) through the given logger.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdBridge{logger: logger})
}
