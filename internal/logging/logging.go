// Package logging builds the structured root logger shared by the app
// components. Components derive named sub-loggers with Named.
package logging

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// New returns the root logger. LOG_LEVEL overrides the configured level.
func New(level string) hclog.Logger {
	if env := strings.TrimSpace(os.Getenv("LOG_LEVEL")); env != "" {
		level = env
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "media-extractor",
		Level:      ParseLevel(level),
		Output:     os.Stderr,
		TimeFormat: "2006-01-02 15:04:05.000",
	})
}

// ParseLevel maps a settings string to an hclog level, defaulting to info.
func ParseLevel(level string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return hclog.Warn
	case "":
		return hclog.Info
	}

	parsed := hclog.LevelFromString(level)
	if parsed == hclog.NoLevel {
		return hclog.Info
	}
	return parsed
}
