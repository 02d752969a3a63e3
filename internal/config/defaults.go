package config

import (
	"os"
	"path/filepath"

	"media-extractor/internal/domain"
)

// Fallback values applied when settings leave a numeric field unset.
const (
	DefaultCoverWidth     = 500
	DefaultPreviewSeconds = 5
	DefaultPreviewFPS     = 10
	DefaultPreviewWidth   = 320
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		FFmpegPath:     "ffmpeg",
		ExportDir:      filepath.Join(homeDir, "Downloads"),
		CoverWidth:     DefaultCoverWidth,
		PreviewSeconds: DefaultPreviewSeconds,
		PreviewFPS:     DefaultPreviewFPS,
		PreviewWidth:   DefaultPreviewWidth,
		LogLevel:       "info",
	}
}

// Normalize fills zero or blank fields from DefaultSettings.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()
	if settings.FFmpegPath == "" {
		settings.FFmpegPath = defaults.FFmpegPath
	}
	if settings.ExportDir == "" {
		settings.ExportDir = defaults.ExportDir
	}
	if settings.CoverWidth <= 0 {
		settings.CoverWidth = defaults.CoverWidth
	}
	if settings.PreviewSeconds <= 0 {
		settings.PreviewSeconds = defaults.PreviewSeconds
	}
	if settings.PreviewFPS <= 0 {
		settings.PreviewFPS = defaults.PreviewFPS
	}
	if settings.PreviewWidth <= 0 {
		settings.PreviewWidth = defaults.PreviewWidth
	}
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
	return settings
}
