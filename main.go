package main

import (
	"embed"
	"io/fs"
	"os"

	"media-extractor/internal/bootstrap"
	"media-extractor/internal/logging"
)

//go:embed frontend
var appAssets embed.FS

func main() {
	logger := logging.New("info")

	assets, err := fs.Sub(appAssets, "frontend")
	if err != nil {
		logger.Error("load embedded assets", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.NewWithAssets(assets)
	if err != nil {
		logger.Error("bootstrap app", "error", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		logger.Error("run app", "error", err)
		os.Exit(1)
	}
}
