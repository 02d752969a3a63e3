package main

import (
	"os"

	"media-extractor/internal/bootstrap"
	"media-extractor/internal/logging"
)

func main() {
	logger := logging.New("info")

	app, err := bootstrap.New()
	if err != nil {
		logger.Error("bootstrap app", "error", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		logger.Error("run app", "error", err)
		os.Exit(1)
	}
}
