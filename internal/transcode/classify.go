package transcode

import (
	"context"
	"errors"

	"media-extractor/internal/engine"
	"media-extractor/internal/pipeline"
)

// Category is a user-facing failure class.
type Category string

const (
	CategoryNone              Category = ""
	CategoryEngineUnavailable Category = "engine unavailable"
	CategoryInvalidInput      Category = "invalid input"
	CategoryTranscodeFailed   Category = "transcode failed"
	CategoryStagingFailed     Category = "staging failed"
	CategoryBusy              Category = "busy"
	CategoryCancelled         Category = "cancelled"
	CategoryUnknown           Category = "unexpected error"
)

// Classify maps a Run error to its Category.
func Classify(err error) Category {
	var (
		initErr    *engine.InitError
		specErr    *pipeline.InvalidSpecError
		execErr    *engine.ExecutionError
		stagingErr *engine.StagingError
		busyErr    *BusyError
	)
	switch {
	case err == nil:
		return CategoryNone
	case errors.As(err, &busyErr):
		return CategoryBusy
	case errors.As(err, &specErr):
		return CategoryInvalidInput
	case errors.As(err, &initErr):
		return CategoryEngineUnavailable
	case errors.As(err, &execErr):
		return CategoryTranscodeFailed
	case errors.As(err, &stagingErr):
		return CategoryStagingFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled
	default:
		return CategoryUnknown
	}
}

// Message returns a short user-facing description of err.
func Message(err error) string {
	switch Classify(err) {
	case CategoryNone:
		return ""
	case CategoryEngineUnavailable:
		return "The transcoding engine could not be loaded: " + err.Error()
	case CategoryInvalidInput:
		return "The request is invalid: " + err.Error()
	case CategoryTranscodeFailed:
		return "Transcoding failed: " + err.Error()
	case CategoryStagingFailed:
		return "Could not move data in or out of the engine: " + err.Error()
	case CategoryBusy:
		return "Another conversion is still running. Wait for it to finish."
	case CategoryCancelled:
		return "The conversion was cancelled."
	default:
		return "Unexpected error: " + err.Error()
	}
}
