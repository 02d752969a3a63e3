package pipeline

import (
	"fmt"
	"math"
)

// Preview defaults: the first five seconds at 10 fps, 320 pixels wide.
const (
	DefaultPreviewSeconds = 5
	DefaultPreviewFPS     = 10
	DefaultPreviewWidth   = 320
)

// Preview converts a window of the source into an animated GIF.
type Preview struct {
	StartSeconds       float64
	MaxDurationSeconds float64
	FPS                int
	Width              int
}

// DefaultPreview returns the preview of the first DefaultPreviewSeconds.
func DefaultPreview() Preview {
	return Preview{
		MaxDurationSeconds: DefaultPreviewSeconds,
		FPS:                DefaultPreviewFPS,
		Width:              DefaultPreviewWidth,
	}
}

// Name returns the pipeline identifier.
func (Preview) Name() string { return "preview" }

// Build returns the single-stage GIF plan.
func (s Preview) Build(input string) (Plan, error) {
	if err := checkInput(s.Name(), input); err != nil {
		return Plan{}, err
	}

	switch {
	case !(s.MaxDurationSeconds > 0) || math.IsInf(s.MaxDurationSeconds, 0):
		return Plan{}, &InvalidSpecError{Pipeline: s.Name(), Field: "duration", Reason: "must be positive and finite"}
	case !(s.StartSeconds >= 0) || math.IsInf(s.StartSeconds, 0):
		return Plan{}, &InvalidSpecError{Pipeline: s.Name(), Field: "start", Reason: "must be finite and not negative"}
	case s.FPS <= 0:
		return Plan{}, &InvalidSpecError{Pipeline: s.Name(), Field: "fps", Reason: "must be positive"}
	case s.Width <= 0:
		return Plan{}, &InvalidSpecError{Pipeline: s.Name(), Field: "width", Reason: "must be positive"}
	}

	var args argList
	args.add("-ss", formatSeconds(s.StartSeconds)).
		add("-t", formatSeconds(s.MaxDurationSeconds)).
		input(input).
		add("-vf", fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", s.FPS, s.Width)).
		add("-loop", "0").
		add(GIFOutputName)

	return Plan{
		Stages:   []Stage{{Name: "preview", Args: args.tokens()}},
		Output:   GIFOutputName,
		MIMEType: MIMETypeGIF,
	}, nil
}
