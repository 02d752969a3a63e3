// Package pipeline builds engine command sequences for the supported
// transformations. Everything here is pure: a Spec plus an input staging name
// deterministically yields a Plan.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Fixed encoding parameters and staging names.
const (
	AudioBitrate    = "192k"
	AudioCodec      = "libmp3lame"
	ID3Version      = "3"
	MaxLyricsBytes  = 64 * 1024
	CoverStageName  = "cover.jpg"
	AudioOutputName = "output.mp3"
	GIFOutputName   = "output.gif"

	MIMETypeMP3 = "audio/mp3"
	MIMETypeGIF = "image/gif"
)

// Tag names used for embedded lyrics: plain text and synchronized text.
const (
	LyricsTag       = "lyrics"
	SyncedLyricsTag = "SYLT"
)

// Spec is an immutable description of one transformation.
type Spec interface {
	// Name identifies the pipeline in logs and metrics.
	Name() string
	// Build validates the parameters and returns the command plan for input.
	Build(input string) (Plan, error)
}

// Stage is one engine command.
type Stage struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// Plan is the ordered command sequence for one run and the staged names it
// produces. Intermediates and Output are removed after the run.
type Plan struct {
	Stages        []Stage  `json:"stages"`
	Intermediates []string `json:"intermediates,omitempty"`
	Output        string   `json:"output"`
	MIMEType      string   `json:"mimeType"`
}

// Artifacts returns every staged name the plan creates.
func (p Plan) Artifacts() []string {
	out := make([]string, 0, len(p.Intermediates)+1)
	out = append(out, p.Intermediates...)
	return append(out, p.Output)
}

// InvalidSpecError reports caller parameters that violate builder
// preconditions. It is raised before any engine interaction.
type InvalidSpecError struct {
	Pipeline string `json:"pipeline"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

// Error formats the rejected field and reason.
func (e *InvalidSpecError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid %s request: %s %s", e.Pipeline, e.Field, e.Reason)
}

// argList accumulates discrete command tokens. User text is always appended as
// a single token and never split or re-joined.
type argList []string

func (a *argList) add(tokens ...string) *argList {
	*a = append(*a, tokens...)
	return a
}

func (a *argList) input(name string) *argList {
	return a.add("-i", name)
}

func (a *argList) metadata(flag, key, value string) *argList {
	return a.add(flag, key+"="+value)
}

func (a *argList) tokens() []string {
	return append([]string(nil), (*a)...)
}

// formatSeconds renders a non-negative duration without trailing zeros.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func checkInput(pipeline, input string) error {
	if strings.TrimSpace(input) == "" {
		return &InvalidSpecError{Pipeline: pipeline, Field: "input", Reason: "must not be empty"}
	}
	return nil
}
