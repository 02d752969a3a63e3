package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"media-extractor/internal/domain"
)

// requiredEncoders are the ffmpeg encoders the pipelines depend on.
var requiredEncoders = []string{"libmp3lame", "mjpeg", "gif"}

// Checker validates the transcoder executable and the directories a run writes to.
type Checker struct {
	lookPath   func(string) (string, error)
	output     func(name string, args ...string) ([]byte, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	tempDir    func() string
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath: exec.LookPath,
		output: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		tempDir:    os.TempDir,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	tool, path := c.checkTool(settings.FFmpegPath)
	items := []domain.DiagnosticItem{
		tool,
		c.checkEncoders(path),
		c.checkWritableDir("scratch_dir", "Scratch directory", c.tempDir(),
			"Set TMPDIR to a writable location; runs stage their files there."),
		c.checkWritableDir("export_dir", "Export directory", settings.ExportDir,
			"Choose a writable directory for saved results."),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool resolves the configured transcoder executable.
func (c *Checker) checkTool(name string) (domain.DiagnosticItem, string) {
	if strings.TrimSpace(name) == "" {
		name = "ffmpeg"
	}
	item := domain.DiagnosticItem{
		ID:   "tool_ffmpeg",
		Name: "ffmpeg",
	}

	path, err := c.lookPath(name)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Transcoder not found: %s", name)
		item.Hint = "Install ffmpeg, or set its full path in settings, before starting a run."
		return item, ""
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item, path
}

// checkEncoders verifies the transcoder was built with every encoder a
// pipeline uses.
func (c *Checker) checkEncoders(path string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "ffmpeg_encoders",
		Name: "ffmpeg encoders",
	}
	if path == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Skipped: transcoder not available."
		item.Hint = "Fix the ffmpeg check first."
		return item
	}

	out, err := c.output(path, "-hide_banner", "-encoders")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot list encoders: %v", err)
		item.Hint = "Check that the configured ffmpeg binary runs from a terminal."
		return item
	}

	available := parseEncoders(string(out))
	var missing []string
	for _, name := range requiredEncoders {
		if !available[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Missing encoders: " + strings.Join(missing, ", ")
		item.Hint = "Install an ffmpeg build that includes libmp3lame."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "Required encoders available: " + strings.Join(requiredEncoders, ", ")
	return item
}

// parseEncoders reads encoder names from `ffmpeg -encoders` output. Entries
// follow the "------" line that ends the legend; each is a flags column
// followed by the name.
func parseEncoders(out string) map[string]bool {
	names := make(map[string]bool)
	inList := false
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 1 && fields[0] == "------" {
			inList = true
			continue
		}
		if !inList || len(fields) < 2 {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = name + " is empty."
		item.Hint = hint
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = hint
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = hint
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	output func(name string, args ...string) ([]byte, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	tempDir func() string,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		output:     output,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		tempDir:    tempDir,
	}
}
