// Package transcode sequences complete runs against the engine: staging,
// command execution, result extraction and cleanup.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"media-extractor/internal/engine"
	"media-extractor/internal/metrics"
	"media-extractor/internal/pipeline"
)

// ErrEmptyOutput reports a command that succeeded without producing bytes.
var ErrEmptyOutput = errors.New("output is empty")

// defaultInputExt is used when the source container cannot be detected.
const defaultInputExt = ".mp4"

// Request contains the source and callbacks for one run.
type Request struct {
	Spec       pipeline.Spec
	Source     []byte
	OnProgress func(fraction float64)
	OnLog      func(text string)
}

// Result is the raw output of a successful run.
type Result struct {
	Pipeline string
	MIMEType string
	Bytes    []byte
}

// BusyError is returned when a run is requested while another one is active.
// Runs are rejected rather than queued.
type BusyError struct {
	Pipeline string `json:"pipeline"`
}

// Error formats the rejection.
func (e *BusyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("engine busy: cannot start %s while another run is in progress", e.Pipeline)
}

// Orchestrator runs pipelines against one engine handle, one run at a time.
type Orchestrator struct {
	engine *engine.Handle
	sem    *semaphore.Weighted
	logger hclog.Logger
}

// New creates an orchestrator that owns access to h.
func New(h *engine.Handle, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Orchestrator{
		engine: h,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
}

// Run executes one pipeline end to end. Every artifact staged by the run is
// deleted before Run returns, whatever the outcome. Failures are one of
// *engine.InitError, *engine.StagingError, *engine.ExecutionError,
// *pipeline.InvalidSpecError or *BusyError (use errors.As).
func (o *Orchestrator) Run(ctx context.Context, req Request) (result Result, err error) {
	name := "unknown"
	if req.Spec != nil {
		name = req.Spec.Name()
	}

	start := time.Now()
	defer func() {
		metrics.RunsTotal.WithLabelValues(name, outcome(err)).Inc()
		if err == nil {
			metrics.RunDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}()

	if req.Spec == nil {
		return Result{}, &pipeline.InvalidSpecError{Pipeline: name, Field: "pipeline", Reason: "must be set"}
	}
	if len(req.Source) == 0 {
		return Result{}, &pipeline.InvalidSpecError{Pipeline: name, Field: "source", Reason: "must not be empty"}
	}

	input := InputName(req.Source)
	plan, err := req.Spec.Build(input)
	if err != nil {
		return Result{}, err
	}

	if !o.sem.TryAcquire(1) {
		return Result{}, &BusyError{Pipeline: name}
	}
	defer o.sem.Release(1)

	logger := o.logger.With("pipeline", name)
	progress := newProgressScaler(len(plan.Stages), req.OnProgress)
	unsubscribe := o.engine.Subscribe(func(event engine.Event) {
		switch event.Kind {
		case engine.EventLog:
			if req.OnLog != nil {
				req.OnLog(event.Text)
			}
		case engine.EventProgress:
			progress.stage(event.Fraction)
		}
	})
	defer unsubscribe()

	if err := o.engine.EnsureReady(ctx); err != nil {
		return Result{}, err
	}

	staged := append([]string{input}, plan.Artifacts()...)
	defer o.cleanup(logger, staged)

	if err := o.engine.WriteInput(input, req.Source); err != nil {
		return Result{}, err
	}

	for i, stage := range plan.Stages {
		progress.begin(i)
		logger.Debug("running stage", "stage", stage.Name, "index", i)
		if err := o.engine.Execute(ctx, stage.Args); err != nil {
			logger.Warn("stage failed", "stage", stage.Name, "error", err)
			return Result{}, fmt.Errorf("%s stage: %w", stage.Name, err)
		}
	}

	data, err := o.engine.ReadOutput(plan.Output)
	if err != nil {
		return Result{}, err
	}
	if len(data) == 0 {
		return Result{}, &engine.StagingError{Op: "read", Name: plan.Output, Err: ErrEmptyOutput}
	}
	progress.finish()

	logger.Info("run completed", "bytes", len(data), "elapsed", time.Since(start))
	return Result{Pipeline: name, MIMEType: plan.MIMEType, Bytes: data}, nil
}

// cleanup deletes every staged name. Failures are logged only.
func (o *Orchestrator) cleanup(logger hclog.Logger, names []string) {
	for _, name := range names {
		if err := o.engine.DeleteStaged(name); err != nil {
			logger.Warn("cleanup failed", "artifact", name, "error", err)
		}
	}
}

// InputName returns the staging name for source: "input" plus the extension of
// the detected audio or video container, or ".mp4" when undetectable.
func InputName(source []byte) string {
	detected := mimetype.Detect(source)
	ext := detected.Extension()
	mime := detected.String()
	if ext == "" || !(strings.HasPrefix(mime, "video/") || strings.HasPrefix(mime, "audio/")) {
		ext = defaultInputExt
	}
	return "input" + ext
}

// outcome maps a run error to its metrics label.
func outcome(err error) string {
	var (
		specErr    *pipeline.InvalidSpecError
		busyErr    *BusyError
		initErr    *engine.InitError
		stagingErr *engine.StagingError
	)
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &specErr):
		return metrics.OutcomeInvalid
	case errors.As(err, &busyErr):
		return metrics.OutcomeBusy
	case errors.As(err, &initErr):
		return metrics.OutcomeEngine
	case errors.As(err, &stagingErr):
		return metrics.OutcomeStaging
	default:
		return metrics.OutcomeFailed
	}
}
