package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-extractor/internal/config"
	"media-extractor/internal/diagnostics"
	"media-extractor/internal/domain"
	"media-extractor/internal/engine"
	"media-extractor/internal/inspect"
	"media-extractor/internal/jobs"
	"media-extractor/internal/logging"
	"media-extractor/internal/materialize"
	"media-extractor/internal/pipeline"
	"media-extractor/internal/transcode"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Media files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm;*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// RunRequest is the frontend payload for starting a run. Source carries the
// picked file as base64 (or a data: URL); SourcePath is used instead when set.
// Zero overrides fall back to settings.
type RunRequest struct {
	Source          string  `json:"source,omitempty"`
	SourcePath      string  `json:"sourcePath,omitempty"`
	Lyrics          string  `json:"lyrics,omitempty"`
	Cover           bool    `json:"cover"`
	StartSeconds    float64 `json:"startSeconds,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	CoverWidth      int     `json:"coverWidth,omitempty"`
}

// App wires configuration, the engine, runs, resources and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Runner      runner
	Engine      *engine.Handle
	Resources   *materialize.Registry
	Diagnostics domain.DiagnosticReport
	Logger      hclog.Logger
	assets      fs.FS
	checker     *diagnostics.Checker
	newEngine   func(settings domain.Settings) (*engine.Handle, runner)

	// runMu orders run starts against engine replacement.
	runMu sync.Mutex

	mu         sync.Mutex
	events     *jobs.EventBus
	runtimeCtx context.Context
}

// runner isolates the orchestrator behind an interface.
type runner interface {
	Run(ctx context.Context, req transcode.Request) (transcode.Result, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".media-extractor", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger := logging.New(settings.LogLevel)
	logger.Debug("settings loaded", "path", store.Path())
	checker := diagnostics.NewChecker()
	report := checker.Run(settings)
	if report.HasFailures {
		logger.Warn("startup diagnostics reported failures", "items", failedItems(report))
	}

	app := &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Resources:   materialize.NewRegistry(),
		Diagnostics: report,
		Logger:      logger.Named("app"),
		assets:      assets,
		checker:     checker,
		events:      jobs.NewEventBus(1000),
	}
	app.newEngine = func(settings domain.Settings) (*engine.Handle, runner) {
		handle := engine.NewHandle(
			engine.NewFFmpegLoader(),
			engine.Locators{Code: settings.FFmpegPath, Payload: os.TempDir()},
			logger.Named("engine"),
		)
		return handle, transcode.New(handle, logger.Named("transcode"))
	}
	app.Engine, app.Runner = app.newEngine(settings)
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{
		Assets:  a.assets,
		Handler: a.routes(),
	}

	return wails.Run(&options.App{
		Title:       "Media Extractor",
		Width:       1080,
		Height:      760,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// routes serves resource URLs, metrics and, without embedded assets, the
// frontend directory.
func (a *App) routes() http.Handler {
	router := mux.NewRouter()
	a.Resources.Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if a.assets == nil {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir("./frontend")))
	}
	return router
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown drops the runtime context and tears down the engine.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	handle := a.Engine
	a.mu.Unlock()

	if handle != nil {
		if err := handle.Close(); err != nil {
			a.logger().Warn("close engine", "error", err)
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// EngineState reports the engine lifecycle state.
func (a *App) EngineState() string {
	a.mu.Lock()
	handle := a.Engine
	a.mu.Unlock()
	if handle == nil {
		return engine.StateUninitialized.String()
	}
	return handle.State().String()
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// A changed ffmpeg path replaces the engine when no run is active, which is
// also how a failed engine load is retried.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	previous := a.Settings
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	if previous.FFmpegPath != normalized.FFmpegPath || a.EngineState() == engine.StateFailed.String() {
		a.replaceEngine(normalized)
	}
	return normalized, nil
}

// replaceEngine swaps in a fresh engine for settings unless a run is active.
func (a *App) replaceEngine(settings domain.Settings) {
	a.runMu.Lock()
	if a.newEngine == nil || a.Jobs.IsRunning() {
		a.runMu.Unlock()
		return
	}

	handle, r := a.newEngine(settings)
	a.mu.Lock()
	old := a.Engine
	a.Engine, a.Runner = handle, r
	a.mu.Unlock()
	a.runMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			a.logger().Warn("close previous engine", "error", err)
		}
	}
	a.logger().Info("engine replaced", "ffmpeg", settings.FFmpegPath)
}

// PickInputFile opens a native file dialog for media selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select media file",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickExportDirectory opens a native directory picker for saved results.
func (a *App) PickExportDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select export directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// StartExtractAudio starts an audio extraction. Cover or lyrics select the
// tagged variant.
func (a *App) StartExtractAudio(req RunRequest) (domain.Job, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}

	spec := pipeline.ExtractAudio{
		Mode:       pipeline.ModeSimple,
		Lyrics:     req.Lyrics,
		CoverWidth: settings.CoverWidth,
	}
	if req.Cover || strings.TrimSpace(req.Lyrics) != "" {
		spec.Mode = pipeline.ModeTagged
	}
	if req.CoverWidth != 0 {
		spec.CoverWidth = req.CoverWidth
	}

	return a.start(domain.PipelineExtractAudio, spec, req)
}

// StartPreview starts an animated preview of the source.
func (a *App) StartPreview(req RunRequest) (domain.Job, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}

	spec := pipeline.Preview{
		StartSeconds:       req.StartSeconds,
		MaxDurationSeconds: settings.PreviewSeconds,
		FPS:                settings.PreviewFPS,
		Width:              settings.PreviewWidth,
	}
	if req.DurationSeconds != 0 {
		spec.MaxDurationSeconds = req.DurationSeconds
	}

	return a.start(domain.PipelinePreview, spec, req)
}

// start validates the request synchronously and runs it in the background.
func (a *App) start(kind domain.PipelineKind, spec pipeline.Spec, req RunRequest) (domain.Job, error) {
	source, err := readSource(req)
	if err != nil {
		return domain.Job{}, err
	}
	if len(source) == 0 {
		return domain.Job{}, &pipeline.InvalidSpecError{Pipeline: spec.Name(), Field: "source", Reason: "must not be empty"}
	}
	if _, err := spec.Build(transcode.InputName(source)); err != nil {
		return domain.Job{}, err
	}

	jobID := uuid.NewString()
	a.runMu.Lock()
	if err := a.Jobs.Start(jobID, kind); err != nil {
		a.runMu.Unlock()
		return domain.Job{}, err
	}
	a.mu.Lock()
	r := a.Runner
	a.mu.Unlock()
	a.runMu.Unlock()

	a.publishStatus(jobID, kind, domain.JobStatusLoading, "Run started")
	go a.runJob(jobID, kind, spec, source, r)
	return a.Jobs.Current(), nil
}

// CancelRun marks the active run cancelled. The run finishes in the
// background and its result is released as soon as it settles.
func (a *App) CancelRun() error {
	job, err := a.Jobs.Cancel()
	if err != nil {
		return err
	}
	a.publishStatus(job.ID, job.Pipeline, domain.JobStatusCancelled, "Run cancelled")
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// JobHistory returns the retained events of one job in sequence order.
func (a *App) JobHistory(jobID string) []jobs.Event {
	return a.events.ForJob(jobID)
}

// ReleaseResource invalidates a resource URL. Unknown IDs are ignored.
func (a *App) ReleaseResource(id string) {
	a.Resources.Release(id)
}

// SaveResource asks for a destination and writes the resource there. An empty
// path means the dialog was dismissed.
func (a *App) SaveResource(id string) (string, error) {
	handle, _, err := a.Resources.Open(id)
	if err != nil {
		return "", err
	}
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	exportDir := a.Settings.ExportDir
	a.mu.Unlock()

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Save result",
		DefaultDirectory: exportDir,
		DefaultFilename:  handle.Filename,
	})
	if err != nil {
		return "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	return path, a.writeResource(id, path)
}

// writeResource copies the bytes behind id to path.
func (a *App) writeResource(id, path string) error {
	_, data, err := a.Resources.Open(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// runJob executes one run and maps its outcome to job events.
func (a *App) runJob(jobID string, kind domain.PipelineKind, spec pipeline.Spec, source []byte, r runner) {
	var transcoding sync.Once
	markTranscoding := func() {
		transcoding.Do(func() {
			if err := a.Jobs.Transition(jobID, domain.JobStatusTranscoding); err == nil {
				a.publishStatus(jobID, kind, domain.JobStatusTranscoding, "Transcoding")
			}
		})
	}
	req := transcode.Request{
		Spec:   spec,
		Source: source,
		OnProgress: func(fraction float64) {
			markTranscoding()
			a.publishEvent(jobs.Event{
				JobID:    jobID,
				Pipeline: kind,
				Type:     jobs.EventTypeProgress,
				Progress: fraction,
			})
		},
		OnLog: func(text string) {
			a.publishEvent(jobs.Event{
				JobID:    jobID,
				Pipeline: kind,
				Type:     jobs.EventTypeLog,
				Message:  text,
			})
		},
	}

	result, err := r.Run(context.Background(), req)
	if err != nil {
		a.failJob(jobID, kind, err)
		return
	}

	markTranscoding()
	if err := a.Jobs.Transition(jobID, domain.JobStatusMaterializing); err != nil {
		a.logger().Info("discarding result of cancelled run", "job", jobID)
		return
	}
	a.publishStatus(jobID, kind, domain.JobStatusMaterializing, "Preparing result")

	handle, err := a.Resources.Materialize(result.Bytes, result.MIMEType)
	if err != nil {
		a.failJob(jobID, kind, err)
		return
	}

	var tags *domain.AudioTags
	if kind == domain.PipelineExtractAudio {
		if read, err := inspect.Audio(result.Bytes); err == nil {
			tags = &read
		} else if !errors.Is(err, inspect.ErrNoTags) {
			a.logger().Debug("inspect output tags", "job", jobID, "error", err)
		}
	}

	if !a.Jobs.Settle(jobID, domain.JobStatusDone) {
		a.Resources.Release(handle.ID)
		a.logger().Info("released result of cancelled run", "job", jobID)
		return
	}

	resource := domain.Resource{
		ID:       handle.ID,
		URL:      handle.URL,
		MIMEType: handle.MIMEType,
		Filename: handle.Filename,
		Size:     handle.Size,
	}
	a.publishEvent(jobs.Event{
		JobID:    jobID,
		Pipeline: kind,
		Type:     jobs.EventTypeResult,
		Status:   domain.JobStatusDone,
		Message:  "Result ready",
		Resource: &resource,
		Tags:     tags,
	})
	a.publishStatus(jobID, kind, domain.JobStatusDone, "Run completed")
}

// failJob records a failed run unless it was cancelled meanwhile.
func (a *App) failJob(jobID string, kind domain.PipelineKind, err error) {
	if !a.Jobs.Settle(jobID, domain.JobStatusFailed) {
		a.logger().Info("cancelled run failed", "job", jobID, "error", err)
		return
	}

	a.logger().Error("run failed", "job", jobID, "pipeline", kind, "error", err)
	a.publishEvent(jobs.Event{
		JobID:    jobID,
		Pipeline: kind,
		Type:     jobs.EventTypeError,
		Status:   domain.JobStatusFailed,
		Category: string(transcode.Classify(err)),
		Message:  transcode.Message(err),
	})
	a.publishStatus(jobID, kind, domain.JobStatusFailed, "Run failed")
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, kind domain.PipelineKind, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:    jobID,
		Pipeline: kind,
		Type:     jobs.EventTypeStatus,
		Status:   status,
		Message:  message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

func (a *App) logger() hclog.Logger {
	if a.Logger == nil {
		return hclog.NewNullLogger()
	}
	return a.Logger
}

// readSource resolves the request's source bytes.
func readSource(req RunRequest) ([]byte, error) {
	if path := strings.TrimSpace(req.SourcePath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		return data, nil
	}
	if strings.TrimSpace(req.Source) == "" {
		return nil, nil
	}
	return materialize.Normalize(req.Source)
}

// normalizeSettings trims user inputs and fills defaults for empty values.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.ExportDir = strings.TrimSpace(settings.ExportDir)
	settings.LogLevel = strings.TrimSpace(settings.LogLevel)
	return config.Normalize(settings)
}

func failedItems(report domain.DiagnosticReport) []string {
	var ids []string
	for _, item := range report.Items {
		if item.Status == domain.DiagnosticStatusFail {
			ids = append(ids, item.ID)
		}
	}
	return ids
}
