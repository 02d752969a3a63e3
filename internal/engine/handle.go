package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"media-extractor/internal/metrics"
)

// logTailSize bounds the log lines kept for ExecutionError.
const logTailSize = 20

// Handle owns one engine instance and its state machine. The zero value is not
// usable; construct with NewHandle. A Handle that reached StateFailed stays
// failed; replace it to retry.
type Handle struct {
	loader   Loader
	locators Locators
	logger   hclog.Logger

	mu      sync.Mutex
	state   State
	loaded  chan struct{}
	inst    Instance
	initErr error
	closed  bool

	subsMu sync.RWMutex
	subs   map[int]func(Event)
	nextID int

	tailMu sync.Mutex
	tail   []string
}

// NewHandle creates an uninitialized handle. Nothing is loaded until the first
// EnsureReady call.
func NewHandle(loader Loader, locators Locators, logger hclog.Logger) *Handle {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Handle{
		loader:   loader,
		locators: locators,
		logger:   logger,
		subs:     make(map[int]func(Event)),
	}
}

// State returns a snapshot of the lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// EnsureReady loads the engine on first use and waits for it. Concurrent callers
// share one in-flight load and observe the same outcome. ctx bounds only how long
// this caller waits; the load itself is not cancelled by it.
func (h *Handle) EnsureReady(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateReady:
		h.mu.Unlock()
		return nil
	case StateFailed:
		err := h.initErr
		h.mu.Unlock()
		return err
	case StateUninitialized:
		h.state = StateInitializing
		h.loaded = make(chan struct{})
		h.logger.Info("loading engine", "code", h.locators.Code)
		go h.load()
	}
	loaded := h.loaded
	h.mu.Unlock()

	select {
	case <-loaded:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateFailed {
		return h.initErr
	}
	return nil
}

// load performs the one-time acquisition and settles the state machine.
func (h *Handle) load() {
	start := time.Now()
	inst, err := h.loader.Load(context.Background(), h.locators, Listeners{
		OnLog:      h.emitLog,
		OnProgress: h.emitProgress,
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil && inst == nil {
		err = errors.New("loader returned no instance")
	}
	if err == nil && h.closed {
		_ = inst.Close()
		err = ErrClosed
	}
	if err != nil {
		h.state = StateFailed
		h.initErr = &InitError{Locators: h.locators, Err: err}
		metrics.EngineLoadsTotal.WithLabelValues("failure").Inc()
		h.logger.Error("engine load failed", "code", h.locators.Code, "error", err)
	} else {
		h.state = StateReady
		h.inst = inst
		metrics.EngineLoadsTotal.WithLabelValues("success").Inc()
		h.logger.Info("engine ready", "code", h.locators.Code, "elapsed", time.Since(start))
	}
	close(h.loaded)
}

// Close releases the engine instance. Later calls fail with an InitError
// wrapping ErrClosed; a load still in flight is discarded when it settles.
func (h *Handle) Close() error {
	h.mu.Lock()
	inst := h.inst
	h.inst = nil
	h.closed = true
	if h.state != StateInitializing {
		h.state = StateFailed
		h.initErr = &InitError{Locators: h.locators, Err: ErrClosed}
	}
	h.mu.Unlock()

	if inst == nil {
		return nil
	}
	return inst.Close()
}

// instance returns the ready instance or ErrNotReady.
func (h *Handle) instance() (Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady || h.inst == nil {
		return nil, ErrNotReady
	}
	return h.inst, nil
}

// WriteInput stages data under name.
func (h *Handle) WriteInput(name string, data []byte) error {
	inst, err := h.instance()
	if err != nil {
		return &StagingError{Op: "write", Name: name, Err: err}
	}
	if err := inst.WriteFile(name, data); err != nil {
		return &StagingError{Op: "write", Name: name, Err: err}
	}

	h.logger.Debug("staged artifact", "name", name, "bytes", len(data))
	return nil
}

// ReadOutput returns the content of a staged artifact.
func (h *Handle) ReadOutput(name string) ([]byte, error) {
	inst, err := h.instance()
	if err != nil {
		return nil, &StagingError{Op: "read", Name: name, Err: err}
	}

	data, err := inst.ReadFile(name)
	if err != nil {
		return nil, &StagingError{Op: "read", Name: name, Err: err}
	}
	return data, nil
}

// DeleteStaged removes a staged artifact. Missing names are not an error.
func (h *Handle) DeleteStaged(name string) error {
	inst, err := h.instance()
	if err != nil {
		return &StagingError{Op: "delete", Name: name, Err: err}
	}
	if err := inst.DeleteFile(name); err != nil && !errors.Is(err, ErrNotFound) {
		return &StagingError{Op: "delete", Name: name, Err: err}
	}
	return nil
}

// Staged lists the artifact names currently in the staging area.
func (h *Handle) Staged() ([]string, error) {
	inst, err := h.instance()
	if err != nil {
		return nil, &StagingError{Op: "list", Err: err}
	}

	names, err := inst.List()
	if err != nil {
		return nil, &StagingError{Op: "list", Err: err}
	}
	return names, nil
}

// Execute runs one command to completion. Progress and log events are broadcast
// to subscribers while it runs.
func (h *Handle) Execute(ctx context.Context, args []string) error {
	inst, err := h.instance()
	if err != nil {
		return &ExecutionError{ExitStatus: -1, Err: err}
	}

	h.resetTail()
	h.logger.Debug("executing", "args", args)

	status, err := inst.Exec(ctx, args)
	if err != nil || status != 0 {
		return &ExecutionError{
			ExitStatus:   status,
			LastLogLines: h.tailSnapshot(),
			Err:          err,
		}
	}
	return nil
}

// Subscribe registers fn for subsequent events and returns its unsubscribe
// function. Events emitted before the call are not replayed.
func (h *Handle) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.subsMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.subsMu.Lock()
			delete(h.subs, id)
			h.subsMu.Unlock()
		})
	}
}

// broadcast delivers one event to every current subscriber.
func (h *Handle) broadcast(event Event) {
	h.subsMu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subsMu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}

func (h *Handle) emitLog(text string) {
	h.tailMu.Lock()
	h.tail = append(h.tail, text)
	if len(h.tail) > logTailSize {
		h.tail = append([]string(nil), h.tail[len(h.tail)-logTailSize:]...)
	}
	h.tailMu.Unlock()

	h.logger.Trace("engine", "line", text)
	h.broadcast(Event{Kind: EventLog, Text: text})
}

func (h *Handle) emitProgress(fraction float64) {
	h.broadcast(Event{Kind: EventProgress, Fraction: clampFraction(fraction)})
}

func (h *Handle) resetTail() {
	h.tailMu.Lock()
	h.tail = h.tail[:0]
	h.tailMu.Unlock()
}

func (h *Handle) tailSnapshot() []string {
	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	return append([]string(nil), h.tail...)
}

func clampFraction(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
