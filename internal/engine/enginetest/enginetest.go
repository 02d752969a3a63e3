// Package enginetest provides an in-memory engine backend for tests of code
// that drives an engine.Handle.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"media-extractor/internal/engine"
)

// Loader hands out one Instance and counts acquisitions. When Gate is non-nil,
// Load blocks until it is closed.
type Loader struct {
	Instance *Instance
	Err      error
	Gate     chan struct{}

	mu    sync.Mutex
	loads int
}

// NewLoader returns a loader serving a fresh Instance.
func NewLoader() *Loader {
	return &Loader{Instance: NewInstance()}
}

// Load records the call and returns the configured instance or error.
func (l *Loader) Load(ctx context.Context, locators engine.Locators, listeners engine.Listeners) (engine.Instance, error) {
	l.mu.Lock()
	l.loads++
	l.mu.Unlock()

	if listeners.OnLog != nil {
		listeners.OnLog("loading " + locators.Code)
	}
	if l.Gate != nil {
		<-l.Gate
	}
	if l.Err != nil {
		return nil, l.Err
	}

	l.Instance.setListeners(listeners)
	return l.Instance, nil
}

// Loads returns how many times Load was called.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// ExecFunc simulates one command against the instance's files.
type ExecFunc func(ctx context.Context, inst *Instance, args []string) (int, error)

// Instance is an in-memory engine. By default Exec writes "output" to the
// file named by the last argument, like a transcoder producing its output.
type Instance struct {
	OnExec ExecFunc

	mu        sync.Mutex
	files     map[string][]byte
	calls     [][]string
	listeners engine.Listeners
	writeErr  map[string]error
	deleteErr map[string]error
	closed    bool
}

// NewInstance returns an empty instance.
func NewInstance() *Instance {
	return &Instance{
		files:     make(map[string][]byte),
		writeErr:  make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (i *Instance) setListeners(listeners engine.Listeners) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = listeners
}

// Exec records args and runs OnExec or the default behavior.
func (i *Instance) Exec(ctx context.Context, args []string) (int, error) {
	i.mu.Lock()
	i.calls = append(i.calls, append([]string(nil), args...))
	fn := i.OnExec
	i.mu.Unlock()

	if fn != nil {
		return fn(ctx, i, args)
	}
	if len(args) == 0 {
		return 1, fmt.Errorf("no arguments")
	}
	i.Put(args[len(args)-1], []byte("output"))
	return 0, nil
}

// WriteFile stores data unless a write failure was injected for name.
func (i *Instance) WriteFile(name string, data []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.writeErr[name]; err != nil {
		return err
	}
	i.files[name] = append([]byte(nil), data...)
	return nil
}

// ReadFile returns a copy of the stored bytes.
func (i *Instance) ReadFile(name string) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	data, ok := i.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

// DeleteFile removes name unless a delete failure was injected for it.
func (i *Instance) DeleteFile(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.deleteErr[name]; err != nil {
		return err
	}
	delete(i.files, name)
	return nil
}

// List returns the stored names in sorted order.
func (i *Instance) List() ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	names := make([]string, 0, len(i.files))
	for name := range i.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close marks the instance closed and drops its files.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	i.files = make(map[string][]byte)
	return nil
}

// Put stores a file directly, bypassing injected failures.
func (i *Instance) Put(name string, data []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.files[name] = append([]byte(nil), data...)
}

// FailWrite makes WriteFile(name) return err.
func (i *Instance) FailWrite(name string, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.writeErr[name] = err
}

// FailDelete makes DeleteFile(name) return err.
func (i *Instance) FailDelete(name string, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleteErr[name] = err
}

// Calls returns the argument lists passed to Exec so far.
func (i *Instance) Calls() [][]string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([][]string, len(i.calls))
	copy(out, i.calls)
	return out
}

// Closed reports whether Close was called.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Log emits a log line through the registered listeners.
func (i *Instance) Log(text string) {
	i.mu.Lock()
	listeners := i.listeners
	i.mu.Unlock()
	if listeners.OnLog != nil {
		listeners.OnLog(text)
	}
}

// Progress emits a progress fraction through the registered listeners.
func (i *Instance) Progress(fraction float64) {
	i.mu.Lock()
	listeners := i.listeners
	i.mu.Unlock()
	if listeners.OnProgress != nil {
		listeners.OnProgress(fraction)
	}
}
