// Package engine owns the lifecycle of the single transcoding engine instance
// and the private staging area it reads inputs from and writes outputs to.
//
// A Handle moves through Uninitialized -> Initializing -> Ready (or Failed)
// exactly once. Backends plug in through the Loader and Instance ports; the
// production backend drives an ffmpeg executable whose scratch directory is the
// staging area.
package engine

import (
	"context"
	"fmt"
)

// State is the lifecycle position of a Handle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

// String returns the lowercase state name used in logs and diagnostics.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Locators name the resources an engine is acquired from. Code is the engine
// entry point and Payload its supporting payload. For the ffmpeg backend Code is
// the executable (name or path) and Payload the parent directory of the private
// scratch area, empty meaning the OS temp directory.
type Locators struct {
	Code    string `json:"code"`
	Payload string `json:"payload,omitempty"`
}

// Listeners receive notifications from an engine instance. Either may be nil.
type Listeners struct {
	OnLog      func(text string)
	OnProgress func(fraction float64)
}

func (l Listeners) log(text string) {
	if l.OnLog != nil {
		l.OnLog(text)
	}
}

func (l Listeners) progress(fraction float64) {
	if l.OnProgress != nil {
		l.OnProgress(fraction)
	}
}

// Loader acquires an engine instance. Listeners are registered before the
// acquisition starts so load progress and log output reach subscribers.
type Loader interface {
	Load(ctx context.Context, locators Locators, listeners Listeners) (Instance, error)
}

// Instance is a loaded engine with its own private file store. Names are single
// path elements; DeleteFile on a missing name returns nil. ReadFile returns an
// error wrapping ErrNotFound when the name is absent.
type Instance interface {
	Exec(ctx context.Context, args []string) (exitStatus int, err error)
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	DeleteFile(name string) error
	List() ([]string, error)
	Close() error
}

// EventKind classifies engine notifications.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventLog      EventKind = "log"
)

// Event is one transient notification broadcast to current subscribers.
type Event struct {
	Kind     EventKind `json:"kind"`
	Fraction float64   `json:"fraction,omitempty"`
	Text     string    `json:"text,omitempty"`
}
