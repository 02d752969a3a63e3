package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotReady is returned by staging and execution calls made before the
	// engine reached the ready state.
	ErrNotReady = errors.New("engine is not ready")

	// ErrNotFound reports a missing staged artifact.
	ErrNotFound = errors.New("staged artifact not found")

	// ErrClosed is the init error of a handle after Close.
	ErrClosed = errors.New("engine closed")
)

// InitError reports that the engine could not be acquired. It is terminal for
// the Handle that produced it.
type InitError struct {
	Locators Locators `json:"locators"`
	Err      error    `json:"-"`
}

// Error formats the acquisition failure.
func (e *InitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("engine unavailable: load %q: %v", e.Locators.Code, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *InitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StagingError reports a failed write, read or delete against the staging area.
type StagingError struct {
	Op   string `json:"op"`
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Error formats the staging failure.
func (e *StagingError) Error() string {
	if e == nil {
		return ""
	}
	if e.Name == "" {
		return fmt.Sprintf("staging %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("staging %s %q: %v", e.Op, e.Name, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StagingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError reports a command that completed abnormally. LastLogLines
// holds the tail of the engine log for diagnosis.
type ExecutionError struct {
	ExitStatus   int      `json:"exitStatus"`
	LastLogLines []string `json:"lastLogLines"`
	Err          error    `json:"-"`
}

// Error formats the failure with the final log line when one is available.
func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}

	msg := fmt.Sprintf("transcode failed (exit %d)", e.ExitStatus)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if n := len(e.LastLogLines); n > 0 {
		msg += " [" + strings.TrimSpace(e.LastLogLines[n-1]) + "]"
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
