package jobs

import (
	"errors"
	"fmt"
	"sync"

	"media-extractor/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single active run and its lifecycle.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start registers a new run of pipeline and moves it to loading.
func (m *Manager) Start(jobID string, pipeline domain.PipelineKind) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}

	m.current = domain.Job{
		ID:       jobID,
		Pipeline: pipeline,
		Status:   domain.JobStatusLoading,
	}
	return nil
}

// Transition moves jobID to status. Updates for a job that is no longer
// current are rejected.
func (m *Manager) Transition(jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" || m.current.ID != jobID {
		return fmt.Errorf("job %q is not current", jobID)
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Settle applies the final status of a finished run. It reports false when the
// run was cancelled (or replaced) in the meantime, in which case the caller
// owns discarding whatever the run produced.
func (m *Manager) Settle(jobID string, status domain.JobStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID != jobID || !isRunning(m.current.Status) {
		return false
	}
	if !isValidTransition(m.current.Status, status) {
		status = domain.JobStatusFailed
	}
	m.current.Status = status
	return true
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel marks the active job cancelled and returns it. The run itself is not
// interrupted; its result is discarded when it settles.
func (m *Manager) Cancel() (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return domain.Job{}, ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusCancelled
	return m.current, nil
}

func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusLoading, domain.JobStatusTranscoding, domain.JobStatusMaterializing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusLoading
	case domain.JobStatusLoading:
		return to == domain.JobStatusTranscoding || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusTranscoding:
		return to == domain.JobStatusMaterializing || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusMaterializing:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusDone, domain.JobStatusFailed, domain.JobStatusCancelled:
		return to == domain.JobStatusLoading || to == domain.JobStatusIdle
	default:
		return false
	}
}
