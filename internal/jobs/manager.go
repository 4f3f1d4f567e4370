package jobs

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"room-capture/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("capture job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running capture job")

// ErrStaleJob is returned for updates addressed to a job that is no
// longer current.
var ErrStaleJob = errors.New("capture job is no longer current")

// ErrJobFinished is returned when a terminal job receives another update.
var ErrJobFinished = errors.New("capture job already finished")

// Manager tracks the single allowed active job and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{Status: domain.JobStatusIdle},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start records job as the current job in configuring state. A previous
// terminal job is replaced; an active one is left untouched.
func (m *Manager) Start(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status.IsActive() {
		return ErrJobAlreadyRunning
	}

	job.Status = domain.JobStatusConfiguring
	job.Progress = 0
	job.Artifact = nil
	job.Notice = nil
	job.StartedAt = m.now()
	job.FinishedAt = time.Time{}
	m.current = job
	return nil
}

// Transition validates and applies a non-terminal transition for jobID.
func (m *Manager) Transition(jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCurrent(jobID); err != nil {
		return err
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return errors.Newf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// SetOutputPath records where the engine writes the artifact of jobID.
func (m *Manager) SetOutputPath(jobID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCurrent(jobID); err != nil {
		return err
	}
	m.current.OutputPath = path
	return nil
}

// SetProgress applies a progress update to a running job. Progress never
// decreases; it reports whether the observable value changed.
func (m *Manager) SetProgress(jobID string, fraction float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCurrent(jobID); err != nil {
		return false, err
	}
	if m.current.Status != domain.JobStatusRunning {
		return false, nil
	}

	fraction = clampFraction(fraction)
	if fraction <= m.current.Progress {
		return false, nil
	}
	m.current.Progress = fraction
	return true, nil
}

// Succeed records the terminal success of jobID with its staged artifact.
func (m *Manager) Succeed(jobID string, artifact domain.StagedArtifact) error {
	return m.finish(jobID, domain.JobStatusSucceeded, func(job *domain.Job) {
		job.Progress = 1
		job.Artifact = &artifact
	})
}

// Fail records the terminal failure of jobID.
func (m *Manager) Fail(jobID string, notice *domain.Notice) error {
	return m.finish(jobID, domain.JobStatusFailed, func(job *domain.Job) {
		job.Notice = notice
	})
}

// Cancel moves the active job to cancelled state and returns its ID.
func (m *Manager) Cancel() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current.Status.IsActive() {
		return "", ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusCancelled
	m.current.FinishedAt = m.now()
	return m.current.ID, nil
}

// CancelJob records an engine-originated cancellation of jobID.
func (m *Manager) CancelJob(jobID string) error {
	return m.finish(jobID, domain.JobStatusCancelled, func(*domain.Job) {})
}

// RecordExport stores the relocated artifact of a succeeded jobID.
func (m *Manager) RecordExport(jobID string, artifact domain.StagedArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" || m.current.ID != jobID {
		return ErrStaleJob
	}
	if m.current.Status != domain.JobStatusSucceeded || m.current.Artifact == nil {
		return errors.New("capture job has no artifact")
	}
	m.current.Artifact = &artifact
	return nil
}

// Acknowledge returns a terminal job to idle and yields the finished job.
func (m *Manager) Acknowledge() (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status.IsActive() {
		return domain.Job{}, ErrJobAlreadyRunning
	}
	finished := snapshot(m.current)
	m.current = domain.Job{Status: domain.JobStatusIdle}
	return finished, nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.current)
}

// IsRunning reports whether the current job is configuring or running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Status.IsActive()
}

func (m *Manager) finish(jobID string, status domain.JobStatus, apply func(*domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCurrent(jobID); err != nil {
		return err
	}
	if !isValidTransition(m.current.Status, status) {
		return errors.Newf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	m.current.FinishedAt = m.now()
	apply(&m.current)
	return nil
}

// checkCurrent rejects updates for other jobs or for finished ones.
func (m *Manager) checkCurrent(jobID string) error {
	if m.current.ID == "" || m.current.ID != jobID {
		return ErrStaleJob
	}
	if m.current.Status.IsTerminal() {
		return ErrJobFinished
	}
	return nil
}

// snapshot copies job so callers cannot mutate manager state.
func snapshot(job domain.Job) domain.Job {
	if job.Artifact != nil {
		artifact := *job.Artifact
		job.Artifact = &artifact
	}
	if job.Notice != nil {
		notice := *job.Notice
		job.Notice = &notice
	}
	return job
}

func clampFraction(f float64) float64 {
	switch {
	case f < 0 || f != f:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusConfiguring
	case domain.JobStatusConfiguring:
		return to == domain.JobStatusRunning || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusRunning:
		return to == domain.JobStatusSucceeded || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusSucceeded, domain.JobStatusFailed, domain.JobStatusCancelled:
		return to == domain.JobStatusConfiguring || to == domain.JobStatusIdle
	default:
		return false
	}
}
