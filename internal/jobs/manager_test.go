package jobs

import (
	"errors"
	"testing"

	"room-capture/internal/domain"
)

func startRunning(t *testing.T, m *Manager, id string) {
	t.Helper()
	if err := m.Start(domain.Job{ID: id, Kind: domain.CaptureKindObject}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Transition(id, domain.JobStatusRunning); err != nil {
		t.Fatalf("transition to running: %v", err)
	}
}

// TestManagerLifecycle verifies normal progression to succeeded state.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}

	startRunning(t, m, "job-1")
	if !m.IsRunning() {
		t.Fatal("expected running after start")
	}

	if err := m.Succeed("job-1", domain.StagedArtifact{TemporaryPath: "/ws/output/model.usdz"}); err != nil {
		t.Fatalf("succeed: %v", err)
	}

	current := m.Current()
	if current.Status != domain.JobStatusSucceeded {
		t.Fatalf("current status = %s, want succeeded", current.Status)
	}
	if current.Progress != 1 || current.Artifact == nil {
		t.Fatalf("unexpected finished job: %+v", current)
	}

	finished, err := m.Acknowledge()
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if finished.ID != "job-1" || m.Current().Status != domain.JobStatusIdle {
		t.Fatalf("acknowledge returned %+v, current %+v", finished, m.Current())
	}
}

// TestManagerRejectsInvalidTransition checks state machine constraints.
func TestManagerRejectsInvalidTransition(t *testing.T) {
	m := NewManager()
	if err := m.Start(domain.Job{ID: "job-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Succeed("job-1", domain.StagedArtifact{}); err == nil {
		t.Fatal("expected invalid transition error")
	}
}

// TestManagerRejectsSecondStart checks the single active job guard.
func TestManagerRejectsSecondStart(t *testing.T) {
	m := NewManager()
	startRunning(t, m, "job-1")
	if _, err := m.SetProgress("job-1", 0.4); err != nil {
		t.Fatalf("progress: %v", err)
	}

	if err := m.Start(domain.Job{ID: "job-2"}); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("second start error = %v, want %v", err, ErrJobAlreadyRunning)
	}
	current := m.Current()
	if current.ID != "job-1" || current.Status != domain.JobStatusRunning || current.Progress != 0.4 {
		t.Fatalf("running job mutated: %+v", current)
	}
}

// TestManagerProgressIsMonotonic checks regressions are ignored.
func TestManagerProgressIsMonotonic(t *testing.T) {
	m := NewManager()
	startRunning(t, m, "job-1")

	for _, f := range []float64{0.2, 0.5, 0.3, 0.5, 1.7} {
		if _, err := m.SetProgress("job-1", f); err != nil {
			t.Fatalf("progress %v: %v", f, err)
		}
	}
	if got := m.Current().Progress; got != 1 {
		t.Fatalf("progress = %v, want 1 (clamped)", got)
	}

	changed, err := m.SetProgress("job-1", 0.1)
	if err != nil || changed {
		t.Fatalf("regression changed=%v err=%v", changed, err)
	}
}

// TestManagerSingleTerminal checks no update follows a terminal state.
func TestManagerSingleTerminal(t *testing.T) {
	m := NewManager()
	startRunning(t, m, "job-1")

	if err := m.Fail("job-1", &domain.Notice{Kind: domain.ErrorKindSessionOutput}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := m.Succeed("job-1", domain.StagedArtifact{}); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("second terminal error = %v, want %v", err, ErrJobFinished)
	}
	if _, err := m.SetProgress("job-1", 0.9); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("progress after terminal error = %v, want %v", err, ErrJobFinished)
	}
	if m.Current().Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", m.Current().Status)
	}
}

// TestManagerCancel verifies cancel behavior and repeated cancel handling.
func TestManagerCancel(t *testing.T) {
	m := NewManager()
	startRunning(t, m, "job-1")

	id, err := m.Cancel()
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if id != "job-1" || m.Current().Status != domain.JobStatusCancelled {
		t.Fatalf("cancel id=%q status=%s", id, m.Current().Status)
	}

	if _, err := m.Cancel(); !errors.Is(err, ErrNoRunningJob) {
		t.Fatalf("second cancel error = %v, want %v", err, ErrNoRunningJob)
	}
	if _, err := m.SetProgress("job-1", 0.8); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("late progress error = %v, want %v", err, ErrJobFinished)
	}
	if m.Current().Progress != 0 {
		t.Fatalf("late progress applied: %+v", m.Current())
	}
}

// TestManagerStaleJobUpdates checks updates for replaced jobs are rejected.
func TestManagerStaleJobUpdates(t *testing.T) {
	m := NewManager()
	startRunning(t, m, "job-1")
	if _, err := m.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	startRunning(t, m, "job-2")

	if _, err := m.SetProgress("job-1", 0.5); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("stale progress error = %v, want %v", err, ErrStaleJob)
	}
	if err := m.Transition("job-1", domain.JobStatusRunning); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("stale transition error = %v, want %v", err, ErrStaleJob)
	}
}

// TestManagerAcknowledgeWhileRunning checks active jobs cannot be reset.
func TestManagerAcknowledgeWhileRunning(t *testing.T) {
	m := NewManager()
	startRunning(t, m, "job-1")

	if _, err := m.Acknowledge(); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("acknowledge error = %v, want %v", err, ErrJobAlreadyRunning)
	}
}

// TestManagerSnapshotIsolation checks Current returns copies.
func TestManagerSnapshotIsolation(t *testing.T) {
	m := NewManager()
	startRunning(t, m, "job-1")
	if err := m.Succeed("job-1", domain.StagedArtifact{TemporaryPath: "/a"}); err != nil {
		t.Fatalf("succeed: %v", err)
	}

	snap := m.Current()
	snap.Artifact.TemporaryPath = "/mutated"
	if m.Current().Artifact.TemporaryPath != "/a" {
		t.Fatal("snapshot shares artifact with manager")
	}
}
