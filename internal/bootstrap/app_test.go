package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"room-capture/internal/capture"
	"room-capture/internal/capture/capturetest"
	"room-capture/internal/domain"
	"room-capture/internal/export"
	"room-capture/internal/jobs"
)

// fakeStore keeps settings in memory for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
}

// Load returns the stored settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save replaces the stored settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// recordingSink remembers exported paths.
type recordingSink struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingSink) Export(_ context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, paths...)
	return nil
}

// newTestApp builds an App around a scripted engine without a UI runtime.
func newTestApp(t *testing.T, store *fakeStore, engine *capturetest.Engine) *App {
	t.Helper()
	if engine == nil {
		engine = &capturetest.Engine{Script: capturetest.Progressive(2)}
	}
	app, err := newApp(store, func(domain.Settings) capture.Engine { return engine }, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	app.prompter = export.FixedName{}
	app.sink = &recordingSink{}
	t.Cleanup(app.ui.Close)
	return app
}

func testSettings(t *testing.T) domain.Settings {
	root := t.TempDir()
	return domain.Settings{
		WorkspaceRoot: filepath.Join(root, "work"),
		ExportDir:     filepath.Join(root, "exports"),
		DetailLevel:   "full",
	}
}

func imageFolder(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("IMG_%d.jpeg", i)), []byte("jpeg"), 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	return dir
}

// TestStartCaptureEnforcesSingleRunningJob checks single-job guard.
func TestStartCaptureEnforcesSingleRunningJob(t *testing.T) {
	settings := testSettings(t)
	if err := os.MkdirAll(settings.WorkspaceRoot, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	app := newTestApp(t, &fakeStore{settings: settings}, &capturetest.Engine{
		Script: []capture.Event{capture.Progress(0.3)},
	})

	if _, err := app.StartCapture(imageFolder(t, 4)); err != nil {
		t.Fatalf("start first job: %v", err)
	}
	if _, err := app.StartRoomScan(); !errors.Is(err, jobs.ErrJobAlreadyRunning) {
		t.Fatalf("second start error = %v, want %v", err, jobs.ErrJobAlreadyRunning)
	}

	if err := app.CancelCapture(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, app, domain.JobStatusCancelled)
}

// TestStartCapturePublishesProgressAndResultEvents checks event flow and export.
func TestStartCapturePublishesProgressAndResultEvents(t *testing.T) {
	settings := testSettings(t)
	if err := os.MkdirAll(settings.WorkspaceRoot, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	engine := &capturetest.Engine{Script: capturetest.Progressive(3)}
	app := newTestApp(t, &fakeStore{settings: settings}, engine)
	app.prompter = export.FixedName{Name: "Desk"}

	if _, err := app.StartCapture(imageFolder(t, 12)); err != nil {
		t.Fatalf("start job: %v", err)
	}
	waitForStatus(t, app, domain.JobStatusSucceeded)
	app.ui.Flush()

	if got := engine.Sessions()[0].Options.DetailLevel; got != "full" {
		t.Fatalf("engine detail level = %q, want full", got)
	}

	events := app.JobEvents(0)
	assertEventTypeExists(t, events, jobs.EventTypeStatus)
	assertEventTypeExists(t, events, jobs.EventTypeProgress)
	assertEventTypeExists(t, events, jobs.EventTypeLog)
	assertEventTypeExists(t, events, jobs.EventTypeResult)

	artifact, err := app.ExportCapture()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := filepath.Join(settings.ExportDir, "Desk.usdz")
	if artifact.FinalPath != want {
		t.Fatalf("final path = %s, want %s", artifact.FinalPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("exported model missing: %v", err)
	}
	if sink := app.sink.(*recordingSink); len(sink.paths) == 0 || sink.paths[0] != want {
		t.Fatalf("sink paths = %v", sink.paths)
	}
}

// TestStartCaptureWithoutImagesFails checks the empty folder is rejected up front.
func TestStartCaptureWithoutImagesFails(t *testing.T) {
	app := newTestApp(t, &fakeStore{settings: testSettings(t)}, nil)

	if _, err := app.StartCapture(imageFolder(t, 0)); !errors.Is(err, domain.ErrNoImages) {
		t.Fatalf("start error = %v, want no images", err)
	}
	if app.CurrentJob().Status != domain.JobStatusIdle {
		t.Fatalf("status = %s, want idle", app.CurrentJob().Status)
	}
}

// TestStartCapturePublishesFailureEvents checks error path emissions.
func TestStartCapturePublishesFailureEvents(t *testing.T) {
	settings := testSettings(t)
	if err := os.MkdirAll(settings.WorkspaceRoot, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	app := newTestApp(t, &fakeStore{settings: settings}, &capturetest.Engine{Script: []capture.Event{
		capture.InputIngested(),
		capture.Failed(errors.New("reconstruction diverged")),
	}})

	if _, err := app.StartCapture(imageFolder(t, 2)); err != nil {
		t.Fatalf("start job: %v", err)
	}
	waitForStatus(t, app, domain.JobStatusFailed)
	app.ui.Flush()

	events := app.JobEvents(0)
	assertEventTypeExists(t, events, jobs.EventTypeStatus)
	assertEventTypeExists(t, events, jobs.EventTypeError)
	for _, event := range events {
		if event.Type == jobs.EventTypeError && event.Notice.Kind != domain.ErrorKindSessionOutput {
			t.Fatalf("notice kind = %s, want session_output", event.Notice.Kind)
		}
	}

	if _, err := app.AcknowledgeCapture(); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if app.CurrentJob().Status != domain.JobStatusIdle {
		t.Fatalf("status = %s, want idle", app.CurrentJob().Status)
	}
}

// TestPushEventThrottlesProgress checks only progress pushes are rate limited.
func TestPushEventThrottlesProgress(t *testing.T) {
	app := newTestApp(t, &fakeStore{settings: testSettings(t)}, nil)

	var mu sync.Mutex
	var pushed []jobs.Event
	app.emit = func(_ context.Context, name string, data ...interface{}) {
		if name != captureEventName {
			t.Errorf("event name = %s", name)
		}
		mu.Lock()
		pushed = append(pushed, data[0].(jobs.Event))
		mu.Unlock()
	}
	app.Startup(context.Background())

	app.events.Publish(jobs.Event{JobID: "a", Type: jobs.EventTypeStatus, Status: domain.JobStatusRunning})
	for i := 1; i <= 10; i++ {
		app.events.Publish(jobs.Event{JobID: "a", Type: jobs.EventTypeProgress, Progress: float64(i) / 10})
	}
	app.events.Publish(jobs.Event{JobID: "a", Type: jobs.EventTypeStatus, Status: domain.JobStatusSucceeded})

	mu.Lock()
	defer mu.Unlock()
	progress := 0
	for _, event := range pushed {
		if event.Type == jobs.EventTypeProgress {
			progress++
		}
	}
	if progress == 0 || progress >= 10 {
		t.Fatalf("progress pushes = %d, want throttled", progress)
	}
	if last := pushed[len(pushed)-1]; last.Status != domain.JobStatusSucceeded {
		t.Fatalf("terminal status not pushed: %+v", last)
	}
	if got := len(app.JobEvents(0)); got != 12 {
		t.Fatalf("history = %d events, want 12", got)
	}
}

// TestSaveSettingsRejectsInvalidOptions keeps bad presets out of the store.
func TestSaveSettingsRejectsInvalidOptions(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}
	app := newTestApp(t, store, nil)

	bad := store.settings
	bad.SampleOrdering = "random"
	if _, err := app.SaveSettings(bad); domain.KindOf(err) != domain.ErrorKindSessionStart {
		t.Fatalf("save error = %v, want session_start", err)
	}

	good := store.settings
	good.EnginePath = "  /opt/engine/bin/photogrammetry-engine "
	saved, err := app.SaveSettings(good)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.EnginePath != "/opt/engine/bin/photogrammetry-engine" || saved.FeatureSensitivity != "normal" {
		t.Fatalf("saved = %+v", saved)
	}
}

// waitForStatus polls until job reaches desired status or times out.
func waitForStatus(t *testing.T, app *App, want domain.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if app.CurrentJob().Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", app.CurrentJob().Status, want)
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []jobs.Event, want jobs.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}

// TestShutdownReleasesWorkspaces checks no capture workspace outlives the app.
func TestShutdownReleasesWorkspaces(t *testing.T) {
	cases := []struct {
		name   string
		engine *capturetest.Engine
		status domain.JobStatus
	}{
		{
			name:   "running job",
			engine: &capturetest.Engine{Script: []capture.Event{capture.Progress(0.3)}},
			status: domain.JobStatusRunning,
		},
		{
			name:   "succeeded job not exported",
			engine: &capturetest.Engine{Script: capturetest.Progressive(2)},
			status: domain.JobStatusSucceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settings := testSettings(t)
			if err := os.MkdirAll(settings.WorkspaceRoot, 0o755); err != nil {
				t.Fatalf("mkdir workspace: %v", err)
			}
			app := newTestApp(t, &fakeStore{settings: settings}, tc.engine)

			if _, err := app.StartCapture(imageFolder(t, 3)); err != nil {
				t.Fatalf("start job: %v", err)
			}
			waitForStatus(t, app, tc.status)
			if tc.status == domain.JobStatusRunning {
				deadline := time.Now().Add(5 * time.Second)
				for app.CurrentJob().Progress == 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
			}

			app.Shutdown(context.Background())

			entries, err := os.ReadDir(settings.WorkspaceRoot)
			if err != nil {
				t.Fatalf("read workspace root: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("workspaces left after shutdown: %d", len(entries))
			}
			if status := app.CurrentJob().Status; status.IsActive() {
				t.Fatalf("status after shutdown = %s", status)
			}
		})
	}
}
