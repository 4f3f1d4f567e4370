// Package orchestrator drives capture jobs from request to exported
// artifact: Idle → Configuring → Running → {Succeeded, Failed, Cancelled}.
package orchestrator

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"room-capture/internal/capture"
	"room-capture/internal/domain"
	"room-capture/internal/jobs"
	"room-capture/internal/staging"
	"room-capture/internal/uiexec"
)

// ErrNoArtifact is returned when export is requested without a result.
var ErrNoArtifact = errors.New("no captured artifact to export")

// Request describes a capture the user asked for.
type Request struct {
	Kind         domain.CaptureKind
	Input        domain.InputSource
	Options      domain.CaptureOptions
	ArtifactName string
}

// Exporter relocates and shares a staged artifact.
type Exporter interface {
	Run(ctx context.Context, artifact domain.StagedArtifact) (domain.StagedArtifact, error)
}

// Orchestrator runs at most one capture job at a time. Engine events are
// marshalled onto the UI executor before they touch job state.
type Orchestrator struct {
	engine capture.Engine
	stager *staging.Stager
	jobs   *jobs.Manager
	events *jobs.EventBus
	ui     uiexec.Executor
	logger *zap.Logger
	newID  func() string

	mu       sync.Mutex
	active   *run
	retained *run
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New builds an orchestrator around engine.
func New(
	engine capture.Engine,
	stager *staging.Stager,
	manager *jobs.Manager,
	events *jobs.EventBus,
	ui uiexec.Executor,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		stager: stager,
		jobs:   manager,
		events: events,
		ui:     ui,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the per-job bookkeeping the orchestrator keeps next to the
// manager's job record.
type run struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	session   capture.Session
	workspace staging.Workspace
	finished  bool

	// Guarded by Orchestrator.mu.
	exporting bool
	released  bool
}

func (r *run) setSession(s capture.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = s
}

func (r *run) setWorkspace(ws staging.Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspace = ws
}

func (r *run) state() (capture.Session, staging.Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session, r.workspace
}

// Start validates the request and launches a new job. Capability and
// input checks happen before any job exists; on failure state stays as
// it was.
func (o *Orchestrator) Start(req Request) (domain.Job, error) {
	if o.jobs.IsRunning() {
		return domain.Job{}, jobs.ErrJobAlreadyRunning
	}
	if !o.engine.Supported() {
		return domain.Job{}, errors.WithHint(
			errors.Wrap(domain.ErrUnsupportedDevice, "start capture"),
			"This device cannot run captures.",
		)
	}

	var images []string
	switch req.Input.Kind {
	case domain.InputKindFolder:
		found, err := o.stager.ScanImages(req.Input.Path)
		if err != nil {
			return domain.Job{}, err
		}
		images = found
	case domain.InputKindLiveSensor:
	default:
		return domain.Job{}, errors.Mark(
			errors.Newf("unknown input kind %q", req.Input.Kind), domain.ErrSessionStart)
	}
	if req.Kind == "" {
		req.Kind = defaultKind(req.Input)
	}

	job := domain.Job{ID: o.newID(), Kind: req.Kind, Input: req.Input}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{jobID: job.ID, cancel: cancel, done: make(chan struct{})}

	// Cancel looks the run up under o.mu, so the job and its run become
	// visible together.
	o.mu.Lock()
	if err := o.jobs.Start(job); err != nil {
		o.mu.Unlock()
		cancel()
		return domain.Job{}, err
	}
	o.active = r
	o.ui.Dispatch(func() {
		o.publishStatus(job.ID, domain.JobStatusConfiguring, "Preparing capture")
	})
	o.mu.Unlock()
	o.discardRetained()

	o.logger.Info("capture job started",
		zap.String("job_id", job.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("input", req.Input.Path),
		zap.Int("images", len(images)),
	)

	go o.execute(ctx, r, req, images)
	return o.jobs.Current(), nil
}

// Cancel stops the active job. The state moves to cancelled immediately;
// engine cancellation is best effort and late events are discarded.
func (o *Orchestrator) Cancel() error {
	var jobID string
	var err error
	o.onUI(func() { jobID, err = o.jobs.Cancel() })
	if err != nil {
		return err
	}

	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r != nil && r.jobID == jobID {
		r.cancel()
		if session, _ := r.state(); session != nil {
			session.Cancel()
		}
	}

	o.logger.Info("capture job cancelled", zap.String("job_id", jobID))
	o.ui.Dispatch(func() {
		o.publishStatus(jobID, domain.JobStatusCancelled, "Capture cancelled")
	})
	return nil
}

// Acknowledge returns a finished job to idle. An unexported artifact is
// discarded together with its workspace.
func (o *Orchestrator) Acknowledge() (domain.Job, error) {
	var finished domain.Job
	var err error
	o.onUI(func() { finished, err = o.jobs.Acknowledge() })
	if err != nil {
		return domain.Job{}, err
	}
	o.discardRetained()
	if finished.ID != "" {
		o.ui.Dispatch(func() {
			o.publishStatus(finished.ID, domain.JobStatusIdle, "Ready for a new capture")
		})
	}
	return finished, nil
}

// Export hands the current job's artifact to exporter and releases the
// workspace once the artifact has left it.
func (o *Orchestrator) Export(ctx context.Context, exporter Exporter) (domain.StagedArtifact, error) {
	job := o.jobs.Current()
	if job.Status != domain.JobStatusSucceeded || job.Artifact == nil {
		return domain.StagedArtifact{}, ErrNoArtifact
	}

	r := o.beginExport(job.ID)
	exported, err := exporter.Run(ctx, *job.Artifact)
	if exported.FinalPath != "" {
		if setErr := o.jobs.RecordExport(job.ID, exported); setErr != nil {
			o.logger.Warn("record final path", zap.String("job_id", job.ID), zap.Error(setErr))
		}
	}
	o.endExport(r, exported.FinalPath != "")
	if err != nil {
		o.logger.Warn("export failed", zap.String("job_id", job.ID), zap.Error(err))
		o.ui.Dispatch(func() { o.publishError(job.ID, err) })
		return exported, err
	}

	o.logger.Info("artifact exported", zap.String("job_id", job.ID), zap.String("path", exported.Path()))
	o.ui.Dispatch(func() {
		o.events.Publish(jobs.Event{
			JobID:        job.ID,
			Type:         jobs.EventTypeResult,
			Status:       domain.JobStatusSucceeded,
			Message:      "Capture exported",
			ArtifactPath: exported.Path(),
			SidecarPath:  exported.SidecarPath,
		})
	})
	return exported, nil
}

// Close cancels the active job, waits until its workspace is released and
// discards any unexported artifact. The UI executor must still be running.
func (o *Orchestrator) Close(ctx context.Context) error {
	if err := o.Cancel(); err == nil {
		o.logger.Info("cancelled running capture on close")
	}
	_, err := o.Wait(ctx)
	o.discardRetained()
	return err
}

// Current returns the current job snapshot.
func (o *Orchestrator) Current() domain.Job {
	return o.jobs.Current()
}

// Events returns all events with sequence greater than sinceSeq.
func (o *Orchestrator) Events(sinceSeq int64) []jobs.Event {
	return o.events.Since(sinceSeq)
}

// Wait blocks until the active job has finished and its event stream has
// been fully consumed, then returns the job snapshot.
func (o *Orchestrator) Wait(ctx context.Context) (domain.Job, error) {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil {
		return o.jobs.Current(), nil
	}

	select {
	case <-r.done:
		return o.jobs.Current(), nil
	case <-ctx.Done():
		return o.jobs.Current(), ctx.Err()
	}
}

// execute stages inputs, starts the session and forwards its events. It
// runs off the UI executor; every state change is dispatched.
func (o *Orchestrator) execute(ctx context.Context, r *run, req Request, images []string) {
	ws, err := o.stager.CreateWorkspace()
	if err != nil {
		o.abort(r, err)
		return
	}
	r.setWorkspace(ws)

	inputDir := ""
	if req.Input.Kind == domain.InputKindFolder {
		if _, err := o.stager.CopyInputs(ctx, ws, images); err != nil {
			o.abort(r, err)
			return
		}
		inputDir = ws.InputsDir()
	}

	session, err := o.engine.Configure(req.Options)
	if err != nil {
		o.abort(r, classifyStart(err))
		return
	}
	if ctx.Err() != nil {
		o.abort(r, ctx.Err())
		return
	}

	name := artifactName(req)
	captureReq := capture.Request{
		Input:       req.Input,
		InputDir:    inputDir,
		OutputPath:  ws.OutputPath(name),
		SidecarPath: ws.OutputPath(strings.TrimSuffix(name, ".usdz") + ".json"),
	}
	if err := session.Start(ctx, captureReq); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		o.abort(r, classifyStart(err))
		return
	}
	r.setSession(session)
	if ctx.Err() != nil {
		session.Cancel()
	}

	o.ui.Dispatch(func() {
		if err := o.jobs.SetOutputPath(r.jobID, captureReq.OutputPath); err != nil {
			return
		}
		if err := o.jobs.Transition(r.jobID, domain.JobStatusRunning); err != nil {
			o.logger.Debug("running transition skipped", zap.String("job_id", r.jobID), zap.Error(err))
			return
		}
		o.publishStatus(r.jobID, domain.JobStatusRunning, "Capture running")
	})

	for ev := range session.Events() {
		ev := ev
		o.ui.Dispatch(func() { o.apply(r, ev) })
	}
	o.ui.Dispatch(func() { o.streamClosed(r) })
}

// apply folds one engine event into job state. Must run on the UI
// executor.
func (o *Orchestrator) apply(r *run, ev capture.Event) {
	job := o.jobs.Current()
	if job.ID != r.jobID || job.Status != domain.JobStatusRunning {
		o.logger.Debug("discarding late capture event",
			zap.String("job_id", r.jobID),
			zap.String("event", string(ev.Type)),
			zap.String("status", string(job.Status)),
		)
		return
	}

	switch ev.Type {
	case capture.EventInputIngested:
		o.publishLog(r.jobID, "Input ingested")
	case capture.EventProgress:
		changed, err := o.jobs.SetProgress(r.jobID, ev.Fraction)
		if err != nil || !changed {
			return
		}
		o.events.Publish(jobs.Event{
			JobID:    r.jobID,
			Type:     jobs.EventTypeProgress,
			Status:   domain.JobStatusRunning,
			Progress: o.jobs.Current().Progress,
		})
	case capture.EventProcessingComplete:
		o.publishLog(r.jobID, "Processing complete, writing model")
	case capture.EventSampleSkipped:
		o.logger.Info("sample skipped", zap.String("job_id", r.jobID), zap.String("reason", ev.Reason))
		o.publishLog(r.jobID, "Sample skipped: "+ev.Reason)
	case capture.EventResultReady:
		o.succeed(r, ev)
	case capture.EventFailed:
		o.fail(r, ev.Err)
	case capture.EventCancelled:
		if err := o.jobs.CancelJob(r.jobID); err == nil {
			o.logger.Info("capture cancelled by engine", zap.String("job_id", r.jobID))
			o.publishStatus(r.jobID, domain.JobStatusCancelled, "Capture cancelled")
		}
	}
}

func (o *Orchestrator) succeed(r *run, ev capture.Event) {
	if _, err := os.Stat(ev.ArtifactPath); err != nil {
		o.fail(r, errors.Mark(
			errors.Wrapf(err, "capture finished but artifact is missing: %s", ev.ArtifactPath),
			domain.ErrSessionOutput,
		))
		return
	}

	artifact := domain.StagedArtifact{TemporaryPath: ev.ArtifactPath, SidecarPath: ev.SidecarPath}
	if err := o.jobs.Succeed(r.jobID, artifact); err != nil {
		return
	}
	o.logger.Info("capture job succeeded", zap.String("job_id", r.jobID), zap.String("path", ev.ArtifactPath))
	o.publishStatus(r.jobID, domain.JobStatusSucceeded, "Capture complete")
	o.events.Publish(jobs.Event{
		JobID:        r.jobID,
		Type:         jobs.EventTypeResult,
		Status:       domain.JobStatusSucceeded,
		Message:      "Model ready",
		ArtifactPath: artifact.TemporaryPath,
		SidecarPath:  artifact.SidecarPath,
	})
}

func (o *Orchestrator) fail(r *run, err error) {
	notice := domain.NoticeFor(err)
	if notice == nil {
		return
	}
	if ferr := o.jobs.Fail(r.jobID, notice); ferr != nil {
		return
	}
	o.logger.Warn("capture job failed",
		zap.String("job_id", r.jobID),
		zap.String("kind", string(notice.Kind)),
		zap.Error(err),
	)
	o.publishStatus(r.jobID, domain.JobStatusFailed, "Capture failed")
	o.publishError(r.jobID, err)
}

// abort ends a job that never reached a running session.
func (o *Orchestrator) abort(r *run, err error) {
	o.ui.Dispatch(func() {
		o.fail(r, err)
		o.finishRun(r)
	})
}

// streamClosed runs after the terminal event has been applied.
func (o *Orchestrator) streamClosed(r *run) {
	job := o.jobs.Current()
	if job.ID == r.jobID && job.Status.IsActive() {
		o.fail(r, errors.Mark(errors.New("capture session ended without a result"), domain.ErrSessionOutput))
	}
	o.finishRun(r)
}

// finishRun releases the workspace unless it still holds the succeeded,
// not yet exported artifact.
func (o *Orchestrator) finishRun(r *run) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.mu.Unlock()
	r.cancel()

	job := o.jobs.Current()
	keep := job.ID == r.jobID && job.Status == domain.JobStatusSucceeded &&
		job.Artifact != nil && job.Artifact.FinalPath == ""

	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	if keep {
		o.retained = r
	}
	o.mu.Unlock()

	if !keep {
		o.cleanup(r)
	}
	close(r.done)
}

// discardRetained removes the workspace of a previously succeeded job. A
// workspace with an export in flight is released when the export ends.
func (o *Orchestrator) discardRetained() {
	o.mu.Lock()
	r := o.retained
	o.retained = nil
	if r != nil && r.exporting {
		r.released = true
		r = nil
	}
	o.mu.Unlock()
	if r != nil {
		o.cleanup(r)
	}
}

// beginExport pins the retained workspace of jobID for the export.
func (o *Orchestrator) beginExport(jobID string) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.retained
	if r == nil || r.jobID != jobID {
		return nil
	}
	r.exporting = true
	return r
}

// endExport unpins r and removes its workspace when the artifact has left
// it or a discard arrived meanwhile.
func (o *Orchestrator) endExport(r *run, moved bool) {
	if r == nil {
		return
	}
	o.mu.Lock()
	r.exporting = false
	release := moved || r.released
	if release && o.retained == r {
		o.retained = nil
	}
	o.mu.Unlock()
	if release {
		o.cleanup(r)
	}
}

// onUI runs fn on the UI executor and waits for it. Once the executor has
// stopped nothing observes state any more and fn runs on the caller.
func (o *Orchestrator) onUI(fn func()) {
	if !uiexec.Call(o.ui, fn) {
		fn()
	}
}

func (o *Orchestrator) cleanup(r *run) {
	_, ws := r.state()
	if err := o.stager.Cleanup(ws); err != nil {
		o.logger.Warn("workspace cleanup failed", zap.String("job_id", r.jobID), zap.Error(err))
	}
}

func (o *Orchestrator) publishStatus(jobID string, status domain.JobStatus, message string) {
	o.events.Publish(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

func (o *Orchestrator) publishLog(jobID, message string) {
	o.events.Publish(jobs.Event{JobID: jobID, Type: jobs.EventTypeLog, Message: message})
}

func (o *Orchestrator) publishError(jobID string, err error) {
	notice := domain.NoticeFor(err)
	if notice == nil {
		return
	}
	o.events.Publish(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeError,
		Message: notice.Message,
		Notice:  notice,
	})
}

// classifyStart marks unclassified adapter errors as start failures.
func classifyStart(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if domain.KindOf(err) == domain.ErrorKindUnknown {
		return errors.Mark(err, domain.ErrSessionStart)
	}
	return err
}

func defaultKind(input domain.InputSource) domain.CaptureKind {
	if input.Kind == domain.InputKindLiveSensor {
		return domain.CaptureKindRoom
	}
	return domain.CaptureKindObject
}

// artifactName picks the staged artifact file name.
func artifactName(req Request) string {
	name := strings.TrimSpace(req.ArtifactName)
	if name == "" {
		name = string(req.Kind)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".usdz") {
		name += ".usdz"
	}
	return name
}
