package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"room-capture/internal/domain"
)

const stderrTailBytes = 4096

// wireEvent is one JSON line printed by the engine on stdout.
type wireEvent struct {
	Type     string  `json:"type"`
	Fraction float64 `json:"fraction"`
	Path     string  `json:"path"`
	Sidecar  string  `json:"sidecar"`
	Reason   string  `json:"reason"`
	Error    string  `json:"error"`
}

// ProcessEngine binds to an out-of-process reconstruction engine that
// reports progress as JSON lines on stdout.
type ProcessEngine struct {
	path     string
	logger   *zap.Logger
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
	stat     func(string) (os.FileInfo, error)
}

// NewProcessEngine constructs the production engine adapter.
func NewProcessEngine(path string, logger *zap.Logger) *ProcessEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessEngine{
		path:     path,
		logger:   logger,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
		stat:     os.Stat,
	}
}

// Path returns the configured engine executable.
func (e *ProcessEngine) Path() string {
	return e.path
}

// Supported reports whether the engine executable can be resolved.
func (e *ProcessEngine) Supported() bool {
	if strings.TrimSpace(e.path) == "" {
		return false
	}
	_, err := e.lookPath(e.path)
	return err == nil
}

// Configure validates options and returns an unstarted session.
func (e *ProcessEngine) Configure(opts domain.CaptureOptions) (Session, error) {
	if !e.Supported() {
		return nil, errors.WithHint(
			errors.Wrapf(domain.ErrUnsupportedDevice, "capture engine %q not available", e.path),
			"Install the capture engine or set its path in settings.",
		)
	}

	normalized, err := NormalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	return &processSession{
		engine: e,
		opts:   normalized,
		stream: NewStream(16),
	}, nil
}

// processSession runs the engine once.
type processSession struct {
	engine *ProcessEngine
	opts   domain.CaptureOptions
	stream *Stream

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Start launches the engine process and begins decoding its output.
func (s *processSession) Start(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Mark(errors.New("capture session already started"), domain.ErrSessionStart)
	}
	if s.cancelled.Load() {
		return errors.Mark(errors.New("capture session cancelled before start"), domain.ErrSessionStart)
	}

	args, err := buildEngineArgs(s.opts, req)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := s.engine.command(runCtx, s.engine.path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return errors.Mark(errors.Wrap(err, "attach engine stdout"), domain.ErrSessionStart)
	}
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return errors.WithHint(
			errors.Mark(errors.Wrapf(err, "start capture engine %s", s.engine.path), domain.ErrSessionStart),
			"Check that the capture engine is installed and executable.",
		)
	}

	s.started = true
	s.cancel = cancel
	s.engine.logger.Debug("capture engine started",
		zap.String("engine", s.engine.path),
		zap.Strings("args", args),
	)

	go s.run(runCtx, cmd, stdout, stderr, req)
	return nil
}

// Events returns the session event stream.
func (s *processSession) Events() <-chan Event {
	return s.stream.C()
}

// Cancel stops the engine process on a best-effort basis.
func (s *processSession) Cancel() {
	s.cancelled.Store(true)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run decodes stdout until EOF, waits for exit, and guarantees a single
// terminal event.
func (s *processSession) run(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderr *tailBuffer, req Request) {
	defer s.cancelContext()

	decodeEvents(stdout, func(ev Event) {
		if ev.Type == EventResultReady {
			ev = s.resolveResult(ev, req)
		}
		s.stream.Emit(ev)
	}, s.engine.logger)
	waitErr := cmd.Wait()

	if s.stream.Done() {
		return
	}
	if s.cancelled.Load() || ctx.Err() != nil {
		s.stream.Finish(Cancelled())
		return
	}

	msg := "capture engine exited without producing a result"
	if waitErr != nil {
		msg = "capture engine exited: " + waitErr.Error()
	}
	if tail := strings.TrimSpace(stderr.String()); tail != "" {
		msg += ": " + tail
	}
	s.stream.Finish(Failed(errors.WithHint(
		errors.Mark(errors.New(msg), domain.ErrSessionOutput),
		"Retake the capture; make sure the subject is well lit and fully covered.",
	)))
}

func (s *processSession) cancelContext() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// resolveResult fills in artifact and sidecar paths the engine left out.
func (s *processSession) resolveResult(ev Event, req Request) Event {
	if ev.ArtifactPath == "" {
		ev.ArtifactPath = req.OutputPath
	}
	if ev.SidecarPath == "" && req.SidecarPath != "" {
		if _, err := s.engine.stat(req.SidecarPath); err == nil {
			ev.SidecarPath = req.SidecarPath
		}
	}
	return ev
}

// decodeEvents reads JSON lines from r and forwards recognized events.
// It always drains r so the engine never blocks on a full pipe.
func decodeEvents(r io.Reader, emit func(Event), logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var wire wireEvent
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			logger.Debug("ignoring engine output line", zap.String("line", line))
			continue
		}
		ev, ok := wire.event()
		if !ok {
			logger.Debug("ignoring unknown engine event", zap.String("type", wire.Type))
			continue
		}
		emit(ev)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("reading engine output", zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}

// event maps a wire line onto the tagged variant.
func (w wireEvent) event() (Event, bool) {
	switch w.Type {
	case "input_ingested":
		return InputIngested(), true
	case "progress", "processing_progress":
		return Progress(w.Fraction), true
	case "processing_complete":
		return ProcessingComplete(), true
	case "result_ready":
		return ResultReady(w.Path, w.Sidecar), true
	case "sample_skipped":
		return SampleSkipped(w.Reason), true
	case "failed":
		msg := strings.TrimSpace(w.Error)
		if msg == "" {
			msg = "capture engine reported a failure"
		}
		return Failed(errors.Mark(errors.Newf("engine: %s", msg), domain.ErrSessionOutput)), true
	case "cancelled":
		return Cancelled(), true
	default:
		return Event{}, false
	}
}

// buildEngineArgs builds the engine command line for one run.
func buildEngineArgs(opts domain.CaptureOptions, req Request) ([]string, error) {
	if strings.TrimSpace(req.OutputPath) == "" {
		return nil, errors.Mark(errors.New("output path is required"), domain.ErrSessionStart)
	}

	var args []string
	switch req.Input.Kind {
	case domain.InputKindFolder:
		dir := req.InputDir
		if dir == "" {
			dir = req.Input.Path
		}
		if strings.TrimSpace(dir) == "" {
			return nil, errors.Mark(errors.New("input folder is required"), domain.ErrSessionStart)
		}
		args = append(args, "--input", dir)
	case domain.InputKindLiveSensor:
		args = append(args, "--live-sensor")
	default:
		return nil, errors.Mark(errors.Newf("unknown input kind %q", req.Input.Kind), domain.ErrSessionStart)
	}

	args = append(args, "--output", req.OutputPath)
	if req.SidecarPath != "" {
		args = append(args, "--sidecar", req.SidecarPath)
	}
	args = append(args,
		"--detail", opts.DetailLevel,
		"--feature-sensitivity", opts.FeatureSensitivity,
		"--sample-ordering", opts.SampleOrdering,
	)
	if opts.ObjectMasking {
		args = append(args, "--object-masking")
	}
	return args, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append([]byte(nil), b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

// NewProcessEngineForTests constructs an engine with injectable process
// dependencies.
func NewProcessEngineForTests(
	path string,
	lookPath func(string) (string, error),
	command func(ctx context.Context, name string, args ...string) *exec.Cmd,
) *ProcessEngine {
	return &ProcessEngine{
		path:     path,
		logger:   zap.NewNop(),
		lookPath: lookPath,
		command:  command,
		stat:     os.Stat,
	}
}
