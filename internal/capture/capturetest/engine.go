// Package capturetest provides a scripted capture engine for tests and
// simulated runs.
package capturetest

import (
	"context"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"room-capture/internal/capture"
	"room-capture/internal/domain"
)

// Engine replays a fixed event script for every session it configures.
//
// A result_ready event without an artifact path writes a placeholder model
// (and sidecar, when requested) at the request's output path. A script
// without a terminal event keeps the stream open until Cancel.
type Engine struct {
	Unsupported  bool
	ConfigureErr error
	StartErr     error
	Script       []capture.Event
	// Step, when set, gates every scripted event on one receive.
	Step chan struct{}
	// Trailing events are delivered after a cancel, before the terminal
	// cancelled event, mimicking late engine output.
	Trailing []capture.Event

	mu       sync.Mutex
	sessions []*Session
}

// Supported reports the scripted capability flag.
func (e *Engine) Supported() bool {
	return !e.Unsupported
}

// Configure validates opts like the real engine and returns a new
// scripted session.
func (e *Engine) Configure(opts domain.CaptureOptions) (capture.Session, error) {
	if e.Unsupported {
		return nil, errors.Wrap(domain.ErrUnsupportedDevice, "scripted engine unsupported")
	}
	if e.ConfigureErr != nil {
		return nil, e.ConfigureErr
	}
	opts, err := capture.NormalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Session{
		engine:   e,
		Options:  opts,
		stream:   capture.NewStream(len(e.Script) + len(e.Trailing) + 1),
		cancelCh: make(chan struct{}),
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

// Sessions returns every session configured so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Session is one scripted run.
type Session struct {
	engine  *Engine
	Options domain.CaptureOptions

	stream     *capture.Stream
	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu      sync.Mutex
	request capture.Request
	started bool
}

// Start begins replaying the script.
func (s *Session) Start(ctx context.Context, req capture.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine.StartErr != nil {
		return s.engine.StartErr
	}
	if s.started {
		return errors.Mark(errors.New("scripted session already started"), domain.ErrSessionStart)
	}
	s.started = true
	s.request = req

	go s.run(ctx, req)
	return nil
}

// Events returns the scripted stream.
func (s *Session) Events() <-chan capture.Event {
	return s.stream.C()
}

// Cancel requests cancellation; safe to call repeatedly.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// Request returns the request passed to Start.
func (s *Session) Request() capture.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

func (s *Session) run(ctx context.Context, req capture.Request) {
	for _, ev := range s.engine.Script {
		if s.engine.Step != nil {
			select {
			case <-s.engine.Step:
			case <-s.cancelCh:
				s.finishCancelled()
				return
			case <-ctx.Done():
				s.finishCancelled()
				return
			}
		}
		if s.Cancelled() {
			s.finishCancelled()
			return
		}

		if ev.Type == capture.EventResultReady && ev.ArtifactPath == "" {
			ev = writePlaceholder(ev, req)
		}
		s.stream.Emit(ev)
		if s.stream.Done() {
			return
		}
	}

	select {
	case <-s.cancelCh:
	case <-ctx.Done():
	}
	s.finishCancelled()
}

func (s *Session) finishCancelled() {
	for _, ev := range s.engine.Trailing {
		s.stream.Emit(ev)
	}
	s.stream.Finish(capture.Cancelled())
}

// writePlaceholder stands in for the engine writing its artifact.
func writePlaceholder(ev capture.Event, req capture.Request) capture.Event {
	if err := os.WriteFile(req.OutputPath, []byte("usdz"), 0o644); err != nil {
		return capture.Failed(errors.Mark(errors.Wrap(err, "write scripted artifact"), domain.ErrSessionOutput))
	}
	ev.ArtifactPath = req.OutputPath
	if req.SidecarPath != "" {
		if err := os.WriteFile(req.SidecarPath, []byte(`{"surfaces":[]}`), 0o644); err == nil {
			ev.SidecarPath = req.SidecarPath
		}
	}
	return ev
}

// Progressive builds a script that ingests, reports n evenly spaced
// progress steps and then finishes with a result.
func Progressive(n int) []capture.Event {
	script := []capture.Event{capture.InputIngested()}
	for i := 1; i <= n; i++ {
		script = append(script, capture.Progress(float64(i)/float64(n)))
	}
	return append(script, capture.ProcessingComplete(), capture.ResultReady("", ""))
}
