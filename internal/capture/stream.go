package capture

// Stream enforces the event contract for adapters: progress never goes
// backwards, exactly one terminal event is delivered, and the channel is
// closed right after it. A Stream has a single producer goroutine.
type Stream struct {
	ch       chan Event
	done     bool
	progress float64
}

// NewStream creates a stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan Event, buffer)}
}

// C returns the consumer side of the stream.
func (s *Stream) C() <-chan Event {
	return s.ch
}

// Done reports whether the terminal event has been delivered.
func (s *Stream) Done() bool {
	return s.done
}

// Emit delivers ev unless the stream has already terminated. Regressing
// progress values are dropped. It reports whether ev was delivered.
func (s *Stream) Emit(ev Event) bool {
	if s.done {
		return false
	}
	if ev.Type == EventProgress {
		ev.Fraction = clamp(ev.Fraction)
		if ev.Fraction < s.progress {
			return false
		}
		s.progress = ev.Fraction
	}

	s.ch <- ev
	if ev.IsTerminal() {
		s.done = true
		close(s.ch)
	}
	return true
}

// Finish emits fallback as the terminal event if none was delivered.
func (s *Stream) Finish(fallback Event) {
	if s.done {
		return
	}
	if !fallback.IsTerminal() {
		fallback = Failed(nil)
	}
	s.Emit(fallback)
}

func clamp(f float64) float64 {
	switch {
	case f < 0 || f != f:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
