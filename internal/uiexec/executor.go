// Package uiexec models the single execution context that owns all
// UI-observable state.
package uiexec

import "sync"

// Executor runs funcs on the UI-owning context. Funcs dispatched from one
// goroutine run in dispatch order.
type Executor interface {
	Dispatch(fn func())
}

// Inline runs every func immediately on the caller.
type Inline struct{}

// Dispatch runs fn synchronously.
func (Inline) Dispatch(fn func()) {
	fn()
}

// Serial runs dispatched funcs one at a time, FIFO, on a dedicated
// goroutine.
type Serial struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerial starts the executor goroutine.
func NewSerial() *Serial {
	s := &Serial{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Dispatch enqueues fn. It never blocks; funcs dispatched after Close are
// dropped.
func (s *Serial) Dispatch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
}

// Flush blocks until every func dispatched before the call has run. It
// must not be called from the executor itself.
func (s *Serial) Flush() {
	done := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, func() { close(done) })
	s.cond.Signal()
	s.mu.Unlock()
	<-done
}

// Call runs fn on the executor and waits for it to return. It reports
// false without running fn once the executor is closed. It must not be
// called from the executor itself.
func (s *Serial) Call(fn func()) bool {
	done := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, func() {
		defer close(done)
		fn()
	})
	s.cond.Signal()
	s.mu.Unlock()
	<-done
	return true
}

// Call runs fn on ex and waits for it. Executors other than Serial are
// assumed never to drop funcs.
func Call(ex Executor, fn func()) bool {
	if s, ok := ex.(*Serial); ok {
		return s.Call(fn)
	}
	done := make(chan struct{})
	ex.Dispatch(func() {
		defer close(done)
		fn()
	})
	<-done
	return true
}

// Close runs the queued funcs and stops the executor.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
	<-s.done
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}
