// Package executor provides the execution contexts the chat core hops between:
// a serial queue standing in for a UI-affine thread, and the same queue used as
// the background context for outbound I/O.
package executor

import (
	"context"
	"sync"

	"PPHub/logger"
	"PPHub/tools/safe"

	"go.uber.org/zap"
)

// Executor runs posted functions in its own context. Post reports false when
// the executor no longer accepts work.
type Executor interface {
	Post(fn func()) bool
}

// Inline runs every function on the caller's goroutine.
type Inline struct{}

func (Inline) Post(fn func()) bool {
	fn()
	return true
}

type serialState int

const (
	stateRunning serialState = iota
	stateStopping
	stateClosed
)

// Serial runs posted functions one at a time, in post order, on a single
// goroutine. Post never blocks: the queue is unbounded.
type Serial struct {
	name string
	log  *zap.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	queue []func()
	state serialState
	done  chan struct{}
}

func NewSerial(name string) *Serial {
	s := &Serial{
		name: name,
		log:  logger.Named("executor").With(zap.String("executor", name)),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Serial) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return false
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
	return true
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.state == stateRunning {
			s.cond.Wait()
		}
		if s.state == stateClosed || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := safe.Recover(fn); err != nil {
			s.log.Error("[Executor] task panicked", zap.Error(err))
		}
	}
}

// Stop refuses new work and lets queued work run to completion.
func (s *Serial) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateRunning {
		s.state = stateStopping
		s.cond.Signal()
	}
}

// Close refuses new work and drops whatever is still queued. A function
// that is already running is not interrupted.
func (s *Serial) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	s.queue = nil
	s.cond.Signal()
}

// Done is closed once the worker goroutine has exited.
func (s *Serial) Done() <-chan struct{} { return s.done }

// Flush waits until everything posted before the call has run.
// It must not be called from a function running on s.
func (s *Serial) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if !s.Post(func() { close(marker) }) {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-marker:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serial) Name() string { return s.name }
