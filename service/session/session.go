// Package session owns the connection to the hub and its state machine.
//
// A Session is bound to one hub URL. Connect moves it from Disconnected or
// Failed to Connecting and then to Connected or Failed; a transport drop
// moves Connected to Failed; Disconnect ends the session for good. Every
// connect attempt carries a generation number, and an attempt whose
// generation is no longer current when it resolves is discarded.
//
// Transitions and inbound events are delivered on a serial executor owned
// by the session, one at a time and in the order they happened.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/service/transport"
	"PPHub/tools/errs"
	"PPHub/tools/executor"
	"PPHub/tools/safe"

	"go.uber.org/zap"
)

// Handler receives one inbound event.
type Handler func(ev transport.Event)

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHandshakeTimeout bounds negotiate, dial and handshake together.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

type Session struct {
	url              string
	dialer           transport.Dialer
	log              *zap.Logger
	handshakeTimeout time.Duration
	now              func() time.Time
	callbacks        *executor.Serial

	mu        sync.Mutex
	state     State
	gen       uint64
	closed    bool
	conn      transport.Conn
	cancel    context.CancelFunc
	handlers  map[string][]Handler
	observers []func(Transition)
}

func New(url string, dialer transport.Dialer, opts ...Option) *Session {
	safe.MustNotNil(dialer, "dialer")
	s := &Session{
		url:              url,
		dialer:           dialer,
		log:              logger.Named("session"),
		handshakeTimeout: transport.DefaultHandshakeTimeout,
		now:              time.Now,
		handlers:         make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("url", url))
	s.callbacks = executor.NewSerial("session-callbacks")
	return s
}

func (s *Session) URL() string { return s.url }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// On registers h for inbound events named event. Handlers run on the
// session's callback executor in arrival order.
func (s *Session) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

// OnStateChange registers fn for every later transition.
func (s *Session) OnStateChange(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Connect starts a connect attempt and waits for it to resolve. It returns
// nil at once when the session is already Connecting or Connected,
// ErrSessionClosed after Disconnect and ErrSuperseded when Disconnect
// overtook the attempt. A failed attempt leaves the session Failed and
// returns a HandshakeError.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrSessionClosed.Wrap()
	}
	if s.state == Connecting || s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	attemptCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	s.cancel = cancel
	s.transitionLocked(Connecting, nil)
	s.mu.Unlock()
	defer cancel()

	conn, err := s.dial(attemptCtx)

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		s.log.Debug("[Session] discarded superseded connect attempt", zap.Uint64("gen", gen))
		return errs.ErrSuperseded.Wrap()
	}
	s.cancel = nil
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = errs.ErrHandshake.WrapMsg("handshake timed out", "timeout", s.handshakeTimeout)
		} else if !errors.Is(err, errs.ErrHandshake) {
			err = errs.ErrHandshake.WrapErr(err)
		}
		s.transitionLocked(Failed, err)
		s.mu.Unlock()
		return err
	}
	s.conn = conn
	s.transitionLocked(Connected, nil)
	s.mu.Unlock()

	go s.pump(gen, conn, conn.Events())
	return nil
}

func (s *Session) dial(ctx context.Context) (conn transport.Conn, err error) {
	if perr := safe.Recover(func() { conn, err = s.dialer.Dial(ctx, s.url) }); perr != nil {
		return nil, errs.ErrHandshake.WrapErr(perr)
	}
	if err == nil && conn == nil {
		err = errs.ErrHandshake.WrapMsg("dialer returned no connection")
	}
	return conn, err
}

// Send forwards an invocation to the hub. It fails fast with
// NotConnectedError unless the session is Connected, and never changes
// the session state itself.
func (s *Session) Send(ctx context.Context, event string, args ...any) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return errs.ErrNotConnected.Wrap()
	}
	return conn.Send(ctx, event, args...)
}

// Disconnect ends the session once it has left the initial state. An
// in-flight connect attempt is cancelled and superseded; the transport is
// closed only if the session had reached Connected. Connect fails with
// ErrSessionClosed afterwards. On a session that is still Disconnected it
// does nothing and Connect stays possible.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	idle := s.state == Disconnected && !s.closed
	s.mu.Unlock()
	if idle {
		return nil
	}
	return s.Close(ctx)
}

// Close releases the session in any state, including the initial one.
// Connect fails with ErrSessionClosed afterwards.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	cancel, conn := s.cancel, s.conn
	s.cancel, s.conn = nil, nil
	if s.state != Disconnected {
		s.transitionLocked(Disconnected, nil)
	}
	s.mu.Unlock()
	s.callbacks.Stop()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Close()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every callback queued so far has run.
func (s *Session) Flush(ctx context.Context) error {
	return s.callbacks.Flush(ctx)
}

// pump delivers the events of one connection and turns its end into a
// Connected -> Failed transition unless the session moved on already.
func (s *Session) pump(gen uint64, conn transport.Conn, events <-chan transport.Event) {
	for ev := range events {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			continue
		}
		hs := append([]Handler(nil), s.handlers[ev.Target]...)
		s.mu.Unlock()
		if len(hs) == 0 {
			s.log.Debug("[Session] no handler", zap.String("target", ev.Target))
			continue
		}
		ev := ev
		s.callbacks.Post(func() {
			if !s.current(gen) {
				return
			}
			for _, h := range hs {
				h(ev)
			}
		})
	}

	s.mu.Lock()
	if gen != s.gen || s.state != Connected || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	err := conn.Err()
	if err == nil {
		err = errs.ErrTransportDropped.WrapMsg("connection closed")
	}
	s.transitionLocked(Failed, err)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// transitionLocked moves to `to` and queues the observers. s.mu must be held.
func (s *Session) transitionLocked(to State, cause error) {
	from := s.state
	if !CanTransition(from, to) {
		s.log.Error("[Session] illegal transition ignored", zap.Stringer("from", from), zap.Stringer("to", to))
		return
	}
	s.state = to
	tr := Transition{From: from, To: to, Err: cause, At: s.now()}
	if cause != nil {
		tr.Reason = errs.Reason(cause)
		s.log.Warn("[Session] state", zap.Stringer("from", from), zap.Stringer("to", to), zap.String("reason", tr.Reason))
	} else {
		s.log.Info("[Session] state", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	obs := append([]func(Transition){}, s.observers...)
	s.callbacks.Post(func() {
		for _, fn := range obs {
			fn(tr)
		}
	})
}
