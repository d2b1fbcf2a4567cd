// Package chatclient is the core behind a chat screen: Initialize, then
// SendMessage any number of times, then Teardown. Rendering is left to a
// dispatcher.Presenter supplied by the caller.
package chatclient

import (
	"context"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/module/chat/model"
	"PPHub/service/dispatcher"
	"PPHub/service/session"
	"PPHub/service/transport"
	"PPHub/tools/errs"
	"PPHub/tools/executor"
	"PPHub/tools/safe"

	"go.uber.org/zap"
)

var (
	ErrAlreadyInitialized = errs.New("chat screen already initialized")
	ErrNotInitialized     = errs.New("chat screen not initialized")
)

const teardownTimeout = 5 * time.Second

type Option func(*Screen)

func WithDialer(d transport.Dialer) Option {
	return func(sc *Screen) { sc.dialer = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(sc *Screen) {
		if l != nil {
			sc.log = l
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(sc *Screen) { sc.handshakeTimeout = d }
}

type Screen struct {
	presenter        dispatcher.Presenter
	ui               executor.Executor
	dialer           transport.Dialer
	log              *zap.Logger
	handshakeTimeout time.Duration

	mu         sync.Mutex
	session    *session.Session
	disp       *dispatcher.Dispatcher
	background *executor.Serial
	ctx        context.Context
	cancel     context.CancelFunc
	tornDown   bool
}

// New returns a screen core that reports to presenter on the ui executor.
func New(presenter dispatcher.Presenter, ui executor.Executor, opts ...Option) *Screen {
	safe.MustNotNil(presenter, "presenter")
	safe.MustNotNil(ui, "ui executor")
	sc := &Screen{
		presenter:        presenter,
		ui:               ui,
		log:              logger.Named("screen"),
		handshakeTimeout: transport.DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.dialer == nil {
		sc.dialer = transport.NewWebSocketDialer()
	}
	return sc
}

// Initialize binds the screen to the hub at url and starts connecting in
// the background. It can be called once.
func (sc *Screen) Initialize(url string) error {
	sc.mu.Lock()
	if sc.tornDown {
		sc.mu.Unlock()
		return errs.ErrSessionClosed.Wrap()
	}
	if sc.session != nil {
		sc.mu.Unlock()
		return ErrAlreadyInitialized
	}

	sess := session.New(url, sc.dialer,
		session.WithLogger(sc.log.Named("session")),
		session.WithHandshakeTimeout(sc.handshakeTimeout),
	)
	bg := executor.NewSerial("screen-send")
	disp := dispatcher.New(sess, sc.presenter, sc.ui,
		dispatcher.WithBackground(bg),
		dispatcher.WithLogger(sc.log.Named("dispatcher")),
	)
	sess.OnStateChange(disp.OnStatusChange)
	sess.On(model.ReceiveMessageTarget, func(ev transport.Event) {
		var sender, body string
		if err := ev.Bind(&sender, &body); err != nil {
			sc.log.Warn("[Screen] malformed inbound message dropped", zap.Error(err))
			return
		}
		disp.OnMessageReceived(sender, body)
	})

	sc.session, sc.disp, sc.background = sess, disp, bg
	ctx, cancel := context.WithCancel(context.Background())
	sc.ctx, sc.cancel = ctx, cancel
	sc.mu.Unlock()

	sc.log.Info("[Screen] initialized", zap.String("url", url))
	sc.connect(ctx, sess)
	return nil
}

func (sc *Screen) connect(ctx context.Context, sess *session.Session) {
	safe.SafeGo(func() {
		if err := sess.Connect(ctx); err != nil {
			sc.log.Debug("[Screen] connect attempt ended", zap.Error(err))
		}
	})
}

// SendMessage forwards to the dispatcher; before Initialize it does nothing.
func (sc *Screen) SendMessage(sender, body string) {
	sc.mu.Lock()
	disp := sc.disp
	torn := sc.tornDown
	sc.mu.Unlock()
	if disp == nil || torn {
		sc.log.Debug("[Screen] send ignored, screen not active")
		return
	}
	disp.SendMessage(sender, body)
}

// Retry starts a new connect attempt. It is the only way back from Failed;
// while Connecting or Connected it has no effect.
func (sc *Screen) Retry() error {
	sc.mu.Lock()
	sess, ctx, torn := sc.session, sc.ctx, sc.tornDown
	sc.mu.Unlock()
	if torn {
		return errs.ErrSessionClosed.Wrap()
	}
	if sess == nil {
		return ErrNotInitialized
	}
	sc.connect(ctx, sess)
	return nil
}

func (sc *Screen) State() session.State {
	sc.mu.Lock()
	sess := sc.session
	sc.mu.Unlock()
	if sess == nil {
		return session.Disconnected
	}
	return sess.State()
}

// Teardown silences the presenter, supersedes any connect attempt and
// disconnects the session. No presenter callback runs after it returns.
// It must not be called from a presenter callback.
func (sc *Screen) Teardown() {
	sc.mu.Lock()
	if sc.tornDown {
		sc.mu.Unlock()
		return
	}
	sc.tornDown = true
	sess, disp, bg, cancel := sc.session, sc.disp, sc.background, sc.cancel
	sc.mu.Unlock()

	if disp != nil {
		disp.Close()
	}
	if cancel != nil {
		cancel()
	}
	if sess != nil {
		ctx, done := context.WithTimeout(context.Background(), teardownTimeout)
		if err := sess.Close(ctx); err != nil {
			sc.log.Warn("[Screen] disconnect", zap.Error(err))
		}
		done()
	}
	if bg != nil {
		bg.Close()
	}
	sc.log.Info("[Screen] torn down")
}
