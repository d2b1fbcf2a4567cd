//go:generate go run go.uber.org/mock/mockgen -source=dispatcher.go -destination=../../mocks/mock_dispatcher.go -package=mocks

// Package dispatcher is the only boundary the presentation layer talks to.
// It serializes outbound sends on a background executor and marshals every
// status line and message line onto the UI executor.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/module/chat/model"
	"PPHub/service/session"
	"PPHub/tools/errs"
	"PPHub/tools/executor"
	"PPHub/tools/safe"

	"go.uber.org/zap"
)

const (
	StatusConnecting   = "Connecting to hub"
	StatusConnected    = "Connected to hub"
	StatusDisconnected = "Disconnected"
	StatusNotConnected = "Not connected to hub"

	defaultSendTimeout = 10 * time.Second
)

// Sender is what the dispatcher needs from the session to route sends.
type Sender interface {
	Send(ctx context.Context, event string, args ...any) error
}

// Presenter renders what the core reports. Both methods are called on the
// UI executor only.
type Presenter interface {
	OnStatus(text string)
	OnMessageReceived(line string)
}

type Option func(*Dispatcher)

// WithBackground runs sends on bg instead of a private serial executor.
func WithBackground(bg executor.Executor) Option {
	return func(d *Dispatcher) { d.background = bg }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

type Dispatcher struct {
	sender      Sender
	presenter   Presenter
	ui          executor.Executor
	background  executor.Executor
	owned       *executor.Serial
	log         *zap.Logger
	now         func() time.Time
	sendTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func New(sender Sender, presenter Presenter, ui executor.Executor, opts ...Option) *Dispatcher {
	safe.MustNotNil(sender, "sender")
	safe.MustNotNil(presenter, "presenter")
	safe.MustNotNil(ui, "ui executor")

	d := &Dispatcher{
		sender:      sender,
		presenter:   presenter,
		ui:          ui,
		log:         logger.Named("dispatcher"),
		now:         time.Now,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.background == nil {
		d.owned = executor.NewSerial("dispatcher-send")
		d.background = d.owned
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// SendMessage queues body for the hub. A blank body is ignored and a blank
// sender is replaced by model.DefaultSender. Failures are reported as
// status lines, never returned.
func (d *Dispatcher) SendMessage(sender, body string) {
	req, ok := model.OutboundRequest{Sender: sender, Body: body}.Normalize()
	if !ok {
		return
	}
	if !d.background.Post(func() { d.send(req) }) {
		d.log.Debug("[Dispatcher] send dropped, dispatcher closed")
	}
}

func (d *Dispatcher) send(req model.OutboundRequest) {
	if d.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, d.sendTimeout)
	defer cancel()

	err := d.sender.Send(ctx, model.SendMessageTarget, req.Args()...)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNotConnected):
		d.status(StatusNotConnected)
	case d.ctx.Err() != nil:
	default:
		d.log.Warn("[Dispatcher] send failed", zap.Error(err))
		d.status("Send failed: " + errs.Reason(err))
	}
}

// OnMessageReceived forwards one inbound message as a display line.
func (d *Dispatcher) OnMessageReceived(sender, body string) {
	line := model.NewChatMessage(sender, body, d.now()).Line()
	d.post(func(p Presenter) { p.OnMessageReceived(line) })
}

// OnStatusChange reports a session transition as one status line.
func (d *Dispatcher) OnStatusChange(tr session.Transition) {
	if line, ok := StatusLine(tr); ok {
		d.status(line)
	}
}

// StatusLine is the text shown for a transition.
func StatusLine(tr session.Transition) (string, bool) {
	switch tr.To {
	case session.Connecting:
		return StatusConnecting, true
	case session.Connected:
		return StatusConnected, true
	case session.Disconnected:
		return StatusDisconnected, true
	case session.Failed:
		reason := tr.Reason
		if reason == "" {
			reason = "unknown error"
		}
		if tr.From == session.Connected {
			return "Connection lost: " + reason, true
		}
		return "Connection failed: " + reason, true
	}
	return "", false
}

func (d *Dispatcher) status(text string) {
	d.post(func(p Presenter) { p.OnStatus(text) })
}

func (d *Dispatcher) post(fn func(Presenter)) {
	ok := d.ui.Post(func() {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return
		}
		fn(d.presenter)
	})
	if !ok {
		d.log.Debug("[Dispatcher] ui executor rejected callback")
	}
}

// Close stops sending and silences the presenter: once Close returns no
// presenter method runs again. Close must not be called from a presenter
// callback.
func (d *Dispatcher) Close() {
	d.cancel()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	if d.owned != nil {
		d.owned.Close()
	}
}
