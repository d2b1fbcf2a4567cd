package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/service/signalr"
	"PPHub/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 64
)

type options struct {
	httpClient        *http.Client
	wsDialer          *websocket.Dialer
	header            http.Header
	skipNegotiation   bool
	keepAliveInterval time.Duration
	serverTimeout     time.Duration
	log               *zap.Logger
	now               func() time.Time
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

func WithWebSocketDialer(d *websocket.Dialer) Option { return func(o *options) { o.wsDialer = d } }

func WithHeader(h http.Header) Option { return func(o *options) { o.header = h } }

// WithSkipNegotiation dials the WebSocket endpoint directly.
func WithSkipNegotiation(skip bool) Option { return func(o *options) { o.skipNegotiation = skip } }

// WithKeepAlive sets the ping period and how long the hub may stay silent
// before the connection counts as dropped.
func WithKeepAlive(interval, serverTimeout time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.keepAliveInterval = interval
		}
		if serverTimeout > 0 {
			o.serverTimeout = serverTimeout
		}
	}
}

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WebSocketDialer negotiates, dials and performs the hub handshake.
type WebSocketDialer struct {
	opts options
}

func NewWebSocketDialer(opts ...Option) *WebSocketDialer {
	o := options{
		httpClient:        http.DefaultClient,
		wsDialer:          websocket.DefaultDialer,
		keepAliveInterval: DefaultKeepAliveInterval,
		serverTimeout:     DefaultServerTimeout,
		now:               time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logger.Named("transport")
	}
	return &WebSocketDialer{opts: o}
}

func (d *WebSocketDialer) Dial(ctx context.Context, hubURL string) (Conn, error) {
	socketURL, err := d.resolve(ctx, hubURL)
	if err != nil {
		return nil, err
	}

	ws, resp, err := d.opts.wsDialer.DialContext(ctx, socketURL, d.opts.header)
	if err != nil {
		if resp != nil {
			return nil, errs.ErrHandshake.WrapMsg(err.Error(), "status", resp.StatusCode)
		}
		return nil, errs.ErrHandshake.WrapErr(err)
	}

	rest, err := d.handshake(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := newWSConn(ws, d.opts)
	d.opts.log.Info("[WS] connected", zap.String("url", socketURL))
	c.start(rest)
	return c, nil
}

func (d *WebSocketDialer) resolve(ctx context.Context, hubURL string) (string, error) {
	if d.opts.skipNegotiation {
		return signalr.WebSocketURL(hubURL, "", "")
	}
	n, err := signalr.Negotiate(ctx, d.opts.httpClient, hubURL)
	if err != nil {
		return "", err
	}
	d.opts.log.Debug("[WS] negotiated", zap.String("connectionId", n.ConnectionID))
	return n.SocketURL, nil
}

// handshake sends the protocol request and waits for the answer. It returns
// any records the hub sent in the same frame after the answer.
func (d *WebSocketDialer) handshake(ctx context.Context, ws *websocket.Conn) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = d.opts.now().Add(DefaultHandshakeTimeout)
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, signalr.EncodeHandshakeRequest()); err != nil {
		return nil, d.handshakeErr(ctx, err)
	}
	_ = ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, d.handshakeErr(ctx, err)
	}
	resp, rest, err := signalr.ParseHandshakeResponse(data)
	if err != nil {
		return nil, errs.ErrHandshake.WrapErr(err)
	}
	if resp.Error != "" {
		return nil, errs.ErrHandshake.WrapMsg(resp.Error)
	}
	if !stop() {
		return nil, errs.ErrHandshake.WrapErr(ctx.Err())
	}
	_ = ws.SetWriteDeadline(time.Time{})
	return rest, nil
}

func (d *WebSocketDialer) handshakeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errs.ErrHandshake.WrapErr(ctxErr)
	}
	return errs.ErrHandshake.WrapErr(err)
}

type wsConn struct {
	ws   *websocket.Conn
	opts options
	log  *zap.Logger

	writeMu sync.Mutex

	events   chan Event
	closing  chan struct{}
	readDone chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	local     bool
}

func newWSConn(ws *websocket.Conn, opts options) *wsConn {
	return &wsConn{
		ws:       ws,
		opts:     opts,
		log:      opts.log,
		events:   make(chan Event, eventBuffer),
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (c *wsConn) start(pending []byte) {
	go c.readLoop(pending)
	go c.keepAlive()
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local {
		return nil
	}
	return c.err
}

func (c *wsConn) Send(ctx context.Context, target string, args ...any) error {
	return c.write(ctx, signalr.NewInvocation(target, args...))
}

// Close sends a close frame, shuts the socket and waits for the read loop.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.err == nil {
			c.local = true
		}
		c.mu.Unlock()
		close(c.closing)

		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			c.opts.now().Add(time.Second))
		_ = c.ws.Close()
	})
	<-c.readDone
	return nil
}

func (c *wsConn) write(ctx context.Context, msg signalr.Message) error {
	payload, err := signalr.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.readDone:
		return errs.ErrTransportDropped.WrapMsg("connection closed")
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := c.opts.now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		dropped := errs.ErrTransportDropped.WrapErr(err)
		c.fail(dropped)
		return dropped
	}
	return nil
}

// fail records err as the reason the connection ended and closes the socket.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.local {
		c.err = err
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *wsConn) readLoop(pending []byte) {
	defer close(c.readDone)
	defer close(c.events)

	if len(pending) > 0 && !c.handleFrame(pending) {
		return
	}
	for {
		_ = c.ws.SetReadDeadline(c.opts.now().Add(c.opts.serverTimeout))
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !c.handleFrame(data) {
			return
		}
	}
}

func (c *wsConn) readFailed(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Info("[WS] peer closed", zap.Error(err))
	case isTimeout(err):
		c.log.Warn("[WS] server timeout", zap.Duration("timeout", c.opts.serverTimeout))
		err = errs.ErrTransportDropped.WrapMsg("server timeout elapsed without receiving a message", "timeout", c.opts.serverTimeout)
		c.fail(err)
		return
	default:
		c.log.Debug("[WS] read error", zap.Error(err))
	}
	c.fail(errs.ErrTransportDropped.WrapErr(err))
}

// handleFrame reports false when the connection must end.
func (c *wsConn) handleFrame(data []byte) bool {
	records, err := signalr.Split(data)
	for _, rec := range records {
		msg, perr := signalr.ParseMessage(rec)
		if perr != nil {
			c.fail(errs.ErrTransportDropped.WrapErr(perr))
			return false
		}
		switch msg.Type {
		case signalr.TypeInvocation:
			ev := Event{Target: msg.Target, Args: msg.Arguments, ReceivedAt: c.opts.now()}
			select {
			case c.events <- ev:
			case <-c.closing:
				return false
			}
		case signalr.TypePing:
		case signalr.TypeClose:
			reason := msg.Error
			if reason == "" {
				reason = "server closed the connection"
			}
			c.log.Info("[WS] close message", zap.String("reason", reason))
			c.fail(errs.ErrTransportDropped.WrapMsg(reason))
			return false
		default:
			c.log.Debug("[WS] ignored message", zap.Stringer("type", msg.Type))
		}
	}
	if err != nil {
		c.fail(errs.ErrTransportDropped.WrapErr(err))
		return false
	}
	return true
}

func (c *wsConn) keepAlive() {
	ticker := time.NewTicker(c.opts.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.write(ctx, signalr.NewPing())
			cancel()
			if err != nil {
				c.log.Debug("[WS] ping failed", zap.Error(err))
				return
			}
		case <-c.closing:
			return
		case <-c.readDone:
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
