//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../../mocks/mock_transport.go -package=mocks

// Package transport carries hub invocations over a bidirectional link.
// The session only sees Dialer and Conn; the WebSocket implementation
// speaks the SignalR JSON protocol.
package transport

import (
	"context"
	"time"

	"PPHub/tools/decode"
	"PPHub/tools/errs"
)

const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultServerTimeout     = 30 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
)

// Event is one inbound invocation, in the order the hub sent it.
type Event struct {
	Target     string
	Args       []any
	ReceivedAt time.Time
}

// Bind decodes the arguments into out, one pointer per argument. The
// argument count must match and values are not coerced.
func (e Event) Bind(out ...any) error {
	if err := decode.DecodeArgs(e.Args, out...); err != nil {
		return errs.ErrProtocol.WrapMsg(err.Error(), "target", e.Target)
	}
	return nil
}

// Conn is an established hub connection.
type Conn interface {
	// Send performs a fire-and-forget invocation of target.
	Send(ctx context.Context, target string, args ...any) error
	// Events is closed when the connection ends.
	Events() <-chan Event
	// Err is nil after a local Close and a TransportDropped error when the
	// connection ended any other way. Only meaningful once Events is closed.
	Err() error
	Close() error
}

// Dialer opens a connection to the hub at url, handshake included. Every
// failure is a HandshakeError.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }
