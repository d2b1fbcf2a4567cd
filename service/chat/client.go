package chat

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WsConn is one client connection to the hub. The read loop owns Conn for
// reads, the write loop for writes; everything else talks to it through
// SendChan.
type WsConn struct {
	SnowID string // connection id, unique per node
	Token  string // connection token handed out by negotiate

	Conn   *websocket.Conn
	Remote net.Addr

	CreatedAt time.Time
	Heartbeat time.Time // last inbound frame
	ExpireAt  time.Time // Heartbeat + client timeout, enforced by the sweeper

	SendChan chan []byte // outbound records, consumed by a single writer goroutine

	closeOnce sync.Once
	closed    chan struct{}
}

func newWsConn(snowID, token string, ws *websocket.Conn, queue int, now time.Time, ttl time.Duration) *WsConn {
	w := &WsConn{
		SnowID:    snowID,
		Token:     token,
		Conn:      ws,
		CreatedAt: now,
		Heartbeat: now,
		ExpireAt:  now.Add(ttl),
		SendChan:  make(chan []byte, queue),
		closed:    make(chan struct{}),
	}
	if ws != nil {
		w.Remote = ws.RemoteAddr()
	}
	return w
}

// Enqueue queues payload without blocking. It reports false when the queue
// is full or the connection is closing.
func (w *WsConn) Enqueue(payload []byte) bool {
	select {
	case <-w.closed:
		return false
	default:
	}
	select {
	case w.SendChan <- payload:
		return true
	default:
		return false
	}
}

// Closed is closed once the connection has been asked to shut down.
func (w *WsConn) Closed() <-chan struct{} { return w.closed }

// Shutdown asks the write loop to send a close message and tear the socket down.
func (w *WsConn) Shutdown() {
	w.closeOnce.Do(func() { close(w.closed) })
}
