package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PPHub/service/signalr"
	"PPHub/tools/errs"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newTestHub serves negotiate and a WebSocket endpoint that checks the
// handshake request and then hands the socket to script.
func newTestHub(t *testing.T, script func(t *testing.T, r *http.Request, ws *websocket.Conn)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chatHub/negotiate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(signalr.NegotiateResponse{
			ConnectionID:        "c1",
			ConnectionToken:     "t1",
			NegotiateVersion:    1,
			AvailableTransports: []signalr.AvailableTransport{{Transport: signalr.TransportWebSockets}},
		})
	})
	mux.HandleFunc("/chatHub", func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if _, _, err := signalr.ParseHandshakeRequest(data); err != nil {
			t.Errorf("bad handshake request: %v", err)
			return
		}
		script(t, r, ws)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func drain(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func waitClosed(t *testing.T, c Conn) {
	t.Helper()
	select {
	case _, ok := <-c.Events():
		require.False(t, ok, "unexpected event")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestDialNegotiatesAndExchangesInvocations(t *testing.T) {
	sent := make(chan signalr.Message, 1)
	srv := newTestHub(t, func(t *testing.T, r *http.Request, ws *websocket.Conn) {
		assert.Equal(t, "t1", r.URL.Query().Get("id"))
		_ = ws.WriteMessage(websocket.TextMessage,
			[]byte("{}\x1e{\"type\":1,\"target\":\"ReceiveMessage\",\"arguments\":[\"Bob\",\"hello\"]}\x1e"))
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			recs, _ := signalr.Split(data)
			for _, rec := range recs {
				m, err := signalr.ParseMessage(rec)
				if err == nil && m.Type == signalr.TypeInvocation {
					sent <- *m
				}
			}
		}
	})

	c, err := NewWebSocketDialer().Dial(context.Background(), srv.URL+"/chatHub")
	require.NoError(t, err)

	ev := <-c.Events()
	assert.Equal(t, "ReceiveMessage", ev.Target)
	var sender, body string
	require.NoError(t, ev.Bind(&sender, &body))
	assert.Equal(t, "Bob", sender)
	assert.Equal(t, "hello", body)

	require.NoError(t, c.Send(context.Background(), "SendMessage", "Alice", "hi"))
	select {
	case m := <-sent:
		assert.Equal(t, "SendMessage", m.Target)
		assert.Equal(t, []any{"Alice", "hi"}, m.Arguments)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not receive the invocation")
	}

	require.NoError(t, c.Close())
	waitClosed(t, c)
	assert.NoError(t, c.Err())

	err = c.Send(context.Background(), "SendMessage", "Alice", "again")
	assert.True(t, errors.Is(err, errs.ErrTransportDropped))
}

func TestDialHandshakeRejected(t *testing.T) {
	srv := newTestHub(t, func(t *testing.T, r *http.Request, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{\"error\":\"protocol not supported\"}\x1e"))
		drain(ws)
	})

	_, err := NewWebSocketDialer(WithSkipNegotiation(true)).Dial(context.Background(), srv.URL+"/chatHub")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHandshake))
	assert.Equal(t, "protocol not supported", errs.Reason(err))
}

func TestDialHandshakeTimeout(t *testing.T) {
	srv := newTestHub(t, func(t *testing.T, r *http.Request, ws *websocket.Conn) {
		drain(ws)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewWebSocketDialer(WithSkipNegotiation(true)).Dial(ctx, srv.URL+"/chatHub")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHandshake))
}

func TestDialUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewWebSocketDialer().Dial(context.Background(), srv.URL+"/chatHub")
	assert.True(t, errors.Is(err, errs.ErrHandshake))
}

func TestServerCloseMessageDropsConnection(t *testing.T) {
	srv := newTestHub(t, func(t *testing.T, r *http.Request, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{}\x1e"))
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{\"type\":7,\"error\":\"hub shutting down\"}\x1e"))
		drain(ws)
	})

	c, err := NewWebSocketDialer(WithSkipNegotiation(true)).Dial(context.Background(), srv.URL+"/chatHub")
	require.NoError(t, err)
	defer c.Close()

	waitClosed(t, c)
	assert.True(t, errors.Is(c.Err(), errs.ErrTransportDropped))
	assert.Equal(t, "hub shutting down", errs.Reason(c.Err()))
}

func TestServerTimeoutDropsConnection(t *testing.T) {
	pings := make(chan struct{}, 16)
	srv := newTestHub(t, func(t *testing.T, r *http.Request, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{}\x1e"))
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"type":6`) {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	})

	c, err := NewWebSocketDialer(
		WithSkipNegotiation(true),
		WithKeepAlive(20*time.Millisecond, 150*time.Millisecond),
	).Dial(context.Background(), srv.URL+"/chatHub")
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive ping")
	}
	waitClosed(t, c)
	assert.True(t, errors.Is(c.Err(), errs.ErrTransportDropped))
}

func TestPeerDisconnectIsDrop(t *testing.T) {
	srv := newTestHub(t, func(t *testing.T, r *http.Request, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{}\x1e"))
	})

	c, err := NewWebSocketDialer(WithSkipNegotiation(true)).Dial(context.Background(), srv.URL+"/chatHub")
	require.NoError(t, err)
	defer c.Close()

	waitClosed(t, c)
	assert.True(t, errors.Is(c.Err(), errs.ErrTransportDropped))
}

func TestEventBind(t *testing.T) {
	var a, b string
	ev := Event{Target: "ReceiveMessage", Args: []any{"Bob", "hello"}}
	require.NoError(t, ev.Bind(&a, &b))
	assert.Equal(t, "Bob", a)

	err := Event{Target: "ReceiveMessage", Args: []any{"Bob"}}.Bind(&a, &b)
	assert.True(t, errors.Is(err, errs.ErrProtocol))

	err = Event{Target: "ReceiveMessage", Args: []any{"Bob", 42.0}}.Bind(&a, &b)
	assert.True(t, errors.Is(err, errs.ErrProtocol))

	a, b = "", "untouched"
	err = Event{Target: "ReceiveMessage", Args: []any{"Bob", nil}}.Bind(&a, &b)
	assert.True(t, errors.Is(err, errs.ErrProtocol))
	assert.Equal(t, "untouched", b)
}
