package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PPHub/global"
	"PPHub/service/chat"
	"PPHub/service/chat/handlers"
	"PPHub/service/signalr"
	"PPHub/service/transport"
	"PPHub/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func startHub(t *testing.T, bp chat.Backplane, nodeID int64) (*chat.Server, *httptest.Server) {
	t.Helper()
	conf := global.Default().Server
	conf.NodeID = nodeID
	s := chat.NewServer(conf, bp, chat.WithHandshakeTimeout(time.Second))
	handlers.Register(s)
	require.NoError(t, s.Start(context.Background()))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = s.Close()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := transport.NewWebSocketDialer().Dial(ctx, srv.URL+"/chatHub")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextMessage(t *testing.T, c transport.Conn) (string, string) {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "connection ended")
		require.Equal(t, "ReceiveMessage", ev.Target)
		var sender, body string
		require.NoError(t, ev.Bind(&sender, &body))
		return sender, body
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ReceiveMessage")
		return "", ""
	}
}

func TestHub_RelaysToEveryClient(t *testing.T) {
	s, srv := startHub(t, chat.NewMemoryBackplane(), 1)

	alice := dial(t, srv)
	bob := dial(t, srv)
	assert.Equal(t, 2, s.ConnMgr().Count())
	assert.Equal(t, float64(2), testutil.ToFloat64(s.Metrics().Connected))

	require.NoError(t, alice.Send(context.Background(), "SendMessage", "Alice", "hi"))
	for _, c := range []transport.Conn{alice, bob} {
		sender, body := nextMessage(t, c)
		assert.Equal(t, "Alice", sender)
		assert.Equal(t, "hi", body)
	}

	require.NoError(t, bob.Send(context.Background(), "SendMessage", "  ", " hello "))
	sender, body := nextMessage(t, alice)
	assert.Equal(t, "Anonymous", sender)
	assert.Equal(t, "hello", body)

	assert.Equal(t, float64(2), testutil.ToFloat64(s.Metrics().Invocations.WithLabelValues("SendMessage")))
}

func TestHub_ReplicasShareBackplane(t *testing.T) {
	bp := chat.NewMemoryBackplane()
	_, srvA := startHub(t, bp, 1)
	_, srvB := startHub(t, bp, 2)

	onA := dial(t, srvA)
	onB := dial(t, srvB)

	require.NoError(t, onA.Send(context.Background(), "SendMessage", "Alice", "across"))
	sender, body := nextMessage(t, onB)
	assert.Equal(t, "Alice", sender)
	assert.Equal(t, "across", body)
}

func TestHub_MessagesKeepOrder(t *testing.T) {
	_, srv := startHub(t, chat.NewMemoryBackplane(), 1)
	sender := dial(t, srv)
	reader := dial(t, srv)

	for _, b := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, sender.Send(context.Background(), "SendMessage", "Alice", b))
	}
	for _, want := range []string{"1", "2", "3", "4", "5"} {
		_, body := nextMessage(t, reader)
		assert.Equal(t, want, body)
	}
}

func TestHub_Negotiate(t *testing.T) {
	_, srv := startHub(t, chat.NewMemoryBackplane(), 1)

	resp, err := http.Post(srv.URL+"/chatHub/negotiate?negotiateVersion=1", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var nr signalr.NegotiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nr))
	assert.Equal(t, 1, nr.NegotiateVersion)
	assert.NotEmpty(t, nr.ConnectionID)
	assert.NotEmpty(t, nr.ConnectionToken)
	assert.NotEqual(t, nr.ConnectionID, nr.ConnectionToken)
	require.Len(t, nr.AvailableTransports, 1)
	assert.Equal(t, signalr.TransportWebSockets, nr.AvailableTransports[0].Transport)

	resp0, err := http.Post(srv.URL+"/chatHub/negotiate", "text/plain", nil)
	require.NoError(t, err)
	defer resp0.Body.Close()
	var legacy signalr.NegotiateResponse
	require.NoError(t, json.NewDecoder(resp0.Body).Decode(&legacy))
	assert.Equal(t, 0, legacy.NegotiateVersion)
	assert.Empty(t, legacy.ConnectionToken)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	conf := global.Default().Server
	conf.AllowedOrigins = []string{"https://chat.example.com"}
	s := chat.NewServer(conf, chat.NewMemoryBackplane())
	require.NoError(t, s.Start(context.Background()))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = s.Close()
	})

	post := func(origin string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/chatHub/negotiate?negotiateVersion=1", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, post("https://chat.example.com"))
	assert.Equal(t, http.StatusForbidden, post("https://evil.example.com"))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHub_UnknownConnectionID(t *testing.T) {
	_, srv := startHub(t, chat.NewMemoryBackplane(), 1)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chatHub?id=nope"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// rawDial opens a WebSocket without negotiate and sends the given handshake.
func rawDial(t *testing.T, srv *httptest.Server, handshake string) (*websocket.Conn, signalr.HandshakeResponse, []byte) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chatHub"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(handshake)))
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	resp, rest, err := signalr.ParseHandshakeResponse(data)
	require.NoError(t, err)
	return ws, *resp, rest
}

func readRecord(t *testing.T, ws *websocket.Conn, skip signalr.MessageType) *signalr.Message {
	t.Helper()
	for {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		recs, err := signalr.Split(data)
		require.NoError(t, err)
		for _, r := range recs {
			m, err := signalr.ParseMessage(r)
			require.NoError(t, err)
			if m.Type != skip {
				return m
			}
		}
	}
}

func TestHub_HandshakeRejectsOtherProtocols(t *testing.T) {
	_, srv := startHub(t, chat.NewMemoryBackplane(), 1)
	_, resp, _ := rawDial(t, srv, "{\"protocol\":\"messagepack\",\"version\":1}\x1e")
	assert.Contains(t, resp.Error, "unsupported protocol")
}

func TestHub_BlockingInvocationsGetCompletions(t *testing.T) {
	_, srv := startHub(t, chat.NewMemoryBackplane(), 1)
	ws, resp, _ := rawDial(t, srv, "{\"protocol\":\"json\",\"version\":1}\x1e")
	require.Empty(t, resp.Error)

	send := func(m signalr.Message) {
		out, err := signalr.Encode(m)
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, out))
	}

	send(signalr.Message{Type: signalr.TypeInvocation, InvocationID: "1", Target: "Nope", Arguments: []any{}})
	m := readRecord(t, ws, signalr.TypePing)
	assert.Equal(t, signalr.TypeCompletion, m.Type)
	assert.Equal(t, "1", m.InvocationID)
	assert.Contains(t, m.Error, "Failed to invoke 'Nope'")

	send(signalr.Message{Type: signalr.TypeInvocation, InvocationID: "2", Target: "SendMessage", Arguments: []any{"Alice"}})
	m = readRecord(t, ws, signalr.TypePing)
	assert.Equal(t, signalr.TypeCompletion, m.Type)
	assert.Equal(t, "2", m.InvocationID)
	assert.NotEmpty(t, m.Error)

	send(signalr.Message{Type: signalr.TypeInvocation, InvocationID: "3", Target: "SendMessage", Arguments: []any{"Alice", "ok"}})
	seen := map[signalr.MessageType]*signalr.Message{}
	for len(seen) < 2 {
		m = readRecord(t, ws, signalr.TypePing)
		seen[m.Type] = m
	}
	require.Contains(t, seen, signalr.TypeInvocation)
	require.Contains(t, seen, signalr.TypeCompletion)
	assert.Equal(t, "ReceiveMessage", seen[signalr.TypeInvocation].Target)
	assert.Equal(t, []any{"Alice", "ok"}, seen[signalr.TypeInvocation].Arguments)
	assert.Equal(t, "3", seen[signalr.TypeCompletion].InvocationID)
	assert.Empty(t, seen[signalr.TypeCompletion].Error)
}

func TestHub_CloseDropsClients(t *testing.T) {
	s, srv := startHub(t, chat.NewMemoryBackplane(), 1)
	c := dial(t, srv)

	require.NoError(t, s.Close())
	select {
	case _, ok := <-c.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client was not dropped")
	}
	assert.True(t, errors.Is(c.Err(), errs.ErrTransportDropped))
}

func TestHub_HealthAndMetrics(t *testing.T) {
	_, srv := startHub(t, chat.NewMemoryBackplane(), 7)
	_ = dial(t, srv)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health struct {
		Status      string `json:"status"`
		Node        string `json:"node"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "7", health.Node)
	assert.Equal(t, 1, health.Connections)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}
