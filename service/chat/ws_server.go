package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"PPHub/service/signalr"
	"PPHub/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS upgrades the request, runs the SignalR handshake and then the
// read loop until the client goes away. Writes happen on writeLoop.
func (s *Server) HandleWS(c *gin.Context) {
	token := c.Query("id")
	snowID, ok := s.mgr.Claim(token)
	if !ok {
		c.String(http.StatusNotFound, "No Connection with that ID")
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 非 WebSocket 请求/握手失败，upgrader 已经回了错误
		s.log.Info("[WS] upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	rec := newWsConn(snowID, token, ws, s.conf.SendQueue, s.clock(), s.conf.ClientTimeout)
	accepted := false
	rest, err := s.handshake(ws, func() error {
		if err := s.mgr.Add(rec); err != nil {
			return err
		}
		accepted = true
		s.metrics.Connected.Inc()
		return nil
	})
	if accepted {
		defer s.metrics.Connected.Dec()
	}
	if err != nil {
		s.log.Info("[WS] handshake failed", zap.String("snowID", snowID), zap.Error(err))
		s.mgr.Remove(rec)
		return
	}
	s.log.Info("[WS] connected", zap.String("snowID", snowID), zap.Stringer("remote", ws.RemoteAddr()))

	ctx, cancel := context.WithCancel(s.context())
	defer cancel()

	done := make(chan struct{})
	go s.writeLoop(rec, done)

	s.readLoop(ctx, rec, rest)

	s.mgr.Remove(rec)
	rec.Shutdown()
	<-done // 等写协程真正关闭 ws
	s.log.Info("[WS] closed", zap.String("snowID", snowID))
}

// handshake reads the client's handshake request, calls accept for a valid
// one and answers it. The connection is registered before the client sees
// the answer, so it receives every broadcast published after that. Any
// records that followed the request in the same frame are returned.
func (s *Server) handshake(ws *websocket.Conn, accept func() error) ([]byte, error) {
	_ = ws.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, errs.ErrHandshake.WrapErr(err)
	}
	_, rest, perr := signalr.ParseHandshakeRequest(data)
	resp := signalr.HandshakeResponse{}
	if perr == nil {
		perr = accept()
	}
	if perr != nil {
		resp.Error = errs.Reason(perr)
	}
	out, err := signalr.Encode(resp)
	if err != nil {
		return nil, err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
		return nil, errs.ErrHandshake.WrapErr(err)
	}
	if perr != nil {
		return nil, errs.ErrHandshake.WrapErr(perr)
	}
	_ = ws.SetReadDeadline(time.Time{})
	return rest, nil
}

// readLoop 只读不写；出错即退出（写协程收尾）
func (s *Server) readLoop(ctx context.Context, rec *WsConn, pending []byte) {
	if len(pending) > 0 && !s.handleFrame(ctx, rec, pending) {
		return
	}
	for {
		_ = rec.Conn.SetReadDeadline(time.Now().Add(s.conf.ClientTimeout))
		mt, data, err := rec.Conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived):
				s.log.Info("[WS] peer closed", zap.String("snowID", rec.SnowID))
			case errors.As(err, &ne) && ne.Timeout():
				s.log.Info("[WS] client timeout", zap.String("snowID", rec.SnowID))
			default:
				s.log.Debug("[WS] read err", zap.String("snowID", rec.SnowID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = s.mgr.Heartbeat(rec.SnowID)
		if !s.handleFrame(ctx, rec, data) {
			return
		}
	}
}

// handleFrame processes every record of one frame. It reports false when
// the connection should end.
func (s *Server) handleFrame(ctx context.Context, rec *WsConn, data []byte) bool {
	records, err := signalr.Split(data)
	if err != nil {
		s.log.Warn("[WS] bad frame", zap.String("snowID", rec.SnowID), zap.Error(err))
		return false
	}
	for _, r := range records {
		m, err := signalr.ParseMessage(r)
		if err != nil {
			s.log.Warn("[WS] bad record", zap.String("snowID", rec.SnowID), zap.Error(err))
			return false
		}
		switch m.Type {
		case signalr.TypeInvocation:
			s.invoke(ctx, rec, m)
		case signalr.TypePing:
		case signalr.TypeClose:
			return false
		case signalr.TypeStreamInvocation:
			s.complete(rec, m.InvocationID, "streaming is not supported")
		default:
			s.log.Debug("[WS] ignored message", zap.String("snowID", rec.SnowID), zap.Stringer("type", m.Type))
		}
	}
	return true
}

func (s *Server) invoke(ctx context.Context, rec *WsConn, m *signalr.Message) {
	label := m.Target
	if s.disp.GetHandler(m.Target) == nil {
		label = "unknown"
	}
	s.metrics.Invocations.WithLabelValues(label).Inc()

	err := s.disp.Dispatch(&Context{Context: ctx, S: s}, rec, m.Target, m.Arguments)
	if err != nil {
		s.log.Warn("[Hub] invocation failed",
			zap.String("snowID", rec.SnowID),
			zap.String("target", m.Target),
			zap.Error(err))
	}
	if m.InvocationID != "" {
		reason := ""
		if err != nil {
			reason = "Failed to invoke '" + m.Target + "': " + errs.Reason(err)
		}
		s.complete(rec, m.InvocationID, reason)
	}
}

// complete answers a blocking invocation.
func (s *Server) complete(rec *WsConn, invocationID, reason string) {
	if invocationID == "" {
		return
	}
	out, err := signalr.Encode(signalr.Message{
		Type:         signalr.TypeCompletion,
		InvocationID: invocationID,
		Error:        reason,
	})
	if err != nil {
		return
	}
	if !rec.Enqueue(out) {
		s.metrics.Drops.Inc()
	}
}

// writeLoop 是连接唯一的写方：业务帧优先，其次定时 ping；
// 收到 Shutdown 后发 Close 并关闭底层连接。
func (s *Server) writeLoop(rec *WsConn, done chan struct{}) {
	ticker := time.NewTicker(s.conf.KeepAliveInterval)
	ping, _ := signalr.Encode(signalr.NewPing())
	defer func() {
		ticker.Stop()
		if closeMsg, err := signalr.Encode(signalr.NewClose("", false)); err == nil {
			_ = rec.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = rec.Conn.WriteMessage(websocket.TextMessage, closeMsg)
		}
		_ = rec.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = rec.Conn.Close()
		close(done)
	}()

	write := func(payload []byte) bool {
		_ = rec.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := rec.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.log.Debug("[WS] write err", zap.String("snowID", rec.SnowID), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-rec.Closed():
			return
		case payload := <-rec.SendChan:
			if !write(payload) {
				return
			}
		case <-ticker.C:
			if !write(ping) {
				return
			}
		}
	}
}
