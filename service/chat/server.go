// Package chat is a SignalR compatible chat hub: negotiate, the WebSocket
// endpoint, per-connection read and write loops, and broadcast fan-out
// through a backplane shared by every replica.
package chat

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"PPHub/global"
	"PPHub/logger"
	"PPHub/middleware"
	"PPHub/service/signalr"
	"PPHub/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	writeWait               = 10 * time.Second
)

type Server struct {
	conf global.ServerConfig
	node string
	gen  *ids.Generator

	mgr     *ConnManager
	disp    *Dispatcher
	fan     *Fanout
	bp      Backplane
	reg     *prometheus.Registry
	metrics *Metrics
	log     *zap.Logger

	upgrader         websocket.Upgrader
	handshakeTimeout time.Duration
	clock            func() time.Time

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

// WithRegistry registers the hub metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(s *Server) { s.reg = reg } }

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Server) { s.clock = now } }

func normServerConf(c *global.ServerConfig) {
	if c.HubPath == "" {
		c.HubPath = "/chatHub"
	}
	c.HubPath = "/" + strings.Trim(c.HubPath, "/")
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 15 * time.Second
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 30 * time.Second
	}
}

func NewServer(conf global.ServerConfig, bp Backplane, opts ...Option) *Server {
	normServerConf(&conf)
	s := &Server{
		conf:             conf,
		node:             strconv.FormatInt(conf.NodeID, 10),
		gen:              ids.NewGenerator(conf.NodeID),
		disp:             NewDispatcher(),
		bp:               bp,
		log:              logger.Named("hub"),
		handshakeTimeout: defaultHandshakeTimeout,
		clock:            time.Now,
		baseCtx:          context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.reg == nil {
		s.reg = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.reg)
	s.mgr = NewConnManager(ManagerConf{
		ClientTimeout: conf.ClientTimeout,
		Clock:         s.clock,
		NewID:         s.gen.NextString,
	})
	s.fan = NewFanout(1024, func(w *WsConn) {
		s.metrics.Drops.Inc()
		s.log.Debug("[Hub] send queue full, broadcast skipped", zap.String("snowID", w.SnowID))
	})
	return s
}

func (s *Server) Disp() *Dispatcher         { return s.disp }
func (s *Server) ConnMgr() *ConnManager     { return s.mgr }
func (s *Server) Metrics() *Metrics         { return s.metrics }
func (s *Server) NodeID() string            { return s.node }
func (s *Server) Backplane() Backplane      { return s.bp }
func (s *Server) Conf() global.ServerConfig { return s.conf }

// Start subscribes the hub to its backplane. Broadcasts published before
// Start are not delivered to this node.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.baseCtx, s.cancel = ctx, cancel
	s.mu.Unlock()
	if err := s.bp.Subscribe(ctx, s.deliver); err != nil {
		cancel()
		return err
	}
	s.log.Info("[Hub] started", zap.String("node", s.node), zap.String("path", s.conf.HubPath))
	return nil
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Broadcast sends target(args...) to every client of every replica.
func (s *Server) Broadcast(ctx context.Context, target string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	return s.bp.Publish(ctx, Broadcast{Origin: s.node, Target: target, Args: args, At: s.clock()})
}

// deliver hands one broadcast to every local connection.
func (s *Server) deliver(b Broadcast) {
	payload, err := signalr.Encode(signalr.NewInvocation(b.Target, b.Args...))
	if err != nil {
		s.log.Warn("[Hub] encode broadcast", zap.String("target", b.Target), zap.Error(err))
		return
	}
	if s.fan.Broadcast(s.mgr.Snapshot(), payload) {
		s.metrics.Broadcasts.Inc()
	}
}

// Register mounts the hub routes on r.
func (s *Server) Register(r gin.IRoutes) {
	r.POST(s.conf.HubPath+"/negotiate", s.Negotiate)
	r.GET(s.conf.HubPath, s.HandleWS)
	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))
}

// Handler is a ready to serve engine with the hub routes.
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	mids := middleware.NewManager(middleware.Origin(s.conf.HubPath, s.conf.AllowedOrigins))
	engine.Use(gin.Recovery(), middleware.AccessLog(s.log), mids.Use())
	s.Register(engine)
	return engine
}

// Negotiate hands out a connection id and token for the WebSocket transport.
func (s *Server) Negotiate(c *gin.Context) {
	version, _ := strconv.Atoi(c.Query("negotiateVersion"))
	snowID := s.gen.NextString()
	resp := signalr.NegotiateResponse{
		ConnectionID:     snowID,
		NegotiateVersion: 0,
		AvailableTransports: []signalr.AvailableTransport{{
			Transport:       signalr.TransportWebSockets,
			TransferFormats: []string{"Text"},
		}},
	}
	token := snowID
	if version >= 1 {
		token = uuid.NewString()
		resp.ConnectionToken = token
		resp.NegotiateVersion = signalr.NegotiateVersion
	}
	s.mgr.Reserve(token, snowID)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"node":        s.node,
		"connections": s.mgr.Count(),
	})
}

// Close disconnects every client and releases the backplane.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.mgr.Close()
	s.fan.Close()
	return s.bp.Close()
}
