// Package rpc probes the gRPC health service of a hub replica.
package rpc

import (
	"context"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/tools/errs"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HubService is the health service name every hub replica reports.
const HubService = "pphub.ChatHub"

type Config struct {
	Target              string        // gRPC service address
	Service             string        // health service name, defaults to HubService
	CheckTimeout        time.Duration // per check
	HealthCheckInterval time.Duration // Watch period
}

func (c *Config) norm() {
	if c.Service == "" {
		c.Service = HubService
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 2 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 5 * time.Second
	}
}

type Manager struct {
	cfg  Config
	log  *zap.Logger
	opts []grpc.DialOption

	mu     sync.Mutex
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
}

func NewManager(cfg Config, opts ...grpc.DialOption) *Manager {
	cfg.norm()
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Manager{cfg: cfg, log: logger.Named("rpc"), opts: opts}
}

// client 懒连接；grpc.NewClient 不阻塞，真正建连发生在第一次调用时
func (m *Manager) client() (grpc_health_v1.HealthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.health != nil {
		return m.health, nil
	}
	conn, err := grpc.NewClient(m.cfg.Target, m.opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "grpc client", "target", m.cfg.Target)
	}
	m.conn = conn
	m.health = grpc_health_v1.NewHealthClient(conn)
	return m.health, nil
}

// Check asks once and returns the reported status.
func (m *Manager) Check(ctx context.Context) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	hc, err := m.client()
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()
	resp, err := hc.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: m.cfg.Service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, errs.WrapMsg(err, "health check", "target", m.cfg.Target, "service", m.cfg.Service)
	}
	return resp.GetStatus(), nil
}

// Watch checks every HealthCheckInterval until ctx ends and calls onChange
// whenever the serving state flips, starting with the first result.
func (m *Manager) Watch(ctx context.Context, onChange func(serving bool, err error)) {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	first := true
	var last bool
	for {
		status, err := m.Check(ctx)
		serving := err == nil && status == grpc_health_v1.HealthCheckResponse_SERVING
		if ctx.Err() != nil {
			return
		}
		if first || serving != last {
			m.log.Info("[Probe] health changed", zap.String("target", m.cfg.Target), zap.Bool("serving", serving), zap.Error(err))
			onChange(serving, err)
			first, last = false, serving
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn = nil
	m.health = nil
}
