package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"PPHub/config"
	"PPHub/global"
	"PPHub/logger"
	"PPHub/service/chat"
	"PPHub/service/chat/handlers"
	"PPHub/service/nacos"
	"PPHub/service/storage"
	"PPHub/tools/errs"
	"PPHub/tools/ids"
	"PPHub/tools/safe"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func serve(ctx context.Context, configPath, logLevel string) error {
	log := logger.Named("hubd")
	defer logger.Sync()

	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := loadConfig(ctx, configPath, logLevel)
	if err != nil {
		return err
	}
	ids.SetNodeID(cfg.Server.NodeID)

	bp, err := chat.NewBackplane(ctx, cfg.Server)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s := chat.NewServer(cfg.Server, bp, chat.WithRegistry(reg))
	handlers.Register(s)
	if err := s.Start(ctx); err != nil {
		_ = bp.Close()
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("[HubD] close hub", zap.Error(err))
		}
	}()

	if rb, ok := bp.(*chat.RedisBackplane); ok {
		p := storage.NewPresence(rb.Manager().Client(), cfg.Server.Channel, 0)
		safe.SafeGo(func() {
			p.Keep(ctx, s.NodeID(), cfg.Server.Addr, func(err error) {
				log.Warn("[HubD] presence refresh failed", zap.Error(err))
			})
		})
	}

	if cfg.Server.Nacos.Addr != "" && cfg.Server.Nacos.ServiceName != "" {
		registry, err := registerNacos(cfg.Server)
		if err != nil {
			return err
		}
		defer registry.Deregister()
	}

	if cfg.Server.GrpcAddr != "" {
		stopGrpc, err := serveHealth(cfg.Server.GrpcAddr, log)
		if err != nil {
			return err
		}
		defer stopGrpc()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("[HTTP] listening", zap.String("addr", srv.Addr), zap.String("hub", cfg.Server.HubPath))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.WrapMsg(err, "http server", "addr", srv.Addr)
	case <-ctx.Done():
		log.Info("[HubD] shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("[HTTP] graceful shutdown incomplete", zap.Duration("timeout", shutdownTimeout), zap.Error(err))
		_ = srv.Close()
	}
	return nil
}

// loadConfig reads file and env, then overlays the nacos document when one
// is configured and keeps following its log level.
func loadConfig(ctx context.Context, configPath, logLevel string) (*global.AppConfig, error) {
	cfg, err := global.Load(configPath)
	if err != nil {
		return nil, err
	}

	if nc := cfg.Server.Nacos; nc.Addr != "" {
		src, err := config.NewNacosSource(nc)
		if err != nil {
			return nil, err
		}
		w := config.NewWatcher(src, nc.DataID, nc.Group)
		doc, err := w.Fetch()
		if err != nil {
			return nil, err
		}
		if err := global.MergeYAML(cfg, doc); err != nil {
			return nil, err
		}
		safe.SafeGo(func() {
			_ = w.Watch(ctx, func(doc string) {
				next := global.Default()
				if err := global.MergeYAML(&next, doc); err != nil {
					logger.Warn("[Nacos] ignoring invalid config", zap.Error(err))
					return
				}
				if logLevel == "" {
					if err := logger.SetLevel(next.Log.Level); err != nil {
						logger.Warn("[Nacos] ignoring log level", zap.Error(err))
					}
				}
			})
		})
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func registerNacos(conf global.ServerConfig) (*nacos.Registry, error) {
	inst, err := advertisedInstance(conf)
	if err != nil {
		return nil, err
	}
	naming, err := nacos.NewNamingClient(conf.Nacos)
	if err != nil {
		return nil, err
	}
	registry := nacos.NewRegistry(naming, conf.Nacos.ServiceName, conf.Nacos.Group)
	if err := registry.Register(inst); err != nil {
		return nil, err
	}
	return registry, nil
}

// advertisedInstance is the address other services should use for this replica.
func advertisedInstance(conf global.ServerConfig) (nacos.Instance, error) {
	host, portStr, err := net.SplitHostPort(conf.Addr)
	if err != nil {
		return nacos.Instance{}, errs.WrapMsg(err, "server addr", "addr", conf.Addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nacos.Instance{}, errs.WrapMsg(err, "server port", "addr", conf.Addr)
	}
	ip := conf.Nacos.AdvertiseIP
	if ip == "" {
		ip = host
	}
	if ip == "" {
		return nacos.Instance{}, errs.New("advertise_ip required when addr has no host", "addr", conf.Addr)
	}
	return nacos.Instance{IP: ip, Port: port, NodeID: conf.NodeID, HubPath: conf.HubPath}, nil
}
