// Command multipath-host runs the out-of-scope host collaborator
// described in spec.md §1: it owns the WebSocket listener, the Connect
// handshake, and the fixed-interval drive loop, and leaves every
// multiplexing decision to internal/engine.Engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	guuid "github.com/Lzww0608/GUUID"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/aetherflow/qmux/internal/host/auth"
	"github.com/aetherflow/qmux/internal/host/config"
	"github.com/aetherflow/qmux/internal/host/discovery"
	"github.com/aetherflow/qmux/internal/host/metrics"
	"github.com/aetherflow/qmux/internal/host/server"
	"github.com/aetherflow/qmux/internal/host/tracing"
	"github.com/aetherflow/qmux/internal/host/wschannel"
	"github.com/aetherflow/qmux/pkg/frame"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	configFile = flag.String("f", "configs/multipath-host.yaml", "path to the host's YAML config file")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting multipath-host", zap.String("version", version))

	cfg, err := loadConfig(*configFile)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enable {
		m = metrics.New()
	}

	tracer, err := tracing.New(&cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	authManager := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.ExpireSeconds)

	srv, err := server.New(cfg, logger, m, tracer)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	if cfg.Discovery.Enable {
		disco, err := discovery.NewClient(discovery.Config{
			Endpoints:   cfg.Discovery.Endpoints,
			DialTimeout: cfg.Discovery.DialTimeout,
			Prefix:      cfg.Discovery.Prefix,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create discovery client", zap.Error(err))
		}
		defer disco.Close()

		if err := disco.Watch(func(added bool, ep discovery.Endpoint) {
			if !added {
				logger.Info("channel endpoint withdrawn", zap.String("channel", ep.ChannelID))
				return
			}
			logger.Info("channel endpoint discovered", zap.String("channel", ep.ChannelID), zap.String("address", ep.Address))
			ch, err := wschannel.Dial(ep.ChannelID, ep.Address, logger)
			if err != nil {
				logger.Warn("failed to dial discovered channel", zap.String("channel", ep.ChannelID), zap.Error(err))
				return
			}
			srv.AddChannel(ch)
		}); err != nil {
			logger.Fatal("failed to watch channel endpoints", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.Run(ctx)

	httpSrv := newUpgradeServer(cfg, logger, authManager, srv)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening for inbound channels", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Enable {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port), Handler: mux}
		go func() {
			logger.Info("serving metrics", zap.String("addr", metricsSrv.Addr), zap.String("path", cfg.Metrics.Path))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	case sig := <-sigCh:
		logger.Info("received signal", zap.String("signal", sig.String()))
	}

	cancel()
	srv.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("multipath-host shutdown complete")
}

func loadConfig(filename string) (*config.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("config file not found, using default config\n")
			return config.DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := config.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newUpgradeServer builds the HTTP server that accepts one WebSocket
// connection per underlying channel. Every connection must open with a
// Connect frame carrying a connection_id that matches the bearer token
// supplied as the "token" query parameter; anything else closes the
// socket before it reaches the engine.
func newUpgradeServer(cfg *config.Config, logger *zap.Logger, authManager *auth.Manager, srv *server.Server) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("failed to read handshake frame", zap.Error(err))
			conn.Close()
			return
		}
		f, err := frame.Decode(data)
		if err != nil {
			logger.Warn("malformed handshake frame", zap.Error(err))
			conn.Close()
			return
		}
		connectFrame, ok := f.(frame.Connect)
		if !ok {
			logger.Warn("handshake frame was not Connect", zap.String("kind", f.Kind().String()))
			conn.Close()
			return
		}

		token := r.URL.Query().Get("token")
		if _, err := authManager.VerifyToken(token, connectFrame.ConnectionID); err != nil {
			logger.Warn("handshake token rejected", zap.Error(err))
			conn.Close()
			return
		}

		channelID := r.URL.Query().Get("channel")
		if channelID == "" {
			id, err := guuid.NewV7()
			if err != nil {
				logger.Error("failed to generate channel id", zap.Error(err))
				conn.Close()
				return
			}
			channelID = id.String()
		}

		ch := wschannel.New(channelID, conn, logger)
		srv.AddChannel(ch)
		logger.Info("channel connected", zap.String("channel", channelID), zap.Uint32("connection_id", connectFrame.ConnectionID))
	})

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}
}
