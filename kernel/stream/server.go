package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nmxmxh/procmesh/kernel/utils"
)

// Server exposes the hub and metrics over HTTP:
//
//	/ws       websocket frames
//	/metrics  Prometheus exposition
//	/healthz  hub statistics
type Server struct {
	hub      *Hub
	metrics  *Metrics
	http     *http.Server
	shutdown *utils.GracefulShutdown
	logger   *slog.Logger
}

// NewServer wires the handlers.
func NewServer(hub *Hub, metrics *Metrics, timeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:      hub,
		metrics:  metrics,
		shutdown: utils.NewGracefulShutdown(timeout, logger),
		logger:   logger.With("component", "server"),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// http.Server.Shutdown leaves hijacked websocket connections open.
	s.shutdown.Register(hub.Close)
	s.shutdown.Register(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.http.Shutdown(ctx)
	})
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"clients": s.hub.Clients(),
			"frames":  s.hub.Stats(),
		})
	})
	return mux
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("serving", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return utils.WrapError(err, "serve")
	}
	return nil
}

// Shutdown stops the server and disconnects every client.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.shutdown.Shutdown(ctx)
}
