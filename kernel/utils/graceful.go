package utils

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// GracefulShutdown manages graceful shutdown of components
type GracefulShutdown struct {
	mu         sync.Mutex
	shutdownFn []func() error
	timeout    time.Duration
	logger     *slog.Logger
}

// NewGracefulShutdown creates a new graceful shutdown manager
func NewGracefulShutdown(timeout time.Duration, logger *slog.Logger) *GracefulShutdown {
	if logger == nil {
		logger = slog.Default()
	}

	return &GracefulShutdown{
		shutdownFn: make([]func() error, 0),
		timeout:    timeout,
		logger:     logger.With("component", "shutdown"),
	}
}

// Register registers a shutdown function
func (g *GracefulShutdown) Register(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.shutdownFn = append(g.shutdownFn, fn)
}

// Shutdown executes all registered shutdown functions in reverse order
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("starting graceful shutdown", "components", len(g.shutdownFn))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	errs := make([]error, len(g.shutdownFn))
	var wg sync.WaitGroup

	for i := len(g.shutdownFn) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int, shutdownFn func() error) {
			defer wg.Done()

			if err := shutdownFn(); err != nil {
				g.logger.Error("shutdown function failed", "index", idx, "error", err)
				errs[idx] = err
			}
		}(i, g.shutdownFn[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("graceful shutdown complete")
		return JoinErrors(errs...)
	case <-shutdownCtx.Done():
		g.logger.Warn("graceful shutdown timed out")
		return NewError("shutdown timeout")
	}
}
