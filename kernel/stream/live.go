package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nmxmxh/procmesh/kernel/experiment"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

// Live paces a run against the wall clock: every tick of the clock advances
// the simulation by one log interval and publishes the resulting snapshots.
type Live struct {
	runner   *experiment.Runner
	hub      *Hub
	metrics  *Metrics
	clock    clock.Clock
	interval time.Duration
	target   float64
	logger   *slog.Logger
}

// NewLive creates a pacer. hub and metrics may be nil.
func NewLive(runner *experiment.Runner, hub *Hub, metrics *Metrics, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Live {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{
		runner:   runner,
		hub:      hub,
		metrics:  metrics,
		clock:    clk,
		interval: interval,
		target:   -runner.Scenario().LogEvery,
		logger:   logger.With("component", "live", "run", utils.ShortID(runner.ID())),
	}
}

// Step advances the simulation by one log interval. It reports whether the
// scenario has ended.
func (l *Live) Step(ctx context.Context) (bool, error) {
	s := l.runner.Scenario()
	every, observe := s.LogEvery, l.publish
	if every <= 0 {
		// No log ticks: the runner observes nothing, so publish once per step.
		every, observe = s.Period, nil
	}
	l.target += every
	if err := l.runner.AdvanceTo(ctx, l.target, observe); err != nil {
		return false, err
	}
	if observe == nil {
		if err := l.publish(l.runner.Snapshot(min(l.target, s.End))); err != nil {
			return false, err
		}
	}
	return l.runner.Done() || l.target >= s.End, nil
}

func (l *Live) publish(snap experiment.Snapshot) error {
	if l.metrics != nil {
		l.metrics.Observe(snap)
	}
	if l.hub != nil {
		return l.hub.Broadcast(snap)
	}
	return nil
}

// Run steps once per clock tick until the scenario ends or ctx is done.
func (l *Live) Run(ctx context.Context) error {
	ticker := l.clock.Ticker(l.interval)
	defer ticker.Stop()

	l.logger.Info("live run started", "interval", l.interval, "end", l.runner.Scenario().End)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("live run stopped", "time", l.target)
			return ctx.Err()
		case <-ticker.C:
			done, err := l.Step(ctx)
			if err != nil {
				return err
			}
			if done {
				l.logger.Info("live run finished", "time", l.target)
				return nil
			}
		}
	}
}
