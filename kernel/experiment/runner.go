// Package experiment wires the process core into simulated deployments: one
// agent per device running every configured variant, aggregate statistics at
// each log tick and concurrent parameter sweeps.
package experiment

import (
	"context"
	"log/slog"
	"time"

	"github.com/nmxmxh/procmesh/kernel/core/delivery"
	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/mesh"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

// Row aggregates one variant over every device at one log tick.
type Row struct {
	Time             float64 `json:"time" msgpack:"time" yaml:"time"`
	Variant          string  `json:"variant" msgpack:"variant" yaml:"variant"`
	MaxProc          int     `json:"max_proc" msgpack:"max_proc" yaml:"max_proc"`
	TotProc          int     `json:"tot_proc" msgpack:"tot_proc" yaml:"tot_proc"`
	Active           int     `json:"active" msgpack:"active" yaml:"active"`
	Retained         int     `json:"retained" msgpack:"retained" yaml:"retained"`
	DeliveryCount    int     `json:"delivery_count" msgpack:"delivery_count" yaml:"delivery_count"`
	RepeatCount      int     `json:"repeat_count" msgpack:"repeat_count" yaml:"repeat_count"`
	FirstDeliveryTot float64 `json:"first_delivery_tot" msgpack:"first_delivery_tot" yaml:"first_delivery_tot"`
	MeanLatency      float64 `json:"mean_latency" msgpack:"mean_latency" yaml:"mean_latency"`
	FilterMisses     int     `json:"filter_misses" msgpack:"filter_misses" yaml:"filter_misses"`
}

// DeviceFrame is the visual state of one device at a tick.
type DeviceFrame struct {
	ID       uint32                         `json:"id" msgpack:"id"`
	Position mesh.Point                     `json:"position" msgpack:"position"`
	Hints    map[string]delivery.RenderHint `json:"hints,omitempty" msgpack:"hints,omitempty"`
}

// Snapshot is the state of a run at one log tick.
type Snapshot struct {
	RunID   string        `json:"run_id" msgpack:"run_id"`
	Time    float64       `json:"time" msgpack:"time"`
	Rows    []Row         `json:"rows" msgpack:"rows"`
	Devices []DeviceFrame `json:"devices,omitempty" msgpack:"devices,omitempty"`
}

// Result is the outcome of a finished run.
type Result struct {
	RunID    string        `json:"run_id" msgpack:"run_id" yaml:"run_id"`
	Scenario Scenario      `json:"scenario" msgpack:"scenario" yaml:"scenario"`
	Devices  int           `json:"devices" msgpack:"devices" yaml:"devices"`
	Side     float64       `json:"side" msgpack:"side" yaml:"side"`
	Rows     []Row         `json:"rows" msgpack:"rows" yaml:"-"`
	Final    []Row         `json:"final" msgpack:"final" yaml:"final"`
	Mesh     mesh.Metrics  `json:"mesh" msgpack:"mesh" yaml:"mesh"`
	Elapsed  time.Duration `json:"elapsed" msgpack:"elapsed" yaml:"elapsed"`
}

// Runner drives one scenario.
type Runner struct {
	id       string
	scenario Scenario
	net      *mesh.Network
	agents   []*Agent
	rows     []Row
	last     Snapshot
	started  time.Time
	logger   *slog.Logger
}

// NewRunner validates the scenario and builds the network and its agents.
func NewRunner(s Scenario, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		id:       utils.GenerateID(),
		scenario: s,
		agents:   make([]*Agent, s.DeviceCount()),
		started:  time.Now(),
	}
	r.logger = logger.With("component", "experiment", "run", utils.ShortID(r.id), "scenario", s.Name)

	var buildErr error
	net, err := mesh.New(s.MeshConfig(), func(id field.DeviceID) mesh.Program {
		a, err := NewAgent(id, s)
		if err != nil && buildErr == nil {
			buildErr = err
		}
		r.agents[id] = a
		return a
	}, logger)
	if err != nil {
		return nil, err
	}
	if buildErr != nil {
		return nil, buildErr
	}
	r.net = net

	r.logger.Info("run prepared",
		"devices", s.DeviceCount(),
		"side", s.SideLength(),
		"variants", len(s.Variants),
		"seed", s.Seed)
	return r, nil
}

// ID returns the run id.
func (r *Runner) ID() string { return r.id }

// Scenario returns the scenario being run.
func (r *Runner) Scenario() Scenario { return r.scenario }

// Network returns the underlying network.
func (r *Runner) Network() *mesh.Network { return r.net }

// Agents returns the device programs in id order.
func (r *Runner) Agents() []*Agent { return r.agents }

// Rows returns every row recorded so far.
func (r *Runner) Rows() []Row { return r.rows }

// Last returns the latest snapshot.
func (r *Runner) Last() Snapshot { return r.last }

// AdvanceTo runs the network up to time t, recording rows at every log tick
// and passing each snapshot to observe.
func (r *Runner) AdvanceTo(ctx context.Context, t float64, observe func(Snapshot) error) error {
	if t > r.scenario.End {
		t = r.scenario.End
	}
	return r.net.RunUntil(ctx, t, r.scenario.LogEvery, func(tick float64, _ *mesh.Network) error {
		snap := r.Snapshot(tick)
		r.rows = append(r.rows, snap.Rows...)
		r.last = snap
		if observe != nil {
			return observe(snap)
		}
		return nil
	})
}

// Done reports whether the scenario end has been reached.
func (r *Runner) Done() bool {
	next, ok := r.net.NextTime()
	return !ok || next > r.scenario.End
}

// Snapshot aggregates every variant over all devices at the current state.
func (r *Runner) Snapshot(tick float64) Snapshot {
	snap := Snapshot{RunID: r.id, Time: tick}
	for i, v := range r.scenario.Variants {
		row := Row{Time: tick, Variant: v.String()}
		for _, a := range r.agents {
			p := a.profiles[i]
			c := p.Counters()
			if c.MaxProc > row.MaxProc {
				row.MaxProc = c.MaxProc
			}
			row.TotProc += c.TotProc
			row.Active += p.Active()
			row.Retained += p.Retained()
			row.DeliveryCount += c.DeliveryCount
			row.RepeatCount += c.RepeatCount
			row.FirstDeliveryTot += c.FirstDeliveryTot
			row.FilterMisses += c.FilterMisses
		}
		row.MeanLatency = delivery.Counters{
			DeliveryCount:    row.DeliveryCount,
			FirstDeliveryTot: row.FirstDeliveryTot,
		}.MeanLatency()
		snap.Rows = append(snap.Rows, row)
	}

	if r.scenario.Render {
		for _, d := range r.net.Devices() {
			a := r.agents[d.ID()]
			frame := DeviceFrame{ID: uint32(d.ID()), Position: d.Position(), Hints: make(map[string]delivery.RenderHint)}
			for _, p := range a.profiles {
				frame.Hints[p.variant.String()] = p.Hint()
			}
			snap.Devices = append(snap.Devices, frame)
		}
	}
	return snap
}

// Result returns the run outcome so far.
func (r *Runner) Result() *Result {
	if r.last.Rows == nil {
		r.last = r.Snapshot(r.net.Now())
	}
	return &Result{
		RunID:    r.id,
		Scenario: r.scenario,
		Devices:  r.scenario.DeviceCount(),
		Side:     r.scenario.SideLength(),
		Rows:     r.rows,
		Final:    r.last.Rows,
		Mesh:     r.net.Metrics(),
		Elapsed:  time.Since(r.started),
	}
}

// Run executes a scenario to its end.
func Run(ctx context.Context, s Scenario, logger *slog.Logger) (*Result, error) {
	r, err := NewRunner(s, logger)
	if err != nil {
		return nil, err
	}
	if err := r.AdvanceTo(ctx, s.End, nil); err != nil {
		return nil, err
	}
	res := r.Result()
	for _, row := range res.Final {
		r.logger.Debug("variant summary",
			"variant", row.Variant,
			"delivered", row.DeliveryCount,
			"repeats", row.RepeatCount,
			"max_proc", row.MaxProc,
			"mean_latency", row.MeanLatency)
	}
	r.logger.Info("run finished", "rounds", res.Mesh.Rounds, "elapsed", res.Elapsed)
	return res, nil
}
