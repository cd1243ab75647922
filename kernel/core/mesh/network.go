// Package mesh is the discrete-event runtime devices run on. It schedules
// device rounds, moves devices, decides who can hear whom and delivers each
// device the latest retained export of every reachable neighbour.
package mesh

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Metrics summarises a run of the network
type Metrics struct {
	Rounds         int     `json:"rounds" msgpack:"rounds"`
	Batches        int     `json:"batches" msgpack:"batches"`
	ExportCount    int     `json:"export_count" msgpack:"export_count"`
	ExportBytes    int64   `json:"export_bytes" msgpack:"export_bytes"`
	MaxExportBytes int     `json:"max_export_bytes" msgpack:"max_export_bytes"`
	MeanNeighbours float64 `json:"mean_neighbours" msgpack:"mean_neighbours"`
}

// MeanExportBytes is the average encoded export size
func (m Metrics) MeanExportBytes() float64 {
	if m.ExportCount == 0 {
		return 0
	}
	return float64(m.ExportBytes) / float64(m.ExportCount)
}

// Observer is called at every log tick with the network paused.
type Observer func(tick float64, n *Network) error

// Network owns every device and the event queue. It is driven by a single
// goroutine; Metrics may be read concurrently.
type Network struct {
	config  Config
	devices []*Device
	sched   *scheduler
	rng     *rand.Rand
	links   map[field.DeviceID]map[field.DeviceID]float64
	now     float64
	moved   float64
	tick    float64

	nbrTotal int

	metrics   Metrics
	metricsMu sync.RWMutex

	logger *slog.Logger
}

// New builds a network from cfg, creating one program per device.
func New(cfg Config, factory ProgramFactory, logger *slog.Logger) (*Network, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, ErrInvalidConfig("program", nil, "factory is required")
	}

	n := &Network{
		config: cfg,
		sched:  newScheduler(cfg),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.With("component", "mesh"),
	}
	if cfg.Links != nil {
		n.links = make(map[field.DeviceID]map[field.DeviceID]float64, cfg.Devices)
		for _, l := range cfg.Links {
			n.setLink(l.A, l.B, l.Dist)
		}
	}

	n.devices = make([]*Device, cfg.Devices)
	for i := range n.devices {
		id := field.DeviceID(i)
		d := &Device{
			id:  id,
			rng: rand.New(rand.NewSource(cfg.Seed*1_000_003 + int64(i))),
		}
		if len(cfg.Positions) > 0 {
			d.pos = cfg.Positions[i]
		} else {
			d.pos = Point{X: n.rng.Float64() * cfg.Side, Y: n.rng.Float64() * cfg.Side}
		}
		d.program = factory(id)
		d.next = n.sched.first(id, n.rng)
		n.devices[i] = d
	}

	n.logger.Debug("network created",
		"devices", cfg.Devices,
		"side", cfg.Side,
		"comm_radius", cfg.CommRadius,
		"static", cfg.Links != nil,
		"synchronous", cfg.Synchronous)
	return n, nil
}

// Config returns the network settings.
func (n *Network) Config() Config { return n.config }

// Now returns the time of the last executed round batch.
func (n *Network) Now() float64 { return n.now }

// Devices returns every device in id order.
func (n *Network) Devices() []*Device { return n.devices }

// Device returns the device with the given id.
func (n *Network) Device(id field.DeviceID) (*Device, error) {
	if int(id) >= len(n.devices) {
		return nil, ErrDeviceNotFound(uint32(id))
	}
	return n.devices[id], nil
}

// NextTime returns the time of the next scheduled round.
func (n *Network) NextTime() (float64, bool) { return n.sched.peek() }

// SetLink connects a and b at distance dist, switching the network to static
// connectivity if it used radius connectivity.
func (n *Network) SetLink(a, b field.DeviceID, dist float64) error {
	if int(a) >= len(n.devices) || int(b) >= len(n.devices) || a == b {
		return ErrInvalidTopology("link endpoints out of range").WithContext("a", a).WithContext("b", b)
	}
	if n.links == nil {
		n.links = make(map[field.DeviceID]map[field.DeviceID]float64)
	}
	n.setLink(a, b, dist)
	return nil
}

// RemoveLink disconnects a and b in a static topology.
func (n *Network) RemoveLink(a, b field.DeviceID) {
	if n.links == nil {
		return
	}
	delete(n.links[a], b)
	delete(n.links[b], a)
}

func (n *Network) setLink(a, b field.DeviceID, dist float64) {
	if n.links[a] == nil {
		n.links[a] = make(map[field.DeviceID]float64)
	}
	if n.links[b] == nil {
		n.links[b] = make(map[field.DeviceID]float64)
	}
	n.links[a][b] = dist
	n.links[b][a] = dist
}

// Metrics returns a snapshot of the run metrics
func (n *Network) Metrics() Metrics {
	n.metricsMu.RLock()
	defer n.metricsMu.RUnlock()
	return n.metrics
}

// Step executes every round scheduled at the earliest pending time. All
// rounds of the batch read the exports committed before it and commit
// together. It reports false when nothing is scheduled.
func (n *Network) Step() (bool, error) {
	at, ids := n.sched.batch()
	if len(ids) == 0 {
		return false, nil
	}
	n.advance(at)

	type result struct {
		d      *Device
		export *field.Export
		store  field.Store
	}
	results := make([]result, 0, len(ids))
	for _, id := range ids {
		d := n.devices[id]
		inbox := n.inbox(d)
		c := field.NewContext(id, at, inbox, d.store, d.rng)
		d.program.Round(c)
		results = append(results, result{d: d, export: c.Export(), store: c.Store()})
	}

	var bytes int64
	maxBytes := 0
	for _, r := range results {
		if n.config.MeasureExports {
			size, err := exportSize(r.export)
			if err != nil {
				return false, ErrExportFailed(uint32(r.d.id), err)
			}
			bytes += int64(size)
			if size > maxBytes {
				maxBytes = size
			}
		}
		r.d.export = r.export
		r.d.store = r.store
		r.d.rounds++
		r.d.next = n.sched.again(r.d.id, at, n.rng)
	}

	n.metricsMu.Lock()
	n.metrics.Rounds += len(results)
	n.metrics.Batches++
	if n.config.MeasureExports {
		n.metrics.ExportCount += len(results)
		n.metrics.ExportBytes += bytes
		if maxBytes > n.metrics.MaxExportBytes {
			n.metrics.MaxExportBytes = maxBytes
		}
	}
	n.metrics.MeanNeighbours = float64(n.nbrTotal) / float64(n.metrics.Rounds)
	n.metricsMu.Unlock()
	return true, nil
}

// RunUntil executes rounds up to time end. observe is called at every
// multiple of every once all rounds up to that time have run. A non-positive
// every disables observation. Ticks already observed by an earlier call are
// not repeated.
func (n *Network) RunUntil(ctx context.Context, end, every float64, observe Observer) error {
	emit := func(limit float64, inclusive bool) error {
		for every > 0 && observe != nil && n.tick <= end && (n.tick < limit || (inclusive && n.tick <= limit)) {
			if err := observe(n.tick, n); err != nil {
				return ErrObserverFailed(n.tick, err)
			}
			n.tick += every
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return ErrCancelled(n.now, err)
		}
		at, ok := n.NextTime()
		if !ok || at > end {
			break
		}
		if err := emit(at, false); err != nil {
			return err
		}
		if _, err := n.Step(); err != nil {
			return err
		}
	}
	n.advance(end)
	return emit(end, true)
}

func (n *Network) advance(to float64) {
	if to <= n.moved {
		n.now = math.Max(n.now, to)
		return
	}
	dt := to - n.moved
	if n.links == nil {
		for _, d := range n.devices {
			d.move(dt, n.config.Side, n.config.MaxSpeed(), d.rng)
		}
	}
	n.moved = to
	n.now = to
}

// inbox collects the device's own export and the retained exports of every
// device it can currently reach.
func (n *Network) inbox(d *Device) map[field.DeviceID]field.Neighbour {
	inbox := make(map[field.DeviceID]field.Neighbour)
	if d.export != nil {
		inbox[d.id] = field.Neighbour{Export: d.export, Lag: n.now - d.export.Time}
	}
	window := n.config.Retain * n.config.Period
	consider := func(o *Device, dist float64) {
		if o.export == nil || n.now-o.export.Time > window {
			return
		}
		inbox[o.id] = field.Neighbour{Export: o.export, Dist: dist, Lag: n.now - o.export.Time}
	}

	if n.links != nil {
		for id, dist := range n.links[d.id] {
			consider(n.devices[id], dist)
		}
	} else {
		for _, o := range n.devices {
			if o.id == d.id {
				continue
			}
			if dist := d.pos.Dist(o.pos); dist <= n.config.CommRadius {
				consider(o, dist)
			}
		}
	}
	n.nbrTotal += len(inbox)
	if d.export != nil {
		n.nbrTotal--
	}
	return inbox
}

func exportSize(e *field.Export) (int, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
