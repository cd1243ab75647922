// Package testutil provides a lock-step network for exercising device
// programs on fixed topologies without the full mesh runtime.
package testutil

import (
	"math/rand"
	"sort"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Lockstep runs synchronous rounds of unit period over a static topology.
// Every device runs once per round and all exports commit together, so a
// value written in round r is visible to neighbours in round r+1.
type Lockstep struct {
	devices []field.DeviceID
	links   map[field.DeviceID]map[field.DeviceID]float64
	exports map[field.DeviceID]*field.Export
	stores  map[field.DeviceID]field.Store
	rngs    map[field.DeviceID]*rand.Rand
	round   int
}

// NewLockstep creates an empty network.
func NewLockstep() *Lockstep {
	return &Lockstep{
		links:   make(map[field.DeviceID]map[field.DeviceID]float64),
		exports: make(map[field.DeviceID]*field.Export),
		stores:  make(map[field.DeviceID]field.Store),
		rngs:    make(map[field.DeviceID]*rand.Rand),
	}
}

// Line creates devices 0..n-1 linked in a line with the given spacing.
func Line(n int, spacing float64) *Lockstep {
	l := NewLockstep()
	for i := 0; i < n; i++ {
		l.AddDevice(field.DeviceID(i))
	}
	for i := 1; i < n; i++ {
		l.Link(field.DeviceID(i-1), field.DeviceID(i), spacing)
	}
	return l
}

// AddDevice adds an isolated device.
func (l *Lockstep) AddDevice(id field.DeviceID) *Lockstep {
	if _, ok := l.links[id]; ok {
		return l
	}
	l.devices = append(l.devices, id)
	sort.Slice(l.devices, func(i, j int) bool { return l.devices[i] < l.devices[j] })
	l.links[id] = make(map[field.DeviceID]float64)
	l.rngs[id] = rand.New(rand.NewSource(int64(id) + 1))
	return l
}

// Link connects a and b at distance dist.
func (l *Lockstep) Link(a, b field.DeviceID, dist float64) *Lockstep {
	l.AddDevice(a).AddDevice(b)
	l.links[a][b] = dist
	l.links[b][a] = dist
	return l
}

// Unlink removes the link between a and b.
func (l *Lockstep) Unlink(a, b field.DeviceID) *Lockstep {
	delete(l.links[a], b)
	delete(l.links[b], a)
	return l
}

// Devices returns the device ids in ascending order.
func (l *Lockstep) Devices() []field.DeviceID {
	return append([]field.DeviceID(nil), l.devices...)
}

// Round returns the number of completed rounds.
func (l *Lockstep) Round() int { return l.round }

// Export returns the latest committed export of id.
func (l *Lockstep) Export(id field.DeviceID) *field.Export {
	return l.exports[id]
}

// Step runs one round on every device at time Round() and commits the
// exports. program is called in device order.
func (l *Lockstep) Step(program func(c *field.Context)) {
	now := float64(l.round)
	next := make(map[field.DeviceID]*field.Export, len(l.devices))
	stores := make(map[field.DeviceID]field.Store, len(l.devices))
	for _, id := range l.devices {
		inbox := make(map[field.DeviceID]field.Neighbour)
		if e, ok := l.exports[id]; ok {
			inbox[id] = field.Neighbour{Export: e, Lag: now - e.Time}
		}
		for nb, dist := range l.links[id] {
			if e, ok := l.exports[nb]; ok {
				inbox[nb] = field.Neighbour{Export: e, Dist: dist, Lag: now - e.Time}
			}
		}
		c := field.NewContext(id, now, inbox, l.stores[id], l.rngs[id])
		program(c)
		next[id] = c.Export()
		stores[id] = c.Store()
	}
	l.exports = next
	l.stores = stores
	l.round++
}
