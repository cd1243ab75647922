// Package process runs ephemeral keyed computations that spread between
// neighbours and are forgotten once no device in reach reports them live.
//
// Every round a registry runs one instance per candidate key: the keys
// originated locally plus every key that the device itself or a reachable
// neighbour reported live in its previous round. Instances that are neither
// live locally nor reported live by anyone are dropped together with every
// slot they wrote.
package process

import (
	"sort"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Key identifies an instance. Keys are compared structurally and run in
// Compare order.
type Key[K any] interface {
	comparable
	Compare(K) int
	String() string
}

// Instance is the registry's record of one key on one device.
type Instance[K any] struct {
	key    K
	path   field.Path
	round  int
	status Status
	born   float64
	live   bool
}

// Key returns the instance key.
func (i *Instance[K]) Key() K { return i.key }

// Path returns the slot prefix reserved for the instance. Everything the
// update function writes under it is dropped along with the instance.
func (i *Instance[K]) Path() field.Path { return i.path }

// Round counts the rounds the instance has run on this device, starting at 1.
func (i *Instance[K]) Round() int { return i.round }

// Status returns the status the instance ended its previous round with.
func (i *Instance[K]) Status() Status { return i.status }

// Born returns the time of the instance's first round on this device.
func (i *Instance[K]) Born() float64 { return i.born }

// Live reports whether the instance flooded its liveness in its last round.
func (i *Instance[K]) Live() bool { return i.live }

// Registry owns the instance table of one device for one process family.
type Registry[K Key[K], R any] struct {
	path  field.Path
	table map[K]*Instance[K]
	ran   int
}

// NewRegistry creates an empty registry writing under path.
func NewRegistry[K Key[K], R any](path field.Path) *Registry[K, R] {
	return &Registry[K, R]{
		path:  path,
		table: make(map[K]*Instance[K]),
	}
}

// Step runs update once for every candidate key and returns every result.
// The update reports whether the instance is still live on this device.
func (r *Registry[K, R]) Step(c *field.Context, keys []K, update func(*Instance[K]) (R, bool)) map[K]R {
	return r.step(c, keys, func(inst *Instance[K]) (R, bool, bool) {
		res, live := update(inst)
		return res, live, true
	})
}

// StepStatus runs update once for every candidate key. Liveness follows the
// returned status and only instances with an output status are returned.
func (r *Registry[K, R]) StepStatus(c *field.Context, keys []K, update func(*Instance[K]) (R, Status)) map[K]R {
	return r.step(c, keys, func(inst *Instance[K]) (R, bool, bool) {
		res, st := update(inst)
		inst.status = st
		return res, st.Live(), st.Output()
	})
}

func (r *Registry[K, R]) step(c *field.Context, keys []K, update func(*Instance[K]) (R, bool, bool)) map[K]R {
	liveSlot := r.path.Child("live")

	reported := make(map[K]bool)
	reports := field.Gather[[]K](c, liveSlot, nil)
	for _, k := range reports.Self() {
		reported[k] = true
	}
	reports.Each(func(_ field.DeviceID, ks []K) {
		for _, k := range ks {
			reported[k] = true
		}
	})

	candidates := make(map[K]bool, len(keys)+len(reported))
	for _, k := range keys {
		candidates[k] = true
	}
	for k := range reported {
		candidates[k] = true
	}
	ordered := make([]K, 0, len(candidates))
	for k := range candidates {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Compare(ordered[j]) < 0 })

	out := make(map[K]R)
	var live []K
	for _, k := range ordered {
		inst, ok := r.table[k]
		if !ok {
			inst = &Instance[K]{key: k, path: r.path.Child("#" + k.String()), born: c.Now()}
		}
		inst.round++

		res, isLive, emit := update(inst)
		inst.live = isLive
		if emit {
			out[k] = res
		}

		switch {
		case isLive:
			live = append(live, k)
			r.table[k] = inst
		case reported[k]:
			r.table[k] = inst
		default:
			delete(r.table, k)
			c.Discard(inst.path)
		}
	}
	for k := range r.table {
		if !candidates[k] {
			delete(r.table, k)
		}
	}

	if len(live) > 0 {
		c.Emit(liveSlot, live)
	}
	r.ran = len(ordered)
	return out
}

// Len returns the number of instances retained after the last round.
func (r *Registry[K, R]) Len() int { return len(r.table) }

// Ran returns the number of instances run in the last round.
func (r *Registry[K, R]) Ran() int { return r.ran }

// Has reports whether k is retained.
func (r *Registry[K, R]) Has(k K) bool {
	_, ok := r.table[k]
	return ok
}

// Get returns the retained instance for k.
func (r *Registry[K, R]) Get(k K) (*Instance[K], bool) {
	inst, ok := r.table[k]
	return inst, ok
}

// Instances returns the retained instances in key order.
func (r *Registry[K, R]) Instances() []*Instance[K] {
	out := make([]*Instance[K], 0, len(r.table))
	for _, inst := range r.table {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Compare(out[j].key) < 0 })
	return out
}
