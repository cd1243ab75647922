package field

import (
	"math/rand"
	"sort"
)

// Export is the value a device broadcasts at the end of a round: every slot it
// wrote, keyed by path, stamped with the device and round time.
type Export struct {
	Device DeviceID     `json:"device" msgpack:"device"`
	Time   float64      `json:"time" msgpack:"time"`
	Values map[Path]any `json:"values" msgpack:"values"`
}

// Get returns the value broadcast under p.
func (e *Export) Get(p Path) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.Values[p]
	return v, ok
}

// Neighbour is the inbox entry for one reachable device: its last retained
// export, the physical distance to it and how stale its export is.
type Neighbour struct {
	Export *Export
	Dist   float64
	Lag    float64
}

// Store holds round-persistent slots that are never broadcast.
type Store map[Path]any

// Context is a device's view of one round. It is created by the runtime, used
// by exactly one round of the device program and then discarded; the runtime
// collects the resulting export and store.
type Context struct {
	uid   DeviceID
	now   float64
	nbrs  map[DeviceID]Neighbour
	ids   []DeviceID
	prev  *Export
	lag   float64
	store Store
	next  Store
	out   map[Path]any
	rng   *rand.Rand
}

// NewContext prepares a round for device uid at time now. The inbox may
// contain uid itself; that entry is the device's own previous export.
func NewContext(uid DeviceID, now float64, inbox map[DeviceID]Neighbour, store Store, rng *rand.Rand) *Context {
	c := &Context{
		uid:   uid,
		now:   now,
		nbrs:  make(map[DeviceID]Neighbour, len(inbox)),
		store: store,
		next:  make(Store),
		out:   make(map[Path]any),
		rng:   rng,
	}
	for id, n := range inbox {
		if id == uid {
			c.prev = n.Export
			c.lag = n.Lag
			continue
		}
		if n.Export == nil {
			continue
		}
		c.nbrs[id] = n
		c.ids = append(c.ids, id)
	}
	sort.Slice(c.ids, func(i, j int) bool { return c.ids[i] < c.ids[j] })
	if c.store == nil {
		c.store = make(Store)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(int64(uid) + 1))
	}
	return c
}

// UID returns the executing device.
func (c *Context) UID() DeviceID { return c.uid }

// Now returns the round time.
func (c *Context) Now() float64 { return c.now }

// Rand returns the device's pseudo-random source.
func (c *Context) Rand() *rand.Rand { return c.rng }

// Neighbours returns the reachable neighbours in ascending order, self excluded.
func (c *Context) Neighbours() []DeviceID {
	return append([]DeviceID(nil), c.ids...)
}

// NbrDist returns the physical distance to every neighbour; self is 0.
func (c *Context) NbrDist() Field[float64] {
	f := Field[float64]{vals: make(map[DeviceID]float64, len(c.ids))}
	for _, id := range c.ids {
		f = f.set(id, c.nbrs[id].Dist)
	}
	return f
}

// NbrLag returns the age of every neighbour's export; self is the time
// elapsed since the device's own previous round, or 0 on its first round.
func (c *Context) NbrLag() Field[float64] {
	f := Field[float64]{self: c.lag, vals: make(map[DeviceID]float64, len(c.ids))}
	for _, id := range c.ids {
		f = f.set(id, c.nbrs[id].Lag)
	}
	return f
}

// Emit writes v to the outgoing broadcast under p.
func (c *Context) Emit(p Path, v any) {
	c.out[p] = v
}

// Discard drops every broadcast and stored slot written under prefix during
// this round.
func (c *Context) Discard(prefix Path) {
	for p := range c.out {
		if p.Within(prefix) {
			delete(c.out, p)
		}
	}
	for p := range c.next {
		if p.Within(prefix) {
			delete(c.next, p)
		}
	}
}

// Export returns the broadcast produced by this round.
func (c *Context) Export() *Export {
	values := make(map[Path]any, len(c.out))
	for p, v := range c.out {
		values[p] = v
	}
	return &Export{Device: c.uid, Time: c.now, Values: values}
}

// Store returns the round-persistent slots produced by this round.
func (c *Context) Store() Store {
	return c.next
}

// Gather collects the values neighbours broadcast under p in their latest
// round. Neighbours that did not write p are outside the field's domain. The
// self entry is the device's own previous value, or init when there is none.
func Gather[T any](c *Context, p Path, init T) Field[T] {
	f := Field[T]{self: init, vals: make(map[DeviceID]T, len(c.ids))}
	for _, id := range c.ids {
		raw, ok := c.nbrs[id].Export.Get(p)
		if !ok {
			continue
		}
		if v, ok := raw.(T); ok {
			f = f.set(id, v)
		}
	}
	if raw, ok := c.prev.Get(p); ok {
		if v, ok := raw.(T); ok {
			f.self = v
		}
	}
	return f
}

// Nbr folds the field of previous values under p into a new value, which is
// broadcast under p and returned.
func Nbr[T any](c *Context, p Path, init T, fn func(Field[T]) T) T {
	v := fn(Gather(c, p, init))
	c.Emit(p, v)
	return v
}

// Exchange broadcasts v under p and returns the neighbours' previous values
// with v itself as the self entry.
func Exchange[T any](c *Context, p Path, v T) Field[T] {
	f := Gather(c, p, v).WithSelf(v)
	c.Emit(p, v)
	return f
}

// Old applies fold to the value stored under p in the previous round (init
// if absent) and stores the result for the next round. The slot is private
// to the device.
func Old[T any](c *Context, p Path, init T, fold func(T) T) T {
	prev := init
	if raw, ok := c.store[p]; ok {
		if v, ok := raw.(T); ok {
			prev = v
		}
	}
	next := fold(prev)
	c.next[p] = next
	return next
}
