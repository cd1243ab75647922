// Package field implements the neighbour-field abstraction devices use to
// coordinate: every round a device reads the values its reachable neighbours
// broadcast in their most recent round and broadcasts one value of its own,
// which neighbours observe starting from their next round.
package field

import (
	"math"
	"sort"
	"strings"
)

// DeviceID identifies a device in the mesh.
type DeviceID uint32

// Path names a slot in a device's broadcast or in its round-persistent store.
// Paths play the role of call-site identity: two devices exchange a value only
// when both wrote it under the same path.
type Path string

// Child returns the path of a nested slot.
func (p Path) Child(name string) Path {
	if p == "" {
		return Path(name)
	}
	return p + "/" + Path(name)
}

// Within reports whether p equals prefix or is nested below it.
func (p Path) Within(prefix Path) bool {
	return p == prefix || strings.HasPrefix(string(p), string(prefix)+"/")
}

// Field holds one value per aligned neighbour plus the device's own value.
// Neighbours are iterated in ascending id order so that consumers drawing
// random numbers per neighbour stay deterministic.
type Field[T any] struct {
	self T
	ids  []DeviceID
	vals map[DeviceID]T
}

// Uniform returns a field with only a self value.
func Uniform[T any](self T) Field[T] {
	return Field[T]{self: self}
}

// FromMap builds a field from neighbour values; self is excluded from m.
func FromMap[T any](self T, m map[DeviceID]T) Field[T] {
	f := Field[T]{self: self, vals: make(map[DeviceID]T, len(m))}
	for id, v := range m {
		f.ids = append(f.ids, id)
		f.vals[id] = v
	}
	sort.Slice(f.ids, func(i, j int) bool { return f.ids[i] < f.ids[j] })
	return f
}

// Self returns the device's own entry.
func (f Field[T]) Self() T { return f.self }

// WithSelf returns a copy of f whose own entry is v.
func (f Field[T]) WithSelf(v T) Field[T] {
	f.self = v
	return f
}

// Get returns the value of neighbour id.
func (f Field[T]) Get(id DeviceID) (T, bool) {
	v, ok := f.vals[id]
	return v, ok
}

// IDs returns the neighbour ids in ascending order. Self is not included.
func (f Field[T]) IDs() []DeviceID {
	return append([]DeviceID(nil), f.ids...)
}

// Len returns the number of neighbours, self excluded.
func (f Field[T]) Len() int { return len(f.ids) }

// Each visits neighbours in ascending id order. Self is not visited.
func (f Field[T]) Each(fn func(DeviceID, T)) {
	for _, id := range f.ids {
		fn(id, f.vals[id])
	}
}

func (f Field[T]) set(id DeviceID, v T) Field[T] {
	if f.vals == nil {
		f.vals = make(map[DeviceID]T)
	}
	if _, ok := f.vals[id]; !ok {
		f.ids = append(f.ids, id)
	}
	f.vals[id] = v
	return f
}

// Map applies fn pointwise, self first and then neighbours in id order.
func Map[T, U any](f Field[T], fn func(T) U) Field[U] {
	out := Field[U]{self: fn(f.self), ids: append([]DeviceID(nil), f.ids...), vals: make(map[DeviceID]U, len(f.ids))}
	for _, id := range f.ids {
		out.vals[id] = fn(f.vals[id])
	}
	return out
}

// Zip combines two fields pointwise over the domain of a. Neighbours of a
// missing from b are dropped.
func Zip[T, U, V any](a Field[T], b Field[U], fn func(T, U) V) Field[V] {
	out := Field[V]{self: fn(a.self, b.self), vals: make(map[DeviceID]V, len(a.ids))}
	for _, id := range a.ids {
		bv, ok := b.vals[id]
		if !ok {
			continue
		}
		out.ids = append(out.ids, id)
		out.vals[id] = fn(a.vals[id], bv)
	}
	return out
}

// Add sums two real fields pointwise.
func Add(a, b Field[float64]) Field[float64] {
	return Zip(a, b, func(x, y float64) float64 { return x + y })
}

// MinHood returns the minimum over self and neighbours.
func MinHood(f Field[float64]) float64 {
	m := f.self
	for _, id := range f.ids {
		if v := f.vals[id]; v < m || math.IsNaN(m) {
			m = v
		}
	}
	return m
}

// MaxHood returns the maximum over self and neighbours.
func MaxHood(f Field[float64]) float64 {
	m := f.self
	for _, id := range f.ids {
		if v := f.vals[id]; v > m || math.IsNaN(m) {
			m = v
		}
	}
	return m
}

// AnyHood reports whether self or any neighbour holds true.
func AnyHood(f Field[bool]) bool {
	if f.self {
		return true
	}
	for _, id := range f.ids {
		if f.vals[id] {
			return true
		}
	}
	return false
}

// AllHood reports whether self and every neighbour hold true.
func AllHood(f Field[bool]) bool {
	if !f.self {
		return false
	}
	for _, id := range f.ids {
		if !f.vals[id] {
			return false
		}
	}
	return true
}
