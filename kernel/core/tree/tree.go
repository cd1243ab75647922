// Package tree maintains a spanning tree rooted at one device and the set of
// devices below each node, recomputed continuously from neighbour exchanges.
package tree

import (
	"math"
	"sort"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Info is one device's position in the tree.
type Info struct {
	Distance float64
	Parent   field.DeviceID
	// Below lists the device and every descendant, ascending.
	Below []field.DeviceID
}

// Contains reports whether id is the device or one of its descendants.
func (i Info) Contains(id field.DeviceID) bool {
	n := sort.Search(len(i.Below), func(k int) bool { return i.Below[k] >= id })
	return n < len(i.Below) && i.Below[n] == id
}

// Build runs one round of the tree protocol under p.
//
// Distances are an adaptive Bellman-Ford that ignores the device's own
// previous value, so they recover when a shorter path disappears. The parent
// is the neighbour with least (distance + link, id); the root is its own
// parent. Below sets are collected from neighbours that named this device as
// their parent in their previous round.
func Build(c *field.Context, p field.Path, root bool) Info {
	uid := c.UID()
	dist := c.NbrDist()

	prev := field.Gather(c, p.Child("dist"), math.Inf(1))
	d := math.Inf(1)
	parent := uid
	if root {
		d = 0
	} else {
		field.Zip(prev, dist, func(a, b float64) float64 { return a + b }).Each(func(id field.DeviceID, v float64) {
			if v < d || (v == d && id < parent && !math.IsInf(v, 1)) {
				d, parent = v, id
			}
		})
	}
	c.Emit(p.Child("dist"), d)
	c.Emit(p.Child("parent"), parent)

	members := map[field.DeviceID]bool{uid: true}
	parents := field.Gather(c, p.Child("parent"), uid)
	below := field.Gather[[]field.DeviceID](c, p.Child("below"), nil)
	parents.Each(func(id, their field.DeviceID) {
		if their != uid {
			return
		}
		if set, ok := below.Get(id); ok {
			for _, m := range set {
				members[m] = true
			}
		}
	})
	list := make([]field.DeviceID, 0, len(members))
	for m := range members {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	c.Emit(p.Child("below"), list)

	return Info{Distance: d, Parent: parent, Below: list}
}
