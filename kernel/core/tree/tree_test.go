package tree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/testutil"
)

func build(net *testutil.Lockstep, rounds int, root field.DeviceID) map[field.DeviceID]Info {
	infos := make(map[field.DeviceID]Info)
	for r := 0; r < rounds; r++ {
		net.Step(func(c *field.Context) {
			infos[c.UID()] = Build(c, "tree", c.UID() == root)
		})
	}
	return infos
}

func TestBuild_Star(t *testing.T) {
	//   1
	//   |
	// 2-0-3-4
	net := testutil.NewLockstep().
		Link(0, 1, 1).Link(0, 2, 1).Link(0, 3, 1).Link(3, 4, 2)

	infos := build(net, 8, 0)

	assert.Equal(t, field.DeviceID(0), infos[0].Parent)
	assert.Equal(t, field.DeviceID(0), infos[3].Parent)
	assert.Equal(t, field.DeviceID(3), infos[4].Parent)
	assert.Equal(t, 3.0, infos[4].Distance)
	assert.Equal(t, []field.DeviceID{0, 1, 2, 3, 4}, infos[0].Below)
	assert.Equal(t, []field.DeviceID{3, 4}, infos[3].Below)
	assert.True(t, infos[3].Contains(4))
	assert.False(t, infos[3].Contains(1))
}

func TestBuild_TieBreaksOnID(t *testing.T) {
	// 3 reaches the root through 1 or 2 at equal cost.
	net := testutil.NewLockstep().Link(0, 1, 1).Link(0, 2, 1).Link(1, 3, 1).Link(2, 3, 1)

	infos := build(net, 6, 0)
	assert.Equal(t, field.DeviceID(1), infos[3].Parent)
	assert.Equal(t, []field.DeviceID{1, 3}, infos[1].Below)
	assert.Equal(t, []field.DeviceID{2}, infos[2].Below)
}

func TestBuild_Disconnected(t *testing.T) {
	net := testutil.NewLockstep().Link(0, 1, 1).Link(2, 3, 1)

	infos := build(net, 5, 0)
	assert.True(t, math.IsInf(infos[2].Distance, 1))
	assert.Equal(t, field.DeviceID(2), infos[2].Parent, "unreached devices are their own parent")
	assert.Equal(t, []field.DeviceID{2}, infos[2].Below)
}

func TestBuild_RecoversFromBrokenLink(t *testing.T) {
	net := testutil.NewLockstep().Link(0, 1, 1).Link(1, 2, 1).Link(0, 3, 5).Link(3, 2, 5)
	infos := build(net, 6, 0)
	assert.Equal(t, 2.0, infos[2].Distance)

	net.Unlink(1, 2)
	infos = build(net, 6, 0)
	assert.Equal(t, 10.0, infos[2].Distance)
	assert.Equal(t, field.DeviceID(3), infos[2].Parent)
}
