package field

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportOf(id DeviceID, t float64, values map[Path]any) *Export {
	return &Export{Device: id, Time: t, Values: values}
}

func TestPath_ChildAndWithin(t *testing.T) {
	root := Path("")
	p := root.Child("spawn").Child("#3")

	assert.Equal(t, Path("spawn/#3"), p)
	assert.True(t, p.Within("spawn"))
	assert.True(t, p.Within("spawn/#3"))
	assert.False(t, p.Within("spawn/#"))
	assert.False(t, Path("spawner").Within("spawn"))
}

func TestField_Reductions(t *testing.T) {
	f := FromMap(3.0, map[DeviceID]float64{7: 1.0, 2: 5.0})

	assert.Equal(t, []DeviceID{2, 7}, f.IDs())
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 1.0, MinHood(f))
	assert.Equal(t, 5.0, MaxHood(f))
	assert.Equal(t, 3.0, MinHood(Uniform(3.0)), "self takes part in the fold")

	b := FromMap(false, map[DeviceID]bool{1: false, 4: true})
	assert.True(t, AnyHood(b))
	assert.False(t, AllHood(b))
	assert.True(t, AllHood(Uniform(true)))
	assert.False(t, AnyHood(Uniform(false)))
}

func TestField_ZipDropsMissing(t *testing.T) {
	a := FromMap(1.0, map[DeviceID]float64{1: 1, 2: 2, 3: 3})
	b := FromMap(10.0, map[DeviceID]float64{1: 10, 3: 30})

	sum := Add(a, b)
	assert.Equal(t, 11.0, sum.Self())
	assert.Equal(t, []DeviceID{1, 3}, sum.IDs())
	v, ok := sum.Get(3)
	require.True(t, ok)
	assert.Equal(t, 33.0, v)
	_, ok = sum.Get(2)
	assert.False(t, ok)

	doubled := Map(a, func(x float64) float64 { return 2 * x })
	assert.Equal(t, 2.0, doubled.Self())
	assert.Equal(t, 3, doubled.Len())
}

func TestField_EachOrder(t *testing.T) {
	f := FromMap(0, map[DeviceID]int{9: 9, 1: 1, 5: 5})
	var seen []DeviceID
	f.Each(func(id DeviceID, v int) {
		assert.Equal(t, int(id), v)
		seen = append(seen, id)
	})
	assert.Equal(t, []DeviceID{1, 5, 9}, seen)
}

func TestContext_GatherAlignment(t *testing.T) {
	p := Path("x")
	inbox := map[DeviceID]Neighbour{
		1: {Export: exportOf(1, 0.5, map[Path]any{p: 4.0}), Dist: 10, Lag: 0.5},
		2: {Export: exportOf(2, 0.5, map[Path]any{"y": 1.0}), Dist: 20, Lag: 0.5},
		3: {Export: exportOf(3, 0.2, map[Path]any{p: "wrong type"}), Dist: 5, Lag: 0.8},
		0: {Export: exportOf(0, 0.0, map[Path]any{p: 7.0}), Lag: 1},
	}
	c := NewContext(0, 1, inbox, nil, rand.New(rand.NewSource(1)))

	assert.Equal(t, []DeviceID{1, 2, 3}, c.Neighbours())

	f := Gather(c, p, 0.0)
	assert.Equal(t, 7.0, f.Self(), "self reads its own previous value")
	assert.Equal(t, []DeviceID{1}, f.IDs(), "only aligned neighbours are in the domain")

	dist := c.NbrDist()
	assert.Equal(t, 0.0, dist.Self())
	d, _ := dist.Get(2)
	assert.Equal(t, 20.0, d)

	lag := c.NbrLag()
	assert.Equal(t, 1.0, lag.Self())
	l, _ := lag.Get(3)
	assert.Equal(t, 0.8, l)
}

func TestContext_NbrAndExchange(t *testing.T) {
	p := Path("d")
	inbox := map[DeviceID]Neighbour{
		1: {Export: exportOf(1, 0, map[Path]any{p: 2.0, "e": true})},
		2: {Export: exportOf(2, 0, map[Path]any{p: math.Inf(1), "e": false})},
	}
	c := NewContext(0, 1, inbox, nil, nil)

	v := Nbr(c, p, math.Inf(1), func(f Field[float64]) float64 { return MinHood(f) + 1 })
	assert.Equal(t, 3.0, v)

	e := Exchange(c, "e", true)
	assert.True(t, e.Self())
	assert.True(t, AnyHood(e))
	assert.False(t, AllHood(e))

	out := c.Export()
	assert.Equal(t, DeviceID(0), out.Device)
	assert.Equal(t, 1.0, out.Time)
	assert.Equal(t, 3.0, out.Values[p])
	assert.Equal(t, true, out.Values["e"])
}

func TestContext_OldPersistsPrivately(t *testing.T) {
	p := Path("acc")
	c := NewContext(4, 0, nil, nil, nil)
	assert.Equal(t, 1, Old(c, p, 0, func(x int) int { return x + 1 }))
	assert.Empty(t, c.Export().Values, "stored slots are not broadcast")

	next := NewContext(4, 1, nil, c.Store(), nil)
	assert.Equal(t, 2, Old(next, p, 0, func(x int) int { return x + 1 }))
}

func TestContext_Discard(t *testing.T) {
	c := NewContext(0, 0, nil, nil, nil)
	c.Emit("spawn/#a/x", 1)
	c.Emit("spawn/#b/x", 2)
	Old(c, "spawn/#a/acc", false, func(bool) bool { return true })

	c.Discard("spawn/#a")

	assert.NotContains(t, c.Export().Values, Path("spawn/#a/x"))
	assert.Contains(t, c.Export().Values, Path("spawn/#b/x"))
	assert.NotContains(t, c.Store(), Path("spawn/#a/acc"))
}
