package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/testutil"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

const slot = field.Path("d")

// line runs synchronous rounds over a static line 0-1-...-(n-1) with unit
// spacing and returns the estimates after each round.
func line(n, rounds int, source func(round int, id field.DeviceID) bool) [][]float64 {
	net := testutil.Line(n, 1)
	var history [][]float64
	for r := 0; r < rounds; r++ {
		row := make([]float64, n)
		net.Step(func(c *field.Context) {
			row[c.UID()] = Monotonic(c, slot, source(r, c.UID()), c.NbrDist())
		})
		history = append(history, row)
	}
	return history
}

func TestMonotonic_LineConverges(t *testing.T) {
	h := line(4, 6, func(_ int, id field.DeviceID) bool { return id == 0 })

	assert.Equal(t, 0.0, h[0][0])
	assert.True(t, math.IsInf(h[0][3], 1), "no estimate before any flood")
	assert.Equal(t, []float64{0, 1, 2, 3}, h[5])
}

func TestMonotonic_NeverIncreases(t *testing.T) {
	// The source stops being a source after two rounds; estimates must stay.
	h := line(5, 10, func(r int, id field.DeviceID) bool { return id == 0 && r < 2 })

	for r := 1; r < len(h); r++ {
		for i := range h[r] {
			assert.LessOrEqual(t, h[r][i], h[r-1][i], "device %d round %d", i, r)
		}
	}
	assert.Equal(t, 4.0, h[len(h)-1][4])
}

func TestMonotonic_UnreachedStaysInfinite(t *testing.T) {
	h := line(3, 5, func(int, field.DeviceID) bool { return false })
	for _, row := range h {
		for _, d := range row {
			assert.True(t, math.IsInf(d, 1))
		}
	}
}

func TestAdjusted_NoiselessIsDistancePlusLag(t *testing.T) {
	inbox := map[field.DeviceID]field.Neighbour{
		1: {Export: &field.Export{Device: 1}, Dist: 30, Lag: 0.5},
		2: {Export: &field.Export{Device: 2}, Dist: 10, Lag: 2},
	}
	c := field.NewContext(0, 3, inbox, nil, rand.New(rand.NewSource(7)))

	cost := Adjusted(c, utils.NewWeibull(1, 0), 10)

	assert.Equal(t, 0.0, cost.Self())
	v1, _ := cost.Get(1)
	v2, _ := cost.Get(2)
	assert.InDelta(t, 35.0, v1, 1e-9)
	assert.InDelta(t, 30.0, v2, 1e-9)
}
