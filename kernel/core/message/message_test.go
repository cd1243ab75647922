package message

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

func TestMessage_Compare(t *testing.T) {
	msgs := []Message{
		{From: 2, To: 1, Time: 5, Data: 0.1},
		{From: 1, To: 3, Time: 5, Data: 0.1},
		{From: 1, To: 2, Time: 5, Data: 0.9},
		{From: 1, To: 2, Time: 5, Data: 0.2},
		{From: 9, To: 9, Time: 1, Data: 0.5},
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Compare(msgs[j]) < 0 })

	assert.Equal(t, []Message{
		{From: 9, To: 9, Time: 1, Data: 0.5},
		{From: 1, To: 2, Time: 5, Data: 0.2},
		{From: 1, To: 2, Time: 5, Data: 0.9},
		{From: 1, To: 3, Time: 5, Data: 0.1},
		{From: 2, To: 1, Time: 5, Data: 0.1},
	}, msgs)
	assert.Zero(t, msgs[0].Compare(msgs[0]))
}

func TestMessage_IdentityIsStructural(t *testing.T) {
	a := Message{From: 1, To: 2, Time: 3.5, Data: 0.25}
	b := Message{From: 1, To: 2, Time: 3.5, Data: 0.25}

	assert.Equal(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.Len(t, a.Bytes(), 24)
	assert.Equal(t, "1>2@3.5#0.25", a.String())

	set := map[Message]bool{a: true}
	assert.True(t, set[b])

	c := b
	c.Data = 0.26
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.InDelta(t, 93.6, c.Hue(), 1e-9)
}

func runGenerator(t *testing.T, g Generator, uid field.DeviceID, times []float64) []Message {
	t.Helper()
	var store field.Store
	rng := rand.New(rand.NewSource(42))
	var out []Message
	for _, now := range times {
		c := field.NewContext(uid, now, nil, store, rng)
		out = append(out, g.Next(c)...)
		store = c.Store()
	}
	return out
}

func TestGenerator_Single(t *testing.T) {
	g := Single(10, 0, 10)
	times := []float64{0, 5, 10, 10.5, 11, 20}

	msgs := runGenerator(t, g, 0, times)
	require.Len(t, msgs, 1)
	assert.Equal(t, field.DeviceID(0), msgs[0].From)
	assert.Equal(t, 10.5, msgs[0].Time)
	assert.Less(t, int(msgs[0].To), 10)
	assert.GreaterOrEqual(t, msgs[0].Data, 0.0)
	assert.Less(t, msgs[0].Data, 1.0)

	assert.Empty(t, runGenerator(t, g, 3, times), "only the origin sends")
}

func TestGenerator_FixedDestination(t *testing.T) {
	g := Single(10, 2, 0).WithDest(7)
	msgs := runGenerator(t, g, 2, []float64{1, 2})
	require.Len(t, msgs, 1)
	assert.Equal(t, field.DeviceID(7), msgs[0].To)

	multi := runGenerator(t, Multi(10, 2, 1, 0, 5).WithDest(3), 9, []float64{1, 2, 3})
	require.Len(t, multi, 3)
	for _, m := range multi {
		assert.Equal(t, field.DeviceID(3), m.To)
	}
}

func TestGenerator_Multi(t *testing.T) {
	g := Multi(20, 5, 1, 1, 4)
	times := []float64{0, 1, 2, 3, 4, 5}

	assert.Len(t, runGenerator(t, g, 19, times), 2, "sends at t=2 and t=3")
	assert.Empty(t, runGenerator(t, g, 14, times), "outside the sender range")

	never := Multi(20, 5, 0, 1, 4)
	assert.Empty(t, runGenerator(t, never, 19, times))
}
