package mesh

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

func lineConfig(n int) Config {
	cfg := DefaultConfig()
	cfg.Devices = n
	cfg.Synchronous = true
	cfg.Speed = 0
	for i := 1; i < n; i++ {
		cfg.Links = append(cfg.Links, Link{A: field.DeviceID(i - 1), B: field.DeviceID(i), Dist: 10})
	}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"NoDevices", func(c *Config) { c.Devices = 0 }, ErrCodeInvalidConfig},
		{"ZeroPeriod", func(c *Config) { c.Period = 0 }, ErrCodeInvalidSchedule},
		{"NegativeTVar", func(c *Config) { c.TVar = -1 }, ErrCodeInvalidSchedule},
		{"PositionsMismatch", func(c *Config) { c.Positions = []Point{{}} }, ErrCodeInvalidTopology},
		{"BadLink", func(c *Config) { c.Links = []Link{{A: 0, B: 500}} }, ErrCodeInvalidTopology},
		{"NoRadius", func(c *Config) { c.CommRadius = 0 }, ErrCodeInvalidConfig},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, HasCode(err, tc.code), "got %v", err)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
	assert.InDelta(t, 10.0, DefaultConfig().MaxSpeed(), 1e-9)
}

func TestNetwork_SynchronousVisibility(t *testing.T) {
	seen := make(map[field.DeviceID][]float64)
	prog := func(id field.DeviceID) Program {
		return ProgramFunc(func(c *field.Context) {
			f := field.Gather(c, "t", -1.0)
			if v, ok := f.Get(1); ok && id == 0 {
				seen[id] = append(seen[id], v)
			}
			c.Emit("t", c.Now())
		})
	}
	net, err := New(lineConfig(3), prog, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		more, err := net.Step()
		require.NoError(t, err)
		require.True(t, more)
	}

	assert.Equal(t, []float64{0, 1, 2}, seen[0], "neighbour values lag one round")
	assert.Equal(t, 3.0, net.Now())
	for _, d := range net.Devices() {
		assert.Equal(t, 4, d.Rounds())
		assert.Equal(t, 4.0, d.NextRound())
	}
	m := net.Metrics()
	assert.Equal(t, 12, m.Rounds)
	assert.Equal(t, 4, m.Batches)
}

func TestNetwork_AsynchronousSchedule(t *testing.T) {
	cfg := lineConfig(20)
	cfg.Synchronous = false
	cfg.TVar = 10
	times := make(map[field.DeviceID][]float64)
	net, err := New(cfg, func(id field.DeviceID) Program {
		return ProgramFunc(func(c *field.Context) { times[id] = append(times[id], c.Now()) })
	}, nil)
	require.NoError(t, err)

	require.NoError(t, net.RunUntil(context.Background(), 50, 0, nil))

	for id, ts := range times {
		require.NotEmpty(t, ts)
		assert.Less(t, ts[0], 1.0, "device %d starts within one period", id)
		for i := 1; i < len(ts); i++ {
			assert.Greater(t, ts[i], ts[i-1])
		}
		assert.InDelta(t, 50, len(ts), 10)
	}
}

func TestNetwork_RadiusConnectivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices = 3
	cfg.Speed = 0
	cfg.Synchronous = true
	cfg.CommRadius = 100
	cfg.Positions = []Point{{X: 0, Y: 0}, {X: 60, Y: 80}, {X: 500, Y: 500}}

	nbrs := make(map[field.DeviceID][]field.DeviceID)
	dist := make(map[field.DeviceID]float64)
	net, err := New(cfg, func(id field.DeviceID) Program {
		return ProgramFunc(func(c *field.Context) {
			nbrs[id] = c.Neighbours()
			if d, ok := c.NbrDist().Get(1); ok && id == 0 {
				dist[id] = d
			}
		})
	}, nil)
	require.NoError(t, err)
	net.Step()
	net.Step()

	assert.Equal(t, []field.DeviceID{1}, nbrs[0])
	assert.Equal(t, []field.DeviceID{0}, nbrs[1])
	assert.Empty(t, nbrs[2])
	assert.InDelta(t, 100.0, dist[0], 1e-9)
}

func TestNetwork_StaticLinksChange(t *testing.T) {
	var last []field.DeviceID
	net, err := New(lineConfig(3), func(id field.DeviceID) Program {
		return ProgramFunc(func(c *field.Context) {
			if id == 1 {
				last = c.Neighbours()
			}
		})
	}, nil)
	require.NoError(t, err)

	net.Step()
	net.Step()
	assert.Equal(t, []field.DeviceID{0, 2}, last)

	net.RemoveLink(1, 2)
	net.Step()
	assert.Equal(t, []field.DeviceID{0}, last)

	require.NoError(t, net.SetLink(1, 2, 5))
	net.Step()
	assert.Equal(t, []field.DeviceID{0, 2}, last)
	assert.True(t, HasCode(net.SetLink(1, 1, 5), ErrCodeInvalidTopology))
}

func TestNetwork_RunUntilObserver(t *testing.T) {
	net, err := New(lineConfig(2), func(field.DeviceID) Program {
		return ProgramFunc(func(c *field.Context) { c.Emit("x", 1.0) })
	}, nil)
	require.NoError(t, err)

	var ticks []float64
	var rounds []int
	err = net.RunUntil(context.Background(), 5, 1, func(tick float64, n *Network) error {
		ticks = append(ticks, tick)
		rounds = append(rounds, n.Devices()[0].Rounds())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, ticks)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, rounds)

	err = net.RunUntil(context.Background(), 7, 1, func(tick float64, n *Network) error {
		return errors.New("disk full")
	})
	assert.True(t, HasCode(err, ErrCodeObserverFailed))
}

func TestNetwork_Cancellation(t *testing.T) {
	net, err := New(lineConfig(2), func(field.DeviceID) Program {
		return ProgramFunc(func(*field.Context) {})
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = net.RunUntil(ctx, 10, 0, nil)
	assert.True(t, HasCode(err, ErrCodeCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNetwork_ExportSizes(t *testing.T) {
	cfg := lineConfig(3)
	cfg.MeasureExports = true
	net, err := New(cfg, func(field.DeviceID) Program {
		return ProgramFunc(func(c *field.Context) {
			c.Emit("payload", []field.DeviceID{1, 2, 3})
		})
	}, nil)
	require.NoError(t, err)
	net.Step()

	m := net.Metrics()
	assert.Equal(t, 3, m.ExportCount)
	assert.Positive(t, m.ExportBytes)
	assert.Positive(t, m.MaxExportBytes)
	assert.InDelta(t, float64(m.ExportBytes)/3, m.MeanExportBytes(), 1e-9)
}

func TestNetwork_Mobility(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices = 10
	cfg.Side = 200
	cfg.Speed = 50
	net, err := New(cfg, func(field.DeviceID) Program { return ProgramFunc(func(*field.Context) {}) }, nil)
	require.NoError(t, err)

	start := make([]Point, cfg.Devices)
	for i, d := range net.Devices() {
		start[i] = d.Position()
	}
	require.NoError(t, net.RunUntil(context.Background(), 20, 0, nil))

	movedAny := false
	for i, d := range net.Devices() {
		p := d.Position()
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.LessOrEqual(t, p.X, cfg.Side)
		assert.GreaterOrEqual(t, p.Y, 0.0)
		assert.LessOrEqual(t, p.Y, cfg.Side)
		if p != start[i] {
			movedAny = true
		}
		assert.LessOrEqual(t, p.Dist(start[i]), cfg.MaxSpeed()*20+1e-6)
	}
	assert.True(t, movedAny)
}
