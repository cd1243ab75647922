package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/mesh"
	"github.com/nmxmxh/procmesh/kernel/experiment"
)

func lineRunner(t *testing.T, n int, end float64) *experiment.Runner {
	t.Helper()
	r, err := experiment.NewRunner(lineScenario(n, end), nil)
	require.NoError(t, err)
	return r
}

func lineScenario(n int, end float64) experiment.Scenario {
	s := experiment.DefaultScenario()
	s.Devices = n
	s.Side = 50 * float64(n)
	s.Speed = 0
	s.Synchronous = true
	s.End = end
	s.Render = true
	s.Generator.Start = 0.5
	for i := 1; i < n; i++ {
		s.Links = append(s.Links, mesh.Link{A: field.DeviceID(i - 1), B: field.DeviceID(i), Dist: 50})
	}
	return s
}

func snapshot() experiment.Snapshot {
	return experiment.Snapshot{
		RunID: "run",
		Time:  4,
		Rows: []experiment.Row{
			{Time: 4, Variant: "spherical/share", Active: 3, Retained: 5, MaxProc: 2, DeliveryCount: 1, MeanLatency: 1.5},
			{Time: 4, Variant: "tree/wave", Active: 1, RepeatCount: 2, FilterMisses: 1},
		},
	}
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(func() int { return 3 })
	m.Observe(snapshot())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.active.WithLabelValues("spherical", "share")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.retained.WithLabelValues("spherical", "share")))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.latency.WithLabelValues("spherical", "share")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.repeats.WithLabelValues("tree", "wave")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses.WithLabelValues("tree", "wave")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.simTime))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.clients))

	n, err := testutil.GatherAndCount(m.Registry(), "procmesh_active_instances")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastToClients(t *testing.T) {
	hub, err := NewHub(DefaultHubConfig(), nil)
	require.NoError(t, err)
	server := NewServer(hub, NewMetrics(hub.Clients), time.Second, nil)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Broadcast(snapshot()))
	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var got experiment.Snapshot
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, snapshot(), got)
	}
	assert.Equal(t, uint64(2), hub.Stats().Sent)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"clients":2`)

	a.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, server.Shutdown(context.Background()))
	assert.Zero(t, hub.Clients())
}

func TestHub_ThrottlesFastBroadcasts(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.FramesPerSecond, cfg.Burst = 1, 1
	hub, err := NewHub(cfg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Broadcast(snapshot()))
	}
	stats := hub.Stats()
	assert.Equal(t, uint64(5), stats.Sent+stats.Throttled)
	assert.NotZero(t, stats.Throttled)
}

func TestHub_EvictsStalledClient(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.SendBuffer = 0
	cfg.MaxFailures = 2
	hub, err := NewHub(cfg, nil)
	require.NoError(t, err)

	c := hub.newClient(nil)
	require.True(t, hub.register(c))
	for i := 0; i < 3; i++ {
		hub.deliver(c, []byte("{}"))
	}

	stats := hub.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(1), stats.Evicted)
	assert.Zero(t, hub.Clients())

	hub.deliver(c, []byte("{}"))
	assert.Equal(t, uint64(1), hub.Stats().Evicted, "an evicted client is not counted twice")
}

func TestHub_ClosedRefusesClients(t *testing.T) {
	hub, err := NewHub(DefaultHubConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, hub.Close())
	assert.False(t, hub.register(hub.newClient(nil)))
}

func TestLive_StepPublishesOneFramePerInterval(t *testing.T) {
	r := lineRunner(t, 3, 4)
	m := NewMetrics(nil)
	live := NewLive(r, nil, m, clock.NewMock(), time.Second, nil)

	var done bool
	steps := 0
	for !done {
		var err error
		done, err = live.Step(context.Background())
		require.NoError(t, err)
		steps++
		require.LessOrEqual(t, steps, 10)
	}

	assert.Equal(t, 5, steps)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 4.0, r.Last().Time)
	assert.Len(t, r.Last().Devices, 3)
}

func TestLive_StepWithoutLogTicks(t *testing.T) {
	s := lineScenario(3, 4)
	s.LogEvery = 0
	r, err := experiment.NewRunner(s, nil)
	require.NoError(t, err)
	m := NewMetrics(nil)
	live := NewLive(r, nil, m, clock.NewMock(), time.Second, nil)

	for i := 1; i <= 4; i++ {
		done, err := live.Step(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i == 4, done)
		assert.Equal(t, float64(i), testutil.ToFloat64(m.frames), "one frame per period")
		assert.Equal(t, float64(i), testutil.ToFloat64(m.simTime))
	}
	assert.Empty(t, r.Rows(), "no log ticks, no recorded rows")
}

func TestLive_RunPacedByClock(t *testing.T) {
	r := lineRunner(t, 3, 3)
	hub, err := NewHub(DefaultHubConfig(), nil)
	require.NoError(t, err)
	mock := clock.NewMock()
	live := NewLive(r, hub, NewMetrics(hub.Clients), mock, 100*time.Millisecond, nil)

	errc := make(chan error, 1)
	go func() { errc <- live.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		select {
		case err := <-errc:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, r.Done())
	assert.Equal(t, 3.0, r.Last().Time)
}

func TestLive_RunCancelled(t *testing.T) {
	r := lineRunner(t, 2, 50)
	live := NewLive(r, nil, nil, clock.NewMock(), time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, live.Run(ctx), context.Canceled)
}
