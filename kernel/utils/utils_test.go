package utils

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(HandlerConfig{Level: slog.LevelInfo, Output: &buf}).
		With("component", "batch", "run", "0f8fad5b")

	logger.Debug("hidden")
	logger.WithGroup("mesh").Info("run finished", "rounds", 12, "elapsed", 1500*time.Millisecond, "error", errors.New("boom"))

	line := buf.String()
	assert.Contains(t, line, "[INFO ] [batch] run finished")
	assert.Contains(t, line, ` run="0f8fad5b"`)
	assert.Contains(t, line, " mesh.rounds=12")
	assert.Contains(t, line, " mesh.elapsed=1.5s")
	assert.Contains(t, line, ` mesh.error="boom"`)
	assert.NotContains(t, line, "hidden")
	assert.NotContains(t, line, "\033[")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" warn ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestWeibull_FitsMeanAndDeviation(t *testing.T) {
	w := NewWeibull(1, 0.1)
	assert.InDelta(t, 1.0, w.Mean(), 1e-6)

	rng := rand.New(rand.NewSource(7))
	var sum, sq float64
	const n = 20000
	for i := 0; i < n; i++ {
		x := w.Sample(rng)
		require.Greater(t, x, 0.0)
		sum += x
		sq += x * x
	}
	mean := sum / n
	dev := math.Sqrt(sq/n - mean*mean)
	assert.InDelta(t, 1.0, mean, 0.01)
	assert.InDelta(t, 0.1, dev, 0.01)

	fixed := NewWeibull(2, 0)
	assert.Equal(t, 2.0, fixed.Sample(rng))
	assert.Equal(t, 2.0, fixed.Mean())
}

func TestGracefulShutdown(t *testing.T) {
	g := NewGracefulShutdown(time.Second, nil)
	var calls atomic.Int32
	g.Register(func() error { calls.Add(1); return nil })
	g.Register(func() error { calls.Add(1); return errors.New("listener busy") })

	err := g.Shutdown(context.Background())
	assert.ErrorContains(t, err, "listener busy")
	assert.Equal(t, int32(2), calls.Load())

	slow := NewGracefulShutdown(10*time.Millisecond, nil)
	slow.Register(func() error { time.Sleep(time.Second); return nil })
	assert.Error(t, slow.Shutdown(context.Background()))
}

func TestIDs(t *testing.T) {
	id := GenerateID()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, GenerateID())
	assert.Equal(t, id[:8], ShortID(id))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.EqualError(t, WrapError(errors.New("eof"), "read trace"), "read trace: eof")
}
