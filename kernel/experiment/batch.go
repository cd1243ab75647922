package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/procmesh/kernel/core/mesh"
)

// Sweep varies one scenario parameter over an arithmetic range while the
// others keep their base values.
type Sweep struct {
	Parameter string  `json:"parameter" yaml:"parameter"`
	Min       float64 `json:"min" yaml:"min"`
	Max       float64 `json:"max" yaml:"max"`
	Step      float64 `json:"step" yaml:"step"`
}

// DefaultSweeps are the reference ranges for every sweepable parameter.
func DefaultSweeps() []Sweep {
	return []Sweep{
		{Parameter: "tvar", Min: 0, Max: 40, Step: 1},
		{Parameter: "dens", Min: 8, Max: 18, Step: 0.25},
		{Parameter: "hops", Min: 6, Max: 16, Step: 0.25},
		{Parameter: "speed", Min: 0, Max: 20, Step: 0.5},
	}
}

// Values lists the swept values.
func (s Sweep) Values() []float64 {
	if s.Step <= 0 || s.Max < s.Min {
		return []float64{s.Min}
	}
	n := int(math.Floor((s.Max-s.Min)/s.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = s.Min + float64(i)*s.Step
	}
	return out
}

func (s Sweep) apply(sc *Scenario, v float64) error {
	switch s.Parameter {
	case "tvar":
		sc.TVar = v
	case "dens":
		sc.Dens = v
	case "hops":
		sc.Hops = v
	case "speed":
		sc.Speed = v
	default:
		return mesh.ErrInvalidConfig("sweep.parameter", s.Parameter, "expected tvar, dens, hops or speed")
	}
	sc.Name = fmt.Sprintf("%s=%g", s.Parameter, v)
	return nil
}

// Batch is a set of scenarios run with several seeds each.
type Batch struct {
	Base   Scenario `json:"base" yaml:"base"`
	Sweeps []Sweep  `json:"sweeps" yaml:"sweeps"`
	Seeds  []int64  `json:"seeds" yaml:"seeds"`
	// Concurrency bounds parallel runs; 0 uses GOMAXPROCS.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// SeedRange returns count consecutive seeds starting at first.
func SeedRange(first int64, count int) []int64 {
	out := make([]int64, count)
	for i := range out {
		out[i] = first + int64(i)
	}
	return out
}

// Expand lists every scenario of the batch: the base scenario when there are
// no sweeps, otherwise one scenario per swept value, each once per seed.
func (b Batch) Expand() ([]Scenario, error) {
	seeds := b.Seeds
	if len(seeds) == 0 {
		seeds = []int64{b.Base.Seed}
	}
	var out []Scenario
	add := func(sc Scenario) {
		for _, seed := range seeds {
			s := sc
			s.Seed = seed
			out = append(out, s)
		}
	}
	if len(b.Sweeps) == 0 {
		add(b.Base)
		return out, nil
	}
	for _, sw := range b.Sweeps {
		for _, v := range sw.Values() {
			sc := b.Base
			if err := sw.apply(&sc, v); err != nil {
				return nil, err
			}
			add(sc)
		}
	}
	return out, nil
}

// RunBatch runs every scenario of the batch concurrently. Results are
// returned in expansion order; the first failure cancels the rest.
func RunBatch(ctx context.Context, b Batch, logger *slog.Logger, progress func(done, total int)) ([]*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scenarios, err := b.Expand()
	if err != nil {
		return nil, err
	}
	for _, sc := range scenarios {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("scenario %s seed %d: %w", sc.Name, sc.Seed, err)
		}
	}

	limit := b.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	log := logger.With("component", "batch")
	log.Info("batch starting", "runs", len(scenarios), "concurrency", limit)

	results := make([]*Result, len(scenarios))
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			res, err := Run(gctx, sc, logger)
			if err != nil {
				return fmt.Errorf("scenario %s seed %d: %w", sc.Name, sc.Seed, err)
			}
			results[i] = res
			mu.Lock()
			done++
			if progress != nil {
				progress(done, len(scenarios))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info("batch finished", "runs", len(results))
	return results, nil
}

// Summary averages the final rows of several results per scenario name and
// variant.
type Summary struct {
	Scenario      string  `json:"scenario" yaml:"scenario"`
	Variant       string  `json:"variant" yaml:"variant"`
	Runs          int     `json:"runs" yaml:"runs"`
	MaxProc       float64 `json:"max_proc" yaml:"max_proc"`
	TotProc       float64 `json:"tot_proc" yaml:"tot_proc"`
	DeliveryCount float64 `json:"delivery_count" yaml:"delivery_count"`
	RepeatCount   float64 `json:"repeat_count" yaml:"repeat_count"`
	MeanLatency   float64 `json:"mean_latency" yaml:"mean_latency"`
}

// Summarize averages final rows across seeds.
func Summarize(results []*Result) []Summary {
	type key struct{ scenario, variant string }
	acc := make(map[key]*Summary)
	var order []key
	for _, res := range results {
		for _, row := range res.Final {
			k := key{res.Scenario.Name, row.Variant}
			s, ok := acc[k]
			if !ok {
				s = &Summary{Scenario: k.scenario, Variant: k.variant}
				acc[k] = s
				order = append(order, k)
			}
			s.Runs++
			s.MaxProc += float64(row.MaxProc)
			s.TotProc += float64(row.TotProc)
			s.DeliveryCount += float64(row.DeliveryCount)
			s.RepeatCount += float64(row.RepeatCount)
			s.MeanLatency += row.MeanLatency
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].scenario != order[j].scenario {
			return order[i].scenario < order[j].scenario
		}
		return order[i].variant < order[j].variant
	})
	out := make([]Summary, 0, len(order))
	for _, k := range order {
		s := acc[k]
		n := float64(s.Runs)
		s.MaxProc /= n
		s.TotProc /= n
		s.DeliveryCount /= n
		s.RepeatCount /= n
		s.MeanLatency /= n
		out = append(out, *s)
	}
	return out
}
