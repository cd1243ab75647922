package termination

import (
	"math"

	"github.com/nmxmxh/procmesh/kernel/core/distance"
	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/process"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

// Legacy folds the terminated flag into a private accumulator and floods it
// through a separate broadcast.
type Legacy struct{}

func (Legacy) Name() string { return "legacy" }

func (Legacy) Advance(c *field.Context, inst Instance, st *process.Status, _ float64) {
	p := inst.Path().Child("legacy")
	terminating := *st == process.TerminatedOutput
	terminated := field.Old(c, p.Child("acc"), terminating, func(ot bool) bool {
		return field.AnyHood(field.Exchange(c, p.Child("flood"), ot)) || terminating
	})
	exit(c, p, st, terminated)
}

// Share reads the terminated flag straight from the shared broadcast.
type Share struct{}

func (Share) Name() string { return "share" }

func (Share) Advance(c *field.Context, inst Instance, st *process.Status, _ float64) {
	p := inst.Path().Child("share")
	terminated := floodTerminated(c, p, *st == process.TerminatedOutput)
	exit(c, p, st, terminated)
}

// Novel softens instances once termination has been heard of, or once the
// instance is too close to the origin for the wavefront to still matter.
type Novel struct {
	Params Params
}

func (Novel) Name() string { return "novel" }

func (n Novel) Advance(c *field.Context, inst Instance, st *process.Status, ds float64) {
	advanceTimed(c, inst.Path().Child("novel"), n.Params, st, ds, inst.Key().From == c.UID())
}

// Wave is Novel with the time estimate anchored to the origin's first round
// only, modelling a single travelling front.
type Wave struct {
	Params Params
}

func (Wave) Name() string { return "wave" }

func (w Wave) Advance(c *field.Context, inst Instance, st *process.Status, ds float64) {
	advanceTimed(c, inst.Path().Child("wave"), w.Params, st, ds, inst.Key().From == c.UID() && inst.Round() == 1)
}

func advanceTimed(c *field.Context, p field.Path, params Params, st *process.Status, ds float64, source bool) {
	terminated := floodTerminated(c, p, *st == process.TerminatedOutput)
	dt := field.Nbr(c, p.Child("dt"), math.Inf(1), func(ndt field.Field[float64]) float64 {
		if source {
			return 0
		}
		return field.MinHood(field.Add(ndt, c.NbrLag()))
	})
	if terminated || (finite(ds, dt) && ds < params.Threshold()*(dt-params.Period)) {
		soften(st)
	}
}

// Adjusted recomputes the distance from the origin over a noisy metric that
// penalises stale links, and compares it with the expected information speed.
type Adjusted struct {
	Params Params
	noise  utils.Weibull
}

// NewAdjusted fits the distance noise from p.DistanceDeviation.
func NewAdjusted(p Params) Adjusted {
	return Adjusted{Params: p, noise: utils.NewWeibull(1, p.DistanceDeviation)}
}

func (Adjusted) Name() string { return "adjusted" }

func (a Adjusted) Advance(c *field.Context, inst Instance, st *process.Status, _ float64) {
	p := inst.Path().Child("adjusted")
	source := inst.Key().From == c.UID() && inst.Round() == 1
	terminated := floodTerminated(c, p, *st == process.TerminatedOutput)

	penalty := a.Params.Speed / 100 * a.Params.CommRadius / a.Params.Period
	ds := distance.Monotonic(c, p.Child("ds"), source, distance.Adjusted(c, a.noise, penalty))
	dt := distance.Monotonic(c, p.Child("dt"), source, c.NbrLag())

	speed := a.Params.InfoSpeed * a.Params.CommRadius / a.Params.Period
	if terminated || (finite(ds, dt) && ds < speed*(dt-a.Params.Period)) {
		soften(st)
		if *st == process.InternalOutput {
			*st = process.BorderOutput
		}
	}
}
