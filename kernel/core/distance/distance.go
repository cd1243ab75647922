// Package distance estimates how far a device is from a source region using
// only neighbour exchanges.
package distance

import (
	"math"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

// Infinity is the estimate of a device that has never heard of a source.
var Infinity = math.Inf(1)

// Monotonic returns the minimum over self and neighbours of their previous
// estimate plus the edge cost to reach them, or 0 at a source. The estimate
// is broadcast under p. When the self cost is 0 the estimate never increases
// between rounds; it stays +Inf until some finite estimate reaches the device.
func Monotonic(c *field.Context, p field.Path, source bool, cost field.Field[float64]) float64 {
	return field.Nbr(c, p, Infinity, func(prev field.Field[float64]) float64 {
		if source {
			return 0
		}
		return field.MinHood(field.Add(prev, cost))
	})
}

// Adjusted builds the noisy edge cost used by the adjusted termination
// policy: the physical distance scaled by a sample of noise per neighbour,
// plus penalty times the neighbour's export lag.
func Adjusted(c *field.Context, noise utils.Weibull, penalty float64) field.Field[float64] {
	rng := c.Rand()
	return field.Zip(c.NbrDist(), c.NbrLag(), func(d, lag float64) float64 {
		if d == 0 {
			return penalty * lag
		}
		return d*noise.Sample(rng) + penalty*lag
	})
}
