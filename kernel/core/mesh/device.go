package mesh

import (
	"math"
	"math/rand"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Program is the code every device runs once per round.
type Program interface {
	Round(c *field.Context)
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(c *field.Context)

// Round calls f(c).
func (f ProgramFunc) Round(c *field.Context) { f(c) }

// ProgramFactory builds the program of one device.
type ProgramFactory func(id field.DeviceID) Program

// Device is one simulated node: its program, its last committed export and
// store, and its motion state.
type Device struct {
	id      field.DeviceID
	program Program
	rng     *rand.Rand

	pos    Point
	target Point
	speed  float64

	export *field.Export
	store  field.Store
	next   float64
	rounds int
}

// ID returns the device id.
func (d *Device) ID() field.DeviceID { return d.id }

// Program returns the device program.
func (d *Device) Program() Program { return d.program }

// Position returns the current position.
func (d *Device) Position() Point { return d.pos }

// Export returns the last committed export, nil before the first round.
func (d *Device) Export() *field.Export { return d.export }

// Rounds returns the number of completed rounds.
func (d *Device) Rounds() int { return d.rounds }

// NextRound returns the scheduled time of the next round.
func (d *Device) NextRound() float64 { return d.next }

// move walks the device towards its target for dt time units, picking a new
// random target in the square each time one is reached.
func (d *Device) move(dt, side, maxSpeed float64, rng *rand.Rand) {
	if maxSpeed <= 0 || dt <= 0 {
		return
	}
	for i := 0; dt > 0 && i < 64; i++ {
		if d.speed <= 0 {
			d.retarget(side, maxSpeed, rng)
		}
		remaining := d.pos.Dist(d.target)
		travel := d.speed * dt
		if travel < remaining {
			f := travel / remaining
			d.pos.X += (d.target.X - d.pos.X) * f
			d.pos.Y += (d.target.Y - d.pos.Y) * f
			return
		}
		d.pos = d.target
		dt -= remaining / d.speed
		d.speed = 0
	}
}

func (d *Device) retarget(side, maxSpeed float64, rng *rand.Rand) {
	d.target = Point{X: rng.Float64() * side, Y: rng.Float64() * side}
	d.speed = maxSpeed * math.Max(rng.Float64(), 0.01)
}
