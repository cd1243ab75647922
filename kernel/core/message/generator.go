package message

import (
	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Mode selects how messages are originated.
type Mode string

const (
	// ModeSingle has one origin send a single message once Start has passed.
	ModeSingle Mode = "single"
	// ModeMulti has the last Senders devices each send with probability
	// Probability per round inside (Start, Stop).
	ModeMulti Mode = "multi"
)

var sentSlot = field.Path("gen").Child("sent")

// Generator decides, once per device round, whether a new message starts at
// the device. Per-device sent counts live in the device's round store.
type Generator struct {
	Mode        Mode
	Devices     int
	Origin      field.DeviceID
	Start       float64
	Stop        float64
	Senders     int
	Probability float64
	// Limit caps messages per device; 0 means unlimited.
	Limit int
	// Dest, when set, addresses every message to one device instead of a
	// uniformly drawn one.
	Dest *field.DeviceID
}

// Single returns the single-origin generator used by the reference scenarios:
// device origin sends one message after start.
func Single(devices int, origin field.DeviceID, start float64) Generator {
	return Generator{Mode: ModeSingle, Devices: devices, Origin: origin, Start: start, Limit: 1}
}

// Multi returns a generator where the last senders devices originate messages
// with probability p per round between start and stop.
func Multi(devices, senders int, p, start, stop float64) Generator {
	return Generator{Mode: ModeMulti, Devices: devices, Senders: senders, Probability: p, Start: start, Stop: stop}
}

// WithDest returns g with every destination fixed to to.
func (g Generator) WithDest(to field.DeviceID) Generator {
	g.Dest = &to
	return g
}

// Sender reports whether uid may originate messages at all.
func (g Generator) Sender(uid field.DeviceID) bool {
	switch g.Mode {
	case ModeMulti:
		return int(uid) >= g.Devices-g.Senders
	default:
		return uid == g.Origin
	}
}

// Next returns the keys originating at the device this round: nil or a
// single message.
func (g Generator) Next(c *field.Context) []Message {
	var out []Message
	field.Old(c, sentSlot, 0, func(sent int) int {
		if !g.fire(c, sent) {
			return sent
		}
		var to field.DeviceID
		if g.Dest != nil {
			to = *g.Dest
		} else {
			to = field.DeviceID(c.Rand().Intn(g.Devices))
		}
		out = append(out, Message{
			From: c.UID(),
			To:   to,
			Time: c.Now(),
			Data: c.Rand().Float64(),
		})
		return sent + 1
	})
	return out
}

func (g Generator) fire(c *field.Context, sent int) bool {
	if g.Devices <= 0 || !g.Sender(c.UID()) {
		return false
	}
	if g.Limit > 0 && sent >= g.Limit {
		return false
	}
	now := c.Now()
	switch g.Mode {
	case ModeMulti:
		return now > g.Start && now < g.Stop && c.Rand().Float64() < g.Probability
	default:
		return now > g.Start
	}
}
