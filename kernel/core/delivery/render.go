package delivery

import (
	"fmt"
	"math"

	"github.com/nmxmxh/procmesh/kernel/core/message"
)

// Color is an sRGB colour.
type Color struct {
	R uint8 `json:"r" msgpack:"r"`
	G uint8 `json:"g" msgpack:"g"`
	B uint8 `json:"b" msgpack:"b"`
}

// Black is shown for devices running no process.
var Black = Color{}

// Hex renders the colour as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// HSV converts a fully saturated, full value hue in degrees.
func HSV(hue float64) Color {
	h := math.Mod(hue, 360)
	if h < 0 {
		h += 360
	}
	x := 1 - math.Abs(math.Mod(h/60, 2)-1)
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = 1, x, 0
	case h < 120:
		r, g, b = x, 1, 0
	case h < 180:
		r, g, b = 0, 1, x
	case h < 240:
		r, g, b = 0, x, 1
	case h < 300:
		r, g, b = x, 0, 1
	default:
		r, g, b = 1, 0, x
	}
	return Color{R: uint8(math.Round(r * 255)), G: uint8(math.Round(g * 255)), B: uint8(math.Round(b * 255))}
}

// RenderHint is the optional visual summary of a device's active processes.
type RenderHint struct {
	Size  float64 `json:"size" msgpack:"size"`
	Node  Color   `json:"node" msgpack:"node"`
	Left  Color   `json:"left" msgpack:"left"`
	Right Color   `json:"right" msgpack:"right"`
}

// Render grows the node by half when any process runs and colours it after
// the first three running messages, in run order.
func Render(size float64, running []message.Message) RenderHint {
	palette := make([]Color, 0, len(running)+1)
	palette = append(palette, Black)
	for _, m := range running {
		palette = append(palette, HSV(m.Hue()))
	}
	n := len(running)
	if n > 0 {
		size *= 1.5
	}
	return RenderHint{
		Size:  size,
		Node:  palette[min(n, 1)],
		Left:  palette[min(n, 2)],
		Right: palette[min(n, 3)],
	}
}
