// Package message defines the keys that identify ephemeral processes and the
// generators that originate them.
package message

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Message is an immutable point-to-point payload. Two messages with the same
// fields are the same message.
type Message struct {
	From field.DeviceID `json:"from" msgpack:"from" yaml:"from"`
	To   field.DeviceID `json:"to" msgpack:"to" yaml:"to"`
	Time float64        `json:"time" msgpack:"time" yaml:"time"`
	Data float64        `json:"data" msgpack:"data" yaml:"data"`
}

// Compare orders messages by creation time, then sender, receiver and payload.
func (m Message) Compare(o Message) int {
	if c := cmp.Compare(m.Time, o.Time); c != 0 {
		return c
	}
	if c := cmp.Compare(m.From, o.From); c != 0 {
		return c
	}
	if c := cmp.Compare(m.To, o.To); c != 0 {
		return c
	}
	return cmp.Compare(m.Data, o.Data)
}

// String renders the message as from>to@time#data.
func (m Message) String() string {
	return fmt.Sprintf("%d>%d@%g#%g", m.From, m.To, m.Time, m.Data)
}

// Bytes returns the fixed 24-byte little-endian encoding.
func (m Message) Bytes() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:], uint32(m.From))
	binary.LittleEndian.PutUint32(buf[4:], uint32(m.To))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(m.Time))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(m.Data))
	return buf
}

// Hash is stable across runs and processes.
func (m Message) Hash() uint64 {
	return xxhash.Sum64(m.Bytes())
}

// Hue maps the payload onto a colour wheel angle in [0, 360).
func (m Message) Hue() float64 {
	return math.Mod(m.Data*360, 360)
}
