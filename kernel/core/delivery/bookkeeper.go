// Package delivery keeps the per-device ledger of delivered messages and the
// counters derived from it.
package delivery

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/message"
)

// Counters are the per-device aggregates of one process family. They only
// grow during a run.
type Counters struct {
	MaxProc          int     `json:"max_proc" msgpack:"max_proc"`
	TotProc          int     `json:"tot_proc" msgpack:"tot_proc"`
	FirstDeliveryTot float64 `json:"first_delivery_tot" msgpack:"first_delivery_tot"`
	DeliveryCount    int     `json:"delivery_count" msgpack:"delivery_count"`
	RepeatCount      int     `json:"repeat_count" msgpack:"repeat_count"`
	// FilterMisses counts first deliveries the seen filter wrongly flagged
	// as repeats before the ledger overruled it.
	FilterMisses int `json:"filter_misses" msgpack:"filter_misses"`
}

// MeanLatency is the average first-delivery latency, 0 without deliveries.
func (c Counters) MeanLatency() float64 {
	if c.DeliveryCount == 0 {
		return 0
	}
	return c.FirstDeliveryTot / float64(c.DeliveryCount)
}

// Options configures a Bookkeeper.
type Options struct {
	// DestinationOnly counts only results addressed to the device itself.
	DestinationOnly bool
	// ExpectedMessages sizes the seen filter.
	ExpectedMessages uint
	// FalsePositiveRate of the seen filter.
	FalsePositiveRate float64
}

// DefaultOptions returns options counting every result.
func DefaultOptions() Options {
	return Options{ExpectedMessages: 1024, FalsePositiveRate: 0.01}
}

// Bookkeeper classifies each result as a first or repeated delivery. The
// bloom filter, keyed on the message hash, answers most first deliveries
// without touching the ledger; hits are confirmed against the exact ledger.
type Bookkeeper struct {
	self     field.DeviceID
	opts     Options
	seen     *bloom.BloomFilter
	ledger   map[message.Message]float64
	counters Counters
}

// NewBookkeeper creates the bookkeeper for device self.
func NewBookkeeper(self field.DeviceID, opts Options) *Bookkeeper {
	if opts.ExpectedMessages == 0 {
		opts.ExpectedMessages = DefaultOptions().ExpectedMessages
	}
	if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
		opts.FalsePositiveRate = DefaultOptions().FalsePositiveRate
	}
	return &Bookkeeper{
		self:   self,
		opts:   opts,
		seen:   bloom.NewWithEstimates(opts.ExpectedMessages, opts.FalsePositiveRate),
		ledger: make(map[message.Message]float64),
	}
}

// Record folds one round into the ledger. active is the number of instances
// run this round and results maps each output message to its output value.
func (b *Bookkeeper) Record(now float64, active int, results map[message.Message]float64) Counters {
	if active > b.counters.MaxProc {
		b.counters.MaxProc = active
	}
	b.counters.TotProc += active

	for m := range results {
		if b.opts.DestinationOnly && m.To != b.self {
			continue
		}
		if b.delivered(m) {
			b.counters.RepeatCount++
			continue
		}
		b.seen.Add(filterKey(m))
		b.ledger[m] = now
		b.counters.DeliveryCount++
		b.counters.FirstDeliveryTot += now - m.Time
	}
	return b.counters
}

func (b *Bookkeeper) delivered(m message.Message) bool {
	if !b.seen.Test(filterKey(m)) {
		return false
	}
	_, ok := b.ledger[m]
	if !ok {
		b.counters.FilterMisses++
	}
	return ok
}

func filterKey(m message.Message) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), m.Hash())
}

// Delivered returns the time m was first delivered here.
func (b *Bookkeeper) Delivered(m message.Message) (float64, bool) {
	t, ok := b.ledger[m]
	return t, ok
}

// Ledger returns a copy of the delivery ledger.
func (b *Bookkeeper) Ledger() map[message.Message]float64 {
	out := make(map[message.Message]float64, len(b.ledger))
	for m, t := range b.ledger {
		out[m] = t
	}
	return out
}

// Counters returns the current counters.
func (b *Bookkeeper) Counters() Counters { return b.counters }
