package mesh

import (
	"container/heap"
	"math/rand"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

type event struct {
	at float64
	id field.DeviceID
}

// eventQueue orders rounds by time, then device id.
type eventQueue []event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].id < q[j].id
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(event)) }
func (q *eventQueue) Pop() any {
	old := *q
	e := old[len(old)-1]
	*q = old[:len(old)-1]
	return e
}

// scheduler draws round times: a uniform first round within one period, then
// Weibull-distributed intervals, or exact periods when synchronous.
type scheduler struct {
	queue       eventQueue
	period      float64
	interval    utils.Weibull
	synchronous bool
}

func newScheduler(cfg Config) *scheduler {
	return &scheduler{
		period:      cfg.Period,
		interval:    utils.NewWeibull(cfg.Period, cfg.Period*cfg.TVar/100),
		synchronous: cfg.Synchronous,
	}
}

func (s *scheduler) first(id field.DeviceID, rng *rand.Rand) float64 {
	at := 0.0
	if !s.synchronous {
		at = rng.Float64() * s.period
	}
	heap.Push(&s.queue, event{at: at, id: id})
	return at
}

func (s *scheduler) again(id field.DeviceID, now float64, rng *rand.Rand) float64 {
	step := s.period
	if !s.synchronous {
		step = s.interval.Sample(rng)
		if step <= 0 {
			step = s.period
		}
	}
	at := now + step
	heap.Push(&s.queue, event{at: at, id: id})
	return at
}

func (s *scheduler) peek() (float64, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	return s.queue[0].at, true
}

// batch pops every round scheduled at the earliest time.
func (s *scheduler) batch() (float64, []field.DeviceID) {
	at, ok := s.peek()
	if !ok {
		return 0, nil
	}
	var ids []field.DeviceID
	for len(s.queue) > 0 && s.queue[0].at == at {
		ids = append(ids, heap.Pop(&s.queue).(event).id)
	}
	return at, ids
}
