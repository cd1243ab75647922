package experiment

import (
	"github.com/nmxmxh/procmesh/kernel/core/delivery"
	"github.com/nmxmxh/procmesh/kernel/core/distance"
	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/message"
	"github.com/nmxmxh/procmesh/kernel/core/process"
	"github.com/nmxmxh/procmesh/kernel/core/termination"
	"github.com/nmxmxh/procmesh/kernel/core/tree"
)

var treePath = field.Path("tree")

// Profile runs one variant on one device: its own registry, policy and
// ledger.
type Profile struct {
	variant  Variant
	policy   termination.Policy
	registry *process.Registry[message.Message, float64]
	book     *delivery.Bookkeeper
	counters delivery.Counters
	hint     delivery.RenderHint
	running  []message.Message
}

// Variant returns the profiled variant.
func (p *Profile) Variant() Variant { return p.variant }

// Counters returns the device's counters for the variant.
func (p *Profile) Counters() delivery.Counters { return p.counters }

// Hint returns the render hint of the last round.
func (p *Profile) Hint() delivery.RenderHint { return p.hint }

// Active returns the number of instances run in the last round.
func (p *Profile) Active() int { return p.registry.Ran() }

// Retained returns the number of instances kept after the last round.
func (p *Profile) Retained() int { return p.registry.Len() }

// Registry exposes the instance table.
func (p *Profile) Registry() *process.Registry[message.Message, float64] { return p.registry }

// Ledger exposes the delivery ledger.
func (p *Profile) Ledger() *delivery.Bookkeeper { return p.book }

func (p *Profile) round(c *field.Context, keys []message.Message, info tree.Info, maxDistance, size float64, render bool) {
	uid := c.UID()
	p.running = p.running[:0]
	results := p.registry.StepStatus(c, keys, func(inst *process.Instance[message.Message]) (float64, process.Status) {
		m := inst.Key()
		p.running = append(p.running, m)
		ds := distance.Monotonic(c, inst.Path().Child("ds"), m.From == uid, c.NbrDist())
		s := p.variant.Kind.status(uid, m, ds, maxDistance, info)
		p.policy.Advance(c, inst, &s, ds)
		return c.Now(), s
	})
	p.counters = p.book.Record(c.Now(), p.registry.Ran(), results)
	if render {
		p.hint = delivery.Render(size, p.running)
	}
}

// Agent is the device program: it originates messages and advances every
// variant once per round.
type Agent struct {
	id          field.DeviceID
	generator   message.Generator
	root        field.DeviceID
	needTree    bool
	maxDistance float64
	render      bool
	profiles    []*Profile
	tree        tree.Info
	sent        []message.Message
}

// NewAgent builds the program for device id.
func NewAgent(id field.DeviceID, s Scenario) (*Agent, error) {
	a := &Agent{
		id:          id,
		generator:   s.MessageGenerator(),
		root:        field.DeviceID(s.TreeRoot),
		maxDistance: s.SphereRadius(),
		render:      s.Render,
	}
	params := s.Params()
	opts := delivery.DefaultOptions()
	opts.DestinationOnly = s.DestinationOnly
	for _, v := range s.Variants {
		policy, err := termination.New(v.Policy, params)
		if err != nil {
			return nil, err
		}
		if v.Kind == Tree {
			a.needTree = true
		}
		a.profiles = append(a.profiles, &Profile{
			variant:  v,
			policy:   policy,
			registry: process.NewRegistry[message.Message, float64](field.Path(v.String())),
			book:     delivery.NewBookkeeper(id, opts),
		})
	}
	return a, nil
}

// Round implements mesh.Program.
func (a *Agent) Round(c *field.Context) {
	keys := a.generator.Next(c)
	a.sent = append(a.sent, keys...)
	if a.needTree {
		a.tree = tree.Build(c, treePath, c.UID() == a.root)
	}
	size := 10.0
	if c.UID() == a.root {
		size = 16
	}
	for _, p := range a.profiles {
		p.round(c, keys, a.tree, a.maxDistance, size, a.render)
	}
}

// ID returns the device id.
func (a *Agent) ID() field.DeviceID { return a.id }

// Profiles returns the per-variant state in configuration order.
func (a *Agent) Profiles() []*Profile { return a.profiles }

// Sent returns the messages originated here.
func (a *Agent) Sent() []message.Message { return a.sent }

// Tree returns the device's last tree position.
func (a *Agent) Tree() tree.Info { return a.tree }
