package experiment

import (
	"fmt"
	"strings"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/mesh"
	"github.com/nmxmxh/procmesh/kernel/core/message"
	"github.com/nmxmxh/procmesh/kernel/core/process"
	"github.com/nmxmxh/procmesh/kernel/core/termination"
	"github.com/nmxmxh/procmesh/kernel/core/tree"
)

// Kind selects where a process spreads.
type Kind string

const (
	// Spherical processes spread to every device within MaxDistance of the
	// origin.
	Spherical Kind = "spherical"
	// Tree processes spread along the spanning-tree path between origin and
	// destination.
	Tree Kind = "tree"
)

// Kinds lists the process kinds.
func Kinds() []Kind { return []Kind{Spherical, Tree} }

// Variant is one (process kind, termination policy) pair. Every variant runs
// with its own registry and ledger.
type Variant struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Policy string `json:"policy" yaml:"policy"`
}

func (v Variant) String() string {
	return string(v.Kind) + "/" + v.Policy
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Variant) UnmarshalText(b []byte) error {
	parsed, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVariant parses "kind/policy".
func ParseVariant(s string) (Variant, error) {
	kind, policy, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Variant{}, mesh.ErrInvalidConfig("variant", s, "expected kind/policy")
	}
	v := Variant{Kind: Kind(kind), Policy: policy}
	return v, v.Validate()
}

// Validate checks that the kind and policy exist.
func (v Variant) Validate() error {
	switch v.Kind {
	case Spherical, Tree:
	default:
		return mesh.ErrUnknownProcess(string(v.Kind))
	}
	if _, err := termination.New(v.Policy, termination.DefaultParams()); err != nil {
		return mesh.ErrUnknownPolicy(v.Policy, err)
	}
	return nil
}

// DefaultVariants returns both kinds under the four reference policies.
func DefaultVariants() []Variant {
	policies := []string{"legacy", "share", "novel", "wave"}
	out := make([]Variant, 0, 2*len(policies))
	for _, k := range Kinds() {
		for _, p := range policies {
			out = append(out, Variant{Kind: k, Policy: p})
		}
	}
	return out
}

// ParseVariants parses a comma separated list; "all" expands to every kind
// under every registered policy.
func ParseVariants(s string) ([]Variant, error) {
	if strings.TrimSpace(s) == "all" {
		var out []Variant
		for _, k := range Kinds() {
			for _, p := range termination.Names() {
				out = append(out, Variant{Kind: k, Policy: p})
			}
		}
		return out, nil
	}
	var out []Variant
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		v, err := ParseVariant(part)
		if err != nil {
			return nil, fmt.Errorf("parse variants: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// status is the initial status of an instance before the policy runs.
func (k Kind) status(uid field.DeviceID, m message.Message, ds, maxDistance float64, info tree.Info) process.Status {
	if m.To == uid {
		return process.TerminatedOutput
	}
	switch k {
	case Tree:
		if info.Contains(m.From) || info.Contains(m.To) {
			return process.Internal
		}
		return process.External
	default:
		if ds < maxDistance {
			return process.Internal
		}
		return process.External
	}
}
