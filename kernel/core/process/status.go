package process

import (
	"fmt"
)

// Status is the per-round disposition of a process instance on one device.
type Status uint8

const (
	// Internal instances keep flooding without producing output.
	Internal Status = iota
	// External instances stop here and are not flooded.
	External
	// Border instances run this round but do not flood on their own.
	Border
	// InternalOutput produces output and keeps flooding.
	InternalOutput
	// ExternalOutput produces output and stops.
	ExternalOutput
	// BorderOutput produces output without flooding on its own.
	BorderOutput
	// TerminatedOutput produces output and announces termination.
	TerminatedOutput
	// ExternalDeprecated stops without output.
	ExternalDeprecated
)

var statusNames = [...]string{
	Internal:           "internal",
	External:           "external",
	Border:             "border",
	InternalOutput:     "internal_output",
	ExternalOutput:     "external_output",
	BorderOutput:       "border_output",
	TerminatedOutput:   "terminated_output",
	ExternalDeprecated: "external_deprecated",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Live reports whether the instance floods its liveness to neighbours.
func (s Status) Live() bool {
	return s == Internal || s == InternalOutput
}

// Output reports whether the instance yields a result this round.
func (s Status) Output() bool {
	switch s {
	case InternalOutput, ExternalOutput, BorderOutput, TerminatedOutput:
		return true
	}
	return false
}

// Terminal reports whether the instance has stopped for good on this device.
func (s Status) Terminal() bool {
	return s == External || s == ExternalOutput || s == ExternalDeprecated
}

// Border reports whether the instance is kept only while a neighbour floods it.
func (s Status) Border() bool {
	return s == Border || s == BorderOutput
}

// WithOutput returns the output variant of s.
func (s Status) WithOutput() Status {
	switch s {
	case Internal:
		return InternalOutput
	case External:
		return ExternalOutput
	case Border:
		return BorderOutput
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus converts a snake_case name back into a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown process status %q", name)
}
