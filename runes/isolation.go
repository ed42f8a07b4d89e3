package runes

import "fmt"

// IsolationLevel describes where secret custody and cryptographic
// operations physically execute. Levels are ordered by strength:
// a higher level provides strictly stronger isolation.
type IsolationLevel uint8

const (
	// SameProcess executes operations in the caller's process. Key
	// material lives in the caller's address space.
	SameProcess IsolationLevel = iota

	// SeparateProcess executes operations in a separate process on the
	// same machine and operating system.
	SeparateProcess

	// VirtualMachine executes operations in a virtual machine on the same
	// CPU but outside the caller's operating system. A full compromise of
	// the caller's host OS does not compromise the isolation.
	VirtualMachine

	// DiscreteCpu executes operations on a physically separate CPU. This
	// is the strongest isolation level and the only one immune to
	// software-based side channels shared with the caller.
	DiscreteCpu
)

// ParseIsolationLevel converts a string form, as accepted on the command
// line and in configuration, to an IsolationLevel.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch s {
	case "same-process":
		return SameProcess, nil
	case "separate-process":
		return SeparateProcess, nil
	case "virtual-machine":
		return VirtualMachine, nil
	case "discrete-cpu":
		return DiscreteCpu, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q", s)
	}
}

func (l IsolationLevel) String() string {
	switch l {
	case SameProcess:
		return "same-process"
	case SeparateProcess:
		return "separate-process"
	case VirtualMachine:
		return "virtual-machine"
	case DiscreteCpu:
		return "discrete-cpu"
	default:
		return fmt.Sprintf("isolation-level(%d)", uint8(l))
	}
}

// Validate checks the level is one of the defined variants.
func (l IsolationLevel) Validate() error {
	if l > DiscreteCpu {
		return &SchemaError{Reason: InvalidAssociatedData, Kind: KindIsolation, Detail: fmt.Sprintf("unknown isolation level %d", uint8(l))}
	}
	return nil
}
