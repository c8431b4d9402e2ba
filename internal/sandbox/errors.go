package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the ways Execute can fail terminally, matching
// spec §4.5's Failure set exactly: Timeout, OutOfFuel, OutOfMemory,
// InvalidModule, Trap, CapabilityDenied.
type ErrorKind string

const (
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindOutOfFuel        ErrorKind = "out_of_fuel"
	ErrKindOutOfMemory      ErrorKind = "out_of_memory"
	ErrKindInvalidModule    ErrorKind = "invalid_module"
	ErrKindTrap             ErrorKind = "trap"
	ErrKindCapabilityDenied ErrorKind = "capability_denied"
)

// Error is the structured failure Execute returns when a guest doesn't
// run to completion cleanly.
type Error struct {
	Kind       ErrorKind
	Message    string     // populated for Trap
	Capability Capability // populated for CapabilityDenied
	Cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrKindTimeout:
		return "sandbox: wall-clock timeout exceeded"
	case ErrKindOutOfFuel:
		return "sandbox: fuel exhausted"
	case ErrKindOutOfMemory:
		return "sandbox: memory limit exceeded"
	case ErrKindInvalidModule:
		if e.Cause != nil {
			return fmt.Sprintf("sandbox: invalid module: %v", e.Cause)
		}
		return "sandbox: invalid module"
	case ErrKindTrap:
		return fmt.Sprintf("sandbox: trap: %s", e.Message)
	case ErrKindCapabilityDenied:
		return fmt.Sprintf("sandbox: capability denied: %s", e.Capability)
	default:
		return fmt.Sprintf("sandbox: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func errTimeout() error           { return &Error{Kind: ErrKindTimeout} }
func errOutOfFuel() error         { return &Error{Kind: ErrKindOutOfFuel} }
func errOutOfMemory() error       { return &Error{Kind: ErrKindOutOfMemory} }
func errInvalidModule(err error) error {
	return &Error{Kind: ErrKindInvalidModule, Cause: err}
}
func errTrap(message string) error { return &Error{Kind: ErrKindTrap, Message: message} }
func errCapabilityDenied(cap Capability) error {
	return &Error{Kind: ErrKindCapabilityDenied, Capability: cap}
}

// CapabilityDeniedError builds the Execute-level failure an external
// host-function bridge (FileRead/FileWrite/NetworkAccess/EnvironmentRead —
// outside this package's core 6-function ABI, per spec §4.5) returns when a
// guest call isn't covered by its granted capabilities. The core ABI's own
// Stdout/Stderr gate never uses this: host_write_stdout/host_write_stderr
// without the capability silently no-op instead of aborting the run.
func CapabilityDeniedError(cap Capability) error {
	return errCapabilityDenied(cap)
}

// IsKind reports whether err is (or wraps) a sandbox *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}
