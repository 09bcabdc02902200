package mi

import "fmt"

// Kind classifies the failure modes that can arise while driving a
// debugger over MI, so callers can react programmatically instead of
// string-matching messages.
type Kind int

const (
	// Protocol indicates malformed or unparseable MI wire data.
	Protocol Kind = iota
	// GdbError indicates GDB itself returned a result record with
	// class "error" in response to a command.
	GdbError
	// TransportClosed indicates the underlying debugger process or its
	// pipes went away while a command was outstanding.
	TransportClosed
	// StaleHandle indicates a DAP-facing reference (frame id, variable
	// reference) was used after the handle table that minted it was
	// reset by a subsequent stop.
	StaleHandle
	// InvalidArgs indicates a caller-supplied argument was rejected
	// before any command was even sent to GDB.
	InvalidArgs
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case GdbError:
		return "gdb-error"
	case TransportClosed:
		return "transport-closed"
	case StaleHandle:
		return "stale-handle"
	case InvalidArgs:
		return "invalid-args"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across package mi and the
// packages built on top of it. Kind lets callers use errors.As to
// branch on failure category without depending on message text.
type Error struct {
	Kind    Kind
	Message string

	// Command, when non-empty, names the MI command that produced the
	// error (set for GdbError).
	Command string
}

func (e *Error) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("mi: %s: %s (command: %s)", e.Kind, e.Message, e.Command)
	}
	return fmt.Sprintf("mi: %s: %s", e.Kind, e.Message)
}

// Is allows errors.Is(err, mi.Protocol-shaped sentinels) style checks
// by comparing Kind when the target is also an *Error with no message
// set, i.e. errors.Is(err, &mi.Error{Kind: mi.GdbError}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func newGdbError(command string, fields ResultList) *Error {
	msg := "command failed"
	if s, ok := fields.GetString("msg"); ok {
		msg = s
	}
	return &Error{Kind: GdbError, Message: msg, Command: command}
}
