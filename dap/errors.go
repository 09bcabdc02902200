package dap

import (
	"errors"

	"github.com/opendbg/gdbdap/mi"
)

// describeError renders err the way a DAP error response's Message
// field should read: GDB's own error text when available, or a short
// generic description for failures that never reached GDB at all.
//
// Per the error-handling design this adapter follows: a StaleHandle
// never propagates as a hard failure on its own (callers check for it
// explicitly and respond with an empty/default result instead), so
// describeError renders GdbError, TransportClosed, InvalidArgs and
// Protocol, and falls back to err.Error() for anything else.
func describeError(err error) string {
	var miErr *mi.Error
	if errors.As(err, &miErr) {
		switch miErr.Kind {
		case mi.GdbError:
			return miErr.Message
		case mi.TransportClosed:
			return "debugger process exited"
		case mi.InvalidArgs:
			return miErr.Message
		case mi.Protocol:
			return "internal error decoding debugger output"
		}
	}
	return err.Error()
}

// isTransportClosed reports whether err indicates the debugger process
// is gone.
func isTransportClosed(err error) bool {
	var miErr *mi.Error
	return errors.As(err, &miErr) && miErr.Kind == mi.TransportClosed
}
