// Package mi implements the GDB Machine Interface (MI2) wire protocol:
// parsing records off a debugger's stdout, correlating commands with
// their results by token, and typed wrappers around individual MI
// commands.
package mi

import "fmt"

// RecordKind discriminates the variants of Record.
type RecordKind int

const (
	// KindResult is a result record: the synchronous reply to a command.
	KindResult RecordKind = iota
	// KindAsyncExec reports an execution state change (*running, *stopped).
	KindAsyncExec
	// KindAsyncNotify reports an out-of-band notification (=...).
	KindAsyncNotify
	// KindAsyncStatus reports progress on a long-running command (+...).
	KindAsyncStatus
	// KindStream carries console/target/log text.
	KindStream
	// KindPrompt is the "(gdb)" terminator. It carries no data.
	KindPrompt
)

func (k RecordKind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindAsyncExec:
		return "async-exec"
	case KindAsyncNotify:
		return "async-notify"
	case KindAsyncStatus:
		return "async-status"
	case KindStream:
		return "stream"
	case KindPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// ResultClass is the class field of a result record.
type ResultClass string

const (
	ClassDone      ResultClass = "done"
	ClassRunning   ResultClass = "running"
	ClassConnected ResultClass = "connected"
	ClassError     ResultClass = "error"
	ClassExit      ResultClass = "exit"
)

// StreamKind discriminates which of the three stream records a Stream
// carries: console output (~), target output (@), or the debugger's
// own log output (&).
type StreamKind int

const (
	StreamConsole StreamKind = iota
	StreamTarget
	StreamLog
)

func (k StreamKind) String() string {
	switch k {
	case StreamConsole:
		return "console"
	case StreamTarget:
		return "target"
	case StreamLog:
		return "log"
	default:
		return "unknown"
	}
}

// Record is one complete unit of MI output: a result record, an async
// record (exec/notify/status), a stream record, or the "(gdb)" prompt.
//
// Only the fields relevant to Kind are populated.
type Record struct {
	Kind RecordKind

	// Token is the integer correlating a result/async-exec record with
	// the command that produced it. Zero means no token was present.
	Token int
	// HasToken distinguishes "token 0" from "no token".
	HasToken bool

	// Class is the result-class (for KindResult) or the async-class
	// (for KindAsyncExec/KindAsyncNotify/KindAsyncStatus), e.g. "done",
	// "stopped", "breakpoint-modified".
	Class string

	// Fields holds the comma-separated result list attached to a
	// result or async record, in order of appearance.
	Fields ResultList

	// StreamKind and Text are populated for KindStream.
	StreamKind StreamKind
	Text       string
}

func (r Record) String() string {
	switch r.Kind {
	case KindStream:
		return fmt.Sprintf("%s: %q", r.StreamKind, r.Text)
	case KindPrompt:
		return "(gdb)"
	default:
		return fmt.Sprintf("%s token=%d class=%s fields=%v", r.Kind, r.Token, r.Class, r.Fields)
	}
}

// Get returns the value bound to name in the record's top-level result
// list, and whether it was present.
func (r Record) Get(name string) (Value, bool) {
	return r.Fields.Get(name)
}

// GetString is a convenience wrapper around Get for the common case of
// a plain string-valued field.
func (r Record) GetString(name string) (string, bool) {
	v, ok := r.Get(name)
	if !ok || v.Kind != ValueString {
		return "", false
	}
	return v.Str, true
}

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueTuple
	ValueList
)

// Value is a tagged union over the three shapes an MI value can take:
// a c-string, a tuple (name=value,...), or a list (bare values or
// name=value pairs).
type Value struct {
	Kind ValueKind

	Str string

	// Tuple holds the fields of a ValueTuple, in order of appearance.
	Tuple ResultList

	// Elements holds the elements of a ValueList. GDB uses lists both for
	// bare value sequences and for sequences of name=value results; in
	// the latter case Results is populated instead of Elements.
	Elements []Value
	Results  ResultList
}

// ResultList is an ordered name/value association list, used both for
// a record's top-level fields and for tuple/list contents. Order is
// preserved because MI fields are not required to be unique and some
// commands (e.g. -break-list) rely on repeated keys.
type ResultList []NamedValue

// NamedValue is one name=value pair inside a ResultList.
type NamedValue struct {
	Name  string
	Value Value
}

// Get returns the first value bound to name, and whether it was found.
func (rl ResultList) Get(name string) (Value, bool) {
	for _, nv := range rl {
		if nv.Name == name {
			return nv.Value, true
		}
	}
	return Value{}, false
}

// GetString is a convenience wrapper around Get for string-valued fields.
func (rl ResultList) GetString(name string) (string, bool) {
	v, ok := rl.Get(name)
	if !ok || v.Kind != ValueString {
		return "", false
	}
	return v.Str, true
}

// All returns every value bound to name, in order. Used for fields
// GDB may repeat, such as -break-list's bkpt entries.
func (rl ResultList) All(name string) []Value {
	var out []Value
	for _, nv := range rl {
		if nv.Name == name {
			out = append(out, nv.Value)
		}
	}
	return out
}
