package dap

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendbg/gdbdap/mi"
)

// newTestMiCommands mirrors mi/commands_test.go's own harness: a
// *mi.Commands wired to a fake GDB child over a pair of pipes, driven
// by a scripted goroutine, with no real gdb process involved.
func newTestMiCommands(t *testing.T, script func(write func(string), read func() string)) *mi.Commands {
	t.Helper()
	toGdb, toGdbW := io.Pipe()
	fromGdbR, fromGdb := io.Pipe()

	tr := mi.NewTransport(fromGdbR, toGdbW)

	go func() {
		buf := make([]byte, 4096)
		read := func() string {
			n, err := toGdb.Read(buf)
			if err != nil {
				return ""
			}
			return string(buf[:n])
		}
		write := func(s string) { io.WriteString(fromGdb, s) }
		script(write, read)
	}()

	return mi.NewCommands(tr)
}

func TestBreakpointSet_ReconcileIdentityByLineAndCondition(t *testing.T) {
	cmds := newTestMiCommands(t, func(write func(string), read func() string) {
		cmd := read()
		assert.Equal(t, "1-break-list\n", cmd)
		write("1^done,BreakpointTable={body=[]}\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "2-break-insert main.c:10\n", cmd)
		write(`2^done,bkpt={number="1",line="10"}` + "\n(gdb)\n")

		// A second breakpoint on the same line but with a condition is a
		// distinct breakpoint, so it gets its own break-insert.
		cmd = read()
		assert.Equal(t, "3-break-insert -c \"i == 3\" main.c:10\n", cmd)
		write(`3^done,bkpt={number="2",line="10",cond="i == 3"}` + "\n(gdb)\n")
	})

	b := newBreakpointSet()
	want := []dap.SourceBreakpoint{
		{Line: 10},
		{Line: 10, Condition: "i == 3"},
	}
	bps, err := b.Reconcile(context.Background(), cmds, "main.c", want)
	require.NoError(t, err)
	require.Len(t, bps, 2)
	assert.True(t, bps[0].Verified)
	assert.True(t, bps[1].Verified)
	assert.NotEqual(t, bps[0].Id, bps[1].Id)
}

func TestBreakpointSet_ReconcileDeletesUnwanted(t *testing.T) {
	cmds := newTestMiCommands(t, func(write func(string), read func() string) {
		cmd := read()
		assert.Equal(t, "1-break-list\n", cmd)
		write("1^done,BreakpointTable={body=[]}\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "2-break-insert main.c:10\n", cmd)
		write(`2^done,bkpt={number="1",line="10"}` + "\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "3-break-insert main.c:20\n", cmd)
		write(`3^done,bkpt={number="2",line="20"}` + "\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "4-break-list\n", cmd)
		write(`4^done,BreakpointTable={body=[bkpt={number="1",line="10"},bkpt={number="2",line="20"}]}` + "\n(gdb)\n")

		// Reconciling down to just line 20 must delete GDB breakpoint 1
		// (line 10) and insert nothing new for line 20, which is already
		// tracked.
		cmd = read()
		assert.Equal(t, "5-break-delete 1\n", cmd)
		write("5^done\n(gdb)\n")
	})

	b := newBreakpointSet()
	ctx := context.Background()

	_, err := b.Reconcile(ctx, cmds, "main.c", []dap.SourceBreakpoint{{Line: 10}, {Line: 20}})
	require.NoError(t, err)

	bps, err := b.Reconcile(ctx, cmds, "main.c", []dap.SourceBreakpoint{{Line: 20}})
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, 20, bps[0].Line)
}

func TestBreakpointSet_ReconcileIsIdempotentWithoutReinserting(t *testing.T) {
	cmds := newTestMiCommands(t, func(write func(string), read func() string) {
		cmd := read()
		assert.Equal(t, "1-break-list\n", cmd)
		write("1^done,BreakpointTable={body=[]}\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "2-break-insert main.c:10\n", cmd)
		write(`2^done,bkpt={number="1",line="10"}` + "\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "3-break-list\n", cmd)
		write(`3^done,BreakpointTable={body=[bkpt={number="1",line="10"}]}` + "\n(gdb)\n")
	})

	b := newBreakpointSet()
	ctx := context.Background()
	want := []dap.SourceBreakpoint{{Line: 10}}

	first, err := b.Reconcile(ctx, cmds, "main.c", want)
	require.NoError(t, err)

	// No further break-insert/break-delete is scripted above (only the
	// second break-list); a reconcile that re-inserts would block
	// forever reading a response that never comes, so this also
	// exercises the idempotence invariant under test timeout rather
	// than a silent pass.
	second, err := b.Reconcile(ctx, cmds, "main.c", want)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
