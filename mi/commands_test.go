package mi

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommands(t *testing.T, script func(write func(string), read func() string)) *Commands {
	t.Helper()
	toGdb, toGdbW := io.Pipe()
	fromGdbR, fromGdb := io.Pipe()

	tr := NewTransport(fromGdbR, toGdbW)

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

	return NewCommands(tr)
}

func TestCommands_BreakInsert(t *testing.T) {
	c := newTestCommands(t, func(write func(string), read func() string) {
		cmd := read()
		assert.Equal(t, "1-break-insert -t -c \"i == 3\" vars.c:12\n", cmd)
		write("1^done,bkpt={number=\"1\",type=\"breakpoint\",disp=\"del\",enabled=\"y\",file=\"vars.c\",line=\"12\",cond=\"i == 3\"}\n(gdb)\n")
	})

	bp, err := c.BreakInsert(context.Background(), "vars.c:12", BreakInsertOptions{Temporary: true, Condition: "i == 3"})
	require.NoError(t, err)
	assert.Equal(t, "1", bp.Number)
	assert.True(t, bp.Temporary)
	assert.True(t, bp.Enabled)
	assert.Equal(t, 12, bp.Line)
	assert.Equal(t, "i == 3", bp.Condition)
}

func TestCommands_VarCreateAndUpdate(t *testing.T) {
	c := newTestCommands(t, func(write func(string), read func() string) {
		cmd := read()
		assert.Equal(t, "1-var-create var1 * \"count\"\n", cmd)
		write("1^done,name=\"var1\",numchild=\"0\",value=\"0\",type=\"int\"\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "2-var-update --all-values var1\n", cmd)
		write(`2^done,changelist=[{name="var1",value="1",in_scope="true",type_changed="false"}]` + "\n(gdb)\n")
	})

	vo, err := c.VarCreate(context.Background(), "var1", "*", "count")
	require.NoError(t, err)
	assert.Equal(t, "int", vo.Type)
	assert.Equal(t, "0", vo.Value)

	updates, err := c.VarUpdate(context.Background(), "var1")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "var1", updates[0].Name)
	assert.True(t, updates[0].InScope)
	assert.Equal(t, "1", updates[0].NewValue)
}

func TestCommands_VarUpdateOutOfScope(t *testing.T) {
	c := newTestCommands(t, func(write func(string), read func() string) {
		read()
		write(`1^done,changelist=[{name="var1",in_scope="false"}]` + "\n(gdb)\n")
	})

	updates, err := c.VarUpdate(context.Background(), "var1")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].InScope)
}

func TestCommands_StackListFramesAndVariables(t *testing.T) {
	c := newTestCommands(t, func(write func(string), read func() string) {
		cmd := read()
		assert.Equal(t, "1-stack-list-frames --thread 1\n", cmd)
		write(`1^done,stack=[frame={level="0",addr="0x1",func="main",fullname="/tmp/vars.c",line="20"}]` + "\n(gdb)\n")

		cmd = read()
		assert.Equal(t, "2-stack-list-variables --thread 1 --frame 0 --no-values\n", cmd)
		write(`2^done,variables=[{name="i"},{name="arr"}]` + "\n(gdb)\n")
	})

	frames, err := c.StackListFrames(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "main", frames[0].Func)
	assert.Equal(t, 20, frames[0].Line)

	names, err := c.StackListVariables(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"i", "arr"}, names)
}

func TestCommands_BreakListEnumeratesBreakpointTable(t *testing.T) {
	c := newTestCommands(t, func(write func(string), read func() string) {
		read()
		write(`1^done,BreakpointTable={nr_rows="2",body=[bkpt={number="1",line="10"},bkpt={number="2",line="20"}]}` + "\n(gdb)\n")
	})

	bps, err := c.BreakList(context.Background())
	require.NoError(t, err)
	require.Len(t, bps, 2)
	assert.Equal(t, "1", bps[0].Number)
	assert.Equal(t, "2", bps[1].Number)
}

func TestCommands_ExecErrorPropagates(t *testing.T) {
	c := newTestCommands(t, func(write func(string), read func() string) {
		read()
		write(`1^error,msg="The program is not being run."` + "\n(gdb)\n")
	})

	err := c.ExecContinue(context.Background(), 0)
	require.Error(t, err)

	var mierr *Error
	require.ErrorAs(t, err, &mierr)
	assert.Equal(t, GdbError, mierr.Kind)
}
