package varobj

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/opendbg/gdbdap/mi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, script func(write func(string), read func() string)) *Cache {
	t.Helper()
	toGdb, toGdbW := io.Pipe()
	fromGdbR, fromGdb := io.Pipe()

	tr := mi.NewTransport(fromGdbR, toGdbW)
	cmds := mi.NewCommands(tr)

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

	return NewCache(cmds)
}

func TestCache_CreateThenGetHitsSameEntry(t *testing.T) {
	c := newTestCache(t, func(write func(string), read func() string) {
		read() // thread-select
		write("1^done\n(gdb)\n")
		read() // stack-select-frame
		write("2^done\n(gdb)\n")
		read() // var-create
		write("3^done,name=\"dapvar1\",numchild=\"0\",value=\"3\",type=\"int\"\n(gdb)\n")
	})

	key := Key{ThreadID: 1, FrameID: 0, StackDepth: 2, Expression: "i"}
	o, err := c.Create(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "dapvar1", o.Name)
	assert.Equal(t, "3", o.Value)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Same(t, o, got)
}

func TestCache_CreateIsIdempotentPerKey(t *testing.T) {
	calls := 0
	c := newTestCache(t, func(write func(string), read func() string) {
		read() // thread-select
		write("1^done\n(gdb)\n")
		read() // stack-select-frame
		write("2^done\n(gdb)\n")
		if strings.Contains(read(), "-var-create") {
			calls++
		}
		write("3^done,name=\"dapvar1\",numchild=\"0\",value=\"3\",type=\"int\"\n(gdb)\n")
		// The cache hit only re-reads the value (-var-evaluate-expression).
		if strings.Contains(read(), "-var-create") {
			calls++
		}
		write("4^done,value=\"3\"\n(gdb)\n")
	})

	key := Key{ThreadID: 1, FrameID: 0, StackDepth: 2, Expression: "i"}
	_, err := c.Create(context.Background(), key)
	require.NoError(t, err)

	// Second Create for the identical key must not re-issue -var-create.
	_, err = c.Create(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCache_DifferentStackDepthIsADifferentEntry(t *testing.T) {
	c := newTestCache(t, func(write func(string), read func() string) {
		read() // thread-select
		write("1^done\n(gdb)\n")
		read() // stack-select-frame
		write("2^done\n(gdb)\n")
		read() // var-create
		write("3^done,name=\"dapvar1\",numchild=\"0\",value=\"3\",type=\"int\"\n(gdb)\n")
		read() // thread-select
		write("4^done\n(gdb)\n")
		read() // stack-select-frame
		write("5^done\n(gdb)\n")
		read() // var-create
		write("6^done,name=\"dapvar2\",numchild=\"0\",value=\"7\",type=\"int\"\n(gdb)\n")
	})

	keyA := Key{ThreadID: 1, FrameID: 0, StackDepth: 2, Expression: "i"}
	keyB := Key{ThreadID: 1, FrameID: 0, StackDepth: 3, Expression: "i"}

	oa, err := c.Create(context.Background(), keyA)
	require.NoError(t, err)
	ob, err := c.Create(context.Background(), keyB)
	require.NoError(t, err)

	assert.NotEqual(t, oa.Name, ob.Name)
}

func TestCache_RefreshDropsOutOfScopeEntries(t *testing.T) {
	c := newTestCache(t, func(write func(string), read func() string) {
		read() // thread-select
		write("1^done\n(gdb)\n")
		read() // stack-select-frame
		write("2^done\n(gdb)\n")
		read() // var-create
		write("3^done,name=\"dapvar1\",numchild=\"0\",value=\"3\",type=\"int\"\n(gdb)\n")
		read() // var-update
		write(`4^done,changelist=[{name="dapvar1",in_scope="false"}]` + "\n(gdb)\n")
		read() // var-delete cleanup
		write("5^done\n(gdb)\n")
	})

	key := Key{ThreadID: 1, FrameID: 0, StackDepth: 2, Expression: "i"}
	_, err := c.Create(context.Background(), key)
	require.NoError(t, err)

	dropped, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, key, dropped[0])

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestCache_RefreshUpdatesValueInPlace(t *testing.T) {
	c := newTestCache(t, func(write func(string), read func() string) {
		read() // thread-select
		write("1^done\n(gdb)\n")
		read() // stack-select-frame
		write("2^done\n(gdb)\n")
		read() // var-create
		write("3^done,name=\"dapvar1\",numchild=\"0\",value=\"3\",type=\"int\"\n(gdb)\n")
		read() // var-update
		write(`4^done,changelist=[{name="dapvar1",in_scope="true",value="4"}]` + "\n(gdb)\n")
	})

	key := Key{ThreadID: 1, FrameID: 0, StackDepth: 2, Expression: "i"}
	o, err := c.Create(context.Background(), key)
	require.NoError(t, err)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "4", o.Value)
}

func TestObject_IsArrayDetectsBracketedType(t *testing.T) {
	o := &Object{Type: "int [10]"}
	assert.True(t, o.IsArray())

	o2 := &Object{Type: "struct point"}
	assert.False(t, o2.IsArray())
}
