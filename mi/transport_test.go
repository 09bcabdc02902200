package mi

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGdb is a minimal stand-in for a GDB/MI child process: it reads
// commands off its stdin and writes scripted responses to its stdout.
type fakeGdb struct {
	toGdb   *io.PipeReader
	toGdbW  *io.PipeWriter
	fromGdb *io.PipeWriter
	fromGdbR *io.PipeReader
}

func newFakeGdb() *fakeGdb {
	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()
	return &fakeGdb{
		toGdb:    pr1,
		toGdbW:   pw1,
		fromGdb:  pw2,
		fromGdbR: pr2,
	}
}

func TestTransport_SendReceivesMatchingToken(t *testing.T) {
	fake := newFakeGdb()
	tr := NewTransport(fake.fromGdbR, fake.toGdbW)

	go func() {
		buf := make([]byte, 256)
		n, err := fake.toGdb.Read(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])
		assert.Equal(t, "1-break-insert main.c:10\n", cmd)
		io.WriteString(fake.fromGdb, "1^done,bkpt={number=\"1\",line=\"10\"}\n(gdb)\n")
	}()

	rec, err := tr.Send(context.Background(), "break-insert", "main.c:10")
	require.NoError(t, err)
	assert.Equal(t, "done", rec.Class)
	num, _ := rec.Get("bkpt")
	line, _ := num.Tuple.GetString("line")
	assert.Equal(t, "10", line)
}

// TestTransport_OnePendingSlotPerToken exercises the correlator
// property: two concurrent Sends each get exactly their own result,
// never the other's, even when GDB answers them out of the order they
// were issued in (which cannot happen with a single-threaded GDB, but
// the correlator must not assume ordering either).
func TestTransport_OnePendingSlotPerToken(t *testing.T) {
	fake := newFakeGdb()
	tr := NewTransport(fake.fromGdbR, fake.toGdbW)

	gotCmds := make(chan string, 2)
	go func() {
		buf := make([]byte, 256)
		for i := 0; i < 2; i++ {
			n, err := fake.toGdb.Read(buf)
			if err != nil {
				return
			}
			gotCmds <- string(buf[:n])
		}
		// Answer token 2 first, then token 1, to prove replies are
		// routed by token rather than by send order.
		io.WriteString(fake.fromGdb, "2^done,value=\"two\"\n(gdb)\n")
		io.WriteString(fake.fromGdb, "1^done,value=\"one\"\n(gdb)\n")
	}()

	type result struct {
		rec Record
		err error
	}
	ch1 := make(chan result, 1)
	ch2 := make(chan result, 1)

	go func() {
		rec, err := tr.Send(context.Background(), "var-evaluate-expression", "a")
		ch1 <- result{rec, err}
	}()
	<-gotCmds // ensure token 1 sent before token 2 to make tokens deterministic
	go func() {
		rec, err := tr.Send(context.Background(), "var-evaluate-expression", "b")
		ch2 <- result{rec, err}
	}()
	<-gotCmds

	r1 := <-ch1
	r2 := <-ch2
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)

	v1, _ := r1.rec.GetString("value")
	v2, _ := r2.rec.GetString("value")
	assert.Equal(t, "one", v1)
	assert.Equal(t, "two", v2)
}

func TestTransport_GdbErrorResult(t *testing.T) {
	fake := newFakeGdb()
	tr := NewTransport(fake.fromGdbR, fake.toGdbW)

	go func() {
		buf := make([]byte, 256)
		fake.toGdb.Read(buf)
		io.WriteString(fake.fromGdb, `1^error,msg="No symbol table is loaded."`+"\n(gdb)\n")
	}()

	_, err := tr.Send(context.Background(), "break-insert", "main.c:10")
	require.Error(t, err)

	var mierr *Error
	require.ErrorAs(t, err, &mierr)
	assert.Equal(t, GdbError, mierr.Kind)
	assert.Contains(t, mierr.Message, "No symbol table")
}

func TestTransport_CloseUnblocksPendingSend(t *testing.T) {
	fake := newFakeGdb()
	tr := NewTransport(fake.fromGdbR, fake.toGdbW)

	go func() {
		buf := make([]byte, 256)
		fake.toGdb.Read(buf)
		// Simulate the debugger process dying without answering.
		fake.fromGdb.Close()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := tr.Send(context.Background(), "exec-continue")
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		var mierr *Error
		require.ErrorAs(t, err, &mierr)
		assert.Equal(t, TransportClosed, mierr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not unblock after transport closed")
	}
}
