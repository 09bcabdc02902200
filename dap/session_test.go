package dap

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGdb is a minimal stand-in for a GDB/MI child process, matching
// the harness the mi package's own tests use: it reads commands off
// its stdin pipe and writes scripted responses to its stdout pipe.
type fakeGdb struct {
	toGdb    *io.PipeReader
	toGdbW   *io.PipeWriter
	fromGdb  *io.PipeWriter
	fromGdbR *io.PipeReader
}

func newFakeGdb() *fakeGdb {
	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()
	return &fakeGdb{toGdb: pr1, toGdbW: pw1, fromGdb: pw2, fromGdbR: pr2}
}

func (f *fakeGdb) readCmd(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := f.toGdb.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func (f *fakeGdb) write(s string) {
	io.WriteString(f.fromGdb, s)
}

// newTestSession builds a Session wired directly to a fakeGdb's pipes,
// bypassing Spawn (which would exec a real gdb binary), the same way
// mi/commands_test.go's newTestCommands avoids spawning anything real.
func newTestSession(t *testing.T) (*Session, *fakeGdb) {
	t.Helper()
	fake := newFakeGdb()
	log := logrus.NewEntry(logrus.New())
	s := NewSession(nil, fake.toGdbW, fake.fromGdbR, log)
	return s, fake
}

// fakeContext is a minimal Context for driving handlers directly in
// tests, without a real Server/Conn. Go runs fn synchronously against
// the same fakeContext rather than spawning a server-managed goroutine,
// which is enough for handlers that only ever push to C() or issue a
// reverse Request.
type fakeContext struct {
	context.Context
	events []dap.Message
}

func newFakeContext() *fakeContext {
	return &fakeContext{Context: context.Background()}
}

func (f *fakeContext) C() chan<- dap.Message {
	ch := make(chan dap.Message, 64)
	go func() {
		for m := range ch {
			f.events = append(f.events, m)
		}
	}()
	return ch
}

func (f *fakeContext) Go(fn func(c Context)) bool {
	fn(f)
	return true
}

func (f *fakeContext) Request(req dap.RequestMessage) dap.ResponseMessage {
	resp := &dap.Response{}
	resp.Success = true
	return resp
}

func TestSession_StackTraceScopesVariables(t *testing.T) {
	s, fake := newTestSession(t)
	ctx := newFakeContext()

	go func() {
		cmd := fake.readCmd(t)
		assert.Equal(t, "1-stack-list-frames --thread 1\n", cmd)
		fake.write(`1^done,stack=[frame={level="0",addr="0x1",func="main",fullname="/tmp/vars.c",line="20"}]` + "\n(gdb)\n")

		cmd = fake.readCmd(t)
		assert.Equal(t, "2-stack-info-depth --thread 1\n", cmd)
		fake.write("2^done,depth=\"1\"\n(gdb)\n")

		cmd = fake.readCmd(t)
		assert.Equal(t, "3-stack-list-variables --thread 1 --frame 0 --no-values\n", cmd)
		fake.write(`3^done,variables=[{name="i"}]` + "\n(gdb)\n")

		cmd = fake.readCmd(t)
		assert.Equal(t, "4-thread-select 1\n", cmd)
		fake.write(`4^done,new-thread-id="1"` + "\n(gdb)\n")

		cmd = fake.readCmd(t)
		assert.Equal(t, "5-stack-select-frame 0\n", cmd)
		fake.write("5^done\n(gdb)\n")

		cmd = fake.readCmd(t)
		assert.Contains(t, cmd, "-var-create")
		fake.write(`6^done,name="dapvar1",numchild="0",value="3",type="int"` + "\n(gdb)\n")
	}()

	req := &dap.StackTraceRequest{Arguments: dap.StackTraceArguments{ThreadId: 1}}
	resp := &dap.StackTraceResponse{}
	require.NoError(t, s.StackTrace(ctx, req, resp))
	require.Len(t, resp.Body.StackFrames, 1)
	assert.Equal(t, "main", resp.Body.StackFrames[0].Name)
	frameID := resp.Body.StackFrames[0].Id

	scopesReq := &dap.ScopesRequest{Arguments: dap.ScopesArguments{FrameId: frameID}}
	scopesResp := &dap.ScopesResponse{}
	require.NoError(t, s.Scopes(ctx, scopesReq, scopesResp))
	require.Len(t, scopesResp.Body.Scopes, 1)
	assert.Equal(t, "Locals", scopesResp.Body.Scopes[0].Name)

	varsReq := &dap.VariablesRequest{Arguments: dap.VariablesArguments{VariablesReference: scopesResp.Body.Scopes[0].VariablesReference}}
	varsResp := &dap.VariablesResponse{}
	require.NoError(t, s.Variables(ctx, varsReq, varsResp))
	require.Len(t, varsResp.Body.Variables, 1)
	assert.Equal(t, "i", varsResp.Body.Variables[0].Name)
	assert.Equal(t, "3", varsResp.Body.Variables[0].Value)
}

func TestSession_StackTraceStaleFrameReturnsEmptyScopes(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := newFakeContext()

	req := &dap.ScopesRequest{Arguments: dap.ScopesArguments{FrameId: 999}}
	resp := &dap.ScopesResponse{}
	require.NoError(t, s.Scopes(ctx, req, resp))
	assert.Empty(t, resp.Body.Scopes)
}

func TestSession_SetBreakpointsIsIdempotent(t *testing.T) {
	s, fake := newTestSession(t)
	ctx := newFakeContext()

	go func() {
		cmd := fake.readCmd(t)
		assert.Equal(t, "1-break-list\n", cmd)
		fake.write("1^done,BreakpointTable={body=[]}\n(gdb)\n")

		cmd = fake.readCmd(t)
		assert.Equal(t, "2-break-insert main.c:10\n", cmd)
		fake.write(`2^done,bkpt={number="1",line="10"}` + "\n(gdb)\n")

		cmd = fake.readCmd(t)
		assert.Equal(t, "3-break-list\n", cmd)
		fake.write(`3^done,BreakpointTable={body=[bkpt={number="1",line="10"}]}` + "\n(gdb)\n")
	}()

	req := &dap.SetBreakpointsRequest{Arguments: dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: "main.c"},
		Breakpoints: []dap.SourceBreakpoint{{Line: 10}},
	}}
	resp := &dap.SetBreakpointsResponse{}
	require.NoError(t, s.SetBreakpoints(ctx, req, resp))
	require.Len(t, resp.Body.Breakpoints, 1)
	assert.True(t, resp.Body.Breakpoints[0].Verified)
	firstID := resp.Body.Breakpoints[0].Id

	// Reconciling the identical set again must not re-issue
	// break-insert: only a fresh break-list is read off fake.toGdb, so a
	// second insert attempt would deadlock the goroutine above trying
	// to read a command that never arrives -- catching that failure
	// mode is exactly the point of this test.
	resp2 := &dap.SetBreakpointsResponse{}
	require.NoError(t, s.SetBreakpoints(ctx, req, resp2))
	require.Len(t, resp2.Body.Breakpoints, 1)
	assert.Equal(t, firstID, resp2.Body.Breakpoints[0].Id)
}

func TestSession_ThreadsList(t *testing.T) {
	s, fake := newTestSession(t)
	ctx := newFakeContext()
	s.running = true

	go func() {
		cmd := fake.readCmd(t)
		assert.Equal(t, "1-thread-info\n", cmd)
		fake.write(`1^done,threads=[{id="1",target-id="Thread 0x1",state="stopped"}]` + "\n(gdb)\n")
	}()

	req := &dap.ThreadsRequest{}
	resp := &dap.ThreadsResponse{}
	require.NoError(t, s.Threads(ctx, req, resp))
	require.Len(t, resp.Body.Threads, 1)
	assert.Equal(t, "Thread 0x1", resp.Body.Threads[0].Name)
}

func TestSession_ThreadsBeforeRunningReturnsEmptyWithoutQueryingGdb(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	s := NewSession(nil, nil, nil, log)
	ctx := newFakeContext()

	req := &dap.ThreadsRequest{}
	resp := &dap.ThreadsResponse{}
	require.NoError(t, s.Threads(ctx, req, resp))
	assert.Empty(t, resp.Body.Threads)
}

func TestSession_ConfigurationDoneRunsLaunchedProgram(t *testing.T) {
	s, fake := newTestSession(t)
	ctx := newFakeContext()
	s.pendingStart = startRun

	go func() {
		cmd := fake.readCmd(t)
		assert.Equal(t, "1-exec-run\n", cmd)
		fake.write("1^running\n(gdb)\n")
	}()

	req := &dap.ConfigurationDoneRequest{}
	resp := &dap.ConfigurationDoneResponse{}
	require.NoError(t, s.ConfigurationDone(ctx, req, resp))
	assert.True(t, s.running)
	assert.Equal(t, startNone, s.pendingStart)
}

func TestSession_ConfigurationDoneContinuesAttachedProgram(t *testing.T) {
	s, fake := newTestSession(t)
	ctx := newFakeContext()
	s.pendingStart = startContinue

	go func() {
		cmd := fake.readCmd(t)
		assert.Equal(t, "1-exec-continue\n", cmd)
		fake.write("1^running\n(gdb)\n")
	}()

	req := &dap.ConfigurationDoneRequest{}
	resp := &dap.ConfigurationDoneResponse{}
	require.NoError(t, s.ConfigurationDone(ctx, req, resp))
	assert.True(t, s.running)
}

func TestSession_EvaluateReplExecRequiresNoExistingTerminal(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := newFakeContext()

	s.term = newInferior()

	req := &dap.EvaluateRequest{Arguments: dap.EvaluateArguments{Context: "repl", Expression: "exec"}}
	resp := &dap.EvaluateResponse{}
	err := s.Evaluate(ctx, req, resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already attached")
}
