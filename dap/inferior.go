package dap

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/creack/pty"
	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opendbg/gdbdap/util/ioset"
)

// inferior bridges the debuggee's terminal to the DAP client's
// integrated terminal via a unix domain socket and a runInTerminal
// reverse request, the way an interactive "integratedTerminal" launch
// console works: the client spawns its own terminal, which connects
// back to SocketPath and is then wired directly to the inferior's pty.
//
// GDB is told to attach the inferior's stdio to the pty's slave side
// via -inferior-tty-set, so none of the inferior's IO ever touches
// gdbdap's own stdio (which is busy carrying the DAP wire protocol).
type inferior struct {
	SocketPath string

	// sem admits only one connected terminal at a time, the same
	// single-occupant invariant the build-container shell enforces
	// around its own invocation.
	sem *semaphore.Weighted

	ptmx *os.File
	pts  *os.File

	once sync.Once
	err  error
	l    net.Listener
	eg   *errgroup.Group

	mu        sync.RWMutex
	fwd       *ioset.Forwarder
	connected chan struct{}
}

func newInferior() *inferior {
	return &inferior{
		sem:       semaphore.NewWeighted(1),
		connected: make(chan struct{}),
	}
}

// Init allocates a pty and starts listening for the client's terminal
// to connect. TTYPath names the slave side, suitable for
// -inferior-tty-set.
func (in *inferior) Init() error {
	in.once.Do(func() {
		ptmx, pts, err := pty.Open()
		if err != nil {
			in.err = errors.Wrap(err, "allocating pty")
			return
		}
		in.ptmx, in.pts = ptmx, pts

		dir, err := os.MkdirTemp("", "gdbdap-term")
		if err != nil {
			in.err = err
			return
		}
		in.SocketPath = filepath.Join(dir, "term.sock")

		in.l, in.err = net.Listen("unix", in.SocketPath)
		if in.err != nil {
			return
		}

		in.eg, _ = errgroup.WithContext(context.Background())
		in.eg.Go(in.acceptLoop)
	})
	return in.err
}

// TTYPath is the slave pty path to hand to -inferior-tty-set.
func (in *inferior) TTYPath() string {
	if in.pts == nil {
		return ""
	}
	return in.pts.Name()
}

func (in *inferior) acceptLoop() error {
	for {
		conn, err := in.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		in.accept(conn)
	}
}

func (in *inferior) accept(conn net.Conn) {
	if !in.sem.TryAcquire(1) {
		fmt.Fprintln(conn, "Error: a terminal is already attached to this session.")
		conn.Close()
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	fwd := ioset.NewForwarder()
	fwd.SetIn(&ioset.In{
		Stdin:  io.NopCloser(conn),
		Stdout: conn,
		Stderr: nopCloser{conn},
	})
	fwd.SetOut(&ioset.Out{
		Stdin:  in.ptmx,
		Stdout: in.ptmx,
		Stderr: io.NopCloser(io.LimitReader(nil, 0)),
	})
	in.fwd = fwd
	close(in.connected)
}

// SendRunInTerminalRequest asks the client to open an integrated
// terminal that execs a small helper connecting back to SocketPath.
func (in *inferior) SendRunInTerminalRequest(ctx Context) error {
	self, err := os.Executable()
	if err != nil {
		self = "gdbdap"
	}
	req := &dap.RunInTerminalRequest{
		Request: dap.Request{Command: "runInTerminal"},
		Arguments: dap.RunInTerminalRequestArguments{
			Kind: "integrated",
			Args: []string{self, "attach", in.SocketPath},
		},
	}

	resp := ctx.Request(req)
	if !resp.GetResponse().Success {
		return errors.Errorf("runInTerminal request failed: %s", resp.GetResponse().Message)
	}
	return nil
}

// Close tears down the pty, listener, and any attached terminal, and
// releases the attach slot so a later session reusing this inferior
// (there is none today, but Close is idempotent regardless) could
// accept a fresh connection.
func (in *inferior) Close() error {
	in.mu.Lock()
	fwd := in.fwd
	in.fwd = nil
	in.mu.Unlock()

	if fwd != nil {
		fwd.Close()
		in.sem.Release(1)
	}
	if in.l != nil {
		in.l.Close()
	}
	if in.ptmx != nil {
		in.ptmx.Close()
	}
	if in.pts != nil {
		in.pts.Close()
	}
	return nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
