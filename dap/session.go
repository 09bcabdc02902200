package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opendbg/gdbdap/mi"
	"github.com/opendbg/gdbdap/varobj"
)

// LaunchConfig is the Arguments payload of a "launch" request: gdbdap
// spawns GDB itself and hands it the program to debug.
type LaunchConfig struct {
	// GdbPath overrides the gdb binary used; defaults to "gdb" on PATH.
	GdbPath string `json:"gdbPath"`
	// Program is the executable to debug.
	Program string `json:"program"`
	// Args is the inferior's argv (not including argv[0]).
	Args []string `json:"args"`
	// Cwd overrides the working directory GDB (and the inferior) runs in.
	Cwd string `json:"cwd"`
	// StopAtEntry requests a breakpoint at main before the first
	// continue, independent of any breakpoints the client sets.
	StopAtEntry bool `json:"stopAtEntry"`
	// Console selects how the inferior's stdio is attached: "internalConsole"
	// (default, share gdbdap's own stdio) or "integratedTerminal" (request
	// a runInTerminal reverse request and bridge a pty).
	Console string `json:"console"`
}

// AttachConfig is the Arguments payload of an "attach" request:
// gdbdap spawns GDB and attaches it to an already-running process.
type AttachConfig struct {
	GdbPath   string `json:"gdbPath"`
	Program   string `json:"program"`
	ProcessID int    `json:"processId"`
}

// Session is the DAP-facing debugging session for a single GDB child
// process. It owns the typed MI command layer, the variable object
// cache, and the generational frame/variable handle tables, and
// translates between DAP requests/events and MI commands/records.
//
// Handlers run concurrently (the Server dispatches one goroutine per
// inbound request). Session.mu only guards the bookkeeping fields
// listed under it and is never held across an MI command; ordering
// between commands comes from GDB, which processes one MI command at
// a time.
type Session struct {
	log *logrus.Entry

	cmd       *exec.Cmd
	transport *mi.Transport
	cmds      *mi.Commands
	vars      *varobj.Cache

	term *inferior

	mu           sync.Mutex
	threads      map[int]*threadState
	frames       *handleTable[frameHandle]
	varRefs      *handleTable[varHandle]
	breakpoints  *breakpointSet
	running      bool
	pendingStart startMode
	programPath  string

	eventCh chan dap.Message

	// DefaultGdbPath is used for a launch/attach request that leaves
	// gdbPath unset, letting a serve-time config pick the gdb binary
	// once for every session a process serves.
	DefaultGdbPath string
}

// startMode records how a launched/attached inferior should be set
// running once configurationDone arrives: the client sends
// setBreakpoints between initialized and configurationDone, so the
// actual -exec-run/-exec-continue must wait until then rather than
// fire at the end of Launch/Attach.
type startMode int

const (
	startNone startMode = iota
	startRun
	startContinue
)

// threadState is what Session tracks per inferior thread between
// stops: just enough to answer StackTrace without re-querying GDB for
// every request, and invalidated (recomputed) on the next stop.
type threadState struct {
	id         int
	name       string
	stackDepth int
	frames     []mi.Frame
}

// NewSession constructs a Session. When stdin/stdout are given, it
// wires them up as an already-spawned GDB process communicating over
// an MI2 interpreter; if both are nil, the Session starts with no
// GDB process attached at all, its transport/commands/varobj cache
// left nil until a Launch or Attach request spawns one and adopts it
// -- this is the shape a freshly constructed serve-time Session takes,
// since no DAP client has sent launch/attach yet.
func NewSession(cmd *exec.Cmd, stdin io.Writer, stdout io.Reader, log *logrus.Entry) *Session {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("session", uuid.NewString())
	s := &Session{
		log:         log,
		cmd:         cmd,
		threads:     make(map[int]*threadState),
		frames:      newHandleTable[frameHandle](),
		varRefs:     newHandleTable[varHandle](),
		breakpoints: newBreakpointSet(),
		eventCh:     make(chan dap.Message, 64),
	}

	if stdin == nil && stdout == nil {
		return s
	}

	s.transport = mi.NewTransport(stdout, stdin,
		mi.WithAsyncHandler(s.onAsync),
		mi.WithStreamHandler(s.onStream),
		mi.WithLogger(log),
	)
	s.cmds = mi.NewCommands(s.transport)
	s.vars = varobj.NewCache(s.cmds)
	return s
}

// Spawn starts "<gdbPath> --interpreter=mi2 -q --nx" and returns a
// Session wired to its pipes. The caller is responsible for eventually
// cleaning up the process; Disconnect does so for the Session that
// adopted it.
func Spawn(gdbPath string, log *logrus.Entry) (*Session, error) {
	if gdbPath == "" {
		gdbPath = "gdb"
	}
	cmd := exec.Command(gdbPath, "--interpreter=mi2", "-q", "--nx")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "gdb stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "gdb stdout pipe")
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting gdb")
	}

	sess := NewSession(cmd, stdin, stdout, log)

	// Enable MI async mode so -exec-interrupt (and other async exec
	// commands) work while the inferior is running; older GDB builds
	// only recognize the equivalent target-async setting, so a failure
	// here is logged and otherwise ignored rather than failing the
	// whole launch.
	if _, err := sess.cmds.Raw(context.Background(), "gdb-set", "mi-async", "on"); err != nil {
		if _, err := sess.cmds.Raw(context.Background(), "gdb-set", "target-async", "on"); err != nil {
			log.WithError(err).Debug("gdbdap: could not enable MI async mode")
		}
	}

	return sess, nil
}

// Handler returns the dap.Handler bound to this Session's methods,
// ready to be passed to NewServer.
func (s *Session) Handler() Handler {
	return Handler{
		Initialize:        s.Initialize,
		Launch:            s.Launch,
		Attach:            s.Attach,
		SetBreakpoints:    s.SetBreakpoints,
		ConfigurationDone: s.ConfigurationDone,
		Disconnect:        s.Disconnect,
		Terminate:         s.TerminateRequest,
		Continue:          s.Continue,
		Next:              s.Next,
		StepIn:            s.StepIn,
		StepOut:           s.StepOut,
		Pause:             s.Pause,
		Threads:           s.Threads,
		StackTrace:        s.StackTrace,
		Scopes:            s.Scopes,
		Variables:         s.Variables,
		SetVariable:       s.SetVariable,
		Evaluate:          s.Evaluate,
	}
}

func (s *Session) Initialize(c Context, req *dap.InitializeRequest, resp *dap.InitializeResponse) error {
	resp.Body.SupportsConfigurationDoneRequest = true
	resp.Body.SupportsEvaluateForHovers = true
	resp.Body.SupportsSetVariable = true
	resp.Body.SupportsConditionalBreakpoints = true
	resp.Body.SupportsRestartRequest = false
	resp.Body.SupportsRunInTerminalRequest = true
	resp.Body.SupportTerminateDebuggee = true
	resp.Body.SupportsTerminateRequest = true

	// Forward the pump loop's events to the client for the lifetime of
	// this connection. Started here (rather than in Launch) so
	// initialized/output events that precede launch, if any, aren't lost.
	c.Go(s.pumpEvents)

	c.Go(func(c Context) {
		c.C() <- &dap.InitializedEvent{Event: newEvent("initialized")}
	})
	return nil
}

func (s *Session) pumpEvents(c Context) {
	for {
		select {
		case ev, ok := <-s.eventCh:
			if !ok {
				return
			}
			c.C() <- ev
		case <-c.Done():
			return
		}
	}
}

func newEvent(event string) dap.Event {
	return dap.Event{Event: event}
}

func (s *Session) Launch(c Context, req *dap.LaunchRequest, resp *dap.LaunchResponse) error {
	var cfg LaunchConfig
	if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
		return &mi.Error{Kind: mi.InvalidArgs, Message: err.Error()}
	}
	if cfg.Program == "" {
		return &mi.Error{Kind: mi.InvalidArgs, Message: "launch requires a program"}
	}

	if cfg.GdbPath == "" {
		cfg.GdbPath = s.DefaultGdbPath
	}
	sess, err := Spawn(cfg.GdbPath, s.log)
	if err != nil {
		return err
	}
	s.adopt(sess)

	ctx := context.Background()
	if err := s.cmds.FileExecAndSymbols(ctx, cfg.Program); err != nil {
		return err
	}
	if len(cfg.Args) > 0 {
		if err := s.cmds.ExecArguments(ctx, cfg.Args); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.programPath = cfg.Program
	s.mu.Unlock()

	if cfg.StopAtEntry {
		if _, err := s.cmds.BreakInsert(ctx, "main", mi.BreakInsertOptions{Temporary: true}); err != nil {
			s.log.WithError(err).Warn("gdbdap: could not set entry breakpoint")
		}
	}

	if cfg.Console == "integratedTerminal" {
		s.term = newInferior()
		if err := s.term.Init(); err != nil {
			return err
		}
		if _, err := s.cmds.Raw(ctx, "inferior-tty-set", s.term.TTYPath()); err != nil {
			s.log.WithError(err).Warn("gdbdap: inferior-tty-set failed, falling back to inherited stdio")
		}
		if err := s.term.SendRunInTerminalRequest(c); err != nil {
			s.log.WithError(err).Warn("gdbdap: runInTerminal request failed, falling back to inherited stdio")
		}
	}

	s.mu.Lock()
	s.pendingStart = startRun
	s.mu.Unlock()
	return nil
}

func (s *Session) Attach(c Context, req *dap.AttachRequest, resp *dap.AttachResponse) error {
	var cfg AttachConfig
	if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
		return &mi.Error{Kind: mi.InvalidArgs, Message: err.Error()}
	}
	if cfg.ProcessID == 0 {
		return &mi.Error{Kind: mi.InvalidArgs, Message: "attach requires processId"}
	}

	if cfg.GdbPath == "" {
		cfg.GdbPath = s.DefaultGdbPath
	}
	sess, err := Spawn(cfg.GdbPath, s.log)
	if err != nil {
		return err
	}
	s.adopt(sess)

	ctx := context.Background()
	if cfg.Program != "" {
		if err := s.cmds.FileExecAndSymbols(ctx, cfg.Program); err != nil {
			return err
		}
		s.mu.Lock()
		s.programPath = cfg.Program
		s.mu.Unlock()
	}
	if err := s.cmds.TargetAttach(ctx, cfg.ProcessID); err != nil {
		return err
	}

	s.mu.Lock()
	s.pendingStart = startContinue
	s.mu.Unlock()
	return nil
}

// adopt copies the freshly-Spawn()ed session's GDB plumbing into s,
// keeping the original s (and the handle tables/event channel it was
// constructed with, which the server's Handler closure already
// captured) as the long-lived identity.
func (s *Session) adopt(other *Session) {
	s.cmd = other.cmd
	s.transport = other.transport
	s.cmds = other.cmds
	s.vars = other.vars
}

// ConfigurationDone is where the inferior actually starts running: the
// client is only guaranteed to have sent setBreakpoints before this
// request, so Launch/Attach only record what to do (see startMode) and
// this is what issues -exec-run/-exec-continue.
func (s *Session) ConfigurationDone(c Context, req *dap.ConfigurationDoneRequest, resp *dap.ConfigurationDoneResponse) error {
	s.mu.Lock()
	mode := s.pendingStart
	s.pendingStart = startNone
	s.running = true
	s.mu.Unlock()

	switch mode {
	case startRun:
		c.Go(func(c Context) {
			if err := s.cmds.ExecRun(context.Background()); err != nil {
				s.log.WithError(err).Error("gdbdap: exec-run failed")
			}
		})
	case startContinue:
		c.Go(func(c Context) {
			if err := s.cmds.ExecContinue(context.Background(), 0); err != nil {
				s.log.WithError(err).Error("gdbdap: exec-continue failed")
			}
		})
	}
	return nil
}

func (s *Session) Disconnect(c Context, req *dap.DisconnectRequest, resp *dap.DisconnectResponse) error {
	ctx := context.Background()
	if req.Arguments.TerminateDebuggee {
		_ = s.cmds.ExecAbort(ctx)
	}
	_ = s.cmds.GdbExit(ctx)
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.term != nil {
		_ = s.term.Close()
	}
	close(s.eventCh)
	return nil
}

func (s *Session) TerminateRequest(c Context, req *dap.TerminateRequest, resp *dap.TerminateResponse) error {
	return s.cmds.ExecAbort(context.Background())
}

func (s *Session) Continue(c Context, req *dap.ContinueRequest, resp *dap.ContinueResponse) error {
	resp.Body.AllThreadsContinued = true
	return s.cmds.ExecContinue(context.Background(), req.Arguments.ThreadId)
}

func (s *Session) Next(c Context, req *dap.NextRequest, resp *dap.NextResponse) error {
	return s.cmds.ExecNext(context.Background(), req.Arguments.ThreadId)
}

func (s *Session) StepIn(c Context, req *dap.StepInRequest, resp *dap.StepInResponse) error {
	return s.cmds.ExecStep(context.Background(), req.Arguments.ThreadId)
}

func (s *Session) StepOut(c Context, req *dap.StepOutRequest, resp *dap.StepOutResponse) error {
	return s.cmds.ExecFinish(context.Background(), req.Arguments.ThreadId)
}

// Pause emulates DAP's pause request, which MI has no direct
// equivalent for. -exec-interrupt is tried first since it is the
// MI-native way to stop a running inferior. If GDB rejects it, the
// fallback is a SIGINT to the inferior's process group, sent only when
// inferiorPID reports a pid; inferiorPID never does, so a rejected
// -exec-interrupt makes Pause return an error.
func (s *Session) Pause(c Context, req *dap.PauseRequest, resp *dap.PauseResponse) error {
	ctx := context.Background()
	if err := s.cmds.ExecInterrupt(ctx, req.Arguments.ThreadId); err == nil {
		return nil
	}

	pid, ok := s.inferiorPID()
	if !ok {
		return &mi.Error{Kind: mi.InvalidArgs, Message: "no running inferior to pause"}
	}
	return unix.Kill(-pid, unix.SIGINT)
}

func (s *Session) inferiorPID() (int, bool) {
	// GDB does not expose the inferior pid over MI directly in a form
	// worth parsing here; -target-attach/-exec-run track it via the
	// *running/*stopped thread-group-started records instead, recorded
	// as part of threadState in a fuller implementation. Conservatively
	// report unknown so Pause falls through to returning an error
	// rather than signalling the wrong process.
	return 0, false
}

func (s *Session) onStream(rec mi.Record) {
	category := "console"
	switch rec.StreamKind {
	case mi.StreamTarget:
		category = "stdout"
	case mi.StreamLog:
		category = "console"
	}
	ev := &dap.OutputEvent{
		Event: newEvent("output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   rec.Text,
		},
	}
	s.pushEvent(ev)
}

func (s *Session) onAsync(rec mi.Record) {
	switch rec.Class {
	case "stopped":
		s.handleStopped(rec)
	case "running":
		s.handleRunning(rec)
	case "thread-created":
		if id, ok := rec.GetString("id"); ok {
			s.pushEvent(&dap.ThreadEvent{
				Event: newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "started", ThreadId: atoi(id)},
			})
		}
	case "thread-exited":
		if id, ok := rec.GetString("id"); ok {
			s.pushEvent(&dap.ThreadEvent{
				Event: newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: atoi(id)},
			})
		}
	case "thread-group-started", "thread-group-exited":
		// Multi-process/multi-inferior debugging is out of scope; these
		// notifications are acknowledged (logged) and otherwise dropped
		// rather than surfaced as DAP events.
		s.log.WithField("class", rec.Class).Debug("gdbdap: ignoring thread-group notification")
	case "breakpoint-modified", "breakpoint-created", "breakpoint-deleted":
		// Surfaced implicitly: the next setBreakpoints reconciliation
		// will observe the change via -break-list. No direct DAP
		// equivalent event is emitted per request, since VS Code does
		// not expect unsolicited breakpoint events outside of the
		// breakpoint event the spec reserves for data breakpoints.
	}
}

func (s *Session) handleRunning(rec mi.Record) {
	threadID := 0
	if id, ok := rec.GetString("thread-id"); ok && id != "all" {
		threadID = atoi(id)
	}
	s.pushEvent(&dap.ContinuedEvent{
		Event: newEvent("continued"),
		Body: dap.ContinuedEventBody{
			ThreadId:            threadID,
			AllThreadsContinued: threadID == 0,
		},
	})
}

func (s *Session) handleStopped(rec mi.Record) {
	ev := mi.ParseStopped(rec.Fields)

	s.mu.Lock()
	s.frames.Reset()
	s.varRefs.Reset()
	s.mu.Unlock()

	if _, err := s.vars.Refresh(context.Background()); err != nil {
		s.log.WithError(err).Debug("gdbdap: varobj refresh after stop failed")
	}

	switch ev.Reason {
	case mi.StopExitedNormally, mi.StopExited, mi.StopExitedSignalled:
		s.pushEvent(&dap.ExitedEvent{Event: newEvent("exited")})
		s.pushEvent(&dap.TerminatedEvent{Event: newEvent("terminated")})
		return
	}

	body := dap.StoppedEventBody{
		ThreadId:         ev.ThreadID,
		AllThreadsStopped: ev.AllStopped,
	}
	switch ev.Reason {
	case mi.StopBreakpointHit:
		body.Reason = "breakpoint"
	case mi.StopEndSteppingRange:
		body.Reason = "step"
	case mi.StopFunctionFinished:
		body.Reason = "step"
	case mi.StopSignalReceived:
		body.Reason = "exception"
	case mi.StopWatchpointTrigger:
		body.Reason = "data breakpoint"
	default:
		body.Reason = "pause"
	}
	s.pushEvent(&dap.StoppedEvent{Event: newEvent("stopped"), Body: body})
}

func (s *Session) pushEvent(ev dap.Message) {
	select {
	case s.eventCh <- ev:
	default:
		s.log.Warn("gdbdap: event channel full, dropping event")
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func (s *Session) Threads(c Context, req *dap.ThreadsRequest, resp *dap.ThreadsResponse) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		resp.Body.Threads = []dap.Thread{}
		return nil
	}

	list, err := s.cmds.ThreadInfo(context.Background())
	if err != nil {
		return err
	}
	resp.Body.Threads = make([]dap.Thread, 0, len(list))
	for _, th := range list {
		name := th.Name
		if name == "" {
			name = fmt.Sprintf("Thread %d", th.ID)
		}
		resp.Body.Threads = append(resp.Body.Threads, dap.Thread{Id: th.ID, Name: name})
	}
	return nil
}

func (s *Session) StackTrace(c Context, req *dap.StackTraceRequest, resp *dap.StackTraceResponse) error {
	ctx := context.Background()
	threadID := req.Arguments.ThreadId

	frames, err := s.cmds.StackListFrames(ctx, threadID)
	if err != nil {
		return err
	}
	depth, err := s.cmds.StackDepth(ctx, threadID)
	if err != nil {
		depth = len(frames)
	}

	s.mu.Lock()
	s.threads[threadID] = &threadState{id: threadID, stackDepth: depth, frames: frames}
	s.mu.Unlock()

	resp.Body.StackFrames = make([]dap.StackFrame, 0, len(frames))
	for _, f := range frames {
		id := s.frames.New(threadID, frameHandle{ThreadID: threadID, FrameLevel: f.Level, StackDepth: depth, Frame: f})
		sf := dap.StackFrame{
			Id:   id,
			Name: f.Func,
			Line: f.Line,
		}
		if f.File != "" {
			sf.Source = &dap.Source{Name: baseName(f.File), Path: f.File}
		}
		resp.Body.StackFrames = append(resp.Body.StackFrames, sf)
	}
	resp.Body.TotalFrames = depth
	return nil
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

