package mi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Commands wraps a Transport with typed methods for the subset of the
// GDB/MI command vocabulary a debug adapter needs: execution control,
// breakpoints, stack/thread introspection, and variable objects.
//
// Every method blocks until the corresponding result record arrives
// (or ctx is canceled) and translates a GDB "error" result into a
// *Error with Kind GdbError.
type Commands struct {
	t *Transport
}

// NewCommands wraps t.
func NewCommands(t *Transport) *Commands {
	return &Commands{t: t}
}

// Raw sends an arbitrary MI command verbatim, for callers (e.g. the
// evaluate/repl path) that need to pass through user-typed input.
func (c *Commands) Raw(ctx context.Context, name string, args ...string) (Record, error) {
	return c.t.Send(ctx, name, args...)
}

// ConsoleExec runs expr as if typed at the GDB console, via
// -interpreter-exec console. Used for REPL-style evaluate requests
// that aren't a plain expression.
func (c *Commands) ConsoleExec(ctx context.Context, expr string) (Record, error) {
	return c.t.Send(ctx, "interpreter-exec", "console", QuoteString(expr))
}

// FileExecAndSymbols sets the executable (and implicitly its symbol
// table) to be debugged, per -file-exec-and-symbols.
func (c *Commands) FileExecAndSymbols(ctx context.Context, path string) error {
	_, err := c.t.Send(ctx, "file-exec-and-symbols", QuoteString(path))
	return err
}

// ExecArguments sets the inferior's argv, per -exec-arguments.
func (c *Commands) ExecArguments(ctx context.Context, args []string) error {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = QuoteString(a)
	}
	_, err := c.t.Send(ctx, "exec-arguments", strings.Join(quoted, " "))
	return err
}

// ExecRun starts the inferior, per -exec-run.
func (c *Commands) ExecRun(ctx context.Context) error {
	_, err := c.t.Send(ctx, "exec-run")
	return err
}

// TargetAttach attaches to a running process by pid, per
// -target-attach.
func (c *Commands) TargetAttach(ctx context.Context, pid int) error {
	_, err := c.t.Send(ctx, "target-attach", strconv.Itoa(pid))
	return err
}

// ThreadSelect makes threadID GDB's current thread, per -thread-select.
// Needed before -var-create "*" so the varobj is created against the
// right thread's frame rather than whatever thread GDB last stopped.
func (c *Commands) ThreadSelect(ctx context.Context, threadID int) error {
	_, err := c.t.Send(ctx, "thread-select", strconv.Itoa(threadID))
	return err
}

// StackSelectFrame makes frameLevel GDB's current frame within the
// current thread, per -stack-select-frame.
func (c *Commands) StackSelectFrame(ctx context.Context, frameLevel int) error {
	_, err := c.t.Send(ctx, "stack-select-frame", strconv.Itoa(frameLevel))
	return err
}

// ExecContinue resumes execution, per -exec-continue. If threadID is
// non-zero, only that thread is resumed (--thread); otherwise all
// threads resume.
func (c *Commands) ExecContinue(ctx context.Context, threadID int) error {
	args := threadArgs(threadID)
	_, err := c.t.Send(ctx, "exec-continue", args...)
	return err
}

// ExecNext steps over one source line, per -exec-next.
func (c *Commands) ExecNext(ctx context.Context, threadID int) error {
	_, err := c.t.Send(ctx, "exec-next", threadArgs(threadID)...)
	return err
}

// ExecStep steps into one source line, per -exec-step.
func (c *Commands) ExecStep(ctx context.Context, threadID int) error {
	_, err := c.t.Send(ctx, "exec-step", threadArgs(threadID)...)
	return err
}

// ExecFinish runs until the current function returns, per
// -exec-finish.
func (c *Commands) ExecFinish(ctx context.Context, threadID int) error {
	_, err := c.t.Send(ctx, "exec-finish", threadArgs(threadID)...)
	return err
}

// ExecInterrupt requests a stop of the running inferior, per
// -exec-interrupt. GDB answers this asynchronously via the usual
// *stopped notification rather than in the result record.
func (c *Commands) ExecInterrupt(ctx context.Context, threadID int) error {
	_, err := c.t.Send(ctx, "exec-interrupt", threadArgs(threadID)...)
	return err
}

// ExecAbort kills the inferior without exiting GDB, per -exec-abort.
func (c *Commands) ExecAbort(ctx context.Context) error {
	_, err := c.t.Send(ctx, "exec-abort")
	return err
}

// GdbExit terminates the GDB process itself, per -gdb-exit.
func (c *Commands) GdbExit(ctx context.Context) error {
	_, err := c.t.Send(ctx, "gdb-exit")
	return err
}

func threadArgs(threadID int) []string {
	if threadID <= 0 {
		return nil
	}
	return []string{"--thread", strconv.Itoa(threadID)}
}

// Breakpoint mirrors the bkpt tuple returned by -break-insert and
// -break-list.
type Breakpoint struct {
	Number    string
	Type      string
	Enabled   bool
	File      string
	Line      int
	Func      string
	Address   string
	Condition string
	Temporary bool
}

func breakpointFromFields(fields ResultList) Breakpoint {
	bp := Breakpoint{}
	bp.Number, _ = fields.GetString("number")
	bp.Type, _ = fields.GetString("type")
	if s, ok := fields.GetString("enabled"); ok {
		bp.Enabled = s == "y"
	}
	bp.File, _ = fields.GetString("file")
	if s, ok := fields.GetString("line"); ok {
		bp.Line, _ = strconv.Atoi(s)
	}
	bp.Func, _ = fields.GetString("func")
	bp.Address, _ = fields.GetString("addr")
	bp.Condition, _ = fields.GetString("cond")
	if s, ok := fields.GetString("disp"); ok {
		bp.Temporary = s == "del"
	}
	return bp
}

// BreakInsertOptions configures -break-insert.
type BreakInsertOptions struct {
	Temporary bool
	Condition string
}

// BreakInsert sets a breakpoint at location (e.g. "file.c:42"), per
// -break-insert.
func (c *Commands) BreakInsert(ctx context.Context, location string, opts BreakInsertOptions) (Breakpoint, error) {
	args := []string{}
	if opts.Temporary {
		args = append(args, "-t")
	}
	if opts.Condition != "" {
		args = append(args, "-c", QuoteString(opts.Condition))
	}
	args = append(args, location)

	rec, err := c.t.Send(ctx, "break-insert", args...)
	if err != nil {
		return Breakpoint{}, err
	}
	v, ok := rec.Get("bkpt")
	if !ok || v.Kind != ValueTuple {
		return Breakpoint{}, &Error{Kind: Protocol, Message: "break-insert: missing bkpt tuple"}
	}
	return breakpointFromFields(v.Tuple), nil
}

// BreakDelete removes the named breakpoints, per -break-delete.
func (c *Commands) BreakDelete(ctx context.Context, numbers []string) error {
	if len(numbers) == 0 {
		return nil
	}
	_, err := c.t.Send(ctx, "break-delete", numbers...)
	return err
}

// BreakList enumerates all current breakpoints, per -break-list.
func (c *Commands) BreakList(ctx context.Context) ([]Breakpoint, error) {
	rec, err := c.t.Send(ctx, "break-list")
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("BreakpointTable")
	if !ok || v.Kind != ValueTuple {
		return nil, nil
	}
	body, ok := v.Tuple.Get("body")
	if !ok || body.Kind != ValueList {
		return nil, nil
	}
	var out []Breakpoint
	for _, bkpt := range body.Results.All("bkpt") {
		if bkpt.Kind == ValueTuple {
			out = append(out, breakpointFromFields(bkpt.Tuple))
		}
	}
	for _, el := range body.Elements {
		if el.Kind == ValueTuple {
			if bk, ok := el.Tuple.Get("bkpt"); ok && bk.Kind == ValueTuple {
				out = append(out, breakpointFromFields(bk.Tuple))
			}
		}
	}
	return out, nil
}

// Thread mirrors one entry of -thread-info's threads list.
type Thread struct {
	ID     int
	Name   string
	State  string // "running" or "stopped"
	FrameL string
}

// ThreadInfo enumerates inferior threads, per -thread-info.
func (c *Commands) ThreadInfo(ctx context.Context) ([]Thread, error) {
	rec, err := c.t.Send(ctx, "thread-info")
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("threads")
	if !ok || v.Kind != ValueList {
		return nil, nil
	}
	var out []Thread
	for _, el := range v.Elements {
		out = append(out, threadFromFields(el.Tuple))
	}
	return out, nil
}

func threadFromFields(fields ResultList) Thread {
	th := Thread{}
	if s, ok := fields.GetString("id"); ok {
		th.ID, _ = strconv.Atoi(s)
	}
	th.Name, _ = fields.GetString("target-id")
	th.State, _ = fields.GetString("state")
	return th
}

// StackDepth returns the number of frames on threadID's stack, per
// -stack-info-depth.
func (c *Commands) StackDepth(ctx context.Context, threadID int) (int, error) {
	rec, err := c.t.Send(ctx, "stack-info-depth", threadArgs(threadID)...)
	if err != nil {
		return 0, err
	}
	s, _ := rec.GetString("depth")
	n, _ := strconv.Atoi(s)
	return n, nil
}

// Frame mirrors one frame tuple from -stack-list-frames.
type Frame struct {
	Level int
	Addr  string
	Func  string
	File  string
	Line  int
}

func frameFromFields(fields ResultList) Frame {
	f := Frame{}
	if s, ok := fields.GetString("level"); ok {
		f.Level, _ = strconv.Atoi(s)
	}
	f.Addr, _ = fields.GetString("addr")
	f.Func, _ = fields.GetString("func")
	f.File, _ = fields.GetString("fullname")
	if f.File == "" {
		f.File, _ = fields.GetString("file")
	}
	if s, ok := fields.GetString("line"); ok {
		f.Line, _ = strconv.Atoi(s)
	}
	return f
}

// StackListFrames lists threadID's call stack, per -stack-list-frames.
func (c *Commands) StackListFrames(ctx context.Context, threadID int) ([]Frame, error) {
	rec, err := c.t.Send(ctx, "stack-list-frames", threadArgs(threadID)...)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("stack")
	if !ok || v.Kind != ValueList {
		return nil, nil
	}
	var out []Frame
	for _, el := range v.Results.All("frame") {
		out = append(out, frameFromFields(el.Tuple))
	}
	for _, el := range v.Elements {
		if fr, ok := el.Tuple.Get("frame"); ok {
			out = append(out, frameFromFields(fr.Tuple))
		}
	}
	return out, nil
}

// StackListVariables lists the local/argument variables visible in
// frame frameID of threadID, per -stack-list-variables.
func (c *Commands) StackListVariables(ctx context.Context, threadID, frameID int) ([]string, error) {
	args := append(threadArgs(threadID), "--frame", strconv.Itoa(frameID), "--no-values")
	rec, err := c.t.Send(ctx, "stack-list-variables", args...)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("variables")
	if !ok || v.Kind != ValueList {
		return nil, nil
	}
	var out []string
	for _, el := range v.Elements {
		if name, ok := el.Tuple.GetString("name"); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// VarObj mirrors the result of -var-create.
type VarObj struct {
	Name        string
	NumChildren int
	Type        string
	Value       string
}

// VarCreate creates a variable object for expr evaluated in the given
// frame, per -var-create. frameSpec is typically "*" for the currently
// selected frame or an explicit frame address.
func (c *Commands) VarCreate(ctx context.Context, name, frameSpec, expr string) (VarObj, error) {
	rec, err := c.t.Send(ctx, "var-create", name, frameSpec, QuoteString(expr))
	if err != nil {
		return VarObj{}, err
	}
	vo := VarObj{Name: name}
	vo.Type, _ = rec.GetString("type")
	vo.Value, _ = rec.GetString("value")
	if s, ok := rec.GetString("numchild"); ok {
		vo.NumChildren, _ = strconv.Atoi(s)
	}
	return vo, nil
}

// VarDelete destroys a variable object (and its children), per
// -var-delete.
func (c *Commands) VarDelete(ctx context.Context, name string) error {
	_, err := c.t.Send(ctx, "var-delete", name)
	return err
}

// VarObjUpdate mirrors one entry of -var-update's changelist.
type VarObjUpdate struct {
	Name     string
	InScope  bool
	TypeChanged bool
	NewType  string
	NewValue string
}

// VarUpdate refreshes the set of variable objects rooted at name (or
// all of them, if name is "*"), per -var-update.
func (c *Commands) VarUpdate(ctx context.Context, name string) ([]VarObjUpdate, error) {
	rec, err := c.t.Send(ctx, "var-update", "--all-values", name)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("changelist")
	if !ok || v.Kind != ValueList {
		return nil, nil
	}
	var out []VarObjUpdate
	for _, el := range v.Elements {
		out = append(out, varUpdateFromFields(el.Tuple))
	}
	return out, nil
}

func varUpdateFromFields(fields ResultList) VarObjUpdate {
	u := VarObjUpdate{}
	u.Name, _ = fields.GetString("name")
	if s, ok := fields.GetString("in_scope"); ok {
		u.InScope = s == "true"
	} else {
		u.InScope = true
	}
	if s, ok := fields.GetString("type_changed"); ok {
		u.TypeChanged = s == "true"
	}
	u.NewType, _ = fields.GetString("new_type")
	u.NewValue, _ = fields.GetString("value")
	return u
}

// VarChild mirrors one entry of -var-list-children.
type VarChild struct {
	Name        string
	Expression  string
	NumChildren int
	Type        string
	Value       string
}

// VarListChildren lists the child variable objects of name, per
// -var-list-children.
func (c *Commands) VarListChildren(ctx context.Context, name string) ([]VarChild, error) {
	rec, err := c.t.Send(ctx, "var-list-children", "--all-values", name)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("children")
	if !ok || v.Kind != ValueList {
		return nil, nil
	}
	var out []VarChild
	for _, el := range v.Results.All("child") {
		out = append(out, varChildFromFields(el.Tuple))
	}
	for _, el := range v.Elements {
		if ch, ok := el.Tuple.Get("child"); ok {
			out = append(out, varChildFromFields(ch.Tuple))
		}
	}
	return out, nil
}

func varChildFromFields(fields ResultList) VarChild {
	vc := VarChild{}
	vc.Name, _ = fields.GetString("name")
	vc.Expression, _ = fields.GetString("exp")
	if s, ok := fields.GetString("numchild"); ok {
		vc.NumChildren, _ = strconv.Atoi(s)
	}
	vc.Type, _ = fields.GetString("type")
	vc.Value, _ = fields.GetString("value")
	return vc
}

// VarAssign sets the value of a variable object, per -var-assign. It
// returns the value GDB echoes back, which may differ from value if
// GDB normalized it.
func (c *Commands) VarAssign(ctx context.Context, name, value string) (string, error) {
	rec, err := c.t.Send(ctx, "var-assign", name, QuoteString(value))
	if err != nil {
		return "", err
	}
	v, _ := rec.GetString("value")
	return v, nil
}

// VarEvaluateExpression returns the current printed value of a
// variable object, per -var-evaluate-expression.
func (c *Commands) VarEvaluateExpression(ctx context.Context, name string) (string, error) {
	rec, err := c.t.Send(ctx, "var-evaluate-expression", name)
	if err != nil {
		return "", err
	}
	v, _ := rec.GetString("value")
	return v, nil
}

// StopReason is the well-known value of the "reason" field on a
// *stopped async record.
type StopReason string

const (
	StopBreakpointHit     StopReason = "breakpoint-hit"
	StopWatchpointTrigger StopReason = "watchpoint-trigger"
	StopEndSteppingRange  StopReason = "end-stepping-range"
	StopFunctionFinished  StopReason = "function-finished"
	StopSignalReceived    StopReason = "signal-received"
	StopExitedNormally    StopReason = "exited-normally"
	StopExited            StopReason = "exited"
	StopExitedSignalled   StopReason = "exited-signalled"
)

// StoppedEvent summarizes the fields this adapter needs out of a
// *stopped async-exec record.
type StoppedEvent struct {
	Reason     StopReason
	ThreadID   int
	AllStopped bool
	BreakpointNumber string
}

// ParseStopped extracts a StoppedEvent from a *stopped record's
// fields. Callers should check rec.Class == "stopped" first.
func ParseStopped(fields ResultList) StoppedEvent {
	ev := StoppedEvent{}
	if s, ok := fields.GetString("reason"); ok {
		ev.Reason = StopReason(s)
	}
	if s, ok := fields.GetString("thread-id"); ok {
		ev.ThreadID, _ = strconv.Atoi(s)
	}
	if s, ok := fields.GetString("stopped-threads"); ok {
		ev.AllStopped = s == "all"
	}
	if s, ok := fields.GetString("bkptno"); ok {
		ev.BreakpointNumber = s
	}
	return ev
}

// ErrOutOfScope is an error value describing a variable object that
// has left scope. VarUpdate does not return it; it reports that case
// through VarObjUpdate.InScope.
var ErrOutOfScope = fmt.Errorf("mi: variable object left scope")
