package dap

import (
	"context"
	"fmt"

	"github.com/google/go-dap"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/opendbg/gdbdap/varobj"
)

// Evaluate serves both "repl" expressions typed into the debug console
// and "watch"/"hover" expressions a client evaluates against a stack
// frame. repl expressions are first tried against a small set of
// pseudo-commands ("exec", to attach an interactive shell to the
// inferior's terminal, and "interrupt", to stop a running thread);
// anything else goes to evaluateExpression: against a known frame id it
// is treated as a GDB expression and routed through the variable
// object cache so repeated watch evaluations reuse the same varobj
// instead of re-parsing the expression on every stop, and without one
// it is run on the GDB console.
func (s *Session) Evaluate(c Context, req *dap.EvaluateRequest, resp *dap.EvaluateResponse) error {
	if req.Arguments.Context == "repl" {
		args, err := shlex.Split(req.Arguments.Expression)
		if err != nil {
			return errors.Wrap(err, "cannot parse expression")
		}
		if len(args) == 0 {
			return nil
		}
		if handled, err := s.tryReplCommand(c, req, resp, args); handled {
			return err
		}
	}

	return s.evaluateExpression(c, req, resp)
}

// tryReplCommand dispatches args against the adapter's pseudo-commands.
// Its first return value reports whether args named one of them; when
// false, Evaluate falls through to treating the whole expression as
// something to hand to GDB.
func (s *Session) tryReplCommand(c Context, req *dap.EvaluateRequest, resp *dap.EvaluateResponse, args []string) (bool, error) {
	known := map[string]bool{"exec": true, "interrupt": true}
	if !known[args[0]] {
		return false, nil
	}

	var retErr error
	root := &cobra.Command{SilenceErrors: true, SilenceUsage: true}
	execCmd := &cobra.Command{
		Use: "exec",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			out, err := s.execInferiorShell(c, req.Arguments.FrameId, cmdArgs)
			if err != nil {
				retErr = err
				return nil
			}
			resp.Body.Result = out
			return nil
		},
	}
	interruptCmd := &cobra.Command{
		Use: "interrupt",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			threadID := ThreadOf(req.Arguments.FrameId)
			if err := s.cmds.ExecInterrupt(context.Background(), threadID); err != nil {
				retErr = err
				return nil
			}
			resp.Body.Result = "Interrupted."
			return nil
		},
	}
	root.AddCommand(execCmd, interruptCmd)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return true, err
	}
	return true, retErr
}

// execInferiorShell opens an integratedTerminal attached to the
// running inferior's pty, the same bridge Launch uses for
// console:"integratedTerminal", started on demand from the debug
// console via "exec".
func (s *Session) execInferiorShell(c Context, frameID int, args []string) (string, error) {
	s.mu.Lock()
	if s.term != nil {
		s.mu.Unlock()
		return "", errors.New("a terminal is already attached to this session")
	}
	term := newInferior()
	s.term = term
	s.mu.Unlock()

	if err := term.Init(); err != nil {
		return "", err
	}
	if err := term.SendRunInTerminalRequest(c); err != nil {
		return "", err
	}
	return fmt.Sprintf("Attached terminal to inferior (socket %s).", term.SocketPath), nil
}

// evaluateExpression handles the common case: req.Arguments.Expression
// is a GDB expression, evaluated through a variable object in the scope
// of the given frame. Without a known frame id (e.g. an unpaused repl
// command) it is run on the GDB console instead: a repl expression
// verbatim, any other context as "print <expression>".
func (s *Session) evaluateExpression(c Context, req *dap.EvaluateRequest, resp *dap.EvaluateResponse) error {
	ctx := context.Background()

	fh, ok := s.frames.Get(req.Arguments.FrameId)
	if !ok {
		// No frame context (a repl evaluation while running, or against
		// a stale frame id): fall back to the console rather than the
		// varobj cache, since a varobj's frame/thread binding would be
		// meaningless here.
		command := req.Arguments.Expression
		if req.Arguments.Context != "repl" {
			command = "print " + command
		}
		if _, err := s.cmds.ConsoleExec(ctx, command); err != nil {
			return err
		}
		resp.Body.Result = ""
		return nil
	}

	threadID := ThreadOf(req.Arguments.FrameId)
	key := varobj.Key{
		ThreadID:   threadID,
		FrameID:    fh.FrameLevel,
		StackDepth: fh.StackDepth,
		Expression: req.Arguments.Expression,
	}
	obj, err := s.vars.Create(ctx, key)
	if err != nil {
		return err
	}

	resp.Body.Result = obj.Value
	resp.Body.Type = obj.Type
	if obj.NumChildren > 0 {
		resp.Body.VariablesReference = s.varRefs.New(threadID, varHandle{Kind: varKindObject, ThreadID: threadID, ObjectName: obj.Name})
	}
	return nil
}
