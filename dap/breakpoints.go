package dap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"

	"github.com/opendbg/gdbdap/mi"
)

// breakpointSet tracks the DAP-visible breakpoints gdbdap has asked
// GDB to set, per source file. setBreakpoints is defined by DAP (and
// spec's own Testable Properties) as idempotent: calling it twice with
// the same set for the same file must produce the same DAP breakpoint
// ids and must not re-insert breakpoints GDB already has. Reconciling
// against GDB's own -break-list (rather than trusting only local
// bookkeeping) keeps that true even if a breakpoint was deleted GDB-
// side out of band, e.g. because it became impossible to resolve.
type breakpointSet struct {
	mu     sync.Mutex
	byPath map[string][]trackedBreakpoint
	nextID atomic.Int64
}

// trackedBreakpoint is identified by line+condition, not by line
// alone: two requests for the same line with different conditions
// are different breakpoints, matching the stricter identity this
// adapter uses so a conditional breakpoint's condition can be edited
// by delete-then-reinsert without disturbing an unconditional
// breakpoint on the same line.
type trackedBreakpoint struct {
	id        int
	line      int
	condition string
	temporary bool
	gdbNumber string
	verified  bool
}

func newBreakpointSet() *breakpointSet {
	return &breakpointSet{byPath: make(map[string][]trackedBreakpoint)}
}

// Reconcile sets path's breakpoints to exactly want, inserting any
// that are new and deleting any that are no longer requested, and
// returns the DAP Breakpoint list in the same order as want.
func (b *breakpointSet) Reconcile(ctx context.Context, cmds *mi.Commands, path string, want []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	live, err := cmds.BreakList(ctx)
	if err != nil {
		return nil, err
	}
	liveNumbers := make(map[string]bool, len(live))
	for _, bp := range live {
		liveNumbers[bp.Number] = true
	}

	prevAll := b.byPath[path]
	prev := make([]trackedBreakpoint, 0, len(prevAll))
	for _, tb := range prevAll {
		// A breakpoint GDB no longer reports (deleted out of band, e.g.
		// because it became unresolvable) is dropped from bookkeeping
		// rather than matched against want, so it gets reinserted below
		// like any other new breakpoint.
		if tb.gdbNumber != "" && !liveNumbers[tb.gdbNumber] {
			continue
		}
		prev = append(prev, tb)
	}
	matched := make([]bool, len(prev))

	result := make([]dap.Breakpoint, 0, len(want))
	next := make([]trackedBreakpoint, 0, len(want))

	for _, sbp := range want {
		idx := -1
		for i, tb := range prev {
			if matched[i] {
				continue
			}
			if tb.line == sbp.Line && tb.condition == sbp.Condition {
				idx = i
				break
			}
		}

		if idx >= 0 {
			matched[idx] = true
			tb := prev[idx]
			next = append(next, tb)
			result = append(result, dap.Breakpoint{
				Id:       tb.id,
				Verified: tb.verified,
				Line:     tb.line,
				Source:   &dap.Source{Path: path},
			})
			continue
		}

		bp, err := cmds.BreakInsert(ctx, fmt.Sprintf("%s:%d", path, sbp.Line), mi.BreakInsertOptions{
			Condition: sbp.Condition,
		})
		verified := err == nil
		tb := trackedBreakpoint{
			id:        int(b.nextID.Add(1)),
			line:      sbp.Line,
			condition: sbp.Condition,
			verified:  verified,
		}
		if verified {
			tb.gdbNumber = bp.Number
			tb.line = bp.Line
		}
		next = append(next, tb)

		dbp := dap.Breakpoint{
			Id:       tb.id,
			Verified: verified,
			Line:     tb.line,
			Source:   &dap.Source{Path: path},
		}
		if !verified && err != nil {
			dbp.Message = describeError(err)
		}
		result = append(result, dbp)
	}

	// Anything left unmatched in prev is no longer wanted; delete it
	// from GDB.
	var toDelete []string
	for i, tb := range prev {
		if !matched[i] && tb.gdbNumber != "" {
			toDelete = append(toDelete, tb.gdbNumber)
		}
	}
	if len(toDelete) > 0 {
		if err := cmds.BreakDelete(ctx, toDelete); err != nil {
			return result, err
		}
	}

	b.byPath[path] = next
	return result, nil
}

// SetBreakpoints is the DAP entry point: reconcile the requested set
// for the request's source file against GDB's actual breakpoints.
func (s *Session) SetBreakpoints(c Context, req *dap.SetBreakpointsRequest, resp *dap.SetBreakpointsResponse) error {
	path := req.Arguments.Source.Path
	bps, err := s.breakpoints.Reconcile(context.Background(), s.cmds, path, req.Arguments.Breakpoints)
	resp.Body.Breakpoints = bps
	if err != nil {
		return err
	}
	return nil
}
