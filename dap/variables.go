package dap

import (
	"context"
	"fmt"

	"github.com/google/go-dap"

	"github.com/opendbg/gdbdap/mi"
	"github.com/opendbg/gdbdap/varobj"
)

// Scopes returns the Locals scope for a previously minted frame id.
// The scope resolves lazily: the actual variable objects are only
// created once Variables is called against the returned
// variablesReference, so expanding a deep stack trace never pays for
// varobjs the client never asks to see.
func (s *Session) Scopes(c Context, req *dap.ScopesRequest, resp *dap.ScopesResponse) error {
	fh, ok := s.frames.Get(req.Arguments.FrameId)
	if !ok {
		resp.Body.Scopes = []dap.Scope{}
		return nil
	}

	threadID := ThreadOf(req.Arguments.FrameId)
	locals := s.varRefs.New(threadID, varHandle{
		Kind: varKindLocals, ThreadID: threadID, FrameLevel: fh.FrameLevel, StackDepth: fh.StackDepth,
	})

	resp.Body.Scopes = []dap.Scope{
		{
			Name:               "Locals",
			PresentationHint:   "locals",
			VariablesReference: locals,
		},
	}
	return nil
}

// Variables expands a variablesReference into its constituent
// dap.Variable entries: either the locals of a stack frame (creating
// the backing variable objects on demand, via the cache keyed on
// thread/frame/stack-depth/expression) or the children of an existing
// variable object.
func (s *Session) Variables(c Context, req *dap.VariablesRequest, resp *dap.VariablesResponse) error {
	vh, ok := s.varRefs.Get(req.Arguments.VariablesReference)
	if !ok {
		resp.Body.Variables = []dap.Variable{}
		return nil
	}

	ctx := context.Background()

	switch vh.Kind {
	case varKindLocals, varKindArguments:
		names, err := s.cmds.StackListVariables(ctx, vh.ThreadID, vh.FrameLevel)
		if err != nil {
			return err
		}

		vars := make([]dap.Variable, 0, len(names))
		for _, name := range names {
			key := varobj.Key{
				ThreadID:   vh.ThreadID,
				FrameID:    vh.FrameLevel,
				StackDepth: vh.StackDepth,
				Expression: name,
			}
			obj, err := s.vars.Create(ctx, key)
			if err != nil {
				vars = append(vars, dap.Variable{Name: name, Value: fmt.Sprintf("<error: %s>", describeError(err))})
				continue
			}
			vars = append(vars, s.renderVariable(name, obj, vh.ThreadID))
		}
		resp.Body.Variables = vars
		return nil

	case varKindObject:
		obj, ok := s.vars.GetByName(vh.ObjectName)
		if !ok {
			resp.Body.Variables = []dap.Variable{}
			return nil
		}
		children, err := s.vars.Children(ctx, obj)
		if err != nil {
			return err
		}
		vars := make([]dap.Variable, 0, len(children))
		for i, ch := range children {
			name := ch.Key.Expression
			if obj.IsArray() {
				name = fmt.Sprintf("[%d]", i)
			}
			vars = append(vars, s.renderVariable(name, ch, vh.ThreadID))
		}
		resp.Body.Variables = vars
		return nil
	}

	resp.Body.Variables = []dap.Variable{}
	return nil
}

func (s *Session) renderVariable(name string, obj *varobj.Object, threadID int) dap.Variable {
	v := dap.Variable{
		Name:  name,
		Value: obj.Value,
		Type:  obj.Type,
	}
	if obj.NumChildren > 0 {
		v.VariablesReference = s.varRefs.New(threadID, varHandle{Kind: varKindObject, ThreadID: threadID, ObjectName: obj.Name})
	}
	return v
}

// SetVariable assigns a new value to a variable object previously
// surfaced via Variables, identified by the combination of its owning
// variablesReference and its display name.
func (s *Session) SetVariable(c Context, req *dap.SetVariableRequest, resp *dap.SetVariableResponse) error {
	vh, ok := s.varRefs.Get(req.Arguments.VariablesReference)
	if !ok {
		return nil
	}

	ctx := context.Background()

	var objName string
	switch vh.Kind {
	case varKindLocals, varKindArguments:
		key := varobj.Key{
			ThreadID:   vh.ThreadID,
			FrameID:    vh.FrameLevel,
			StackDepth: vh.StackDepth,
			Expression: req.Arguments.Name,
		}
		obj, ok := s.vars.Get(key)
		if !ok {
			created, err := s.vars.Create(ctx, key)
			if err != nil {
				return err
			}
			obj = created
		}
		objName = obj.Name
	case varKindObject:
		parent, ok := s.vars.GetByName(vh.ObjectName)
		if !ok {
			return nil
		}
		children, err := s.vars.Children(ctx, parent)
		if err != nil {
			return err
		}
		for i, ch := range children {
			name := ch.Key.Expression
			if parent.IsArray() {
				name = fmt.Sprintf("[%d]", i)
			}
			if name == req.Arguments.Name {
				objName = ch.Name
				break
			}
		}
		if objName == "" {
			return &mi.Error{Kind: mi.InvalidArgs, Message: "no such child variable: " + req.Arguments.Name}
		}
	}

	obj, ok := s.vars.GetByName(objName)
	if !ok {
		return nil
	}
	newValue, err := s.vars.Assign(ctx, obj, req.Arguments.Value)
	if err != nil {
		return err
	}
	resp.Body.Value = newValue
	resp.Body.Type = obj.Type
	return nil
}
