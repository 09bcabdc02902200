package dap

import (
	"context"
	"reflect"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
)

// Context is handed to every request handler. Handlers that need to
// push unsolicited traffic to the client (events, reverse requests)
// call Go to spawn a goroutine bound to the server's lifetime rather
// than writing to C() directly from within the handler itself, which
// would deadlock against the response being built for the very
// request being handled.
type Context interface {
	context.Context
	C() chan<- dap.Message
	Go(f func(c Context)) bool
	// Request sends a reverse request (e.g. runInTerminal) to the
	// client and blocks until its response arrives, for handlers that
	// need the client's answer before they can proceed (namely
	// Evaluate's "exec" pseudo-command and integratedTerminal launch).
	Request(req dap.RequestMessage) dap.ResponseMessage
}

type dispatchContext struct {
	context.Context
	srv *Server
	ch  chan<- dap.Message
}

func (c *dispatchContext) C() chan<- dap.Message {
	return c.ch
}

func (c *dispatchContext) Go(f func(c Context)) bool {
	return c.srv.Go(f)
}

func (c *dispatchContext) Request(req dap.RequestMessage) dap.ResponseMessage {
	respCh := make(chan dap.ResponseMessage, 1)
	c.srv.doRequest(c, req, func(c Context, resp dap.ResponseMessage) {
		respCh <- resp
	})
	select {
	case resp := <-respCh:
		return resp
	case <-c.Done():
		r := &dap.Response{}
		r.Success = false
		r.Message = "context canceled waiting for client response"
		return r
	}
}

// HandlerFunc is the shape every DAP request handler takes: a typed
// request in, a typed response out, filled in by the function or left
// as its zero value if unused.
type HandlerFunc[Req dap.RequestMessage, Resp dap.ResponseMessage] func(c Context, req Req, resp Resp) error

// Do allocates a zero-valued Resp and invokes h, returning an error if
// h is nil so that an unimplemented request produces a clean
// "not implemented" failure response instead of a panic.
func (h HandlerFunc[Req, Resp]) Do(c Context, req Req) (resp Resp, err error) {
	if h == nil {
		return resp, errors.New("not implemented")
	}

	respT := reflect.TypeFor[Resp]()
	rv := reflect.New(respT.Elem())
	resp = rv.Interface().(Resp)
	err = h(c, req, resp)
	return resp, err
}

// Handler collects one callback per DAP request this adapter serves.
// A nil field means the request is rejected with "not implemented",
// which is the correct behavior for requests outside this adapter's
// scope (e.g. Restart and Source are never wired; a client restarts
// by disconnecting and sending a fresh launch/attach instead).
type Handler struct {
	Initialize        HandlerFunc[*dap.InitializeRequest, *dap.InitializeResponse]
	Launch            HandlerFunc[*dap.LaunchRequest, *dap.LaunchResponse]
	Attach            HandlerFunc[*dap.AttachRequest, *dap.AttachResponse]
	SetBreakpoints    HandlerFunc[*dap.SetBreakpointsRequest, *dap.SetBreakpointsResponse]
	ConfigurationDone HandlerFunc[*dap.ConfigurationDoneRequest, *dap.ConfigurationDoneResponse]
	Disconnect        HandlerFunc[*dap.DisconnectRequest, *dap.DisconnectResponse]
	Terminate         HandlerFunc[*dap.TerminateRequest, *dap.TerminateResponse]
	Continue          HandlerFunc[*dap.ContinueRequest, *dap.ContinueResponse]
	Next              HandlerFunc[*dap.NextRequest, *dap.NextResponse]
	StepIn            HandlerFunc[*dap.StepInRequest, *dap.StepInResponse]
	StepOut           HandlerFunc[*dap.StepOutRequest, *dap.StepOutResponse]
	Pause             HandlerFunc[*dap.PauseRequest, *dap.PauseResponse]
	Restart           HandlerFunc[*dap.RestartRequest, *dap.RestartResponse]
	Threads           HandlerFunc[*dap.ThreadsRequest, *dap.ThreadsResponse]
	StackTrace        HandlerFunc[*dap.StackTraceRequest, *dap.StackTraceResponse]
	Scopes            HandlerFunc[*dap.ScopesRequest, *dap.ScopesResponse]
	Variables         HandlerFunc[*dap.VariablesRequest, *dap.VariablesResponse]
	SetVariable       HandlerFunc[*dap.SetVariableRequest, *dap.SetVariableResponse]
	Evaluate          HandlerFunc[*dap.EvaluateRequest, *dap.EvaluateResponse]
	Source            HandlerFunc[*dap.SourceRequest, *dap.SourceResponse]
}
