package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/view"
)

// Dispatcher is the Command Dispatcher (spec C8). One instance serves
// every connection; per-connection state (rate limiter, active view)
// is keyed by a caller-supplied connection id.
type Dispatcher struct {
	registry *Registry
	auth     *Authenticator
	limiter  *connLimiter
	views    *view.Registry
	bus      *eventbus.Bus
	log      *zap.Logger
	tracker  *tracker
	deps     *Deps
	draining atomic.Bool

	defaultTimeout time.Duration
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.log = l } }
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.defaultTimeout = t }
}

// New builds a Dispatcher. requestsPerSecond/burst configure the
// per-connection rate gate of spec §4.1 step 2. deps is the same Deps
// bundle the registry's handlers were built against; the Dispatcher
// only reaches into it for active-view tracking (SetActiveView is
// exposed on Deps, not Dispatcher, since handlers are registered
// before a Dispatcher exists to wrap them).
func New(registry *Registry, auth *Authenticator, views *view.Registry, bus *eventbus.Bus,
	deps *Deps, requestsPerSecond float64, burst int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		auth:           auth,
		limiter:        newConnLimiter(requestsPerSecond, burst),
		views:          views,
		bus:            bus,
		log:            zap.NewNop(),
		tracker:        newTracker(),
		deps:           deps,
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) activeView(connID string) string {
	return d.deps.ActiveView(connID)
}

// StopAccepting puts the dispatcher into drain mode (spec's shutdown
// sequence): every subsequent Dispatch call is rejected immediately so
// no new command is admitted while in-flight ones finish.
func (d *Dispatcher) StopAccepting() {
	d.draining.Store(true)
}

// PendingCommands reports how many commands are still in flight, used
// by the supervisor to poll during drain_timeout.
func (d *Dispatcher) PendingCommands() int {
	return d.tracker.pendingCount()
}

// CommandNames lists every registered command, used by transports that
// expose the command surface generically (e.g. one MCP tool per name)
// rather than hardcoding it.
func (d *Dispatcher) CommandNames() []string {
	return d.registry.Names()
}

// Dispatch runs one envelope through the full pipeline of spec §4.1
// and returns the response envelope. It never panics back to the
// caller: any unexpected error is lowered to InternalError.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, req Request) Response {
	resp := Response{ID: req.ID, Command: req.Command}

	if d.draining.Load() {
		return errorResponse(resp, errs.New(errs.Cancelled, "server is draining, not accepting new commands").
			WithRecovery("retry against a new connection once the server restarts"))
	}

	// 1. Auth.
	if _, err := d.auth.Authenticate(req.Token); err != nil {
		return errorResponse(resp, errs.New(errs.AuthError, err.Error()))
	}

	// 2. Per-connection rate limit.
	if !d.limiter.Allow(connID) {
		return errorResponse(resp, errs.New(errs.RateLimited, "connection rate limit exceeded").
			WithRecovery("slow down command submission rate"))
	}

	// 3. Lookup command.
	spec, ok := d.registry.lookup(req.Command)
	if !ok {
		suggestions := suggestCommands(req.Command, d.registry.Names())
		return errorResponse(resp, errs.New(errs.UnknownCommand, "unknown command: "+req.Command).
			WithRecovery("check the command name for typos", suggestions...))
	}

	// 4. Validate params against schema.
	params, err := decodeParams(req.Params)
	if err != nil {
		return errorResponse(resp, errs.New(errs.InvalidParams, "params must be a JSON object: "+err.Error()))
	}
	if bad, reason := spec.Schema.Validate(params); bad != "" {
		return errorResponse(resp, errs.New(errs.InvalidParams, bad+": "+reason))
	}

	// 5. Resolve target view, if required.
	call := &Call{Request: req, Params: params, Conn: connID}
	if spec.RequiresView {
		viewID, _ := params["view_id"].(string)
		if viewID == "" {
			viewID = d.activeView(connID)
		}
		if viewID == "" {
			return errorResponse(resp, errs.New(errs.NoSuchView, "no view_id given and no active view set"))
		}
		v, err := d.views.Get(viewID)
		if err != nil {
			return errorResponse(resp, errs.As(err))
		}
		// 6. Check state permits this command.
		if !spec.stateAllowed(v.State()) {
			return errorResponse(resp, errs.New(errs.InvalidState,
				"command not permitted from state "+string(v.State())).
				WithRecovery("query current state first", "get_page_state"))
		}
		call.View = v
	}

	// 7. Invoke handler. Handlers run on their own goroutine and
	// complete via the tracker's future so the dispatcher's own
	// goroutine for this connection is never wedged on a slow engine
	// call; the view's pending_command slot (held by BeginCommand
	// inside the handler) is the actual exclusion mechanism, not this
	// goroutine boundary.
	handlerCtx := ctx
	var cancel context.CancelFunc
	timeout := d.defaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	handlerCtx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	d.tracker.register(req.ID)
	go func() {
		data, herr := d.invoke(handlerCtx, spec, call)
		out := resp
		if herr != nil {
			out = errorResponse(out, errs.As(herr))
			d.tracker.complete(req.ID, out, statusError)
			return
		}
		out.Success = true
		out.Data = data
		d.tracker.complete(req.ID, out, statusComplete)
	}()

	result, _ := d.tracker.waitFor(req.ID, timeout, handlerCtx.Done())
	d.tracker.forget(req.ID)
	if result == nil {
		return errorResponse(resp, errs.New(errs.Timeout, "command did not complete within its timeout"))
	}

	out := result.Response
	if spec.Mutating {
		d.recordActorAction(req, call, out)
		if out.Success {
			d.publish("command_completed", req.Command, out)
		} else {
			d.publish("command_failed", req.Command, out)
		}
	}
	return out
}

// recordActorAction appends an ActorAction ledger entry for a mutating
// command attributed to an actor_id (spec §4.8 "Audit events"). It is a
// no-op when the caller didn't supply an actor_id or there's no ledger
// to write to; view_id/session_id are included when the command
// resolved a view, left blank otherwise.
func (d *Dispatcher) recordActorAction(req Request, call *Call, out Response) {
	actorID, _ := call.Params["actor_id"].(string)
	if actorID == "" || d.deps == nil || d.deps.Ledger == nil {
		return
	}
	viewID, sessionID := "", ""
	if call.View != nil {
		viewID = call.View.ID()
		sessionID = call.View.SessionID()
	}
	envelope := map[string]any{"command": req.Command, "params": call.Params, "success": out.Success}
	if _, err := d.deps.Ledger.AppendActorAction(actorID, viewID, sessionID, envelope); err != nil {
		d.log.Warn("failed to append actor action to ledger", zap.String("command", req.Command), zap.Error(err))
	}
}

// invoke runs the handler, translating a panic into an InternalError
// rather than crashing the dispatcher goroutine.
func (d *Dispatcher) invoke(ctx context.Context, spec CommandSpec, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command handler panicked", zap.String("command", spec.Name), zap.Any("recover", r))
			err = errs.New(errs.InternalError, "handler panicked")
		}
	}()
	return spec.Handler(ctx, call)
}

func (d *Dispatcher) publish(name, command string, resp Response) {
	if d.bus == nil {
		return
	}
	viewID := ""
	if v, ok := resp.Data.(map[string]any); ok {
		if id, ok := v["view_id"].(string); ok {
			viewID = id
		}
	}
	d.bus.Publish(eventbus.Event{
		Name: name, Priority: eventbus.PriorityLifecycle, ViewID: viewID,
		Data: map[string]any{"command": command, "response": resp},
	})
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func errorResponse(resp Response, e *errs.Error) Response {
	resp.Success = false
	resp.ErrorKind = string(e.Kind)
	resp.Message = e.Message
	if e.Recovery != nil {
		resp.Recovery = &Recovery{Suggestion: e.Recovery.Suggestion, AlternativeCommands: e.Recovery.AlternativeCommands}
	}
	return resp
}
