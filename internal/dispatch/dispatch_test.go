package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/helmsman-dev/helmsman/internal/evasion"
	"github.com/helmsman-dev/helmsman/internal/ledger"
	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/view"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Deps) {
	t.Helper()
	sessions, err := session.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	views := view.NewRegistry(0)
	deps := &Deps{Views: views, Sessions: sessions, Evader: evasion.New()}

	r := NewRegistry()
	registerCoreCommands(r, deps)
	registerNavigationCommands(r, deps)

	auth := NewAuthenticator(false, nil)
	d := New(r, auth, views, nil, deps, 1000, 1000)
	return d, deps
}

func rawParams(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return b
}

func TestDispatchPing(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), "conn-1", Request{ID: "r1", Command: "ping"})
	if !resp.Success {
		t.Fatalf("ping should succeed, got %+v", resp)
	}
}

func TestDispatchUnknownCommandSuggestsAlternatives(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), "conn-1", Request{ID: "r1", Command: "pign"})
	if resp.Success {
		t.Fatalf("expected failure for unknown command")
	}
	if resp.ErrorKind != "UnknownCommand" {
		t.Fatalf("ErrorKind = %q, want UnknownCommand", resp.ErrorKind)
	}
	if resp.Recovery == nil || len(resp.Recovery.AlternativeCommands) == 0 {
		t.Fatalf("expected a suggested alternative for a one-letter typo, got %+v", resp.Recovery)
	}
}

func TestDispatchInvalidParamsNamesField(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), "conn-1", Request{
		ID: "r1", Command: "create_view", Params: rawParams(t, map[string]any{}),
	})
	if resp.Success {
		t.Fatalf("expected failure for missing required field")
	}
	if resp.ErrorKind != "InvalidParams" {
		t.Fatalf("ErrorKind = %q, want InvalidParams", resp.ErrorKind)
	}
}

func TestDispatchCreateSessionAndView(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	sessResp := d.Dispatch(ctx, "conn-1", Request{ID: "r1", Command: "create_session"})
	if !sessResp.Success {
		t.Fatalf("create_session failed: %+v", sessResp)
	}
	sessData, ok := sessResp.Data.(map[string]any)
	if !ok {
		t.Fatalf("create_session data not a map: %+v", sessResp.Data)
	}
	sessionID, _ := sessData["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("expected a non-empty session_id")
	}

	viewResp := d.Dispatch(ctx, "conn-1", Request{
		ID: "r2", Command: "create_view",
		Params: rawParams(t, map[string]any{"session_id": sessionID}),
	})
	if !viewResp.Success {
		t.Fatalf("create_view failed: %+v", viewResp)
	}
	viewData, ok := viewResp.Data.(map[string]any)
	if !ok {
		t.Fatalf("create_view data not a map: %+v", viewResp.Data)
	}
	viewID, _ := viewData["view_id"].(string)
	if viewID == "" {
		t.Fatalf("expected a non-empty view_id")
	}

	switchResp := d.Dispatch(ctx, "conn-1", Request{
		ID: "r3", Command: "switch_view",
		Params: rawParams(t, map[string]any{"view_id": viewID}),
	})
	if !switchResp.Success {
		t.Fatalf("switch_view failed: %+v", switchResp)
	}

	// get_page_state requires a view but the command omits view_id,
	// relying on the just-set active view.
	stateResp := d.Dispatch(ctx, "conn-1", Request{ID: "r4", Command: "get_page_state"})
	if !stateResp.Success {
		t.Fatalf("get_page_state via active view failed: %+v", stateResp)
	}

	destroyResp := d.Dispatch(ctx, "conn-1", Request{
		ID: "r5", Command: "destroy_view",
		Params: rawParams(t, map[string]any{"view_id": viewID}),
	})
	if !destroyResp.Success {
		t.Fatalf("destroy_view failed: %+v", destroyResp)
	}
}

func TestDispatchNoActiveViewIsNoSuchView(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), "conn-fresh", Request{ID: "r1", Command: "get_page_state"})
	if resp.Success {
		t.Fatalf("expected failure with no active view and no view_id")
	}
	if resp.ErrorKind != "NoSuchView" {
		t.Fatalf("ErrorKind = %q, want NoSuchView", resp.ErrorKind)
	}
}

func TestDispatchAuthRequired(t *testing.T) {
	sessions, err := session.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	views := view.NewRegistry(0)
	deps := &Deps{Views: views, Sessions: sessions}
	r := NewRegistry()
	registerCoreCommands(r, deps)

	auth := NewAuthenticator(true, map[string]string{"good-token": "alice"})
	d := New(r, auth, views, nil, deps, 1000, 1000)

	resp := d.Dispatch(context.Background(), "conn-1", Request{ID: "r1", Command: "ping", Token: "bad-token"})
	if resp.Success {
		t.Fatalf("expected auth failure for bad token")
	}
	if resp.ErrorKind != "AuthError" {
		t.Fatalf("ErrorKind = %q, want AuthError", resp.ErrorKind)
	}

	resp = d.Dispatch(context.Background(), "conn-1", Request{ID: "r2", Command: "ping", Token: "good-token"})
	if !resp.Success {
		t.Fatalf("expected success with valid token, got %+v", resp)
	}
}

func TestDispatchRateLimited(t *testing.T) {
	sessions, err := session.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	views := view.NewRegistry(0)
	deps := &Deps{Views: views, Sessions: sessions}
	r := NewRegistry()
	registerCoreCommands(r, deps)

	auth := NewAuthenticator(false, nil)
	d := New(r, auth, views, nil, deps, 1, 1)

	first := d.Dispatch(context.Background(), "conn-1", Request{ID: "r1", Command: "ping"})
	if !first.Success {
		t.Fatalf("first request within burst should succeed: %+v", first)
	}
	second := d.Dispatch(context.Background(), "conn-1", Request{ID: "r2", Command: "ping"})
	if second.Success {
		t.Fatalf("second request beyond burst should be rate limited")
	}
	if second.ErrorKind != "RateLimited" {
		t.Fatalf("ErrorKind = %q, want RateLimited", second.ErrorKind)
	}
}

func TestDispatchMutatingCommandWithActorIDAppendsLedgerEntry(t *testing.T) {
	sessions, err := session.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	l, err := ledger.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	views := view.NewRegistry(0)
	deps := &Deps{Views: views, Sessions: sessions, Ledger: l}
	r := NewRegistry()
	registerCoreCommands(r, deps)

	auth := NewAuthenticator(false, nil)
	d := New(r, auth, views, nil, deps, 1000, 1000)

	resp := d.Dispatch(context.Background(), "conn-1", Request{
		ID: "r1", Command: "create_session",
		Params: rawParams(t, map[string]any{"actor_id": "actor-1"}),
	})
	if !resp.Success {
		t.Fatalf("create_session failed: %+v", resp)
	}

	tail := l.Tail(1)
	if len(tail) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(tail))
	}
	if tail[0].Kind != ledger.KindActorAction {
		t.Fatalf("Kind = %s, want ActorAction", tail[0].Kind)
	}
	if tail[0].ActorID != "actor-1" {
		t.Fatalf("ActorID = %q, want actor-1", tail[0].ActorID)
	}
}

func TestDispatchMutatingCommandWithoutActorIDSkipsLedger(t *testing.T) {
	sessions, err := session.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	l, err := ledger.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	views := view.NewRegistry(0)
	deps := &Deps{Views: views, Sessions: sessions, Ledger: l}
	r := NewRegistry()
	registerCoreCommands(r, deps)

	auth := NewAuthenticator(false, nil)
	d := New(r, auth, views, nil, deps, 1000, 1000)

	resp := d.Dispatch(context.Background(), "conn-1", Request{ID: "r1", Command: "create_session"})
	if !resp.Success {
		t.Fatalf("create_session failed: %+v", resp)
	}
	if tail := l.Tail(1); len(tail) != 0 {
		t.Fatalf("expected no ledger record without actor_id, got %+v", tail)
	}
}

func TestCreateViewWithTorOnionRouteBinding(t *testing.T) {
	d, deps := newTestDispatcher(t)
	ctx := context.Background()

	sessResp := d.Dispatch(ctx, "conn-1", Request{ID: "r1", Command: "create_session"})
	sessData := sessResp.Data.(map[string]any)
	sessionID := sessData["session_id"].(string)

	viewResp := d.Dispatch(ctx, "conn-1", Request{
		ID: "r2", Command: "create_view",
		Params: rawParams(t, map[string]any{
			"session_id": sessionID,
			"route_kind": "TorOnion",
			"route_endpoint": "abc123.onion",
		}),
	})
	if !viewResp.Success {
		t.Fatalf("create_view with TorOnion route failed: %+v", viewResp)
	}

	sess, err := deps.Sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("Sessions.Get: %v", err)
	}
	rb := sess.ProxyBinding()
	if rb == nil || rb.Kind != session.RouteTorOnion {
		t.Fatalf("expected session to be bound to TorOnion, got %+v", rb)
	}
}

func TestDispatchTimeout(t *testing.T) {
	sessions, err := session.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	views := view.NewRegistry(0)
	deps := &Deps{Views: views, Sessions: sessions}
	r := NewRegistry()
	r.Register(CommandSpec{
		Name: "slow",
		Handler: func(ctx context.Context, call *Call) (any, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil, nil
		},
	})

	auth := NewAuthenticator(false, nil)
	d := New(r, auth, views, nil, deps, 1000, 1000, WithDefaultTimeout(10*time.Millisecond))

	resp := d.Dispatch(context.Background(), "conn-1", Request{ID: "r1", Command: "slow"})
	if resp.Success {
		t.Fatalf("expected timeout failure, got %+v", resp)
	}
	if resp.ErrorKind != "Timeout" {
		t.Fatalf("ErrorKind = %q, want Timeout", resp.ErrorKind)
	}
}
