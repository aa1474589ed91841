package evasion

import (
	"testing"

	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/view"
)

func TestPreNavigationActionStableAcrossCalls(t *testing.T) {
	e := New()
	sess := session.New("d", "ua", "fixed-seed")
	v1 := view.New(sess.ID())
	v2 := view.New(sess.ID())

	a1 := e.PreNavigationActionFor(v1, sess)
	a2 := e.PreNavigationActionFor(v2, sess)

	if !a1.Fingerprint.Equal(a2.Fingerprint) {
		t.Fatalf("fingerprint should be stable across views bound to the same session")
	}
	if a1.Behavior != a2.Behavior {
		t.Fatalf("behavior profile should be stable across views bound to the same session")
	}
}

func TestPreNavigationActionIndependentAcrossSessions(t *testing.T) {
	e := New()
	s1 := session.New("d", "ua", "seed-1")
	s2 := session.New("d", "ua", "seed-2")
	v1 := view.New(s1.ID())
	v2 := view.New(s2.ID())

	a1 := e.PreNavigationActionFor(v1, s1)
	a2 := e.PreNavigationActionFor(v2, s2)
	if a1.Fingerprint.Equal(a2.Fingerprint) {
		t.Fatalf("different sessions should yield independent fingerprints")
	}
}

func TestApplyRouteChangeRequiresIdle(t *testing.T) {
	e := New()
	v := view.New("s1")
	binding := session.RouteBinding{Kind: session.RouteSocks5, Endpoint: "127.0.0.1:9050"}

	if err := e.ApplyRouteChange(v, binding); err == nil {
		t.Fatalf("expected InvalidState while view is Creating")
	}

	v.BeginCommand("c1", "ready", view.StateIdle)
	v.EndCommand()
	if err := e.ApplyRouteChange(v, binding); err != nil {
		t.Fatalf("ApplyRouteChange on an Idle view should succeed: %v", err)
	}
}

func TestValidateOnionAtCreationRejectsDynamicToggle(t *testing.T) {
	onion := session.RouteBinding{Kind: session.RouteTorOnion, Endpoint: "abc.onion"}
	if err := ValidateOnionAtCreation(nil, onion, true); err == nil {
		t.Fatalf("expected rejection of onion routing toggled after creation")
	}
	if err := ValidateOnionAtCreation(nil, onion, false); err != nil {
		t.Fatalf("onion routing chosen at creation should be allowed: %v", err)
	}
}

func TestHeaderSetRemovesClientHints(t *testing.T) {
	e := New()
	sess := session.New("d", "ua", "seed")
	v := view.New(sess.ID())
	action := e.PreNavigationActionFor(v, sess)
	if len(action.Headers.RemovedHeaders) == 0 {
		t.Errorf("expected sec-ch-ua headers to be listed for removal")
	}
	if !action.WebdriverOff {
		t.Errorf("expected WebdriverOff to be set")
	}
}
