// Package evasion implements the Evasion Policy Engine (spec C7): it
// composes a view's bound Session (FingerprintProfile + BehaviorProfile)
// and route binding into a deterministic pre-navigation action applied
// before each engine call.
package evasion

import (
	"fmt"

	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/view"
)

// HeaderSet is the request header overlay applied per navigation
// (spec §4.6: "language, accept, sec-ch hints removed").
type HeaderSet struct {
	AcceptLanguage string
	Accept         string
	RemovedHeaders []string // header names stripped before send, e.g. Sec-CH-UA-*
}

// PreNavigationAction is the deterministic override bundle the engine
// applies before a request fires.
type PreNavigationAction struct {
	Fingerprint  session.FingerprintProfile
	Behavior     session.BehaviorProfile
	Headers      HeaderSet
	Route        *session.RouteBinding
	WebdriverOff bool
}

// Engine derives pre-navigation actions and enforces route-change
// structural invariants.
type Engine struct{}

func New() *Engine { return &Engine{} }

// PreNavigationActionFor builds the action for a navigation on v, bound
// to sess. The fingerprint is stable across navigations and views bound
// to the same session (spec §4.6 consistency invariant) because it is
// re-derived from the session's fixed seed every call, never mutated.
func (e *Engine) PreNavigationActionFor(v *view.View, sess *session.Session) PreNavigationAction {
	fp := session.DeriveFingerprintProfile(sess.FingerprintSeed())
	bp := session.DeriveBehaviorProfile(sess.BehaviorSeed())

	return PreNavigationAction{
		Fingerprint: fp,
		Behavior:    bp,
		Headers: HeaderSet{
			AcceptLanguage: acceptLanguageFor(fp.Languages),
			Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			RemovedHeaders: []string{"Sec-CH-UA", "Sec-CH-UA-Mobile", "Sec-CH-UA-Platform"},
		},
		Route:        sess.ProxyBinding(),
		WebdriverOff: true,
	}
}

func acceptLanguageFor(langs []string) string {
	if len(langs) == 0 {
		return "en-US,en;q=0.9"
	}
	out := langs[0]
	for i, l := range langs[1:] {
		q := 0.9 - float64(i)*0.1
		if q < 0.1 {
			q = 0.1
		}
		out += fmt.Sprintf(",%s;q=%.1f", l, q)
	}
	return out
}

// ApplyRouteChange enforces spec §4.6's route policy: route changes are
// structural and require the view to be Idle. The caller is expected to
// have already closed outstanding engine connections; this only gates
// the state check and records the binding.
func (e *Engine) ApplyRouteChange(v *view.View, binding session.RouteBinding) error {
	if v.State() != view.StateIdle {
		return errs.New(errs.InvalidState, "route changes require the view to be Idle").
			WithRecovery("wait for the view to return to Idle", "get_page_state")
	}
	v.SetProxyBinding(string(binding.Kind) + ":" + binding.Endpoint)
	return nil
}

// ValidateOnionAtCreation enforces that TorOnion routing can only be
// chosen at view creation time, never toggled afterward (spec §4.6).
func ValidateOnionAtCreation(existing *session.RouteBinding, requested session.RouteBinding, viewAlreadyCreated bool) error {
	if requested.Kind != session.RouteTorOnion {
		return nil
	}
	if viewAlreadyCreated {
		return errs.New(errs.InvalidState, "TorOnion routing cannot be toggled dynamically; it must be chosen at view creation").
			WithRecovery("destroy and recreate the view with TorOnion routing")
	}
	if existing != nil && existing.Kind == session.RouteTorOnion && existing.Endpoint != requested.Endpoint {
		return errs.New(errs.InvalidState, "TorOnion endpoint cannot change after creation")
	}
	return nil
}
