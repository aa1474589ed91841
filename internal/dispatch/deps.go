package dispatch

import (
	"context"
	"sync"

	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/evasion"
	"github.com/helmsman-dev/helmsman/internal/ledger"
	"github.com/helmsman-dev/helmsman/internal/orchestrator"
	"github.com/helmsman-dev/helmsman/internal/ratelimit"
	"github.com/helmsman-dev/helmsman/internal/redaction"
	"github.com/helmsman-dev/helmsman/internal/resource"
	"github.com/helmsman-dev/helmsman/internal/scheduler"
	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/store"
	"github.com/helmsman-dev/helmsman/internal/view"
)

// Deps bundles every collaborator command handlers are allowed to
// reach — the full cross-component wiring diagram of spec §2's control
// flow line, minus the transport and dispatcher itself.
type Deps struct {
	Views        *view.Registry
	Sessions     *session.Manager
	Scheduler    *scheduler.Scheduler
	Orchestrator *orchestrator.Orchestrator
	Ledger       *ledger.Ledger
	Store        *store.Store
	Limiter      *ratelimit.Limiter
	Monitor      *resource.Monitor
	Evader       *evasion.Engine
	Adapter      engine.Adapter
	Redactor     *redaction.Engine
	Auth         *Authenticator

	handlesMu sync.Mutex
	handles   map[string]engine.Handle

	activeMu    sync.Mutex
	activeViews map[string]string
}

// SetActiveView records connID's designated active view, used when a
// command omits view_id (spec §4.1 step 5). Held on Deps rather than
// Dispatcher so command handlers (built before the Dispatcher they'll
// run under exists) can reach it directly.
func (d *Deps) SetActiveView(connID, viewID string) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	if d.activeViews == nil {
		d.activeViews = make(map[string]string)
	}
	d.activeViews[connID] = viewID
}

// ActiveView returns connID's designated active view, or "" if none.
func (d *Deps) ActiveView(connID string) string {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	return d.activeViews[connID]
}

// handleFor returns the live engine handle bound to viewID, opening a
// fresh one on first use. Handles persist for the view's lifetime so
// interaction/extraction commands act on the same page a navigation
// landed on.
func (d *Deps) handleFor(ctx context.Context, viewID string) (engine.Handle, error) {
	d.handlesMu.Lock()
	h, ok := d.handles[viewID]
	d.handlesMu.Unlock()
	if ok {
		return h, nil
	}
	h, err := d.Adapter.NewHandle(ctx)
	if err != nil {
		return nil, err
	}
	d.setHandle(viewID, h)
	return h, nil
}

func (d *Deps) setHandle(viewID string, h engine.Handle) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	if d.handles == nil {
		d.handles = make(map[string]engine.Handle)
	}
	d.handles[viewID] = h
}

func (d *Deps) dropHandle(viewID string) (engine.Handle, bool) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	h, ok := d.handles[viewID]
	delete(d.handles, viewID)
	return h, ok
}
