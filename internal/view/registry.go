package view

import (
	"sync"

	"github.com/helmsman-dev/helmsman/internal/errs"
)

// Registry owns the set of live views and the session -> views
// reverse map (spec §9: the Registry keeps this map; Session never
// references its Views). One Registry instance is created by the
// Supervisor and passed by reference — no package-level singleton.
type Registry struct {
	mu        sync.RWMutex
	views     map[string]*View
	bySession map[string]map[string]bool
	maxViews  int
}

// NewRegistry builds an empty Registry admitting at most maxViews
// live (non-Destroyed) views at a time.
func NewRegistry(maxViews int) *Registry {
	return &Registry{
		views:     make(map[string]*View),
		bySession: make(map[string]map[string]bool),
		maxViews:  maxViews,
	}
}

// liveCount assumes mu is held.
func (r *Registry) liveCount() int {
	n := 0
	for _, v := range r.views {
		if v.State() != StateDestroyed {
			n++
		}
	}
	return n
}

// Create admits a new View bound to sessionID, or rejects with
// ResourceExhausted if the (max+1)-th view would be created — per
// spec §8 boundary behavior, this never mutates the registry on
// rejection.
func (r *Registry) Create(sessionID string) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxViews > 0 && r.liveCount() >= r.maxViews {
		return nil, errs.New(errs.ResourceExhausted, "maximum concurrent views reached").
			WithRecovery("destroy an idle view before creating a new one", "list_views", "destroy_view")
	}
	v := New(sessionID)
	r.views[v.ID()] = v
	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = make(map[string]bool)
	}
	r.bySession[sessionID][v.ID()] = true
	return v, nil
}

// Get resolves a view by id, or NoSuchView if absent or destroyed.
// Per spec invariant 5: once destroy_view(V) returns success, V is
// absent here.
func (r *Registry) Get(id string) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[id]
	if !ok || v.State() == StateDestroyed {
		return nil, errs.New(errs.NoSuchView, "no such view: "+id).
			WithRecovery("list live views", "list_views")
	}
	return v, nil
}

// List returns snapshots of every non-destroyed view.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.views))
	for _, v := range r.views {
		if v.State() != StateDestroyed {
			out = append(out, v.Snapshot())
		}
	}
	return out
}

// ViewsForSession returns the live view ids bound to sessionID — the
// reverse lookup the Registry exclusively owns.
func (r *Registry) ViewsForSession(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySession[sessionID]
	out := make([]string, 0, len(set))
	for id := range set {
		if v, ok := r.views[id]; ok && v.State() != StateDestroyed {
			out = append(out, id)
		}
	}
	return out
}

// Destroy transitions a view through Draining to Destroyed and
// removes it from the live index. onCancel, if non-nil, is invoked
// before the transition to cooperatively cancel any in-flight engine
// call (spec §4.2's "current operation is cancelled — cooperative").
func (r *Registry) Destroy(id string, onCancel func(*View)) error {
	v, err := r.Get(id)
	if err != nil {
		return err
	}
	if onCancel != nil {
		onCancel(v)
	}
	v.mu.Lock()
	if v.state != StateDestroyed {
		v.state = StateDraining
		v.pending = nil
	}
	v.mu.Unlock()
	v.MarkDestroyed()

	r.mu.Lock()
	delete(r.views, id)
	if set, ok := r.bySession[v.SessionID()]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.bySession, v.SessionID())
		}
	}
	r.mu.Unlock()
	return nil
}

// Count returns the number of currently live (non-Destroyed) views.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveCount()
}

// CountInState returns the number of live views currently in state s —
// used by the scheduler's global concurrency gate (spec §4.3 step 1).
func (r *Registry) CountInState(s State) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, v := range r.views {
		if v.State() == s {
			n++
		}
	}
	return n
}
