// Package view implements the View Registry (spec C2): identity,
// lifecycle, and per-view state for every live rendering surface, plus
// the reverse session->views map the Registry alone is allowed to own
// (spec §9 "Cyclic references": a View references a Session by id; a
// Session never references its Views back).
package view

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-dev/helmsman/internal/errs"
)

// State is one of the view lifecycle states of spec §4.2.
type State string

const (
	StateCreating    State = "Creating"
	StateIdle        State = "Idle"
	StateNavigating  State = "Navigating"
	StateInteracting State = "Interacting"
	StateCapturing   State = "Capturing"
	StateDraining    State = "Draining"
	StateDestroyed   State = "Destroyed"
)

// transitions enumerates every legal (from, to) edge of the state
// machine in §4.2. A transition not in this table is rejected.
var transitions = map[State]map[State]bool{
	StateCreating:    {StateIdle: true, StateDraining: true},
	StateIdle:        {StateNavigating: true, StateInteracting: true, StateCapturing: true, StateDraining: true},
	StateNavigating:  {StateIdle: true, StateDraining: true},
	StateInteracting: {StateIdle: true, StateDraining: true},
	StateCapturing:   {StateIdle: true, StateDraining: true},
	StateDraining:    {StateDestroyed: true},
	StateDestroyed:   {},
}

const maxHistory = 100

// PendingCommand identifies the single in-flight command that holds a
// view's exclusion lock, if any.
type PendingCommand struct {
	ID      string
	Command string
	Started time.Time
}

// View is a single rendering surface. All state-changing access goes
// through the methods below, which hold mu for the minimum critical
// section; reads of title/URL/history are allowed concurrently with
// any state per spec §4.2's concurrency invariant.
type View struct {
	mu sync.RWMutex

	id              string
	sessionID       string
	state           State
	currentURL      string
	title           string
	history         []string
	historyIdx      int
	pinned          bool
	muted           bool
	zoom            float64
	lastAccessed    time.Time
	creationTime    time.Time
	proxyBinding    string
	evasionProfile  string
	pending         *PendingCommand
}

// New constructs a View in StateCreating bound to sessionID.
func New(sessionID string) *View {
	now := time.Now()
	return &View{
		id:           uuid.NewString(),
		sessionID:    sessionID,
		state:        StateCreating,
		zoom:         1.0,
		lastAccessed: now,
		creationTime: now,
	}
}

func (v *View) ID() string        { v.mu.RLock(); defer v.mu.RUnlock(); return v.id }
func (v *View) SessionID() string { v.mu.RLock(); defer v.mu.RUnlock(); return v.sessionID }
func (v *View) State() State      { v.mu.RLock(); defer v.mu.RUnlock(); return v.state }
func (v *View) CurrentURL() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.currentURL
}
func (v *View) Title() string { v.mu.RLock(); defer v.mu.RUnlock(); return v.title }

// History returns a copy of the ordered URL history and the current index.
func (v *View) History() ([]string, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.history))
	copy(out, v.history)
	return out, v.historyIdx
}

// Snapshot is a read-only point-in-time view of all view attributes,
// used by status/list_views handlers without holding the lock.
type Snapshot struct {
	ID           string
	SessionID    string
	State        State
	CurrentURL   string
	Title        string
	Pinned       bool
	Muted        bool
	Zoom         float64
	LastAccessed time.Time
	CreationTime time.Time
	ProxyBinding string
}

func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{
		ID: v.id, SessionID: v.sessionID, State: v.state, CurrentURL: v.currentURL,
		Title: v.title, Pinned: v.pinned, Muted: v.muted, Zoom: v.zoom,
		LastAccessed: v.lastAccessed, CreationTime: v.creationTime, ProxyBinding: v.proxyBinding,
	}
}

// BeginCommand transitions the view to `to` and records the command as
// the sole pending/owning command, enforcing spec §4.2's "at most one
// state-changing command per view at a time" and the legal-edge table.
// Returns InvalidState if the edge is not legal, or Busy if a command
// is already pending.
func (v *View) BeginCommand(id, command string, to State) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending != nil {
		return errs.New(errs.Busy, "view has a pending command: "+v.pending.Command).
			WithRecovery("wait for the pending command to complete or cancel it")
	}
	if !transitions[v.state][to] {
		return errs.New(errs.InvalidState, "cannot transition from "+string(v.state)+" to "+string(to)).
			WithRecovery("query current state first", "get_page_state")
	}
	v.state = to
	v.pending = &PendingCommand{ID: id, Command: command, Started: time.Now()}
	v.lastAccessed = time.Now()
	return nil
}

// EndCommand clears the pending command and returns the view to Idle.
// Per spec §5 "Timeouts": a timeout never leaves a view in a
// non-Idle state, so EndCommand is also what a cancelled/timed-out
// handler calls on its way out.
func (v *View) EndCommand() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateDestroyed && v.state != StateDraining {
		v.state = StateIdle
	}
	v.pending = nil
	v.lastAccessed = time.Now()
}

// Pending returns the current pending command, or nil.
func (v *View) Pending() *PendingCommand {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pending
}

// RecordNavigation appends url to history (bounded to maxHistory,
// dropping the oldest entry) and updates currentURL.
func (v *View) RecordNavigation(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currentURL = url
	v.history = append(v.history, url)
	if len(v.history) > maxHistory {
		v.history = v.history[len(v.history)-maxHistory:]
	}
	v.historyIdx = len(v.history) - 1
}

// SetTitle updates the page title (a read-concurrent attribute, so
// takes the write lock only briefly).
func (v *View) SetTitle(title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.title = title
}

// SetProxyBinding records the route binding identifier currently
// applied to this view (spec §4.6 route policy requires the view be
// Idle before this is called — enforced by the caller, not here).
func (v *View) SetProxyBinding(binding string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.proxyBinding = binding
}

// SetEvasionProfile records which evasion profile ref is bound.
func (v *View) SetEvasionProfile(ref string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.evasionProfile = ref
}

// MarkDestroyed transitions straight to Destroyed (terminal, spec
// §4.2: "Destroyed is terminal"). Used by the supervisor's drain path
// once Draining's cleanup finished.
func (v *View) MarkDestroyed() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = StateDestroyed
	v.pending = nil
}
