package dispatch

import (
	"context"

	"github.com/helmsman-dev/helmsman/internal/view"
)

// Call is the context a handler runs with: the parsed request plus
// whichever collaborators the dispatcher resolved before invocation.
type Call struct {
	Request Request
	Params  map[string]any
	Conn    string // connection/client id, for FIFO/active-view tracking
	View    *view.View
}

// HandlerFunc implements one command's behavior. It returns the `data`
// payload for a successful response, or an error (expected to be one
// of errs.Error, or any error which dispatch.As wraps as InternalError).
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// CommandSpec is one entry of the static command registry (spec §4.1
// step 3/4/6): its schema, whether it needs a resolved view, which view
// states it's legal from, and whether it is safe to retry.
type CommandSpec struct {
	Name           string
	Schema         Schema
	RequiresView   bool
	AllowedStates  []view.State // empty means "any non-destroyed state"
	Retryable      bool
	Mutating       bool
	Handler        HandlerFunc
}

func (c CommandSpec) stateAllowed(s view.State) bool {
	if len(c.AllowedStates) == 0 {
		return true
	}
	for _, allowed := range c.AllowedStates {
		if allowed == s {
			return true
		}
	}
	return false
}

// Registry is the closed, static command -> spec table of spec §6.
type Registry struct {
	commands map[string]CommandSpec
	names    []string
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]CommandSpec)}
}

// Register adds spec to the registry. Intended to be called only
// during server construction, before any Dispatch call.
func (r *Registry) Register(spec CommandSpec) {
	r.commands[spec.Name] = spec
	r.names = append(r.names, spec.Name)
}

func (r *Registry) lookup(name string) (CommandSpec, bool) {
	s, ok := r.commands[name]
	return s, ok
}

// Names returns every registered command name, used for edit-distance
// suggestions on UnknownCommand.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
