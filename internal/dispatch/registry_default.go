package dispatch

// NewDefaultRegistry builds the full command surface of spec §6 against
// deps: core/session/view management, navigation, interaction,
// extraction, capture/evidence, cookies, evasion profiles, and network
// routing. The returned Registry is immutable once wired into a
// Dispatcher via New.
func NewDefaultRegistry(deps *Deps) *Registry {
	r := NewRegistry()
	registerCoreCommands(r, deps)
	registerNavigationCommands(r, deps)
	registerInteractionCommands(r, deps)
	registerExtractionCommands(r, deps)
	registerCaptureCommands(r, deps)
	registerCookieCommands(r, deps)
	registerEvasionCommands(r, deps)
	registerRouteCommands(r, deps)
	return r
}
