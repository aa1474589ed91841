package config

import "testing"

func TestNewResolverDefaults(t *testing.T) {
	r, err := NewResolver("")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	snap := r.Snapshot()
	if snap.Server.Port != 8787 {
		t.Errorf("default server.port = %d, want 8787", snap.Server.Port)
	}
	if snap.Scheduler.Profile != "balanced" {
		t.Errorf("default scheduler.profile = %q, want balanced", snap.Scheduler.Profile)
	}
	if snap.Version != 1 {
		t.Errorf("initial snapshot version = %d, want 1", snap.Version)
	}
}

func TestRuntimeOverrideBumpsVersion(t *testing.T) {
	r, err := NewResolver("")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	first := r.Snapshot()
	if err := r.SetRuntimeOverride("server.port", 9999); err != nil {
		t.Fatalf("SetRuntimeOverride: %v", err)
	}
	second := r.Snapshot()
	if second.Server.Port != 9999 {
		t.Errorf("overridden server.port = %d, want 9999", second.Server.Port)
	}
	if second.Version <= first.Version {
		t.Errorf("version did not advance: first=%d second=%d", first.Version, second.Version)
	}
	if first.Server.Port != 8787 {
		t.Errorf("prior snapshot mutated in place: %d", first.Server.Port)
	}
}

func TestProfileDefaultsUnknownFallsBackToBalanced(t *testing.T) {
	p := ProfileDefaults("not-a-real-profile")
	if p.Profile != "balanced" {
		t.Errorf("unknown profile fell back to %q, want balanced", p.Profile)
	}
}

func TestProfileOrdering(t *testing.T) {
	single := ProfileDefaults("single")
	stealth := ProfileDefaults("stealth")
	balanced := ProfileDefaults("balanced")
	aggressive := ProfileDefaults("aggressive")
	if !(single.MaxConcurrentNavs < stealth.MaxConcurrentNavs &&
		stealth.MaxConcurrentNavs < balanced.MaxConcurrentNavs &&
		balanced.MaxConcurrentNavs < aggressive.MaxConcurrentNavs) {
		t.Errorf("scheduler profiles are not monotonically increasing in concurrency")
	}
	if !(single.MinDelayMs >= stealth.MinDelayMs && stealth.MinDelayMs >= aggressive.MinDelayMs) {
		t.Errorf("scheduler profiles are not monotonically decreasing in min delay")
	}
}
