package view

import (
	"testing"

	"github.com/helmsman-dev/helmsman/internal/errs"
)

func TestRegistryCreateAndDestroy(t *testing.T) {
	r := NewRegistry(2)
	v, err := r.Create("s1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.State() != StateCreating {
		t.Errorf("new view state = %s, want Creating", v.State())
	}
	if err := r.Destroy(v.ID(), nil); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := r.Get(v.ID()); err == nil {
		t.Errorf("expected NoSuchView after destroy")
	} else if e := errs.As(err); e.Kind != errs.NoSuchView {
		t.Errorf("kind = %s, want NoSuchView", e.Kind)
	}
	for _, snap := range r.List() {
		if snap.ID == v.ID() {
			t.Errorf("destroyed view still present in list_views")
		}
	}
}

func TestRegistryMaxViewsExhaustion(t *testing.T) {
	r := NewRegistry(1)
	v1, err := r.Create("s1")
	if err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	_, err = r.Create("s1")
	if err == nil {
		t.Fatalf("expected ResourceExhausted on (max+1)-th view")
	}
	if e := errs.As(err); e.Kind != errs.ResourceExhausted {
		t.Errorf("kind = %s, want ResourceExhausted", e.Kind)
	}
	if r.Count() != 1 {
		t.Errorf("rejected create mutated registry: count=%d", r.Count())
	}
	_ = v1
}

func TestViewStateMachineLegalEdges(t *testing.T) {
	v := New("s1")
	if err := v.BeginCommand("c1", "ready", StateIdle); err != nil {
		t.Fatalf("Creating->Idle: %v", err)
	}
	v.EndCommand()
	if err := v.BeginCommand("c2", "navigate", StateNavigating); err != nil {
		t.Fatalf("Idle->Navigating: %v", err)
	}
	// Second command while navigating must be rejected Busy.
	if err := v.BeginCommand("c3", "click", StateInteracting); err == nil {
		t.Fatalf("expected Busy for concurrent command")
	} else if e := errs.As(err); e.Kind != errs.Busy {
		t.Errorf("kind = %s, want Busy", e.Kind)
	}
	v.EndCommand()
	if v.State() != StateIdle {
		t.Errorf("state after EndCommand = %s, want Idle", v.State())
	}
}

func TestViewHistoryBounded(t *testing.T) {
	v := New("s1")
	for i := 0; i < 150; i++ {
		v.RecordNavigation("https://example.test/")
	}
	hist, idx := v.History()
	if len(hist) != 100 {
		t.Errorf("history length = %d, want 100", len(hist))
	}
	if idx != 99 {
		t.Errorf("history index = %d, want 99", idx)
	}
}

func TestReverseSessionMapOnDestroy(t *testing.T) {
	r := NewRegistry(0)
	v, _ := r.Create("sA")
	if views := r.ViewsForSession("sA"); len(views) != 1 {
		t.Fatalf("expected 1 view for session sA, got %d", len(views))
	}
	_ = r.Destroy(v.ID(), nil)
	if views := r.ViewsForSession("sA"); len(views) != 0 {
		t.Errorf("expected 0 views for session sA after destroy, got %d", len(views))
	}
}
