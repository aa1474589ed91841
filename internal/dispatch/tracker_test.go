package dispatch

import (
	"testing"
	"time"
)

func TestTrackerCompleteWakesWaiter(t *testing.T) {
	tr := newTracker()
	tr.register("req-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.complete("req-1", Response{ID: "req-1", Success: true}, statusComplete)
	}()

	result, ok := tr.waitFor("req-1", time.Second, nil)
	<-done
	if !ok || result == nil {
		t.Fatalf("waitFor should have returned a completed result")
	}
	if result.Status != statusComplete || !result.Response.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTrackerWaitForTimeout(t *testing.T) {
	tr := newTracker()
	tr.register("req-2")

	// The command never completes, so waitFor returns once its deadline
	// passes; the tracked result is still there, just still pending.
	result, _ := tr.waitFor("req-2", 20*time.Millisecond, nil)
	if result == nil {
		t.Fatalf("expected a non-nil pending result on timeout")
	}
	if result.Status != statusPending {
		t.Fatalf("status should still be pending after timeout, got %v", result.Status)
	}
}

func TestTrackerWaitForDone(t *testing.T) {
	tr := newTracker()
	tr.register("req-3")

	done := make(chan struct{})
	close(done)

	result, _ := tr.waitFor("req-3", time.Second, done)
	if result == nil {
		t.Fatalf("expected a non-nil pending result when done fires early")
	}
	if result.Status != statusPending {
		t.Fatalf("status should still be pending, got %v", result.Status)
	}
}

func TestTrackerForget(t *testing.T) {
	tr := newTracker()
	tr.register("req-4")
	tr.forget("req-4")
	if _, ok := tr.get("req-4"); ok {
		t.Fatalf("forget should remove the tracked result")
	}
}
