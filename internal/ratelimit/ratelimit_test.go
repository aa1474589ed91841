package ratelimit

import (
	"testing"
	"time"
)

func TestAdmissibleFirstRequestImmediate(t *testing.T) {
	l := New(500*time.Millisecond, 5*time.Minute, 10*time.Minute)
	now := time.Now()
	ok, _ := l.Admissible("https://example.test/a", now)
	if !ok {
		t.Fatalf("first request to an unseen host should be admissible immediately")
	}
}

func TestAdmitThenSecondRequestParked(t *testing.T) {
	l := New(500*time.Millisecond, 5*time.Minute, 10*time.Minute)
	now := time.Now()
	l.Admit("https://example.test/a", now)

	ok, resumeAt := l.Admissible("https://example.test/a", now)
	if ok {
		t.Fatalf("second request within min_delay should be parked")
	}
	if resumeAt.Sub(now) < 500*time.Millisecond {
		t.Errorf("resumeAt too early: %v after now", resumeAt.Sub(now))
	}
}

func TestReport429DoublesDelay(t *testing.T) {
	l := New(0, 5*time.Minute, 10*time.Minute)
	host := "https://example.test/a"
	now := time.Now()
	l.Admit(host, now)
	l.Report(host, Outcome{StatusCode: 429}, now)

	st := l.Snapshot("example.test")
	if st.CurrentDelay <= 0 {
		t.Fatalf("expected a nonzero delay after a 429, got %v", st.CurrentDelay)
	}
	if st.ConsecutiveErr != 1 {
		t.Errorf("consecutive_429 = %d, want 1", st.ConsecutiveErr)
	}

	// A second 429 should roughly double the prior delay (plus jitter).
	prior := st.CurrentDelay
	l.Report(host, Outcome{StatusCode: 429}, now)
	st2 := l.Snapshot("example.test")
	if st2.CurrentDelay < prior {
		t.Errorf("delay should grow on repeated 429s: prior=%v next=%v", prior, st2.CurrentDelay)
	}
}

func TestReportRetryAfterWins(t *testing.T) {
	l := New(0, 5*time.Minute, 10*time.Minute)
	host := "https://example.test/a"
	now := time.Now()
	l.Report(host, Outcome{StatusCode: 429, RetryAfter: 90 * time.Second}, now)
	st := l.Snapshot("example.test")
	if st.CurrentDelay < 90*time.Second {
		t.Errorf("Retry-After should set the floor: got %v", st.CurrentDelay)
	}
}

func TestReportSuccessHalvesDelayAfterBackoff(t *testing.T) {
	l := New(100*time.Millisecond, 5*time.Minute, 10*time.Minute)
	host := "https://example.test/a"
	now := time.Now()
	l.Report(host, Outcome{StatusCode: 429}, now)
	afterBackoff := l.Snapshot("example.test").CurrentDelay

	l.Report(host, Outcome{StatusCode: 200}, now)
	afterSuccess := l.Snapshot("example.test").CurrentDelay
	if afterSuccess >= afterBackoff {
		t.Errorf("success after 429s should reduce delay: before=%v after=%v", afterBackoff, afterSuccess)
	}
	if afterSuccess < 100*time.Millisecond {
		t.Errorf("delay should not fall below the configured minimum: got %v", afterSuccess)
	}
}

func TestOtherErrorsDoNotChangeDelay(t *testing.T) {
	l := New(200*time.Millisecond, 5*time.Minute, 10*time.Minute)
	host := "https://example.test/a"
	now := time.Now()
	before := l.Snapshot("example.test").CurrentDelay
	l.Report(host, Outcome{StatusCode: 404}, now)
	after := l.Snapshot("example.test").CurrentDelay
	if before != after {
		t.Errorf("a plain 404 should not change current_delay: before=%v after=%v", before, after)
	}
}

func TestIdleResetRestoresMinimum(t *testing.T) {
	l := New(100*time.Millisecond, 5*time.Minute, 1*time.Millisecond)
	host := "https://example.test/a"
	now := time.Now()
	l.Report(host, Outcome{StatusCode: 429}, now)
	later := now.Add(time.Hour)
	ok, _ := l.Admissible(host, later)
	if !ok {
		t.Errorf("after idle_reset_interval has elapsed the host should be admissible again")
	}
}

func TestHostsAreIndependent(t *testing.T) {
	l := New(500*time.Millisecond, 5*time.Minute, 10*time.Minute)
	now := time.Now()
	l.Admit("https://a.test/x", now)
	ok, _ := l.Admissible("https://b.test/x", now)
	if !ok {
		t.Errorf("rate limiting one host should not affect another host")
	}
}
