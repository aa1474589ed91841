package resource

import (
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, th Thresholds) *Monitor {
	t.Helper()
	m, err := New(th, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestHealthThresholds(t *testing.T) {
	m := newTestMonitor(t, Thresholds{
		WarnRSSBytes: 100, CriticalRSSBytes: 200, ActionRSSBytes: 300,
	})
	cases := []struct {
		rss  uint64
		want Health
	}{
		{50, HealthOK},
		{150, HealthWarn},
		{250, HealthCritical},
	}
	for _, c := range cases {
		got := m.healthFor(Sample{RSSBytes: c.rss})
		if got != c.want {
			t.Errorf("healthFor(rss=%d) = %s, want %s", c.rss, got, c.want)
		}
	}
}

func TestUpdateHealthDowngradeRequiresHysteresisMargin(t *testing.T) {
	m := newTestMonitor(t, Thresholds{
		WarnRSSBytes: 100, CriticalRSSBytes: 200,
	})

	if got := m.updateHealth(Sample{RSSBytes: 250}); got != HealthCritical {
		t.Fatalf("updateHealth(250) = %s, want Critical", got)
	}
	// Still above the reset line (90% of 200 = 180): must stay Critical
	// even though a bare threshold check would already read Warn.
	if got := m.updateHealth(Sample{RSSBytes: 190}); got != HealthCritical {
		t.Fatalf("updateHealth(190) = %s, want Critical (within hysteresis band)", got)
	}
	if got := m.updateHealth(Sample{RSSBytes: 150}); got != HealthWarn {
		t.Fatalf("updateHealth(150) = %s, want Warn (below reset line)", got)
	}
	// An upgrade back to Critical is immediate, no hysteresis on the way up.
	if got := m.updateHealth(Sample{RSSBytes: 250}); got != HealthCritical {
		t.Fatalf("updateHealth(250) = %s, want immediate Critical upgrade", got)
	}
}

func TestActionCrossingEdgeTriggeredWithHysteresis(t *testing.T) {
	m := newTestMonitor(t, Thresholds{ActionRSSBytes: 1000})
	if m.checkActionCrossing(Sample{RSSBytes: 1200}) != true {
		t.Fatalf("first crossing should fire")
	}
	if m.checkActionCrossing(Sample{RSSBytes: 1300}) != false {
		t.Fatalf("repeated crossing should not re-fire until reset")
	}
	if m.checkActionCrossing(Sample{RSSBytes: 500}) != false {
		t.Fatalf("falling below threshold should not itself fire")
	}
	if m.checkActionCrossing(Sample{RSSBytes: 1100}) != true {
		t.Fatalf("crossing again after reset should fire")
	}
}

func TestDetectLeakRequiresMonotonicGrowth(t *testing.T) {
	m := newTestMonitor(t, Thresholds{})
	for i := 0; i < leakWindow; i++ {
		m.samples = append(m.samples, Sample{RSSBytes: uint64(100 + i*10)})
	}
	if !m.detectLeak() {
		t.Errorf("monotonically growing RSS across leakWindow samples should be detected")
	}

	m2 := newTestMonitor(t, Thresholds{})
	for i := 0; i < leakWindow; i++ {
		rss := uint64(100)
		if i == leakWindow/2 {
			rss = 50
		}
		m2.samples = append(m2.samples, Sample{RSSBytes: rss})
	}
	if m2.detectLeak() {
		t.Errorf("non-monotonic RSS should not be flagged as a leak")
	}
}

func TestActionTrippedRefusesUntilRecovery(t *testing.T) {
	m := newTestMonitor(t, Thresholds{ActionRSSBytes: 1000})
	m.mu.Lock()
	m.checkActionCrossing(Sample{RSSBytes: 1200})
	m.mu.Unlock()
	if !m.ActionTripped() {
		t.Fatalf("expected ActionTripped after crossing the action threshold")
	}
	m.mu.Lock()
	m.checkActionCrossing(Sample{RSSBytes: 10})
	m.mu.Unlock()
	if m.ActionTripped() {
		t.Errorf("expected ActionTripped to clear after recovery")
	}
}

func TestSamplesBoundedCopy(t *testing.T) {
	m := newTestMonitor(t, Thresholds{})
	for i := 0; i < 5; i++ {
		m.samples = append(m.samples, Sample{RSSBytes: uint64(i)})
	}
	out := m.Samples()
	if len(out) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(out))
	}
	out[0].RSSBytes = 999
	if m.samples[0].RSSBytes == 999 {
		t.Errorf("Samples() should return a copy, not the live slice")
	}
}
