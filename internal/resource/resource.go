// Package resource implements the Resource Monitor (spec C5): periodic
// RSS/CPU sampling with hysteresis health thresholds and a leak
// heuristic. The monitor never destroys views itself — it only emits
// events; policy stays with the dispatcher.
package resource

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Health is the three-level status derived from current samples.
type Health string

const (
	HealthOK       Health = "OK"
	HealthWarn     Health = "Warn"
	HealthCritical Health = "Critical"
)

// Thresholds configures the warning/critical/action boundaries for
// both RSS (bytes) and CPU (percent, 0-100).
type Thresholds struct {
	WarnRSSBytes     uint64
	CriticalRSSBytes uint64
	ActionRSSBytes   uint64
	WarnCPUPercent   float64
	CriticalCPUPercent float64
	ActionCPUPercent float64
}

// Sample is one point in the ring buffer.
type Sample struct {
	Time      time.Time
	RSSBytes  uint64
	CPUPercent float64
}

// Event is emitted on the out channel; Kind distinguishes pressure
// crossings from leak detections.
type Event struct {
	Kind      string // "ResourcePressure" | "PossibleLeak"
	Health    Health
	Sample    Sample
	Time      time.Time
}

const leakWindow = 6 // K consecutive monotonically-growing windows

// Monitor samples this process's RSS/CPU on a fixed interval and
// tracks a bounded ring buffer of history.
type Monitor struct {
	thresholds Thresholds
	interval   time.Duration
	pid        int32

	mu            sync.RWMutex
	samples       []Sample
	maxSamples    int
	actionTripped bool
	health        Health
	viewsCreatedSinceLastSample bool

	events chan Event
}

// New builds a Monitor for the current process. interval defaults to
// 5s (spec §4.5) if zero.
func New(thresholds Thresholds, interval time.Duration) (*Monitor, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitor{
		thresholds: thresholds,
		interval:   interval,
		pid:        proc.Pid,
		maxSamples: 120,
		health:     HealthOK,
		events:     make(chan Event, 32),
	}, nil
}

// Events returns the channel ResourcePressure/PossibleLeak events are
// published on. Callers should drain it; a full channel drops the
// oldest consumer's view of events, not the sample loop itself.
func (m *Monitor) Events() <-chan Event { return m.events }

// NoteViewCreated resets the leak heuristic's "no view creation" gate —
// a monotonic RSS climb with views actively being created is expected
// growth, not a leak (spec §4.5).
func (m *Monitor) NoteViewCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewsCreatedSinceLastSample = true
}

// Run samples at the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	proc, err := process.NewProcess(m.pid)
	if err != nil {
		return
	}
	memInfo, err := proc.MemoryInfo()
	rss := uint64(0)
	if err == nil && memInfo != nil {
		rss = memInfo.RSS
	}
	cpuPct, _ := proc.CPUPercent()
	if cpuPct == 0 {
		if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
			cpuPct = pcts[0]
		}
	}

	sample := Sample{Time: time.Now(), RSSBytes: rss, CPUPercent: cpuPct}

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > m.maxSamples {
		m.samples = m.samples[len(m.samples)-m.maxSamples:]
	}
	health := m.updateHealth(sample)
	leak := m.detectLeak()
	createdSinceLast := m.viewsCreatedSinceLastSample
	m.viewsCreatedSinceLastSample = false
	actionCrossed := m.checkActionCrossing(sample)
	m.mu.Unlock()

	if actionCrossed {
		m.publish(Event{Kind: "ResourcePressure", Health: health, Sample: sample, Time: sample.Time})
	}
	if leak && !createdSinceLast {
		m.publish(Event{Kind: "PossibleLeak", Health: health, Sample: sample, Time: sample.Time})
	}
}

func (m *Monitor) publish(e Event) {
	select {
	case m.events <- e:
	default:
		// drop oldest to make room rather than block the sampler
		select {
		case <-m.events:
		default:
		}
		select {
		case m.events <- e:
		default:
		}
	}
}

// healthFor classifies a sample against thresholds. Call with m.mu held.
func (m *Monitor) healthFor(s Sample) Health {
	t := m.thresholds
	if s.RSSBytes >= t.CriticalRSSBytes || s.CPUPercent >= t.CriticalCPUPercent {
		return HealthCritical
	}
	if s.RSSBytes >= t.WarnRSSBytes || s.CPUPercent >= t.WarnCPUPercent {
		return HealthWarn
	}
	return HealthOK
}

// healthRank orders Health by severity so upgrades and downgrades can
// be compared numerically.
func healthRank(h Health) int {
	switch h {
	case HealthCritical:
		return 2
	case HealthWarn:
		return 1
	default:
		return 0
	}
}

func belowMargin(value, threshold, margin float64) bool {
	return threshold == 0 || value < threshold*margin
}

// belowResetLine reports whether s has fallen comfortably (90%) below
// the lower boundary of level, the hysteresis margin a downgrade out
// of level must clear. Call with m.mu held.
func (m *Monitor) belowResetLine(level Health, s Sample) bool {
	t := m.thresholds
	const margin = 0.9
	switch level {
	case HealthCritical:
		return belowMargin(float64(s.RSSBytes), float64(t.CriticalRSSBytes), margin) &&
			belowMargin(s.CPUPercent, t.CriticalCPUPercent, margin)
	case HealthWarn:
		return belowMargin(float64(s.RSSBytes), float64(t.WarnRSSBytes), margin) &&
			belowMargin(s.CPUPercent, t.WarnCPUPercent, margin)
	default:
		return true
	}
}

// updateHealth applies hysteresis to the raw per-sample classification
// and records the result as the monitor's current Health: an upgrade
// to a more severe level takes effect immediately, but a downgrade
// only takes effect once the sample falls below the reset line for the
// current level, so a sample oscillating right at a boundary doesn't
// flap Health on every call. Call with m.mu held.
func (m *Monitor) updateHealth(s Sample) Health {
	raw := m.healthFor(s)
	if healthRank(raw) >= healthRank(m.health) {
		m.health = raw
		return m.health
	}
	if m.belowResetLine(m.health, s) {
		m.health = raw
	}
	return m.health
}

// checkActionCrossing reports whether this sample newly crosses into
// the action threshold (edge-triggered, with hysteresis: it resets
// once the sample falls back below 90% of the action threshold).
func (m *Monitor) checkActionCrossing(s Sample) bool {
	t := m.thresholds
	crossed := (t.ActionRSSBytes > 0 && s.RSSBytes >= t.ActionRSSBytes) ||
		(t.ActionCPUPercent > 0 && s.CPUPercent >= t.ActionCPUPercent)
	if crossed {
		if m.actionTripped {
			return false
		}
		m.actionTripped = true
		return true
	}
	belowResetLine := (t.ActionRSSBytes == 0 || float64(s.RSSBytes) < float64(t.ActionRSSBytes)*0.9) &&
		(t.ActionCPUPercent == 0 || s.CPUPercent < t.ActionCPUPercent*0.9)
	if belowResetLine {
		m.actionTripped = false
	}
	return false
}

// detectLeak reports whether RSS has grown monotonically across the
// last leakWindow samples. Call with m.mu held.
func (m *Monitor) detectLeak() bool {
	n := len(m.samples)
	if n < leakWindow {
		return false
	}
	window := m.samples[n-leakWindow:]
	for i := 1; i < len(window); i++ {
		if window[i].RSSBytes <= window[i-1].RSSBytes {
			return false
		}
	}
	return true
}

// ActionTripped reports whether the monitor currently refuses new view
// creation (spec §4.5: "refuses new view creations until recovery").
func (m *Monitor) ActionTripped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.actionTripped
}

// Health returns the monitor's current hysteresis-adjusted health
// classification, last updated by updateHealth on the most recent
// sample.
func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.samples) == 0 {
		return HealthOK
	}
	return m.health
}

// Samples returns a copy of the current ring buffer, oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}
