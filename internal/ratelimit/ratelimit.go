// Package ratelimit implements the per-host adaptive rate limiter
// (spec C4): admission queries are lock-free reads with a CAS on
// update, so two concurrent admissions for the same host never both
// see "admissible" for the same window.
package ratelimit

import (
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// RateState is the adaptive delay state tracked per host.
type RateState struct {
	LastRequest    time.Time
	CurrentDelay   time.Duration
	ConsecutiveErr int
	RecentStatus   []int // bounded ring of recent status classes, most recent last
}

const recentStatusWindow = 8

// Outcome classifies a completed request for backoff tuning (spec §4.4).
type Outcome struct {
	StatusCode int
	RetryAfter time.Duration // zero if the response carried no Retry-After
}

// Limiter tracks one RateState per host behind an atomic.Pointer so
// reads never block on a writer and writers race via CAS, not a mutex.
type Limiter struct {
	minDelay         time.Duration
	maxDelay         time.Duration
	idleResetAfter   time.Duration
	hosts            sync.Map // host -> *atomic.Pointer[RateState]
}

// New builds a Limiter. minDelay is the profile-dependent floor (e.g.
// 0 for aggressive, 500ms for stealth); maxDelay bounds backoff (spec
// default 5 minutes); idleResetAfter is the decay window after which
// an untouched host's state resets to defaults.
func New(minDelay, maxDelay, idleResetAfter time.Duration) *Limiter {
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	if idleResetAfter <= 0 {
		idleResetAfter = 10 * time.Minute
	}
	return &Limiter{minDelay: minDelay, maxDelay: maxDelay, idleResetAfter: idleResetAfter}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

func (l *Limiter) stateFor(host string) *atomic.Pointer[RateState] {
	p, _ := l.hosts.LoadOrStore(host, &atomic.Pointer[RateState]{})
	ptr := p.(*atomic.Pointer[RateState])
	if ptr.Load() == nil {
		ptr.CompareAndSwap(nil, &RateState{CurrentDelay: l.minDelay})
	}
	return ptr
}

// Admissible reports whether a request to the host of rawURL may
// proceed now, and if not, the earliest time it may (spec §4.2 "rate
// gate computes the earliest admissible time t").
func (l *Limiter) Admissible(rawURL string, now time.Time) (ok bool, resumeAt time.Time) {
	ptr := l.stateFor(hostOf(rawURL))
	st := l.currentState(ptr, now)
	resumeAt = st.LastRequest.Add(st.CurrentDelay)
	if !resumeAt.After(now) {
		return true, now
	}
	return false, resumeAt
}

// currentState applies idle decay before returning the live state,
// without mutating it (a CAS in Admit performs the actual reset).
func (l *Limiter) currentState(ptr *atomic.Pointer[RateState], now time.Time) *RateState {
	st := ptr.Load()
	if st == nil {
		return &RateState{CurrentDelay: l.minDelay}
	}
	if !st.LastRequest.IsZero() && now.Sub(st.LastRequest) > l.idleResetAfter {
		return &RateState{CurrentDelay: l.minDelay}
	}
	return st
}

// Admit records that a request to host(rawURL) is starting now. Call
// this at the moment the request is actually dispatched, after
// Admissible returned true (or the parked wait elapsed).
func (l *Limiter) Admit(rawURL string, now time.Time) {
	host := hostOf(rawURL)
	ptr := l.stateFor(host)
	for {
		old := ptr.Load()
		cur := l.currentState(ptr, now)
		next := *cur
		next.LastRequest = now
		if ptr.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Report applies the adaptive backoff policy for a completed request
// (spec §4.4). Jitter is added to the resume time, not stored in
// CurrentDelay, so repeated Report calls don't compound jitter.
func (l *Limiter) Report(rawURL string, outcome Outcome, now time.Time) {
	host := hostOf(rawURL)
	ptr := l.stateFor(host)
	for {
		old := ptr.Load()
		cur := l.currentState(ptr, now)
		next := *cur
		next.RecentStatus = pushStatus(next.RecentStatus, outcome.StatusCode)

		switch {
		case outcome.StatusCode == 429 || outcome.StatusCode == 503:
			jitter := time.Duration(rand.Int64N(int64(next.CurrentDelay/4 + 1)))
			backoff := next.CurrentDelay*2 + jitter
			if backoff > l.maxDelay {
				backoff = l.maxDelay
			}
			if outcome.RetryAfter > backoff {
				backoff = outcome.RetryAfter
			}
			next.CurrentDelay = backoff
			next.ConsecutiveErr++
		case outcome.StatusCode >= 200 && outcome.StatusCode < 400:
			if next.ConsecutiveErr > 0 {
				next.CurrentDelay = maxDuration(next.CurrentDelay/2, l.minDelay)
				next.ConsecutiveErr = 0
			}
		default:
			// other 4xx/5xx: no change
		}

		if ptr.CompareAndSwap(old, &next) {
			return
		}
	}
}

func pushStatus(window []int, status int) []int {
	window = append(window, status)
	if len(window) > recentStatusWindow {
		window = window[len(window)-recentStatusWindow:]
	}
	return window
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// Snapshot returns a copy of the current RateState for host, for
// status/telemetry surfaces. Returns the zero state if host is unknown.
func (l *Limiter) Snapshot(host string) RateState {
	p, ok := l.hosts.Load(host)
	if !ok {
		return RateState{CurrentDelay: l.minDelay}
	}
	ptr := p.(*atomic.Pointer[RateState])
	if st := ptr.Load(); st != nil {
		return *st
	}
	return RateState{CurrentDelay: l.minDelay}
}
