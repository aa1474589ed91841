// Package scheduler implements the Navigation Scheduler (spec C6): a
// single instance serving all views, running the five-step admission
// pipeline (global cap, per-host cap, rate gate, resource gate, view
// readiness) before dispatching to the engine.
package scheduler

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/evasion"
	"github.com/helmsman-dev/helmsman/internal/ledger"
	"github.com/helmsman-dev/helmsman/internal/ratelimit"
	"github.com/helmsman-dev/helmsman/internal/resource"
	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/view"
)

// NavigationIntent is one requested navigation.
type NavigationIntent struct {
	ID          string
	ViewID      string
	URL         string
	Wait        engine.WaitCondition
	Timeout     time.Duration
	Priority    int
	SubmittedAt time.Time
}

// pollInterval bounds how often the admission loop re-checks capacity
// gates while parked; it is not itself a source of ordering.
const pollInterval = 10 * time.Millisecond

// Scheduler serializes admission for one system of views/sessions.
type Scheduler struct {
	maxConcurrent int
	perHostCap    int

	views    *view.Registry
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	monitor  *resource.Monitor
	evader   *evasion.Engine
	adapter  engine.Adapter
	ledger   *ledger.Ledger

	hostInFlight sync.Map // host -> *atomic.Int64

	fifoMu sync.Map // (viewID,host) -> *sync.Mutex, enforces FIFO per spec §4.3
}

// Dependencies bundles the collaborators the scheduler coordinates. All
// fields are required except Ledger, which is optional (a nil Ledger
// just means cancellations go unaudited, useful in tests).
type Dependencies struct {
	Views    *view.Registry
	Sessions *session.Manager
	Limiter  *ratelimit.Limiter
	Monitor  *resource.Monitor
	Evader   *evasion.Engine
	Adapter  engine.Adapter
	Ledger   *ledger.Ledger
}

// New builds a Scheduler for one scheduler profile's concurrency caps.
func New(maxConcurrent, perHostCap int, deps Dependencies) *Scheduler {
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		perHostCap:    perHostCap,
		views:         deps.Views,
		sessions:      deps.Sessions,
		limiter:       deps.Limiter,
		monitor:       deps.Monitor,
		evader:        deps.Evader,
		adapter:       deps.Adapter,
		ledger:        deps.Ledger,
	}
}

// recordCancelled appends a Cancelled audit record for viewID, ignoring
// a ledger write failure — the navigation's own cancellation takes
// effect either way.
func (s *Scheduler) recordCancelled(viewID string) {
	if s.ledger == nil {
		return
	}
	sessionID := ""
	if v, err := s.views.Get(viewID); err == nil {
		sessionID = v.SessionID()
	}
	_, _ = s.ledger.AppendCancelled("", viewID, sessionID, "navigate")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

func (s *Scheduler) hostCounter(host string) *atomic.Int64 {
	v, _ := s.hostInFlight.LoadOrStore(host, &atomic.Int64{})
	return v.(*atomic.Int64)
}

func (s *Scheduler) fifoLockFor(viewID, host string) *sync.Mutex {
	key := viewID + "|" + host
	v, _ := s.fifoMu.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Navigate runs one intent through the full admission pipeline and, on
// admission, dispatches it to the engine. It blocks until the intent
// completes, is rejected, or its Timeout elapses.
func (s *Scheduler) Navigate(ctx context.Context, intent NavigationIntent) (engine.NavigateResult, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.SubmittedAt.IsZero() {
		intent.SubmittedAt = time.Now()
	}
	host := hostOf(intent.URL)

	// Ordering guarantee: intents for the same (view, host) are FIFO.
	// Across hosts/views no ordering is promised, so the lock is scoped
	// per (view, host) pair, not global.
	fifo := s.fifoLockFor(intent.ViewID, host)
	fifo.Lock()
	defer fifo.Unlock()

	deadline := intent.SubmittedAt.Add(intent.Timeout)
	if intent.Timeout <= 0 {
		deadline = time.Time{}
	}

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return engine.NavigateResult{}, errs.New(errs.Timeout, "navigation intent parked past its timeout").
				WithRecovery("resubmit with a longer timeout or a less congested profile")
		}
		select {
		case <-ctx.Done():
			s.recordCancelled(intent.ViewID)
			return engine.NavigateResult{}, errs.Wrap(errs.Cancelled, "navigation intent cancelled", ctx.Err())
		default:
		}

		// 1. Global concurrency cap.
		if s.views.CountInState(view.StateNavigating) >= s.maxConcurrent {
			time.Sleep(pollInterval)
			continue
		}

		// 2. Per-host concurrency cap.
		counter := s.hostCounter(host)
		if int(counter.Load()) >= s.perHostCap {
			time.Sleep(pollInterval)
			continue
		}

		// 3. Rate gate.
		now := time.Now()
		ok, resumeAt := s.limiter.Admissible(intent.URL, now)
		if !ok {
			wait := resumeAt.Sub(now)
			if wait > pollInterval {
				wait = pollInterval
			}
			time.Sleep(wait)
			continue
		}

		// 4. Resource gate.
		if s.monitor != nil && s.monitor.Health() == resource.HealthCritical {
			return engine.NavigateResult{}, errs.New(errs.ResourceExhausted, "resource monitor reports Critical health").
				WithRecovery("wait for resource pressure to clear before retrying")
		}

		// Reserve the per-host slot before attempting view readiness so
		// a concurrent admission for the same host sees the reservation.
		counter.Add(1)
		result, err := s.dispatch(ctx, intent, host)
		counter.Add(-1)
		return result, err
	}
}

// dispatch performs step 5 (view readiness) and, on success, the
// actual engine call.
func (s *Scheduler) dispatch(ctx context.Context, intent NavigationIntent, host string) (engine.NavigateResult, error) {
	v, err := s.views.Get(intent.ViewID)
	if err != nil {
		return engine.NavigateResult{}, err
	}
	if err := v.BeginCommand(intent.ID, "navigate", view.StateNavigating); err != nil {
		return engine.NavigateResult{}, err
	}
	defer v.EndCommand()

	sess, err := s.sessions.Get(v.SessionID())
	if err != nil {
		return engine.NavigateResult{}, err
	}

	action := s.evader.PreNavigationActionFor(v, sess)
	h, err := s.adapter.NewHandle(ctx)
	if err != nil {
		return engine.NavigateResult{}, errs.Wrap(errs.EngineError, "failed to open engine handle", err)
	}
	if err := s.adapter.ApplyOverrides(ctx, h, overridesFrom(action)); err != nil {
		return engine.NavigateResult{}, errs.Wrap(errs.EngineError, "failed to apply evasion overrides", err)
	}

	timeout := intent.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	result, navErr := s.adapter.Navigate(ctx, h, intent.URL, intent.Wait, timeout)

	s.limiter.Admit(intent.URL, intent.SubmittedAt)
	s.limiter.Report(intent.URL, outcomeFrom(result, navErr), time.Now())

	if navErr != nil {
		if ctx.Err() != nil {
			s.recordCancelled(intent.ViewID)
			return engine.NavigateResult{}, errs.Wrap(errs.Cancelled, "navigation cancelled mid-flight", ctx.Err())
		}
		return engine.NavigateResult{}, errs.Wrap(errs.EngineError, "navigation failed", navErr)
	}
	v.RecordNavigation(result.FinalURL)
	v.SetTitle(result.Title)
	_ = host
	return result, nil
}

func overridesFrom(a evasion.PreNavigationAction) engine.Overrides {
	o := engine.Overrides{
		AcceptLanguage:      a.Headers.AcceptLanguage,
		TimezoneID:          a.Fingerprint.TimezoneName,
		Platform:            a.Fingerprint.Platform,
		Languages:           a.Fingerprint.Languages,
		ScreenWidth:         a.Fingerprint.ScreenWidth,
		ScreenHeight:        a.Fingerprint.ScreenHeight,
		HardwareConcurrency: a.Fingerprint.HardwareConcurrency,
		DeviceMemoryGB:      a.Fingerprint.DeviceMemoryGB,
		WebGLVendor:         a.Fingerprint.WebGLVendor,
		WebGLRenderer:       a.Fingerprint.WebGLRenderer,
		CanvasNoiseSeed:     int64(a.Fingerprint.CanvasNoise),
		AudioNoiseAmplitude: a.Fingerprint.AudioNoiseAmplitude,
		RemovedHeaders:      a.Headers.RemovedHeaders,
		WebdriverOff:        a.WebdriverOff,
	}
	if a.Route != nil {
		o.ProxyURL = a.Route.Endpoint
	}
	return o
}

// outcomeFrom maps an engine result to a ratelimit.Outcome. The engine
// layer does not currently surface raw HTTP status codes across
// redirects, so a successful navigation reports 200 and a failed one
// reports 0 (treated as "other", no backoff change) unless the error
// carries a recognizable status.
func outcomeFrom(r engine.NavigateResult, err error) ratelimit.Outcome {
	if err == nil {
		code := r.StatusCode
		if code == 0 {
			code = 200
		}
		return ratelimit.Outcome{StatusCode: code}
	}
	if r.StatusCode != 0 {
		return ratelimit.Outcome{StatusCode: r.StatusCode}
	}
	return ratelimit.Outcome{StatusCode: 0}
}

// Cancel cooperatively cancels an admitted intent (the caller's ctx
// passed to Navigate should be the one cancelled) and returns the view
// to Idle. For a parked intent, cancelling the same context causes
// Navigate's ctx.Done() check to return Cancelled immediately, which
// is equivalent to an immediate drop from the queue (spec §4.3).
func (s *Scheduler) Cancel(viewID string) error {
	v, err := s.views.Get(viewID)
	if err != nil {
		return err
	}
	v.EndCommand()
	return nil
}
