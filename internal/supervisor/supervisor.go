// Package supervisor owns process-lifetime wiring: it builds every
// component in startup order, exposes the assembled dependency graph to
// a transport layer, and tears everything down again in reverse order
// on shutdown, grounded on joestump-claude-ops's cmd/claudeops bring-up
// sequence (resolve config, construct collaborators bottom-up, hand the
// result to a server, then wait on a signal to unwind it).
package supervisor

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/internal/config"
	"github.com/helmsman-dev/helmsman/internal/dispatch"
	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/engine/rodengine"
	"github.com/helmsman-dev/helmsman/internal/evasion"
	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/metrics"
	"github.com/helmsman-dev/helmsman/internal/orchestrator"
	"github.com/helmsman-dev/helmsman/internal/ratelimit"
	"github.com/helmsman-dev/helmsman/internal/redaction"
	"github.com/helmsman-dev/helmsman/internal/resource"
	"github.com/helmsman-dev/helmsman/internal/scheduler"
	"github.com/helmsman-dev/helmsman/internal/store"
	"github.com/helmsman-dev/helmsman/internal/view"
)

const maxViews = 64

// Supervisor holds every long-lived collaborator and the order they
// were brought up in, so Shutdown can unwind it precisely in reverse.
type Supervisor struct {
	log      *zap.Logger
	resolver *config.Resolver
	cfg      *config.Config

	Store        *store.Store
	Limiter      *ratelimit.Limiter
	Monitor      *resource.Monitor
	Views        *view.Registry
	Scheduler    *scheduler.Scheduler
	Evader       *evasion.Engine
	Adapter      engine.Adapter
	Orchestrator *orchestrator.Orchestrator
	Bus          *eventbus.Bus
	Dispatcher   *dispatch.Dispatcher
	Metrics      *metrics.Metrics
	Redactor     *redaction.Engine

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// Options carries the pieces of bring-up that have no natural home in
// config.Config: the engine adapter binding and an optional redaction
// pattern file.
type Options struct {
	RedactionConfigPath string
	Engine              rodengine.Config
	RequestsPerSecond   float64
	Burst               int
	CommandTimeout      time.Duration
}

// New brings up every component in the order spec §1's control-flow
// line implies a request needs them available: config, then the
// persistence layer (which itself sequences crash recovery, the
// ledger, and the session store), then the rate limiter and resource
// monitor, the view registry, the navigation scheduler, the evasion
// engine, the engine adapter, the capture orchestrator, the event bus,
// and finally the command dispatcher wired against the full registry.
func New(ctx context.Context, resolver *config.Resolver, log *zap.Logger, opts Options) (*Supervisor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := resolver.Snapshot()

	s := &Supervisor{log: log, resolver: resolver, cfg: cfg}

	redactor := redaction.New(opts.RedactionConfigPath)
	s.Redactor = redactor

	encKey, err := loadOrCreateSessionKey(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("provisioning session encryption key: %w", err)
	}

	st, recovery, err := store.Open(cfg.DataRoot, encKey, redactor, log)
	if err != nil {
		return nil, fmt.Errorf("opening persistence layer: %w", err)
	}
	s.Store = st
	log.Info("persistence layer opened",
		zap.Bool("truncated_tail_recovered", recovery.TruncatedTail),
		zap.Int("discarded_bytes", recovery.DiscardedBytes),
		zap.Int("sessions_loaded", recovery.SessionsLoaded))

	s.Limiter = ratelimit.New(
		time.Duration(cfg.Scheduler.MinDelayMs)*time.Millisecond,
		time.Duration(cfg.Scheduler.MaxDelayMs)*time.Millisecond,
		5*time.Minute,
	)

	monitor, err := resource.New(resource.Thresholds{
		WarnRSSBytes:       cfg.Resource.RSSWarning,
		CriticalRSSBytes:   cfg.Resource.RSSCritical,
		ActionRSSBytes:     cfg.Resource.RSSAction,
		WarnCPUPercent:     cfg.Resource.CPUWarning,
		CriticalCPUPercent: cfg.Resource.CPUCritical,
		ActionCPUPercent:   cfg.Resource.CPUCritical,
	}, time.Duration(cfg.Resource.SampleIntervalMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("starting resource monitor: %w", err)
	}
	s.Monitor = monitor

	monCtx, cancel := context.WithCancel(ctx)
	s.monitorCancel = cancel
	s.monitorDone = make(chan struct{})
	go func() {
		defer close(s.monitorDone)
		monitor.Run(monCtx)
	}()

	s.Views = view.NewRegistry(maxViews)

	s.Evader = evasion.New()

	adapter, err := rodengine.New(opts.Engine)
	if err != nil {
		return nil, fmt.Errorf("starting engine adapter: %w", err)
	}
	s.Adapter = adapter

	profile := config.ProfileDefaults(cfg.Scheduler.Profile)
	s.Scheduler = scheduler.New(profile.MaxConcurrentNavs, profile.PerHostConcurrency, scheduler.Dependencies{
		Views:    s.Views,
		Sessions: s.Store.Sessions,
		Limiter:  s.Limiter,
		Monitor:  s.Monitor,
		Evader:   s.Evader,
		Adapter:  s.Adapter,
		Ledger:   s.Store.Ledger,
	})

	s.Orchestrator = orchestrator.New(s.Views, s.Adapter, s.Store, s.Store.Ledger)

	s.Bus = eventbus.New()

	s.Metrics = metrics.New()

	deps := &dispatch.Deps{
		Views:        s.Views,
		Sessions:     s.Store.Sessions,
		Scheduler:    s.Scheduler,
		Orchestrator: s.Orchestrator,
		Ledger:       s.Store.Ledger,
		Store:        s.Store,
		Limiter:      s.Limiter,
		Monitor:      s.Monitor,
		Evader:       s.Evader,
		Adapter:      s.Adapter,
		Redactor:     redactor,
		Auth:         dispatch.NewAuthenticator(cfg.Server.AuthEnabled, authTokens(cfg.Server.AuthToken)),
	}
	registry := dispatch.NewDefaultRegistry(deps)

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 20
	}
	s.Dispatcher = dispatch.New(registry, deps.Auth, s.Views, s.Bus, deps, rps, burst,
		dispatch.WithLogger(log), dispatch.WithDefaultTimeout(opts.CommandTimeout))

	return s, nil
}

// Healthy reports readiness for httpadmin's /readyz: not ready while
// draining, otherwise always ready once New has returned successfully.
func (s *Supervisor) Healthy() (bool, string) {
	if s.Dispatcher == nil {
		return false, "not initialized"
	}
	return true, "serving"
}

// Shutdown runs the drain sequence: stop admitting new commands, wait
// for in-flight ones to finish (bounded by drainTimeout), flush every
// session and view, then close the persistence layer and engine
// adapter. Components are torn down in the reverse of the order New
// brought them up in.
func (s *Supervisor) Shutdown(ctx context.Context, drainTimeout time.Duration) error {
	s.log.Info("shutdown: draining dispatcher")
	s.Dispatcher.StopAccepting()

	deadline := time.Now().Add(drainTimeout)
	for s.Dispatcher.PendingCommands() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			deadline = time.Time{}
		case <-time.After(50 * time.Millisecond):
		}
	}
	if n := s.Dispatcher.PendingCommands(); n > 0 {
		s.log.Warn("shutdown: commands still pending past drain_timeout", zap.Int("pending", n))
	}

	if s.monitorCancel != nil {
		s.monitorCancel()
		<-s.monitorDone
	}

	for _, snap := range s.Views.List() {
		if err := s.Views.Destroy(snap.ID, nil); err != nil {
			s.log.Warn("shutdown: destroying view", zap.String("view_id", snap.ID), zap.Error(err))
		}
	}

	for _, id := range s.Store.Sessions.List() {
		if err := s.Store.Sessions.Flush(id); err != nil {
			s.log.Warn("shutdown: flushing session", zap.String("session_id", id), zap.Error(err))
		}
	}

	if closer, ok := s.Adapter.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.log.Warn("shutdown: closing engine adapter", zap.Error(err))
		}
	}

	if err := s.Store.Close(); err != nil {
		return fmt.Errorf("closing persistence layer: %w", err)
	}
	s.log.Info("shutdown complete")
	return nil
}

// loadOrCreateSessionKey reads the at-rest encryption key for cookie
// and storage-state blobs from <dataRoot>/session.key, generating and
// persisting one on first run. A missing key is not an error — it
// means a fresh data directory.
func loadOrCreateSessionKey(dataRoot string) (*[32]byte, error) {
	path := filepath.Join(dataRoot, "session.key")
	raw, err := os.ReadFile(path)
	if err == nil && len(raw) == 32 {
		var key [32]byte
		copy(key[:], raw)
		return &key, nil
	}

	if err := os.MkdirAll(dataRoot, 0o750); err != nil {
		return nil, fmt.Errorf("creating data root: %w", err)
	}
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return nil, fmt.Errorf("persisting session key: %w", err)
	}
	return &key, nil
}

// authTokens builds the static token table from a single configured
// operator token, or an empty table if none was set — an empty string
// token must never authenticate a request.
func authTokens(token string) map[string]string {
	if token == "" {
		return map[string]string{}
	}
	return map[string]string{token: "operator"}
}
