// Package orchestrator implements the Capture Orchestrator (spec C11):
// it drives a multi-artifact forensic snapshot atomically per view and
// writes the resulting records to the ledger as one batch.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/ledger"
	"github.com/helmsman-dev/helmsman/internal/view"
)

// ArtifactWriter persists a captured artifact's bytes and returns the
// location a ledger record should reference. Concrete implementations
// live in the persistence layer (C12).
type ArtifactWriter interface {
	Write(ctx context.Context, kind engine.CaptureKind, data []byte) (location string, err error)
}

// Orchestrator drives forensic_snapshot captures.
type Orchestrator struct {
	views   *view.Registry
	adapter engine.Adapter
	writer  ArtifactWriter
	ledger  *ledger.Ledger
}

func New(views *view.Registry, adapter engine.Adapter, writer ArtifactWriter, l *ledger.Ledger) *Orchestrator {
	return &Orchestrator{views: views, adapter: adapter, writer: writer, ledger: l}
}

// SnapshotResult is the batch id plus per-artifact digests returned to
// the caller (spec §4.7 step 5).
type SnapshotResult struct {
	BatchID string
	Records []ledger.Record
	Failed  []engine.CaptureKind
}

var defaultKinds = []engine.CaptureKind{
	engine.CaptureScreenshot, engine.CaptureDOMSnapshot, engine.CaptureHAR,
	engine.CaptureConsole, engine.CaptureCookies,
}

// CaptureForensicSnapshot runs the five-step capture pipeline of spec
// §4.7: transition to Capturing, issue parallel-safe engine calls with
// a total wall-clock timeout, hash each payload, write artifacts, and
// append ledger records as a single batch.
func (o *Orchestrator) CaptureForensicSnapshot(ctx context.Context, viewID, sessionID, actorID string, timeout time.Duration, kinds []engine.CaptureKind) (SnapshotResult, error) {
	if len(kinds) == 0 {
		kinds = defaultKinds
	}
	v, err := o.views.Get(viewID)
	if err != nil {
		return SnapshotResult{}, err
	}
	if err := v.BeginCommand("capture-"+viewID, "capture_forensic_snapshot", view.StateCapturing); err != nil {
		return SnapshotResult{}, err
	}
	defer v.EndCommand()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := o.adapter.NewHandle(ctx)
	if err != nil {
		return SnapshotResult{}, errs.Wrap(errs.EngineError, "failed to open engine handle for capture", err)
	}

	type captured struct {
		kind     engine.CaptureKind
		data     []byte
		location string
	}

	results := make([]captured, len(kinds))
	var failed []engine.CaptureKind
	var failedMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			res, err := o.adapter.Capture(gctx, h, kind)
			if err != nil {
				failedMu.Lock()
				failed = append(failed, kind)
				failedMu.Unlock()
				return nil // partial failure: recorded, not fatal to the whole snapshot
			}
			location, werr := o.writer.Write(gctx, kind, res.Data)
			if werr != nil {
				failedMu.Lock()
				failed = append(failed, kind)
				failedMu.Unlock()
				return nil
			}
			results[i] = captured{kind: kind, data: res.Data, location: location}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SnapshotResult{}, errs.Wrap(errs.EngineError, "forensic snapshot capture failed", err)
	}

	records := make([]ledger.Record, 0, len(results))
	for _, r := range results {
		if r.kind == "" {
			continue // this slot failed and was skipped
		}
		records = append(records, ledger.Record{
			ViewID: viewID, SessionID: sessionID, ActorID: actorID,
			Kind:            ledgerKind(r.kind),
			PayloadDigest:   ledger.HashPayload(r.data),
			PayloadLocation: r.location,
		})
	}
	written, err := o.ledger.AppendBatch(records)
	if err != nil {
		return SnapshotResult{}, errs.Wrap(errs.IntegrityError, "failed to append capture batch to the ledger", err)
	}

	batchID := ""
	if len(written) > 0 {
		batchID = written[0].BatchID
	}
	return SnapshotResult{BatchID: batchID, Records: written, Failed: failed}, nil
}

func ledgerKind(k engine.CaptureKind) ledger.Kind {
	switch k {
	case engine.CaptureScreenshot:
		return ledger.KindScreenshot
	case engine.CaptureDOMSnapshot:
		return ledger.KindDomSnapshot
	case engine.CaptureHAR:
		return ledger.KindHar
	case engine.CaptureConsole:
		return ledger.KindConsole
	case engine.CaptureCookies:
		return ledger.KindCookies
	case engine.CaptureStorageDump:
		return ledger.KindStorageDump
	default:
		return ledger.KindCustomArtifact
	}
}
