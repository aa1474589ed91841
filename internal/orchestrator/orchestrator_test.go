package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/ledger"
	"github.com/helmsman-dev/helmsman/internal/view"
)

type fakeHandle struct{}

func (fakeHandle) String() string { return "h" }

type fakeAdapter struct {
	fail map[engine.CaptureKind]bool
}

func (a *fakeAdapter) NewHandle(ctx context.Context) (engine.Handle, error) { return fakeHandle{}, nil }
func (a *fakeAdapter) CloseHandle(ctx context.Context, h engine.Handle) error { return nil }
func (a *fakeAdapter) ApplyOverrides(ctx context.Context, h engine.Handle, o engine.Overrides) error {
	return nil
}
func (a *fakeAdapter) Navigate(ctx context.Context, h engine.Handle, url string, wait engine.WaitCondition, timeout time.Duration) (engine.NavigateResult, error) {
	return engine.NavigateResult{}, nil
}
func (a *fakeAdapter) Evaluate(ctx context.Context, h engine.Handle, script string, timeout time.Duration) (engine.EvaluateResult, error) {
	return engine.EvaluateResult{}, nil
}
func (a *fakeAdapter) Capture(ctx context.Context, h engine.Handle, kind engine.CaptureKind) (engine.CaptureResult, error) {
	if a.fail[kind] {
		return engine.CaptureResult{}, fmt.Errorf("simulated capture failure for %s", kind)
	}
	return engine.CaptureResult{Kind: kind, Data: []byte("data-" + string(kind))}, nil
}
func (a *fakeAdapter) SetIntercept(ctx context.Context, h engine.Handle, rules []engine.InterceptRule) error {
	return nil
}
func (a *fakeAdapter) CurrentURL(ctx context.Context, h engine.Handle) (string, error) { return "", nil }
func (a *fakeAdapter) CurrentTitle(ctx context.Context, h engine.Handle) (string, error) {
	return "", nil
}

type memWriter struct {
	mu    sync.Mutex
	n     int
}

func (w *memWriter) Write(ctx context.Context, kind engine.CaptureKind, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	return fmt.Sprintf("mem://%s/%d", kind, w.n), nil
}

func newHarness(t *testing.T, adapter *fakeAdapter) (*Orchestrator, *view.Registry, string) {
	t.Helper()
	views := view.NewRegistry(0)
	v, err := views.Create("session-1")
	if err != nil {
		t.Fatalf("Create view: %v", err)
	}
	v.BeginCommand("setup", "ready", view.StateIdle)
	v.EndCommand()
	l, err := ledger.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	return New(views, adapter, &memWriter{}, l), views, v.ID()
}

func TestCaptureForensicSnapshotAllSucceed(t *testing.T) {
	adapter := &fakeAdapter{}
	o, views, viewID := newHarness(t, adapter)

	res, err := o.CaptureForensicSnapshot(context.Background(), viewID, "session-1", "actor-1", time.Second, nil)
	if err != nil {
		t.Fatalf("CaptureForensicSnapshot: %v", err)
	}
	if len(res.Records) != len(defaultKinds) {
		t.Errorf("expected %d records, got %d", len(defaultKinds), len(res.Records))
	}
	if len(res.Failed) != 0 {
		t.Errorf("expected no failures, got %v", res.Failed)
	}
	if v, _ := views.Get(viewID); v.State() != view.StateIdle {
		t.Errorf("view should return to Idle after capture")
	}
	if d := o.ledger.VerifyFrom(res.BatchID); d != nil {
		t.Fatalf("batch should verify ok from its head: %+v", d)
	}
}

func TestCaptureForensicSnapshotPartialFailure(t *testing.T) {
	adapter := &fakeAdapter{fail: map[engine.CaptureKind]bool{engine.CaptureHAR: true}}
	o, _, viewID := newHarness(t, adapter)

	res, err := o.CaptureForensicSnapshot(context.Background(), viewID, "session-1", "actor-1", time.Second, nil)
	if err != nil {
		t.Fatalf("CaptureForensicSnapshot: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != engine.CaptureHAR {
		t.Errorf("expected HAR to be reported failed, got %v", res.Failed)
	}
	if len(res.Records) != len(defaultKinds)-1 {
		t.Errorf("expected %d records, got %d", len(defaultKinds)-1, len(res.Records))
	}
}

func TestCaptureForensicSnapshotCustomKinds(t *testing.T) {
	adapter := &fakeAdapter{}
	o, _, viewID := newHarness(t, adapter)

	res, err := o.CaptureForensicSnapshot(context.Background(), viewID, "session-1", "actor-1", time.Second,
		[]engine.CaptureKind{engine.CaptureScreenshot})
	if err != nil {
		t.Fatalf("CaptureForensicSnapshot: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Kind != ledger.KindScreenshot {
		t.Fatalf("expected exactly one Screenshot record, got %+v", res.Records)
	}
}
