package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/helmsman-dev/helmsman/internal/engine"
)

func openTestStore(t *testing.T) (*Store, *RecoveryReport, string) {
	t.Helper()
	dir := t.TempDir()
	s, report, err := Open(dir, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, report, dir
}

func TestOpenFreshDirNoTruncation(t *testing.T) {
	_, report, _ := openTestStore(t)
	if report.TruncatedTail {
		t.Fatalf("a fresh directory should never report a truncated tail")
	}
	if report.IndexRowsIndexed != 0 {
		t.Fatalf("expected an empty index, got %d rows", report.IndexRowsIndexed)
	}
}

func TestIndexTailIndexesAppendedRecords(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Ledger.AppendActorAction("actor-1", "view-1", "sess-1", map[string]any{"n": i}); err != nil {
			t.Fatalf("AppendActorAction: %v", err)
		}
	}
	if err := s.IndexTail(ctx); err != nil {
		t.Fatalf("IndexTail: %v", err)
	}

	n, err := s.rowCount()
	if err != nil {
		t.Fatalf("rowCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("rowCount = %d, want 3", n)
	}
}

func TestRebuildIndexIsIdempotent(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Ledger.AppendActorAction("actor-1", "view-1", "sess-1", map[string]any{"n": i}); err != nil {
			t.Fatalf("AppendActorAction: %v", err)
		}
	}
	if err := s.IndexTail(ctx); err != nil {
		t.Fatalf("IndexTail: %v", err)
	}
	if err := s.RebuildIndex(ctx); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	n, err := s.rowCount()
	if err != nil {
		t.Fatalf("rowCount: %v", err)
	}
	if n != 5 {
		t.Fatalf("rowCount after rebuild = %d, want 5", n)
	}
}

func TestQueryAuditLogFiltersAndPaginates(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		view := "view-a"
		if i%2 == 0 {
			view = "view-b"
		}
		if _, err := s.Ledger.AppendActorAction("actor-1", view, "sess-1", map[string]any{"n": i}); err != nil {
			t.Fatalf("AppendActorAction: %v", err)
		}
	}
	if err := s.IndexTail(ctx); err != nil {
		t.Fatalf("IndexTail: %v", err)
	}

	page, err := s.QueryAuditLog(ctx, AuditFilter{ViewID: "view-a", Limit: 10})
	if err != nil {
		t.Fatalf("QueryAuditLog: %v", err)
	}
	if len(page.RecordIDs) != 2 {
		t.Fatalf("expected 2 records for view-a, got %d", len(page.RecordIDs))
	}
	if page.HasMore {
		t.Fatalf("did not expect HasMore with a 10-row limit over 2 matches")
	}

	first, err := s.QueryAuditLog(ctx, AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("QueryAuditLog (page 1): %v", err)
	}
	if len(first.RecordIDs) != 1 || !first.HasMore {
		t.Fatalf("expected one record and HasMore, got %+v", first)
	}

	second, err := s.QueryAuditLog(ctx, AuditFilter{Limit: 1, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("QueryAuditLog (page 2): %v", err)
	}
	if len(second.RecordIDs) != 1 || second.RecordIDs[0] == first.RecordIDs[0] {
		t.Fatalf("expected a distinct second page, got %+v", second)
	}
}

func TestRecoverTruncatedTailDiscardsPartialLine(t *testing.T) {
	dir := t.TempDir()
	ledgerDir := filepath.Join(dir, "ledger")
	if err := os.MkdirAll(ledgerDir, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	good := `{"record_id":"r1","captured_at_wall":"2026-01-01T00:00:00Z","kind":"ActorAction","record_digest":"abc123"}` + "\n"
	torn := `{"record_id":"r2","captured_at_wall":"2026-01-01T00:` // cut mid-write, no closing brace
	path := filepath.Join(ledgerDir, "ledger.jsonl")
	if err := os.WriteFile(path, []byte(good+torn), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	truncated, discarded, err := recoverTruncatedTail(path)
	if err != nil {
		t.Fatalf("recoverTruncatedTail: %v", err)
	}
	if !truncated {
		t.Fatalf("expected the torn trailing line to be detected")
	}
	if discarded != len(torn) {
		t.Fatalf("discarded = %d, want %d", discarded, len(torn))
	}

	remaining, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(remaining) != good {
		t.Fatalf("remaining ledger content = %q, want %q", remaining, good)
	}
}

func TestRecoverTruncatedTailNoOpOnWellFormedFile(t *testing.T) {
	dir := t.TempDir()
	ledgerDir := filepath.Join(dir, "ledger")
	if err := os.MkdirAll(ledgerDir, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	line := `{"record_id":"r1","captured_at_wall":"2026-01-01T00:00:00Z","kind":"ActorAction","record_digest":"abc123"}` + "\n"
	path := filepath.Join(ledgerDir, "ledger.jsonl")
	if err := os.WriteFile(path, []byte(line), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	truncated, discarded, err := recoverTruncatedTail(path)
	if err != nil {
		t.Fatalf("recoverTruncatedTail: %v", err)
	}
	if truncated || discarded != 0 {
		t.Fatalf("expected no-op on a well-formed file, got truncated=%v discarded=%d", truncated, discarded)
	}
}

func TestOpenRecoversTruncatedTailAndReindexes(t *testing.T) {
	dir := t.TempDir()
	ledgerDir := filepath.Join(dir, "ledger")
	if err := os.MkdirAll(ledgerDir, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	good := `{"record_id":"r1","captured_at_wall":"2026-01-01T00:00:00Z","kind":"ActorAction","record_digest":"abc123"}` + "\n"
	torn := `{"record_id":"r2","kind":"Acto`
	path := filepath.Join(ledgerDir, "ledger.jsonl")
	if err := os.WriteFile(path, []byte(good+torn), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, report, err := Open(dir, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if !report.TruncatedTail {
		t.Fatalf("expected Open to report a truncated tail")
	}
	if report.IndexRowsIndexed != 1 {
		t.Fatalf("expected the one intact record to survive recovery, got %d", report.IndexRowsIndexed)
	}
	if got := len(s.Ledger.Tail(0)); got != 1 {
		t.Fatalf("ledger should retain exactly the one intact record, got %d", got)
	}
}

func TestWatermarkDefaultsToZero(t *testing.T) {
	s, _, _ := openTestStore(t)
	n, err := s.watermark(context.Background())
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if n != 0 {
		t.Fatalf("watermark on an empty index = %d, want 0", n)
	}
}

func TestWriteArtifactIsContentAddressedAndIdempotent(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()

	loc1, err := s.Write(ctx, engine.CaptureScreenshot, []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(loc1); err != nil {
		t.Fatalf("artifact file missing at %s: %v", loc1, err)
	}

	loc2, err := s.Write(ctx, engine.CaptureScreenshot, []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Write (repeat): %v", err)
	}
	if loc1 != loc2 {
		t.Fatalf("identical bytes should resolve to the same location: %q vs %q", loc1, loc2)
	}

	other, err := s.Write(ctx, engine.CaptureHAR, []byte("har-bytes"))
	if err != nil {
		t.Fatalf("Write (har): %v", err)
	}
	if other == loc1 {
		t.Fatalf("distinct payloads must not collide")
	}
	if filepath.Ext(other) != ".json" {
		t.Fatalf("har artifact should use a .har.json-style extension, got %s", other)
	}
}

func TestAuditFilterSinceUntil(t *testing.T) {
	s, _, _ := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Ledger.AppendActorAction("actor-1", "view-1", "sess-1", map[string]any{}); err != nil {
		t.Fatalf("AppendActorAction: %v", err)
	}
	if err := s.IndexTail(ctx); err != nil {
		t.Fatalf("IndexTail: %v", err)
	}

	future := time.Now().Add(time.Hour)
	page, err := s.QueryAuditLog(ctx, AuditFilter{Since: future})
	if err != nil {
		t.Fatalf("QueryAuditLog: %v", err)
	}
	if len(page.RecordIDs) != 0 {
		t.Fatalf("expected no records captured after %v, got %d", future, len(page.RecordIDs))
	}
}
