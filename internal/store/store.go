// Package store implements the Persistence Layer (C12): on-disk
// bootstrap, crash recovery, and a derived query index over the
// evidence ledger.
//
// The ledger's own records.log file (internal/ledger) and the session
// store's sealed session directories (internal/session) remain the
// sole sources of truth. The sqlite index built here is scratch space:
// it exists to make get_audit_log's filtering and pagination fast, and
// it is always safe to drop and rebuild from the ledger tail.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/ledger"
	"github.com/helmsman-dev/helmsman/internal/redaction"
	"github.com/helmsman-dev/helmsman/internal/session"
)

// RecoveryReport summarizes what Open found on disk at startup.
type RecoveryReport struct {
	TruncatedTail     bool
	DiscardedBytes    int
	SessionsLoaded    int
	IndexRowsIndexed  int
}

// Store bundles the session store, the evidence ledger, and the
// derived sqlite index behind a single crash-recovery entrypoint.
type Store struct {
	Sessions *session.Manager
	Ledger   *ledger.Ledger

	dataRoot string
	db       *sql.DB
	log      *zap.Logger
}

// Open performs spec's crash-recovery sequence: sessions are loaded,
// views are not resurrected (they are transient, see internal/view),
// the ledger is scanned and any trailing partial record is discarded
// and reported as TruncatedTail, and the sqlite index is migrated and
// brought up to date with the recovered ledger tail.
//
// dataRoot holds <dataRoot>/sessions (session.Manager), <dataRoot>/ledger
// (ledger.Ledger), and <dataRoot>/index.db (this package).
func Open(dataRoot string, encKey *[32]byte, redactor *redaction.Engine, log *zap.Logger) (*Store, *RecoveryReport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	report := &RecoveryReport{}

	ledgerDir := filepath.Join(dataRoot, "ledger")
	truncated, discarded, err := recoverTruncatedTail(filepath.Join(ledgerDir, "ledger.jsonl"))
	if err != nil {
		return nil, nil, fmt.Errorf("scanning ledger for a truncated tail: %w", err)
	}
	report.TruncatedTail = truncated
	report.DiscardedBytes = discarded
	if truncated {
		log.Warn("discarded a truncated trailing ledger record",
			zap.Int("discarded_bytes", discarded))
	}

	led, err := ledger.Open(ledgerDir, redactor)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger: %w", err)
	}

	sessions, err := session.NewManager(dataRoot, encKey)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}
	report.SessionsLoaded = len(sessions.List())

	db, err := openIndexDB(filepath.Join(dataRoot, "index.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening evidence index: %w", err)
	}

	s := &Store{Sessions: sessions, Ledger: led, dataRoot: dataRoot, db: db, log: log}

	if truncated {
		// A torn record means the index watermark may point past what
		// the ledger now actually holds; rebuild from scratch rather
		// than risk indexing a record that no longer exists.
		if err := s.RebuildIndex(context.Background()); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("rebuilding index after truncated tail: %w", err)
		}
	} else if err := s.IndexTail(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("indexing ledger tail: %w", err)
	}
	n, err := s.rowCount()
	if err == nil {
		report.IndexRowsIndexed = n
	}

	return s, report, nil
}

func openIndexDB(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrationsFS)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := provider.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running evidence index migrations: %w", err)
	}
	return db, nil
}

// recoverTruncatedTail scans path's newline-delimited JSON records and
// truncates any trailing line that fails to parse as a complete
// Record, the way a process killed mid-append to the ledger would
// leave it. It must run before ledger.Open, which assumes every line
// on disk is already well-formed.
func recoverTruncatedTail(path string) (truncated bool, discardedBytes int, err error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the ledger's own managed file
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}

	validThrough := 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i < len(data) && data[i] != '\n' {
			continue
		}
		line := bytes.TrimSpace(data[start:i])
		if len(line) == 0 {
			if i < len(data) {
				validThrough = i + 1
			}
			start = i + 1
			continue
		}
		var probe ledger.Record
		if json.Unmarshal(line, &probe) != nil || probe.RecordID == "" || probe.RecordDigest == "" {
			break
		}
		if i < len(data) {
			validThrough = i + 1
		} else {
			validThrough = i
		}
		start = i + 1
	}

	if validThrough >= len(data) {
		return false, 0, nil
	}

	discarded := len(data) - validThrough
	f, err := os.OpenFile(path, os.O_WRONLY, 0o640) // #nosec G304
	if err != nil {
		return false, 0, err
	}
	defer f.Close()
	if err := f.Truncate(int64(validThrough)); err != nil {
		return false, 0, err
	}
	if err := f.Sync(); err != nil {
		return false, 0, err
	}
	return true, discarded, nil
}

// RebuildIndex drops and repopulates the evidence index from the full
// ledger tail. Safe to call at any time; the index is always derived.
func (s *Store) RebuildIndex(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // #nosec G104 -- no-op once committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM evidence_records`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta WHERE key = 'watermark'`); err != nil {
		return err
	}

	records := s.Ledger.Tail(0)
	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, recordArgs(r, i)...); err != nil {
			return fmt.Errorf("indexing record %s: %w", r.RecordID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta(key, value) VALUES ('watermark', ?)`, len(records)); err != nil {
		return err
	}
	return tx.Commit()
}

// IndexTail incrementally indexes any ledger records appended since
// the last call, using the stored row-count watermark. Call this
// periodically (the supervisor does, on a timer) to keep the index
// close to live without re-scanning the whole ledger.
func (s *Store) IndexTail(ctx context.Context) error {
	watermark, err := s.watermark(ctx)
	if err != nil {
		return err
	}
	records := s.Ledger.Tail(0)
	if watermark >= len(records) {
		return nil
	}
	fresh := records[watermark:]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // #nosec G104

	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range fresh {
		if _, err := stmt.ExecContext(ctx, recordArgs(r, watermark+i)...); err != nil {
			return fmt.Errorf("indexing record %s: %w", r.RecordID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta(key, value) VALUES ('watermark', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, len(records)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) watermark(ctx context.Context) (int, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'watermark'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) rowCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM evidence_records`).Scan(&n)
	return n, err
}

const insertRecordSQL = `INSERT INTO evidence_records
	(record_id, view_id, session_id, actor_id, captured_at_wall, kind,
	 payload_digest, payload_location, batch_id, record_digest, seq)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func recordArgs(r ledger.Record, seq int) []any {
	return []any{
		r.RecordID, r.ViewID, r.SessionID, r.ActorID,
		r.CapturedAtWall.UnixNano(), string(r.Kind),
		r.PayloadDigest, r.PayloadLocation, r.BatchID, r.RecordDigest, seq,
	}
}

// AuditFilter narrows GetAuditLog's scan. Zero-value fields are
// unconstrained.
type AuditFilter struct {
	ViewID    string
	SessionID string
	ActorID   string
	Kind      string
	BatchID   string
	Since     time.Time
	Until     time.Time
	Cursor    int // seq to resume after, for pagination
	Limit     int
}

// AuditPage is one page of indexed record IDs matching a filter, plus
// the cursor to pass back for the next page.
type AuditPage struct {
	RecordIDs  []string
	NextCursor int
	HasMore    bool
}

// QueryAuditLog answers get_audit_log against the derived index,
// resolving each matching row back to its full Record via the ledger
// (the index never holds payloads).
func (s *Store) QueryAuditLog(ctx context.Context, f AuditFilter) (AuditPage, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	q := `SELECT record_id, seq FROM evidence_records WHERE seq > ?`
	args := []any{f.Cursor}
	if f.ViewID != "" {
		q += ` AND view_id = ?`
		args = append(args, f.ViewID)
	}
	if f.SessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.ActorID != "" {
		q += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.BatchID != "" {
		q += ` AND batch_id = ?`
		args = append(args, f.BatchID)
	}
	if !f.Since.IsZero() {
		q += ` AND captured_at_wall >= ?`
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		q += ` AND captured_at_wall <= ?`
		args = append(args, f.Until.UnixNano())
	}
	q += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return AuditPage{}, err
	}
	defer rows.Close()

	var page AuditPage
	var lastSeq int
	for rows.Next() {
		var id string
		var seq int
		if err := rows.Scan(&id, &seq); err != nil {
			return AuditPage{}, err
		}
		if len(page.RecordIDs) == limit {
			page.HasMore = true
			break
		}
		page.RecordIDs = append(page.RecordIDs, id)
		lastSeq = seq
	}
	page.NextCursor = lastSeq
	return page, rows.Err()
}

// Write persists one captured artifact's bytes content-addressed by
// its digest under <dataRoot>/artifacts, satisfying
// orchestrator.ArtifactWriter. Re-writing the same bytes is a no-op:
// the digest-keyed path already holds them.
func (s *Store) Write(ctx context.Context, kind engine.CaptureKind, data []byte) (string, error) {
	digest := ledger.HashPayload(data)
	sub := digest[:2]
	dir := filepath.Join(s.dataRoot, "artifacts", sub)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	path := filepath.Join(dir, digest+artifactExt(kind))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil { // #nosec G306
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publishing artifact: %w", err)
	}
	return path, nil
}

func artifactExt(kind engine.CaptureKind) string {
	switch kind {
	case engine.CaptureScreenshot:
		return ".png"
	case engine.CaptureHAR:
		return ".har.json"
	default:
		return ".json"
	}
}

// Close releases the index database handle. The ledger and session
// store have no open handles of their own to release.
func (s *Store) Close() error {
	return s.db.Close()
}
