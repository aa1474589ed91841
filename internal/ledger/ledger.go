// Package ledger implements the Evidence Ledger (spec C10): an
// append-only, hash-chained record of capture artifacts and actor
// actions. Every write goes through a single append cursor; crash
// safety comes from write-to-temp-then-rename, the same pattern the
// session store uses.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-dev/helmsman/internal/redaction"
)

// Kind enumerates the record kinds of spec §3.
type Kind string

const (
	KindScreenshot    Kind = "Screenshot"
	KindDomSnapshot   Kind = "DomSnapshot"
	KindHar           Kind = "Har"
	KindConsole       Kind = "Console"
	KindCookies       Kind = "Cookies"
	KindStorageDump   Kind = "StorageDump"
	KindCustomArtifact Kind = "CustomArtifact"
	KindActorAction   Kind = "ActorAction"
	KindCancelled     Kind = "Cancelled"
	KindSupersede     Kind = "Supersede"
	KindRotation      Kind = "LedgerRotation"
)

// Record is one entry in the hash chain.
type Record struct {
	RecordID        string    `json:"record_id"`
	ViewID          string    `json:"view_id,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	ActorID         string    `json:"actor_id,omitempty"`
	CapturedAtWall  time.Time `json:"captured_at_wall"`
	CapturedAtMono  int64     `json:"captured_at_mono"`
	Kind            Kind      `json:"kind"`
	PayloadDigest   string    `json:"payload_digest,omitempty"`
	PayloadLocation string    `json:"payload_location,omitempty"`
	BatchID         string    `json:"batch_id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"` // sanitized ActorAction envelope / Supersede reason
	PrevRecordDigest string   `json:"prev_record_digest"`
	RecordDigest    string    `json:"record_digest"`
	CarryOverDigest string    `json:"carry_over_digest,omitempty"` // set only on a rotation's genesis record
}

// digestInput is the exact byte sequence hashed into RecordDigest
// (spec §3: record_digest = H(record_id || captured_at || kind ||
// payload_digest || prev_record_digest)).
func digestInput(r Record) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%s|%s",
		r.RecordID, r.CapturedAtWall.UnixNano(), r.Kind, r.PayloadDigest, r.PrevRecordDigest))
}

func computeDigest(r Record) string {
	sum := sha256.Sum256(digestInput(r))
	return hex.EncodeToString(sum[:])
}

// HashPayload is the SHA-256 content hash used for PayloadDigest
// (spec §4.7 step 3).
func HashPayload(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Discrepancy describes the first point verify_from found a broken chain.
type Discrepancy struct {
	RecordID string
	Reason   string
}

// Ledger is one append-only chain file plus its in-memory index.
// Rotation creates a new Ledger whose genesis record carries the prior
// ledger's last digest in CarryOverDigest, so verify_from can walk
// across rotation boundaries exactly like an ordinary prev link.
type Ledger struct {
	mu       sync.Mutex
	dir      string
	path     string
	records  []Record
	byID     map[string]int
	redactor *redaction.Engine
}

// Open loads (or creates) the ledger file at dir/ledger.jsonl.
func Open(dir string, redactor *redaction.Engine) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}
	l := &Ledger{dir: dir, path: filepath.Join(dir, "ledger.jsonl"), byID: map[string]int{}, redactor: redactor}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path) // #nosec G304 -- path is the ledger's own managed file
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dec := jsonLinesDecoder(data)
	for {
		var r Record
		ok, err := dec(&r)
		if err != nil {
			return fmt.Errorf("decoding ledger tail: %w", err)
		}
		if !ok {
			break
		}
		l.byID[r.RecordID] = len(l.records)
		l.records = append(l.records, r)
	}
	return nil
}

func jsonLinesDecoder(data []byte) func(v any) (bool, error) {
	lines := splitLines(data)
	i := 0
	return func(v any) (bool, error) {
		for i < len(lines) && len(lines[i]) == 0 {
			i++
		}
		if i >= len(lines) {
			return false, nil
		}
		line := lines[i]
		i++
		if err := json.Unmarshal(line, v); err != nil {
			return false, err
		}
		return true, nil
	}
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}

func (l *Ledger) tailDigest() string {
	if len(l.records) == 0 {
		return ""
	}
	return l.records[len(l.records)-1].RecordDigest
}

// Append writes one record, filling in its id/digest chain fields.
// The caller sets everything except RecordID, PrevRecordDigest, and
// RecordDigest.
func (l *Ledger) Append(r Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(r)
}

func (l *Ledger) appendLocked(r Record) (Record, error) {
	if r.RecordID == "" {
		r.RecordID = uuid.NewString()
	}
	if r.CapturedAtWall.IsZero() {
		r.CapturedAtWall = time.Now()
	}
	if r.Kind == KindRotation && len(l.records) == 0 && r.CarryOverDigest != "" {
		// Rotation genesis: prev_record_digest carries the prior
		// ledger's tail forward so VerifyFrom can walk across the
		// rotation boundary the same way it walks an ordinary link.
		r.PrevRecordDigest = r.CarryOverDigest
	} else {
		r.PrevRecordDigest = l.tailDigest()
	}
	r.RecordDigest = computeDigest(r)

	if err := l.appendToFile(r); err != nil {
		return Record{}, err
	}
	l.byID[r.RecordID] = len(l.records)
	l.records = append(l.records, r)
	return r, nil
}

// AppendBatch writes multiple records back-to-back under one lock
// acquisition so they form a contiguous hash-chain segment (spec
// §4.7 step 4). All records share the same BatchID; the first
// record's id is the batch id callers report back.
func (l *Ledger) AppendBatch(records []Record) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batchID := uuid.NewString()
	out := make([]Record, 0, len(records))
	for _, r := range records {
		r.BatchID = batchID
		written, err := l.appendLocked(r)
		if err != nil {
			return out, err
		}
		out = append(out, written)
	}
	return out, nil
}

// AppendActorAction records a state-changing command as an ActorAction
// entry, sanitizing the envelope through the redaction engine first
// (spec §4.8 "Audit events").
func (l *Ledger) AppendActorAction(actorID, viewID, sessionID string, envelope any) (Record, error) {
	sanitized := envelope
	if l.redactor != nil {
		sanitized = l.redactor.SanitizeParams(envelope)
	}
	payload, err := json.Marshal(sanitized)
	if err != nil {
		return Record{}, fmt.Errorf("marshaling actor action payload: %w", err)
	}
	return l.Append(Record{
		ActorID: actorID, ViewID: viewID, SessionID: sessionID,
		Kind: KindActorAction, Payload: payload,
	})
}

// AppendCancelled records an in-flight command's cancellation, e.g. when
// a client disconnects mid-navigation (spec S6: "an audit record of
// kind Cancelled is appended").
func (l *Ledger) AppendCancelled(actorID, viewID, sessionID, command string) (Record, error) {
	payload, _ := json.Marshal(map[string]string{"command": command})
	return l.Append(Record{
		ActorID: actorID, ViewID: viewID, SessionID: sessionID,
		Kind: KindCancelled, Payload: payload,
	})
}

// AppendSupersede appends a correction record referencing an earlier
// record_id; the original record is left untouched (spec §4.8
// "Immutability").
func (l *Ledger) AppendSupersede(recordID, reason string) (Record, error) {
	payload, _ := json.Marshal(map[string]string{"superseded_record_id": recordID, "reason": reason})
	return l.Append(Record{Kind: KindSupersede, Payload: payload})
}

func (l *Ledger) appendToFile(r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) // #nosec G304 -- managed ledger path
	if err != nil {
		return fmt.Errorf("opening ledger for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing ledger record: %w", err)
	}
	return f.Sync()
}

// VerifyFrom walks the chain from the genesis record (or, if recordID
// is non-empty, verifies starting from that record through the tail)
// and recomputes every digest. It returns the first discrepancy found,
// or nil if the chain is intact (spec §4.8 "Verification").
func (l *Ledger) VerifyFrom(recordID string) *Discrepancy {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if recordID != "" {
		idx, ok := l.byID[recordID]
		if !ok {
			return &Discrepancy{RecordID: recordID, Reason: "record not found"}
		}
		start = idx
	}

	var prevDigest string
	if start > 0 {
		prevDigest = l.records[start-1].RecordDigest
	} else if start == 0 && len(l.records) > 0 {
		prevDigest = l.records[0].CarryOverDigest
	}

	for i := start; i < len(l.records); i++ {
		r := l.records[i]
		if r.PrevRecordDigest != prevDigest {
			return &Discrepancy{RecordID: r.RecordID, Reason: "prev_record_digest mismatch"}
		}
		want := computeDigest(r)
		if want != r.RecordDigest {
			return &Discrepancy{RecordID: r.RecordID, Reason: "record_digest mismatch"}
		}
		prevDigest = r.RecordDigest
	}
	return nil
}

// VerifyPayload checks a record's stored digest against freshly hashed
// payload bytes — used by callers that re-read the artifact from its
// PayloadLocation (spec S4's tamper-detection scenario).
func (l *Ledger) VerifyPayload(recordID string, payload []byte) *Discrepancy {
	l.mu.Lock()
	r, ok := l.recordLocked(recordID)
	l.mu.Unlock()
	if !ok {
		return &Discrepancy{RecordID: recordID, Reason: "record not found"}
	}
	if got := HashPayload(payload); got != r.PayloadDigest {
		return &Discrepancy{RecordID: recordID, Reason: "payload_digest mismatch"}
	}
	return nil
}

func (l *Ledger) recordLocked(recordID string) (Record, bool) {
	idx, ok := l.byID[recordID]
	if !ok {
		return Record{}, false
	}
	return l.records[idx], true
}

// Get returns a single record by id.
func (l *Ledger) Get(recordID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(recordID)
}

// Tail returns the most recent n records (or all, if n <= 0 or exceeds length).
func (l *Ledger) Tail(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]Record, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

// Rotate closes the current file under a timestamped name and starts a
// fresh one whose first appended record must carry CarryOverDigest set
// to this ledger's current tail digest, so verify_from can walk across
// the rotation boundary the same way it walks an ordinary prev link.
func (l *Ledger) Rotate() (*Ledger, error) {
	l.mu.Lock()
	tail := l.tailDigest()
	oldPath := l.path
	l.mu.Unlock()

	rotatedName := "ledger-" + strconv.FormatInt(time.Now().Unix(), 10) + ".jsonl"
	if err := os.Rename(oldPath, filepath.Join(l.dir, rotatedName)); err != nil {
		return nil, fmt.Errorf("rotating ledger file: %w", err)
	}
	next := &Ledger{dir: l.dir, path: oldPath, byID: map[string]int{}, redactor: l.redactor}
	if _, err := next.Append(Record{Kind: KindRotation, CarryOverDigest: tail}); err != nil {
		return nil, err
	}
	return next, nil
}
