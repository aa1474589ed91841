package supervisor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateSessionKeyGeneratesOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	key1, err := loadOrCreateSessionKey(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if key1 == nil {
		t.Fatal("expected a non-nil key")
	}

	info, err := os.Stat(filepath.Join(dir, "session.key"))
	if err != nil {
		t.Fatalf("expected session.key to be written: %v", err)
	}
	if info.Size() != 32 {
		t.Errorf("session.key size = %d, want 32", info.Size())
	}
}

func TestLoadOrCreateSessionKeyIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	key1, err := loadOrCreateSessionKey(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	key2, err := loadOrCreateSessionKey(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if *key1 != *key2 {
		t.Error("expected the same key to be reloaded, got a different one")
	}
}

func TestHealthyReportsNotReadyBeforeInit(t *testing.T) {
	s := &Supervisor{}
	ready, detail := s.Healthy()
	if ready {
		t.Error("expected an uninitialized supervisor to report not ready")
	}
	if detail == "" {
		t.Error("expected a non-empty detail string")
	}
}
