package session

import "testing"

func TestManagerCreateFlushReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := m.Create("alice", "UA/1.0", "seed-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Jar().Set(Cookie{Name: "sid", Value: "v", Host: "h", Path: "/", Secure: true})
	if err := m.Flush(s.ID()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	m2, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("reopen NewManager: %v", err)
	}
	reloaded, err := m2.Get(s.ID())
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if reloaded.DisplayName() != "alice" || reloaded.UserAgent() != "UA/1.0" {
		t.Errorf("reloaded session fields mismatch: %+v", reloaded)
	}
	if len(reloaded.Jar().Export()) != 1 {
		t.Errorf("expected 1 reloaded cookie, got %d", len(reloaded.Jar().Export()))
	}
}

func TestManagerEncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	m, err := NewManager(dir, &key)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := m.Create("bob", "UA/2.0", "seed-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Jar().Set(Cookie{Name: "a", Value: "secret", Host: "h", Path: "/"})
	if err := m.Flush(s.ID()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	m2, err := NewManager(dir, &key)
	if err != nil {
		t.Fatalf("reopen with correct key: %v", err)
	}
	reloaded, err := m2.Get(s.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(reloaded.Jar().Export()) != 1 {
		t.Fatalf("expected cookie to survive encrypted round trip")
	}

	var wrongKey [32]byte
	wrongKey[0] = 0xff
	m3, err := NewManager(dir, &wrongKey)
	if err != nil {
		t.Fatalf("NewManager with wrong key should not itself fail: %v", err)
	}
	wrongReload, err := m3.Get(s.ID())
	if err != nil {
		t.Fatalf("session should still load (profile.json is plaintext): %v", err)
	}
	if len(wrongReload.Jar().Export()) != 0 {
		t.Errorf("cookies should not decrypt with the wrong key, got %d entries", len(wrongReload.Jar().Export()))
	}
}

func TestManagerDestroyRemovesFromDisk(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := m.Create("carol", "UA/3.0", "seed-3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Destroy(s.ID()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := m.Get(s.ID()); err == nil {
		t.Errorf("expected NoSuchSession after destroy")
	}

	m2, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("reopen after destroy: %v", err)
	}
	if len(m2.List()) != 0 {
		t.Errorf("destroyed session directory should not be reloaded, got %v", m2.List())
	}
}
