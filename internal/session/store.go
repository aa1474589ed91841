package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/helmsman-dev/helmsman/internal/errs"
)

// profileDescriptor is the on-disk JSON shape of profile.json (spec §6).
type profileDescriptor struct {
	SessionID       string              `json:"session_id"`
	DisplayName     string              `json:"display_name"`
	UserAgent       string              `json:"user_agent"`
	FingerprintSeed string              `json:"fingerprint_seed"`
	BehaviorSeed    string              `json:"behavior_seed"`
	ProxyBinding    *RouteBinding       `json:"proxy_binding,omitempty"`
	Fingerprint     FingerprintProfile  `json:"fingerprint"`
	Behavior        BehaviorProfile     `json:"behavior"`
}

// Manager owns every live Session and serializes disk writes per
// session (spec §4.9: "The store serializes writes per session").
// One Manager instance is created by the Supervisor.
type Manager struct {
	root    string
	encKey  *[32]byte
	mu      sync.RWMutex
	byID    map[string]*Session
	writeMu sync.Map // session_id -> *sync.Mutex, serializes disk writes
}

// NewManager opens (or creates) the on-disk sessions root at
// <data_root>/sessions and loads any existing sessions found there.
// encKey, if non-nil, encrypts cookies.bin/storage.bin at rest via
// nacl/secretbox; if nil, those files are written in plaintext
// (acceptable for local/dev use, but every production config key in
// §6 should set one).
func NewManager(dataRoot string, encKey *[32]byte) (*Manager, error) {
	root := filepath.Join(dataRoot, "sessions")
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating sessions root: %w", err)
	}
	m := &Manager{root: root, encKey: encKey, byID: make(map[string]*Session)}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	l, _ := m.writeMu.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (m *Manager) dirFor(id string) string { return filepath.Join(m.root, id) }

func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("reading sessions root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := m.loadOne(e.Name())
		if err != nil {
			continue // a single corrupt session directory does not abort startup
		}
		m.byID[s.ID()] = s
	}
	return nil
}

func (m *Manager) loadOne(id string) (*Session, error) {
	dir := m.dirFor(id)
	raw, err := os.ReadFile(filepath.Join(dir, "profile.json")) // #nosec G304 -- path built from managed sessions root
	if err != nil {
		return nil, err
	}
	var pd profileDescriptor
	if err := json.Unmarshal(raw, &pd); err != nil {
		return nil, err
	}
	s := &Session{
		id: pd.SessionID, displayName: pd.DisplayName, userAgent: pd.UserAgent,
		fingerprintSeed: pd.FingerprintSeed, behaviorSeed: pd.BehaviorSeed,
		proxyBinding: pd.ProxyBinding, jar: NewCookieJar(), storage: NewStorageSnapshot(),
	}
	if cookies, err := m.readEncrypted(filepath.Join(dir, "cookies.bin")); err == nil && cookies != nil {
		var list []Cookie
		if json.Unmarshal(cookies, &list) == nil {
			for _, c := range list {
				s.jar.Set(c)
			}
		}
	}
	if storageRaw, err := m.readEncrypted(filepath.Join(dir, "storage.bin")); err == nil && storageRaw != nil {
		var snap StorageSnapshot
		if json.Unmarshal(storageRaw, &snap) == nil {
			s.storage = snap
		}
	}
	return s, nil
}

// Create builds a new Session, persists its initial descriptor, and
// registers it in-memory.
func (m *Manager) Create(displayName, userAgent, fingerprintSeed string) (*Session, error) {
	s := New(displayName, userAgent, fingerprintSeed)
	m.mu.Lock()
	m.byID[s.ID()] = s
	m.mu.Unlock()
	if err := m.Flush(s.ID()); err != nil {
		return nil, err
	}
	return s, nil
}

// Get resolves a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, errs.New(errs.NoSuchSession, "no such session: "+id).
			WithRecovery("list live sessions", "list_sessions")
	}
	return s, nil
}

// List returns every known session id.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	return out
}

// Destroy removes a session from memory and disk (explicit command
// only — spec §3: "destroyed only on explicit command").
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	_, ok := m.byID[id]
	delete(m.byID, id)
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.NoSuchSession, "no such session: "+id)
	}
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return os.RemoveAll(m.dirFor(id))
}

// Flush writes the session's current descriptor, cookie jar, and
// storage snapshot to disk atomically (write-to-temp, rename), per
// spec §4.9/§4.11's crash-safe write requirement. Writes for a given
// session are serialized through lockFor.
func (m *Manager) Flush(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	dir := m.dirFor(id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	pd := profileDescriptor{
		SessionID: s.ID(), DisplayName: s.DisplayName(), UserAgent: s.UserAgent(),
		FingerprintSeed: s.FingerprintSeed(), BehaviorSeed: s.BehaviorSeed(),
		ProxyBinding: s.ProxyBinding(),
		Fingerprint:  DeriveFingerprintProfile(s.FingerprintSeed()),
		Behavior:     DeriveBehaviorProfile(s.BehaviorSeed()),
	}
	if err := writeJSONAtomic(filepath.Join(dir, "profile.json"), pd); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "seed"), []byte(s.FingerprintSeed()), 0o600); err != nil {
		return fmt.Errorf("writing seed file: %w", err)
	}

	cookiesJSON, err := json.Marshal(s.Jar().Export())
	if err != nil {
		return err
	}
	if err := m.writeEncryptedAtomic(filepath.Join(dir, "cookies.bin"), cookiesJSON); err != nil {
		return err
	}
	storageJSON, err := json.Marshal(s.Storage())
	if err != nil {
		return err
	}
	return m.writeEncryptedAtomic(filepath.Join(dir, "storage.bin"), storageJSON)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// writeEncryptedAtomic seals data with secretbox (if an encryption key
// is configured) before the atomic write, so a reader of a torn/partial
// write never sees a mix of old and new plaintext.
func (m *Manager) writeEncryptedAtomic(path string, data []byte) error {
	if m.encKey == nil {
		return writeFileAtomic(path, data, 0o600)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], data, &nonce, m.encKey)
	return writeFileAtomic(path, sealed, 0o600)
}

func (m *Manager) readEncrypted(path string) ([]byte, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path built from managed sessions root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if m.encKey == nil {
		return raw, nil
	}
	if len(raw) < 24 {
		return nil, errors.New("encrypted file too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, m.encKey)
	if !ok {
		return nil, errors.New("decryption failed: wrong key or corrupt file")
	}
	return opened, nil
}
