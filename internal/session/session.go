package session

import (
	"sync"

	"github.com/google/uuid"
)

// RouteKind is the network route decision for a view (spec §3).
type RouteKind string

const (
	RouteDirect      RouteKind = "Direct"
	RouteHTTP        RouteKind = "Http"
	RouteSocks5      RouteKind = "Socks5"
	RouteTorClearnet RouteKind = "TorClearnet"
	RouteTorOnion    RouteKind = "TorOnion"
)

// RouteBinding describes a view's network route (spec §3). TorOnion
// can only be established at view creation time — enforced by C7, not
// here (this is a pure data holder).
type RouteBinding struct {
	Kind          RouteKind `json:"kind"`
	Endpoint      string    `json:"endpoint,omitempty"`
	Credentials   string    `json:"credentials,omitempty"` // encrypted at rest by Store
	IsolationTag  string    `json:"isolation_tag,omitempty"`
}

// StorageSnapshot mirrors a view's local/session/indexed storage at a
// point in time (spec §3 "storage_ref").
type StorageSnapshot struct {
	Local   map[string]string `json:"local"`
	Session map[string]string `json:"session"`
	Indexed []byte            `json:"indexed,omitempty"` // opaque indexedDB dump
}

func NewStorageSnapshot() StorageSnapshot {
	return StorageSnapshot{Local: map[string]string{}, Session: map[string]string{}}
}

// Session is the persistent identity bundle of spec §3. SessionID is
// stable across restarts. The cookie jar's write lock is exclusive to
// one view at a time — enforced by writeLockHolder below.
type Session struct {
	mu sync.RWMutex

	id              string
	displayName     string
	userAgent       string
	fingerprintSeed string
	jar             *CookieJar
	storage         StorageSnapshot
	proxyBinding    *RouteBinding
	behaviorSeed    string
	writeLockHolder string // view_id currently holding the cookie-jar write lock, "" if free
}

// New creates a fresh Session with a newly generated stable id.
func New(displayName, userAgent, fingerprintSeed string) *Session {
	if fingerprintSeed == "" {
		fingerprintSeed = uuid.NewString()
	}
	return &Session{
		id:              uuid.NewString(),
		displayName:     displayName,
		userAgent:       userAgent,
		fingerprintSeed: fingerprintSeed,
		behaviorSeed:    fingerprintSeed,
		jar:             NewCookieJar(),
		storage:         NewStorageSnapshot(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) DisplayName() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.displayName }
func (s *Session) UserAgent() string   { s.mu.RLock(); defer s.mu.RUnlock(); return s.userAgent }
func (s *Session) FingerprintSeed() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprintSeed
}
func (s *Session) BehaviorSeed() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.behaviorSeed }

func (s *Session) Jar() *CookieJar { return s.jar }

func (s *Session) Storage() StorageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage
}

func (s *Session) SetStorage(snap StorageSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = snap
}

func (s *Session) ProxyBinding() *RouteBinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proxyBinding
}

func (s *Session) SetProxyBinding(rb *RouteBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxyBinding = rb
}

// AcquireCookieWriteLock grants viewID exclusive write access to the
// cookie jar, per spec §3's "at most one view may hold the write lock
// on cookie_jar_ref at a time". Returns false if another view already
// holds it.
func (s *Session) AcquireCookieWriteLock(viewID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeLockHolder != "" && s.writeLockHolder != viewID {
		return false
	}
	s.writeLockHolder = viewID
	return true
}

// ReleaseCookieWriteLock releases the lock if viewID currently holds it.
func (s *Session) ReleaseCookieWriteLock(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeLockHolder == viewID {
		s.writeLockHolder = ""
	}
}
