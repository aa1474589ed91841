package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates the optional token on each envelope (spec
// §4.1 step 1). Two modes are supported: a static pre-configured
// table (the default, matching spec §6's "static token table"), and
// bearer-JWT validation for multi-tenant deployments, grounded on
// streamspace's JWTManager.ValidateToken HMAC-verification pattern.
type Authenticator struct {
	enabled bool

	mu     sync.RWMutex
	tokens map[string]string // token -> principal

	jwtSecret []byte
}

// NewAuthenticator builds a static-token-table authenticator. Pass an
// empty tokens map with enabled=false to disable auth entirely.
func NewAuthenticator(enabled bool, tokens map[string]string) *Authenticator {
	t := make(map[string]string, len(tokens))
	for k, v := range tokens {
		t[k] = v
	}
	return &Authenticator{enabled: enabled, tokens: t}
}

// WithJWT enables bearer-JWT validation using secret as the HMAC key,
// in addition to (not instead of) the static table.
func (a *Authenticator) WithJWT(secret []byte) *Authenticator {
	a.jwtSecret = secret
	return a
}

// AddToken registers a new static token at runtime (e.g. from the
// `authenticate` command).
func (a *Authenticator) AddToken(token, principal string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = principal
}

type claims struct {
	Principal string `json:"principal"`
	jwt.RegisteredClaims
}

// Authenticate resolves token to a principal, or returns an error if
// auth is enabled and the token is absent/unknown/invalid.
func (a *Authenticator) Authenticate(token string) (principal string, err error) {
	if !a.enabled {
		return "anonymous", nil
	}
	if token == "" {
		return "", fmt.Errorf("missing auth token")
	}
	a.mu.RLock()
	p, ok := a.tokens[token]
	a.mu.RUnlock()
	if ok {
		return p, nil
	}
	if a.jwtSecret != nil {
		parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.jwtSecret, nil
		})
		if err == nil && parsed.Valid {
			if c, ok := parsed.Claims.(*claims); ok {
				return c.Principal, nil
			}
		}
	}
	return "", fmt.Errorf("unknown token")
}

// IssueJWT mints a bearer token for principal, valid for ttl.
func (a *Authenticator) IssueJWT(principal string, ttl time.Duration) (string, error) {
	if a.jwtSecret == nil {
		return "", fmt.Errorf("jwt issuance not configured")
	}
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Principal: principal,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(a.jwtSecret)
}
