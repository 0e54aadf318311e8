package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Decision is the outcome of a Guard check.
type Decision struct {
	Allowed bool
	Status  int
	Reason  string
}

// Allow permits the request.
func Allow() Decision { return Decision{Allowed: true} }

// Deny refuses the request with an HTTP status and a client-visible reason.
func Deny(status int, reason string) Decision {
	return Decision{Status: status, Reason: reason}
}

// Guard decides whether a request may reach a handler.
type Guard interface {
	Check(r *http.Request) Decision
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(r *http.Request) Decision

func (f GuardFunc) Check(r *http.Request) Decision { return f(r) }

// Open allows every request.
var Open Guard = GuardFunc(func(*http.Request) Decision { return Allow() })

// LoggedIn requires an account session.
var LoggedIn Guard = GuardFunc(func(r *http.Request) Decision {
	p := PrincipalFrom(r.Context())
	if p == nil || p.User == nil {
		return Deny(http.StatusUnauthorized, "authentication required")
	}
	return Allow()
})

// Admin requires an administrator account.
var Admin Guard = GuardFunc(func(r *http.Request) Decision {
	p := PrincipalFrom(r.Context())
	switch {
	case p == nil || p.User == nil:
		return Deny(http.StatusUnauthorized, "authentication required")
	case !p.User.IsAdmin:
		return Deny(http.StatusForbidden, "admin access required")
	}
	return Allow()
})

// ErrInvalidCredentials is returned for any failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// PasswordGuard protects a single-tenant deployment with one shared
// password. With an empty Secret every request is allowed.
type PasswordGuard struct {
	// Secret is a bcrypt hash, or the password itself.
	Secret   string
	Sessions SessionStore
	TTL      time.Duration
}

// Enabled reports whether a password is configured.
func (g *PasswordGuard) Enabled() bool { return g.Secret != "" }

// Check implements Guard.
func (g *PasswordGuard) Check(r *http.Request) Decision {
	if !g.Enabled() || PrincipalFrom(r.Context()) != nil {
		return Allow()
	}
	return Deny(http.StatusUnauthorized, "authentication required")
}

// Verify compares password with the configured secret.
func (g *PasswordGuard) Verify(password string) bool {
	if !g.Enabled() {
		return true
	}
	if IsHash(g.Secret) {
		return bcrypt.CompareHashAndPassword([]byte(g.Secret), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(g.Secret), []byte(password)) == 1
}

// Login verifies password and starts a session.
func (g *PasswordGuard) Login(ctx context.Context, password string) (*Session, error) {
	if !g.Verify(password) {
		return nil, ErrInvalidCredentials
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	sess := Session{Token: NewToken(), ExpiresAt: time.Now().Add(ttl)}
	if err := g.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// IsHash reports whether s looks like a bcrypt hash.
func IsHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
