package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sigman78/waycms/internal/store"
)

// DefaultCookieName names the session cookie.
const DefaultCookieName = "waycms_session"

// Principal is the authenticated caller of a request.
type Principal struct {
	Session *Session
	User    *store.User // nil in single-tenant mode
}

// IsAdmin reports whether the caller is an administrator account.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.User != nil && p.User.IsAdmin
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached by Loader, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Cookies reads and writes the session cookie.
type Cookies struct {
	Name   string
	Secure bool
}

func (c Cookies) name() string {
	if c.Name != "" {
		return c.Name
	}
	return DefaultCookieName
}

// Token returns the session token sent with r.
func (c Cookies) Token(r *http.Request) string {
	ck, err := r.Cookie(c.name())
	if err != nil {
		return ""
	}
	return ck.Value
}

// Set attaches sess to the response.
func (c Cookies) Set(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the cookie.
func (c Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Loader attaches the Principal of the session cookie to each request.
// Requests without a valid session pass through unauthenticated.
type Loader struct {
	Sessions SessionStore
	Store    *store.Store // nil in single-tenant mode
	Cookies  Cookies
	Logger   *slog.Logger
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Middleware wraps next.
func (l *Loader) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := l.load(r); p != nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Loader) load(r *http.Request) *Principal {
	token := l.Cookies.Token(r)
	if token == "" {
		return nil
	}
	sess, err := l.Sessions.Get(r.Context(), token)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			l.logger().Error("session lookup failed", "err", err)
		}
		return nil
	}
	p := &Principal{Session: sess}
	if l.Store == nil {
		return p
	}
	u, err := l.Store.UserByID(r.Context(), sess.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger().Error("session user lookup failed", "user", sess.UserID, "err", err)
		}
		return nil
	}
	p.User = u
	return p
}
