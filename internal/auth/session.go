// Package auth authenticates editor requests. Single-tenant deployments use
// a shared password and in-memory sessions; multi-tenant deployments use
// accounts, magic links and sessions kept in the database.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigman78/waycms/internal/store"
)

// ErrNoSession means the token is unknown or expired.
var ErrNoSession = errors.New("no session")

// Session is an authenticated browser session. UserID is zero in
// single-tenant mode.
type Session struct {
	Token     string
	UserID    int64
	ProjectID int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionStore keeps sessions by token.
type SessionStore interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, token string) (*Session, error)
	SetProject(ctx context.Context, token string, projectID int64) error
	Delete(ctx context.Context, token string) error
}

// NewToken returns a fresh random session or link token.
func NewToken() string { return uuid.NewString() }

// MemorySessions is a process-local SessionStore.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemorySessions returns an empty store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: map[string]Session{}, now: time.Now}
}

func (m *MemorySessions) Create(_ context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = m.now()
	}
	m.sessions[sess.Token] = sess
	m.sweep()
	return nil
}

func (m *MemorySessions) Get(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return nil, ErrNoSession
	}
	if !m.now().Before(sess.ExpiresAt) {
		delete(m.sessions, token)
		return nil, ErrNoSession
	}
	return &sess, nil
}

func (m *MemorySessions) SetProject(_ context.Context, token string, projectID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return ErrNoSession
	}
	sess.ProjectID = projectID
	m.sessions[token] = sess
	return nil
}

func (m *MemorySessions) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions, expired ones included.
func (m *MemorySessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// sweep drops expired sessions. Caller holds mu.
func (m *MemorySessions) sweep() {
	now := m.now()
	for tok, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, tok)
		}
	}
}

// DBSessions stores sessions in the SQLite store.
type DBSessions struct {
	Store *store.Store
}

func (d *DBSessions) Create(ctx context.Context, sess Session) error {
	return d.Store.CreateSession(ctx, store.Session(sess))
}

func (d *DBSessions) Get(ctx context.Context, token string) (*Session, error) {
	s, err := d.Store.Session(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	sess := Session(*s)
	return &sess, nil
}

func (d *DBSessions) SetProject(ctx context.Context, token string, projectID int64) error {
	err := d.Store.SetSessionProject(ctx, token, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("auth: switch project: %w", err)
	}
	return nil
}

func (d *DBSessions) Delete(ctx context.Context, token string) error {
	return d.Store.DeleteSession(ctx, token)
}
