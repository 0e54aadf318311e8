package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MagicLink is a single-use login token.
type MagicLink struct {
	ID        int64
	Token     string
	UserID    int64
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// CreateMagicLink stores a login token for user valid until expires.
func (s *Store) CreateMagicLink(ctx context.Context, token string, userID int64, expires time.Time) (*MagicLink, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO magic_links (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, userID, unix(expires), unix(now))
	switch {
	case isUnique(err):
		return nil, fmt.Errorf("store: magic link: %w", ErrDuplicate)
	case isForeignKey(err):
		return nil, fmt.Errorf("store: magic link for user %d: %w", userID, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("store: create magic link: %w", err)
	}
	id, _ := res.LastInsertId()
	return &MagicLink{ID: id, Token: token, UserID: userID, ExpiresAt: fromUnix(unix(expires)), CreatedAt: fromUnix(unix(now))}, nil
}

// ConsumeMagicLink marks token used and returns it. A token can be consumed
// once; unknown tokens give ErrNotFound, used or expired ones ErrExpired.
func (s *Store) ConsumeMagicLink(ctx context.Context, token string) (*MagicLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: consume magic link: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var ml MagicLink
	var expires, created int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, token, user_id, expires_at, used, created_at FROM magic_links WHERE token = ?`, token).
		Scan(&ml.ID, &ml.Token, &ml.UserID, &expires, &ml.Used, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: magic link: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: consume magic link: %w", err)
	}
	ml.ExpiresAt, ml.CreatedAt = fromUnix(expires), fromUnix(created)
	if ml.Used || !s.now().Before(ml.ExpiresAt) {
		return nil, fmt.Errorf("store: magic link: %w", ErrExpired)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE magic_links SET used = 1 WHERE id = ?`, ml.ID); err != nil {
		return nil, fmt.Errorf("store: consume magic link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: consume magic link: %w", err)
	}
	ml.Used = true
	return &ml, nil
}

// Session is a logged-in browser.
type Session struct {
	Token     string
	UserID    int64
	ProjectID int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateSession stores sess.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, project_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.Token, sess.UserID, sess.ProjectID, unix(sess.ExpiresAt), unix(sess.CreatedAt))
	switch {
	case isUnique(err):
		return fmt.Errorf("store: session: %w", ErrDuplicate)
	case isForeignKey(err):
		return fmt.Errorf("store: session for user %d: %w", sess.UserID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// Session returns an unexpired session.
func (s *Store) Session(ctx context.Context, token string) (*Session, error) {
	var sess Session
	var expires, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, project_id, expires_at, created_at FROM sessions WHERE token = ? AND expires_at > ?`,
		token, unix(s.now())).Scan(&sess.Token, &sess.UserID, &sess.ProjectID, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: session: %w", err)
	}
	sess.ExpiresAt, sess.CreatedAt = fromUnix(expires), fromUnix(created)
	return &sess, nil
}

// SetSessionProject changes the current project of a session.
func (s *Store) SetSessionProject(ctx context.Context, token string, projectID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET project_id = ? WHERE token = ?`, projectID, token)
	return affected(res, err, "set session project")
}

// DeleteSession removes a session; deleting an unknown token is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// Cleanup deletes expired sessions and expired or used magic links.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	now := unix(s.now())
	var total int64
	for _, q := range []string{
		`DELETE FROM sessions WHERE expires_at <= ?`,
		`DELETE FROM magic_links WHERE expires_at <= ? OR used = 1`,
	} {
		res, err := s.db.ExecContext(ctx, q, now)
		if err != nil {
			return total, fmt.Errorf("store: cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
