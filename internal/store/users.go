package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is an account of the multi-tenant mode.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitzero"`
}

// HasPassword reports whether the user can log in with a password.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// NormalizeEmail lower-cases and trims an address. Emails are stored and
// looked up in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const userColumns = `id, email, name, password_hash, is_admin, created_at, last_login`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	var created, last int64
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsAdmin, &created, &last); err != nil {
		return nil, err
	}
	u.CreatedAt, u.LastLogin = fromUnix(created), fromUnix(last)
	return &u, nil
}

// CreateUser inserts a user without a password.
func (s *Store) CreateUser(ctx context.Context, email, name string, isAdmin bool) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("store: create user: empty email")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, name, is_admin, created_at) VALUES (?, ?, ?, ?)`,
		email, strings.TrimSpace(name), isAdmin, unix(s.now()))
	if isUnique(err) {
		return nil, fmt.Errorf("store: user %q: %w", email, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return s.UserByID(ctx, id)
}

// UserByID returns the user with id.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: user %d: %w", id, err)
	}
	return u, nil
}

// UserByEmail returns the user with email, compared case-insensitively.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: user %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: user %q: %w", email, err)
	}
	return u, nil
}

// Users returns all users, newest first.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list users: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// UserUpdate holds the fields to change; nil fields are left alone.
type UserUpdate struct {
	Name    *string `json:"name"`
	IsAdmin *bool   `json:"is_admin"`
}

// UpdateUser applies upd to user id.
func (s *Store) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (*User, error) {
	if upd.Name != nil {
		res, err := s.db.ExecContext(ctx, `UPDATE users SET name = ? WHERE id = ?`, strings.TrimSpace(*upd.Name), id)
		if err := affected(res, err, "update user"); err != nil {
			return nil, err
		}
	}
	if upd.IsAdmin != nil {
		res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE id = ?`, *upd.IsAdmin, id)
		if err := affected(res, err, "update user"); err != nil {
			return nil, err
		}
	}
	return s.UserByID(ctx, id)
}

// DeleteUser removes a user with their assignments, links and sessions.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return affected(res, err, "delete user")
}

// SetPasswordHash stores a new password hash for user id.
func (s *Store) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	return affected(res, err, "set password")
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, unix(s.now()), id)
	return affected(res, err, "touch login")
}

// EnsureAdmin creates an admin with email, or grants admin rights to an
// existing user. A non-empty hash replaces the password.
func (s *Store) EnsureAdmin(ctx context.Context, email, name, hash string) (*User, error) {
	u, err := s.UserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		u, err = s.CreateUser(ctx, email, name, true)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !u.IsAdmin:
		admin := true
		if u, err = s.UpdateUser(ctx, u.ID, UserUpdate{IsAdmin: &admin}); err != nil {
			return nil, err
		}
	}
	if hash != "" {
		if err := s.SetPasswordHash(ctx, u.ID, hash); err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	return u, nil
}
