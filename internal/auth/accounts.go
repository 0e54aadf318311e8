package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sigman78/waycms/internal/mail"
	"github.com/sigman78/waycms/internal/store"
)

// MinPasswordLength is the shortest password SetPassword accepts.
const MinPasswordLength = 8

var (
	ErrWeakPassword     = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrCurrentPassword  = errors.New("current password is incorrect")
	ErrInvalidLink      = errors.New("invalid or expired link")
	ErrAccessDenied     = errors.New("access denied")
	ErrMailNotAvailable = errors.New("email login is not available")
)

// Accounts implements multi-tenant login on top of the store.
type Accounts struct {
	Store      *store.Store
	Sessions   SessionStore
	Mailer     mail.Mailer
	AppURL     string
	LinkTTL    time.Duration
	SessionTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

func (a *Accounts) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Accounts) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Accounts) linkTTL() time.Duration {
	if a.LinkTTL > 0 {
		return a.LinkTTL
	}
	return 24 * time.Hour
}

func (a *Accounts) sessionTTL() time.Duration {
	if a.SessionTTL > 0 {
		return a.SessionTTL
	}
	return 7 * 24 * time.Hour
}

// Login checks an email and password pair and starts a session.
func (a *Accounts) Login(ctx context.Context, email, password string) (*Session, *store.User, error) {
	u, err := a.Store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if !u.HasPassword() || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}
	return a.start(ctx, u)
}

// start opens a session for u with its first accessible project selected.
func (a *Accounts) start(ctx context.Context, u *store.User) (*Session, *store.User, error) {
	if err := a.Store.TouchLogin(ctx, u.ID); err != nil {
		return nil, nil, err
	}
	projects, err := a.Projects(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	now := a.now()
	sess := Session{Token: NewToken(), UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(a.sessionTTL())}
	if len(projects) > 0 {
		sess.ProjectID = projects[0].ID
	}
	if err := a.Sessions.Create(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("auth: create session: %w", err)
	}
	a.logger().Info("user logged in", "user", u.Email, "project", sess.ProjectID)
	return &sess, u, nil
}

// Logout ends the session with token.
func (a *Accounts) Logout(ctx context.Context, token string) error {
	return a.Sessions.Delete(ctx, token)
}

// Projects lists the projects u may open. Administrators see all of them.
func (a *Accounts) Projects(ctx context.Context, u *store.User) ([]store.Project, error) {
	if u.IsAdmin {
		return a.Store.Projects(ctx)
	}
	return a.Store.ProjectsForUser(ctx, u.ID)
}

// CanAccess reports whether u may open project id.
func (a *Accounts) CanAccess(ctx context.Context, u *store.User, projectID int64) (bool, error) {
	if u.IsAdmin {
		_, err := a.Store.ProjectByID(ctx, projectID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	return a.Store.IsAssigned(ctx, u.ID, projectID)
}

// SwitchProject selects project id for the caller's session.
func (a *Accounts) SwitchProject(ctx context.Context, p *Principal, projectID int64) (*store.Project, error) {
	ok, err := a.CanAccess(ctx, p.User, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	proj, err := a.Store.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := a.Sessions.SetProject(ctx, p.Session.Token, projectID); err != nil {
		return nil, err
	}
	p.Session.ProjectID = projectID
	return proj, nil
}

// SetPassword changes the password of u. When u already has one, current
// must match it.
func (a *Accounts) SetPassword(ctx context.Context, u *store.User, current, next string) error {
	if len(next) < MinPasswordLength {
		return ErrWeakPassword
	}
	if u.HasPassword() && bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrCurrentPassword
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := a.Store.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

// MailAvailable reports whether magic links can be delivered.
func (a *Accounts) MailAvailable() bool { return mail.IsConfigured(a.Mailer) }

// VerifyURL is the link a user follows to redeem token.
func (a *Accounts) VerifyURL(token string) string {
	return strings.TrimRight(a.AppURL, "/") + "/auth/verify/" + token
}

func (a *Accounts) issueLink(ctx context.Context, u *store.User) (string, error) {
	token := NewToken()
	if _, err := a.Store.CreateMagicLink(ctx, token, u.ID, a.now().Add(a.linkTTL())); err != nil {
		return "", err
	}
	return a.VerifyURL(token), nil
}

func (a *Accounts) hours() int { return int(a.linkTTL() / time.Hour) }

// RequestMagicLink mails a sign-in link to email. Unknown addresses are
// accepted silently so callers cannot probe for accounts.
func (a *Accounts) RequestMagicLink(ctx context.Context, email string) error {
	if !a.MailAvailable() {
		return ErrMailNotAvailable
	}
	u, err := a.Store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		a.logger().Info("magic link requested for unknown email", "email", email)
		return nil
	}
	if err != nil {
		return err
	}
	return a.SendMagicLink(ctx, u)
}

// SendMagicLink mails a sign-in link to u.
func (a *Accounts) SendMagicLink(ctx context.Context, u *store.User) error {
	if !a.MailAvailable() {
		return ErrMailNotAvailable
	}
	url, err := a.issueLink(ctx, u)
	if err != nil {
		return err
	}
	if err := a.Mailer.Send(ctx, mail.MagicLinkMessage(u.Email, u.Name, url, a.hours())); err != nil {
		return fmt.Errorf("auth: send magic link: %w", err)
	}
	return nil
}

// SendWelcome mails a welcome message with a sign-in link to u.
func (a *Accounts) SendWelcome(ctx context.Context, u *store.User, projects []string) error {
	if !a.MailAvailable() {
		return ErrMailNotAvailable
	}
	url, err := a.issueLink(ctx, u)
	if err != nil {
		return err
	}
	if err := a.Mailer.Send(ctx, mail.WelcomeMessage(u.Email, u.Name, url, a.hours(), projects)); err != nil {
		return fmt.Errorf("auth: send welcome: %w", err)
	}
	return nil
}

// VerifyMagicLink redeems token and starts a session for its user.
func (a *Accounts) VerifyMagicLink(ctx context.Context, token string) (*Session, *store.User, error) {
	link, err := a.Store.ConsumeMagicLink(ctx, token)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrExpired) {
		return nil, nil, ErrInvalidLink
	}
	if err != nil {
		return nil, nil, err
	}
	u, err := a.Store.UserByID(ctx, link.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidLink
	}
	if err != nil {
		return nil, nil, err
	}
	return a.start(ctx, u)
}
