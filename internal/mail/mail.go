// Package mail sends login and welcome messages.
package mail

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNotConfigured is returned by mailers that lack transport settings.
var ErrNotConfigured = errors.New("mail is not configured")

// Message is one email with a plain-text and an optional HTML body.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Configurable is implemented by mailers that can report missing settings
// before a send is attempted.
type Configurable interface {
	Configured() bool
}

// IsConfigured reports whether m can deliver mail. Mailers that do not
// implement Configurable are assumed ready.
func IsConfigured(m Mailer) bool {
	if m == nil {
		return false
	}
	if c, ok := m.(Configurable); ok {
		return c.Configured()
	}
	return true
}

// LogMailer writes messages to a logger instead of sending them. It is
// used when no SMTP host is configured and in tests.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail not sent, logging instead", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return nil
}
