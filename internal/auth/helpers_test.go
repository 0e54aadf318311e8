package auth

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigman78/waycms/internal/mail"
	"github.com/sigman78/waycms/internal/store"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last() mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return mail.Message{}
	}
	return m.sent[len(m.sent)-1]
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newAccounts(t *testing.T) (*Accounts, *recordingMailer) {
	t.Helper()
	st := openStore(t)
	m := &recordingMailer{}
	return &Accounts{
		Store:    st,
		Sessions: &DBSessions{Store: st},
		Mailer:   m,
		AppURL:   "https://cms.example.org/",
	}, m
}

func createUser(t *testing.T, st *store.Store, email, password string, admin bool) *store.User {
	t.Helper()
	ctx := context.Background()
	u, err := st.CreateUser(ctx, email, "", admin)
	require.NoError(t, err)
	if password != "" {
		h, err := HashPassword(password)
		require.NoError(t, err)
		require.NoError(t, st.SetPasswordHash(ctx, u.ID, h))
		u.PasswordHash = h
	}
	return u
}
