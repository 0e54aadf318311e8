package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/mail"
	"github.com/sigman78/waycms/internal/sandbox"
	"github.com/sigman78/waycms/internal/store"
	"github.com/sigman78/waycms/internal/tenancy"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

type env struct {
	t       *testing.T
	handler http.Handler
	root    string
	cookies []*http.Cookie
}

// newSingle starts a single-tenant server over a fresh project tree.
func newSingle(t *testing.T, files map[string]string, password string) *env {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, files)
	sessions := auth.NewMemorySessions()
	srv := New(Options{
		Resolver: &tenancy.Single{Root: sandbox.MustNew(root), BackupDir: filepath.Join(t.TempDir(), "backups")},
		Sessions: sessions,
		Password: &auth.PasswordGuard{Secret: password, Sessions: sessions},
		AppURL:   "http://localhost:5000",
	})
	return &env{t: t, handler: srv.Handler(), root: root}
}

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

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last() mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type multiEnv struct {
	*env
	store  *store.Store
	mailer *recordingMailer
	base   string
}

const adminPassword = "admin-password"

// newMulti starts a multi-tenant server with one admin account
// (admin@example.com) and no projects.
func newMulti(t *testing.T, limiter *auth.Limiter) *multiEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "cms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hash, err := auth.HashPassword(adminPassword)
	require.NoError(t, err)
	_, err = st.EnsureAdmin(ctx, "admin@example.com", "Admin", hash)
	require.NoError(t, err)

	base := t.TempDir()
	sessions := &auth.DBSessions{Store: st}
	m := &recordingMailer{}
	projects := &tenancy.Multi{Store: st, BaseDir: base, BackupDir: filepath.Join(t.TempDir(), "backups")}
	srv := New(Options{
		Resolver: projects,
		Sessions: sessions,
		Accounts: &auth.Accounts{Store: st, Sessions: sessions, Mailer: m, AppURL: "http://localhost:5000"},
		Store:    st,
		Projects: projects,
		AppURL:   "http://localhost:5000",
		Limiter:  limiter,
	})
	return &multiEnv{env: &env{t: t, handler: srv.Handler()}, store: st, mailer: m, base: base}
}

func (e *env) request(method, target string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(e.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// as returns a copy of e that sends cookies.
func (e *env) as(cookies []*http.Cookie) *env {
	return &env{t: e.t, handler: e.handler, root: e.root, cookies: cookies}
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func login(t *testing.T, e *env, body any) []*http.Cookie {
	t.Helper()
	rec := e.request(http.MethodPost, "/auth/login", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func newJSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
