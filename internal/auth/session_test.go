package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemorySessions()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Create(ctx, Session{Token: "a", ExpiresAt: now.Add(time.Hour)}))
	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, now, got.CreatedAt)

	require.NoError(t, m.SetProject(ctx, "a", 7))
	got, err = m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ProjectID)
	assert.ErrorIs(t, m.SetProject(ctx, "nope", 1), ErrNoSession)

	now = now.Add(2 * time.Hour)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 0, m.Len())

	require.NoError(t, m.Create(ctx, Session{Token: "b", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, m.Delete(ctx, "b"))
	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDBSessions(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	u := createUser(t, st, "ann@example.com", "", false)
	d := &DBSessions{Store: st}

	require.NoError(t, d.Create(ctx, Session{Token: "t1", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}))
	got, err := d.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)

	assert.ErrorIs(t, d.SetProject(ctx, "missing", 1), ErrNoSession)
	_, err = d.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, d.Delete(ctx, "t1"))
	_, err = d.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	u := createUser(t, st, "ann@example.com", "", true)
	sessions := &DBSessions{Store: st}
	require.NoError(t, sessions.Create(ctx, Session{Token: "tok", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}))

	var seen *Principal
	h := (&Loader{Sessions: sessions, Store: st}).Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = PrincipalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, "ann@example.com", seen.User.Email)
	assert.True(t, seen.IsAdmin())

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "bogus"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, seen)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, seen)
}

func TestCookies(t *testing.T) {
	c := Cookies{Secure: true}
	rec := httptest.NewRecorder()
	c.Set(rec, &Session{Token: "abc", ExpiresAt: time.Now().Add(time.Hour)})
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, "abc", c.Token(req))

	rec = httptest.NewRecorder()
	c.Clear(rec)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}
