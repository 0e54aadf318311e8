package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigman78/waycms/internal/auth"
)

func TestSingleOpenAccess(t *testing.T) {
	e := newSingle(t, map[string]string{"index.html": "x"}, "")
	assert.Equal(t, http.StatusOK, e.request(http.MethodGet, "/api/files", nil).Code)

	rec := e.request(http.MethodPost, "/auth/login", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestSinglePassword(t *testing.T) {
	e := newSingle(t, map[string]string{"index.html": "x"}, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, e.request(http.MethodGet, "/api/files", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.request(http.MethodGet, "/preview/", nil).Code)
	assert.Equal(t, http.StatusOK, e.request(http.MethodGet, "/healthz", nil).Code)

	rec := e.request(http.MethodPost, "/auth/login", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookies := login(t, e, map[string]string{"password": "s3cret"})
	assert.Equal(t, auth.DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	as := e.as(cookies)
	assert.Equal(t, http.StatusOK, as.request(http.MethodGet, "/api/files", nil).Code)
	rec = as.request(http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeAs[meResponse](t, rec)
	assert.Equal(t, "single", me.Mode)
	assert.True(t, me.Authenticated)

	rec = as.request(http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, as.request(http.MethodGet, "/api/files", nil).Code)
}

func TestSinglePasswordHash(t *testing.T) {
	hash, err := auth.HashPassword("hashed-secret")
	require.NoError(t, err)
	e := newSingle(t, nil, hash)

	assert.Equal(t, http.StatusUnauthorized, e.request(http.MethodPost, "/auth/login", map[string]string{"password": hash}).Code)
	login(t, e, map[string]string{"password": "hashed-secret"})
}

func TestMultiRoutesAbsentInSingleMode(t *testing.T) {
	e := newSingle(t, nil, "")
	assert.Equal(t, http.StatusNotFound, e.request(http.MethodGet, "/admin/users", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.request(http.MethodPost, "/auth/magic-link", map[string]string{"email": "a@example.com"}).Code)
}
