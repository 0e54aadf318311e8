package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigman78/waycms/internal/auth"
)

var reVerify = regexp.MustCompile(`/auth/verify/([0-9a-f-]+)`)

func verifyToken(t *testing.T, text string) string {
	t.Helper()
	m := reVerify.FindStringSubmatch(text)
	require.NotNil(t, m, "no sign-in link in %q", text)
	return m[1]
}

func adminLogin(t *testing.T, e *multiEnv) *env {
	t.Helper()
	return e.as(login(t, e.env, map[string]string{"email": "admin@example.com", "password": adminPassword}))
}

func createProject(t *testing.T, admin *env, name string) projectView {
	t.Helper()
	rec := admin.request(http.MethodPost, "/admin/projects", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[projectResponse](t, rec).Project
}

func TestMultiAdminOnboarding(t *testing.T) {
	e := newMulti(t, nil)
	admin := adminLogin(t, e)

	proj := createProject(t, admin, "Acme Site")
	assert.Equal(t, "acme-site", proj.Slug)
	assert.DirExists(t, filepath.Join(e.base, "acme-site"))

	rec := admin.request(http.MethodPost, "/admin/users", map[string]any{
		"email":       "Editor@Example.com",
		"name":        "Ed",
		"project_ids": []int64{proj.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[userResponse](t, rec)
	assert.Equal(t, "editor@example.com", created.User.Email)
	assert.False(t, created.User.HasPassword)
	assert.Empty(t, created.Warning)

	require.Equal(t, 1, e.mailer.count())
	welcome := e.mailer.last()
	assert.Equal(t, "editor@example.com", welcome.To)
	assert.Contains(t, welcome.Text, "Acme Site")

	rec = e.request(http.MethodGet, "/auth/verify/"+verifyToken(t, welcome.Text), nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	editor := e.as(rec.Result().Cookies())

	rec = editor.request(http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeAs[meResponse](t, rec)
	assert.Equal(t, "multi", me.Mode)
	assert.Equal(t, proj.ID, me.CurrentProjectID)
	require.Len(t, me.Projects, 1)

	rec = editor.request(http.MethodPut, "/api/file", map[string]string{"path": "index.html", "content": "<p>acme</p>"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.FileExists(t, filepath.Join(e.base, "acme-site", "index.html"))
	assert.Equal(t, http.StatusOK, editor.request(http.MethodGet, "/preview/", nil).Code)

	assert.Equal(t, http.StatusForbidden, editor.request(http.MethodGet, "/admin/users", nil).Code)

	// The link is single-use.
	rec = e.request(http.MethodGet, "/auth/verify/"+verifyToken(t, welcome.Text), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMultiAnonymous(t *testing.T) {
	e := newMulti(t, nil)
	assert.Equal(t, http.StatusUnauthorized, e.request(http.MethodGet, "/api/files", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.request(http.MethodGet, "/admin/users", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.request(http.MethodGet, "/auth/me", nil).Code)

	rec := e.request(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.request(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMultiProjectSwitching(t *testing.T) {
	e := newMulti(t, nil)
	admin := adminLogin(t, e)

	// No project selected yet.
	assert.Equal(t, http.StatusBadRequest, admin.request(http.MethodGet, "/api/files", nil).Code)

	a := createProject(t, admin, "Alpha")
	b := createProject(t, admin, "Beta")

	rec := admin.request(http.MethodPost, "/auth/switch-project", map[string]int64{"project_id": b.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "beta", decodeAs[projectResponse](t, rec).Project.Slug)
	require.Equal(t, http.StatusCreated, admin.request(http.MethodPut, "/api/file", map[string]string{"path": "b.html"}).Code)
	assert.FileExists(t, filepath.Join(e.base, "beta", "b.html"))

	rec = admin.request(http.MethodPost, "/admin/users", map[string]any{
		"email":              "ann@example.com",
		"project_ids":        []int64{a.ID},
		"send_welcome_email": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 0, e.mailer.count())
	ann := decodeAs[userResponse](t, rec).User

	hash, err := auth.HashPassword("ann-password")
	require.NoError(t, err)
	require.NoError(t, e.store.SetPasswordHash(context.Background(), ann.ID, hash))
	user := e.as(login(t, e.env, map[string]string{"email": "ann@example.com", "password": "ann-password"}))

	rec = user.request(http.MethodPost, "/auth/switch-project", map[string]int64{"project_id": b.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = user.request(http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"directories":[]`)
}

func TestMultiAdminCRUD(t *testing.T) {
	e := newMulti(t, nil)
	admin := adminLogin(t, e)
	ctx := context.Background()
	self, err := e.store.UserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, admin.request(http.MethodDelete, fmt.Sprintf("/admin/users/%d", self.ID), nil).Code)
	assert.Equal(t, http.StatusBadRequest, admin.request(http.MethodPost, "/admin/projects", map[string]string{"name": "X", "slug": "Bad Slug"}).Code)
	assert.Equal(t, http.StatusBadRequest, admin.request(http.MethodPost, "/admin/users", map[string]string{"email": "not-an-email"}).Code)

	p := createProject(t, admin, "Gamma")
	assert.Equal(t, http.StatusConflict, admin.request(http.MethodPost, "/admin/projects", map[string]string{"name": "Gamma"}).Code)

	rec := admin.request(http.MethodPut, fmt.Sprintf("/admin/projects/%d", p.ID), map[string]string{"name": "Gamma Two"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Gamma Two", decodeAs[projectResponse](t, rec).Project.Name)

	rec = admin.request(http.MethodPost, "/admin/users", map[string]any{"email": "bob@example.com", "send_welcome_email": false})
	require.Equal(t, http.StatusCreated, rec.Code)
	bob := decodeAs[userResponse](t, rec).User
	assert.Equal(t, http.StatusConflict, admin.request(http.MethodPost, "/admin/users", map[string]any{"email": "bob@example.com"}).Code)

	rec = admin.request(http.MethodPost, "/admin/assignments", map[string]int64{"user_id": bob.ID, "project_id": p.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, admin.request(http.MethodPost, "/admin/assignments", map[string]int64{"user_id": bob.ID, "project_id": p.ID}).Code)

	rec = admin.request(http.MethodGet, "/admin/assignments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeAs[assignmentsResponse](t, rec)
	require.Len(t, list.Assignments, 1)
	assert.Equal(t, "bob@example.com", list.Assignments[0].Email)

	rec = admin.request(http.MethodPut, fmt.Sprintf("/admin/users/%d", bob.ID), map[string]any{"is_admin": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAs[userResponse](t, rec).User.IsAdmin)

	rec = admin.request(http.MethodPost, fmt.Sprintf("/admin/users/%d/send-link", bob.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "bob@example.com", e.mailer.last().To)

	rec = admin.request(http.MethodGet, "/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":2,"projects":1,"assignments":1}`, rec.Body.String())

	require.Equal(t, http.StatusOK, admin.request(http.MethodDelete, fmt.Sprintf("/admin/assignments?user_id=%d&project_id=%d", bob.ID, p.ID), nil).Code)
	require.Equal(t, http.StatusOK, admin.request(http.MethodDelete, fmt.Sprintf("/admin/users/%d", bob.ID), nil).Code)
	require.Equal(t, http.StatusOK, admin.request(http.MethodDelete, fmt.Sprintf("/admin/projects/%d", p.ID), nil).Code)
	assert.Equal(t, http.StatusNotFound, admin.request(http.MethodDelete, fmt.Sprintf("/admin/projects/%d", p.ID), nil).Code)
	assert.DirExists(t, filepath.Join(e.base, "gamma"), "project files are kept")
}

func TestMultiMagicLinkAndCheckEmail(t *testing.T) {
	e := newMulti(t, nil)

	rec := e.request(http.MethodPost, "/auth/check-email", map[string]string{"email": "admin@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, checkEmailResponse{Exists: true, HasPassword: true}, decodeAs[checkEmailResponse](t, rec))

	rec = e.request(http.MethodPost, "/auth/check-email", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, checkEmailResponse{}, decodeAs[checkEmailResponse](t, rec))

	rec = e.request(http.MethodPost, "/auth/magic-link", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, e.mailer.count())

	rec = e.request(http.MethodPost, "/auth/magic-link", map[string]string{"email": "admin@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, e.mailer.count())
	token := verifyToken(t, e.mailer.last().Text)

	rec = e.request(http.MethodGet, "/auth/verify/"+token, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.NotEmpty(t, rec.Result().Cookies())

	assert.Equal(t, http.StatusBadRequest, e.request(http.MethodGet, "/auth/verify/not-a-token", nil).Code)
}

func TestMultiSetPassword(t *testing.T) {
	e := newMulti(t, nil)
	admin := adminLogin(t, e)

	rec := admin.request(http.MethodPost, "/auth/password", map[string]string{"password": "brand-new-password"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = admin.request(http.MethodPost, "/auth/password", map[string]string{"password": "brand-new-password", "current_password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = admin.request(http.MethodPost, "/auth/password", map[string]string{"password": "short", "current_password": adminPassword})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = admin.request(http.MethodPost, "/auth/password", map[string]string{"password": "brand-new-password", "current_password": adminPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	login(t, e.env, map[string]string{"email": "admin@example.com", "password": "brand-new-password"})
}

func TestMultiEmailEndpoints(t *testing.T) {
	e := newMulti(t, nil)
	admin := adminLogin(t, e)

	rec := admin.request(http.MethodPost, "/admin/email/test", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "admin@example.com", e.mailer.last().To)

	rec = admin.request(http.MethodGet, "/admin/email/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"configured":true`)
}

func TestLoginRateLimit(t *testing.T) {
	e := newMulti(t, auth.NewLimiter(1, 1))
	body := map[string]string{"email": "admin@example.com", "password": "wrong"}
	assert.Equal(t, http.StatusUnauthorized, e.request(http.MethodPost, "/auth/login", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, e.request(http.MethodPost, "/auth/login", body).Code)
}
