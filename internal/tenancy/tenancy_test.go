package tenancy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/sandbox"
	"github.com/sigman78/waycms/internal/store"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"My Site":        "my-site",
		"  A  --  B ":    "a-b",
		"Acme_Corp 2024": "acme-corp-2024",
		"Café Site!":     "caf-site",
		"already-ok":     "already-ok",
		"___":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestValidSlug(t *testing.T) {
	for _, s := range []string{"a", "9", "my-site", "a1-b2"} {
		assert.True(t, ValidSlug(s), s)
	}
	for _, s := range []string{"", "-a", "a-", "My", "a_b", "../x", "a/b"} {
		assert.False(t, ValidSlug(s), s)
	}
}

func TestSingle(t *testing.T) {
	dir := t.TempDir()
	sb, err := sandbox.New(dir)
	require.NoError(t, err)
	r := &Single{Root: sb, BackupDir: filepath.Join(dir, ".backups")}
	p, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, sb, p.Root)
	assert.Equal(t, filepath.Join(dir, ".backups"), p.BackupDir)
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "cms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	base := t.TempDir()
	backups := t.TempDir()
	r := &Multi{Store: st, BaseDir: base, BackupDir: backups}

	user, err := st.CreateUser(ctx, "ann@example.com", "Ann", false)
	require.NoError(t, err)
	admin, err := st.CreateUser(ctx, "root@example.com", "", true)
	require.NoError(t, err)
	alpha, err := st.CreateProject(ctx, "Alpha", "alpha", "")
	require.NoError(t, err)
	beta, err := st.CreateProject(ctx, "Beta", "beta", "")
	require.NoError(t, err)
	require.NoError(t, st.Assign(ctx, user.ID, alpha.ID))

	as := func(u *store.User, projectID int64) *auth.Principal {
		return &auth.Principal{Session: &auth.Session{UserID: u.ID, ProjectID: projectID}, User: u}
	}

	p, err := r.Resolve(ctx, as(user, alpha.ID))
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.Slug)
	assert.Equal(t, filepath.Join(backups, "alpha"), p.BackupDir)
	assert.DirExists(t, filepath.Join(base, "alpha"))
	assert.Equal(t, filepath.Join(base, "alpha"), p.Root.Root())

	_, err = r.Resolve(ctx, as(user, beta.ID))
	assert.ErrorIs(t, err, ErrAccessDenied)

	p, err = r.Resolve(ctx, as(admin, beta.ID))
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Slug)

	_, err = r.Resolve(ctx, as(user, 0))
	assert.ErrorIs(t, err, ErrNoProject)
	_, err = r.Resolve(ctx, as(user, 999))
	assert.ErrorIs(t, err, ErrNoProject)
	_, err = r.Resolve(ctx, nil)
	assert.ErrorIs(t, err, ErrNoProject)

	p, err = r.Open(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, beta.ID, p.ID)
	assert.Equal(t, filepath.Join(backups, "beta"), p.BackupDir)
	_, err = r.Open(ctx, "gamma")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureDirRejectsBadSlug(t *testing.T) {
	base := t.TempDir()
	r := &Multi{BaseDir: base}
	_, err := r.EnsureDir("../escape")
	assert.ErrorIs(t, err, ErrInvalidSlug)
	_, err = os.Stat(filepath.Join(filepath.Dir(base), "escape"))
	assert.True(t, os.IsNotExist(err))
}
