// Package tenancy maps an authenticated caller to the project tree they
// edit.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mrz1836/go-sanitize"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/sandbox"
	"github.com/sigman78/waycms/internal/store"
)

var (
	ErrNoProject    = errors.New("no project selected")
	ErrAccessDenied = errors.New("access to project denied")
	ErrInvalidSlug  = errors.New("invalid project slug")
)

// Project is a resolved project tree.
type Project struct {
	ID        int64
	Name      string
	Slug      string
	Root      *sandbox.Sandbox
	BackupDir string
}

// Resolver returns the project the caller works on.
type Resolver interface {
	Resolve(ctx context.Context, p *auth.Principal) (*Project, error)
}

// Single serves one fixed project to everyone.
type Single struct {
	Root      *sandbox.Sandbox
	BackupDir string
}

func (s *Single) Resolve(context.Context, *auth.Principal) (*Project, error) {
	return &Project{Name: filepath.Base(s.Root.Root()), Root: s.Root, BackupDir: s.BackupDir}, nil
}

// Multi serves BaseDir/<slug> for the project selected in the session,
// after checking that the user is assigned to it. Administrators may open
// every project.
type Multi struct {
	Store     *store.Store
	BaseDir   string
	BackupDir string // backups go to BackupDir/<slug>
}

func (m *Multi) Resolve(ctx context.Context, p *auth.Principal) (*Project, error) {
	if p == nil || p.User == nil || p.Session.ProjectID == 0 {
		return nil, ErrNoProject
	}
	proj, err := m.Store.ProjectByID(ctx, p.Session.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoProject
	}
	if err != nil {
		return nil, err
	}
	if !p.User.IsAdmin {
		ok, err := m.Store.IsAssigned(ctx, p.User.ID, proj.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAccessDenied
		}
	}
	return m.open(proj)
}

// Open returns project slug without any access check. It backs operator
// commands and scheduled backups.
func (m *Multi) Open(ctx context.Context, slug string) (*Project, error) {
	proj, err := m.Store.ProjectBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return m.open(proj)
}

func (m *Multi) open(proj *store.Project) (*Project, error) {
	root, err := m.EnsureDir(proj.Slug)
	if err != nil {
		return nil, err
	}
	sb, err := sandbox.New(root)
	if err != nil {
		return nil, fmt.Errorf("tenancy: project %s: %w", proj.Slug, err)
	}
	out := &Project{ID: proj.ID, Name: proj.Name, Slug: proj.Slug, Root: sb}
	if m.BackupDir != "" {
		out.BackupDir = filepath.Join(m.BackupDir, proj.Slug)
	}
	return out, nil
}

// EnsureDir creates the directory of project slug and returns its path.
func (m *Multi) EnsureDir(slug string) (string, error) {
	if !ValidSlug(slug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	dir := filepath.Join(m.BaseDir, slug)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("tenancy: create project dir: %w", err)
	}
	return dir, nil
}

var slugRe = regexp.MustCompile(`^[a-z0-9]$|^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// ValidSlug reports whether s is usable as a project directory name.
func ValidSlug(s string) bool { return slugRe.MatchString(s) }

// Slugify derives a slug from a display name: lower case, runs of other
// characters collapsed to single hyphens.
func Slugify(name string) string {
	s := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	s = strings.ReplaceAll(s, "_", "-")
	s = sanitize.PathName(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
