package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Project is one website directory of the multi-tenant mode.
type Project struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	WebsiteURL string    `json:"website_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const projectColumns = `id, name, slug, website_url, created_at`

func scanProject(row scanner) (*Project, error) {
	var p Project
	var created int64
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.WebsiteURL, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = fromUnix(created)
	return &p, nil
}

func (s *Store) queryProjects(ctx context.Context, q string, args ...any) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list projects: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CreateProject inserts a project. The slug must already be valid.
func (s *Store) CreateProject(ctx context.Context, name, slug, websiteURL string) (*Project, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, slug, website_url, created_at) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(name), slug, strings.TrimSpace(websiteURL), unix(s.now()))
	if isUnique(err) {
		return nil, fmt.Errorf("store: project %q: %w", slug, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("store: create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create project: %w", err)
	}
	return s.ProjectByID(ctx, id)
}

// ProjectByID returns the project with id.
func (s *Store) ProjectByID(ctx context.Context, id int64) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: project %d: %w", id, err)
	}
	return p, nil
}

// ProjectBySlug returns the project with slug.
func (s *Store) ProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: project %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: project %q: %w", slug, err)
	}
	return p, nil
}

// Projects returns all projects ordered by name.
func (s *Store) Projects(ctx context.Context) ([]Project, error) {
	return s.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name, id`)
}

// ProjectsForUser returns the projects assigned to user id ordered by name.
func (s *Store) ProjectsForUser(ctx context.Context, userID int64) ([]Project, error) {
	return s.queryProjects(ctx, `
		SELECT p.id, p.name, p.slug, p.website_url, p.created_at
		FROM projects p JOIN user_projects up ON p.id = up.project_id
		WHERE up.user_id = ?
		ORDER BY p.name, p.id`, userID)
}

// ProjectUpdate holds the fields to change; nil fields are left alone.
type ProjectUpdate struct {
	Name       *string `json:"name"`
	WebsiteURL *string `json:"website_url"`
}

// UpdateProject applies upd to project id.
func (s *Store) UpdateProject(ctx context.Context, id int64, upd ProjectUpdate) (*Project, error) {
	if upd.Name != nil {
		res, err := s.db.ExecContext(ctx, `UPDATE projects SET name = ? WHERE id = ?`, strings.TrimSpace(*upd.Name), id)
		if err := affected(res, err, "update project"); err != nil {
			return nil, err
		}
	}
	if upd.WebsiteURL != nil {
		res, err := s.db.ExecContext(ctx, `UPDATE projects SET website_url = ? WHERE id = ?`, strings.TrimSpace(*upd.WebsiteURL), id)
		if err := affected(res, err, "update project"); err != nil {
			return nil, err
		}
	}
	return s.ProjectByID(ctx, id)
}

// DeleteProject removes the project row and its assignments. The project
// directory is left on disk.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return affected(res, err, "delete project")
}

// Assignment links a user to a project.
type Assignment struct {
	UserID      int64  `json:"user_id"`
	ProjectID   int64  `json:"project_id"`
	Email       string `json:"email"`
	UserName    string `json:"user_name"`
	ProjectName string `json:"project_name"`
	Slug        string `json:"slug"`
}

// Assign gives user access to project.
func (s *Store) Assign(ctx context.Context, userID, projectID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_projects (user_id, project_id) VALUES (?, ?)`, userID, projectID)
	switch {
	case isUnique(err):
		return fmt.Errorf("store: assignment %d/%d: %w", userID, projectID, ErrDuplicate)
	case isForeignKey(err):
		return fmt.Errorf("store: assignment %d/%d: %w", userID, projectID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("store: assign: %w", err)
	}
	return nil
}

// Unassign removes user's access to project.
func (s *Store) Unassign(ctx context.Context, userID, projectID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_projects WHERE user_id = ? AND project_id = ?`, userID, projectID)
	return affected(res, err, "unassign")
}

// IsAssigned reports whether user is assigned to project.
func (s *Store) IsAssigned(ctx context.Context, userID, projectID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_projects WHERE user_id = ? AND project_id = ?`, userID, projectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: assignment: %w", err)
	}
	return true, nil
}

// Assignments lists every assignment with user and project names.
func (s *Store) Assignments(ctx context.Context) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.user_id, up.project_id, u.email, u.name, p.name, p.slug
		FROM user_projects up
		JOIN users u ON u.id = up.user_id
		JOIN projects p ON p.id = up.project_id
		ORDER BY u.email, p.name`)
	if err != nil {
		return nil, fmt.Errorf("store: list assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []Assignment{}
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.UserID, &a.ProjectID, &a.Email, &a.UserName, &a.ProjectName, &a.Slug); err != nil {
			return nil, fmt.Errorf("store: list assignments: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
