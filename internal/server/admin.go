package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/mail"
	"github.com/sigman78/waycms/internal/store"
	"github.com/sigman78/waycms/internal/tenancy"
)

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id")
	}
	return id, nil
}

type usersResponse struct {
	Users []userView `json:"users"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.opts.Store.Users(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: viewUsers(users)})
}

type createUserRequest struct {
	Email            string  `json:"email" validate:"required,email"`
	Name             string  `json:"name"`
	IsAdmin          bool    `json:"is_admin"`
	ProjectIDs       []int64 `json:"project_ids"`
	SendWelcomeEmail *bool   `json:"send_welcome_email"`
}

type userResponse struct {
	User    userView `json:"user"`
	Warning string   `json:"warning,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	u, err := s.opts.Store.CreateUser(ctx, req.Email, strings.TrimSpace(req.Name), req.IsAdmin)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var names []string
	for _, id := range req.ProjectIDs {
		p, err := s.opts.Store.ProjectByID(ctx, id)
		if err != nil {
			continue
		}
		if err := s.opts.Store.Assign(ctx, u.ID, id); err != nil && !errors.Is(err, store.ErrDuplicate) {
			s.fail(w, r, err)
			return
		}
		names = append(names, p.Name)
	}
	s.logger.Info("user created", "email", u.Email, "admin", u.IsAdmin, "projects", len(names))

	resp := userResponse{User: viewUser(u)}
	welcome := req.SendWelcomeEmail == nil || *req.SendWelcomeEmail
	if welcome && s.opts.Accounts.MailAvailable() {
		if err := s.opts.Accounts.SendWelcome(ctx, u, names); err != nil {
			s.logger.Warn("welcome email failed", "email", u.Email, "err", err)
			resp.Warning = "User created but email failed: " + err.Error()
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

type updateUserRequest struct {
	Name    *string `json:"name"`
	IsAdmin *bool   `json:"is_admin"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req updateUserRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.opts.Store.UpdateUser(r.Context(), id, store.UserUpdate{Name: req.Name, IsAdmin: req.IsAdmin})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: viewUser(u)})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p := auth.PrincipalFrom(r.Context()); p.User.ID == id {
		s.fail(w, r, badRequest("cannot delete yourself"))
		return
	}
	if err := s.opts.Store.DeleteUser(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("user deleted", "id", id)
	writeJSON(w, http.StatusOK, pathResponse{Success: true})
}

func (s *Server) handleSendLink(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.opts.Store.UserByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.opts.Accounts.SendMagicLink(r.Context(), u); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Magic link sent to " + u.Email})
}

type projectsResponse struct {
	Projects []projectView `json:"projects"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.opts.Store.Projects(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectsResponse{Projects: viewProjects(projects)})
}

type createProjectRequest struct {
	Name       string `json:"name" validate:"required"`
	Slug       string `json:"slug"`
	WebsiteURL string `json:"website_url" validate:"omitempty,url"`
}

// handleCreateProject registers a project and creates its directory. The
// slug is derived from the name when not given.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if slug == "" {
		slug = tenancy.Slugify(req.Name)
	}
	if !tenancy.ValidSlug(slug) {
		s.fail(w, r, badRequest("slug must contain only lowercase letters, numbers, and hyphens"))
		return
	}
	p, err := s.opts.Store.CreateProject(r.Context(), strings.TrimSpace(req.Name), slug, strings.TrimSpace(req.WebsiteURL))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.opts.Projects.EnsureDir(p.Slug); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("project created", "slug", p.Slug)
	writeJSON(w, http.StatusCreated, projectResponse{Success: true, Project: viewProject(p)})
}

type updateProjectRequest struct {
	Name       *string `json:"name"`
	WebsiteURL *string `json:"website_url"`
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req updateProjectRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.opts.Store.UpdateProject(r.Context(), id, store.ProjectUpdate{Name: req.Name, WebsiteURL: req.WebsiteURL})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Success: true, Project: viewProject(p)})
}

// handleDeleteProject removes the project record. Its directory and
// backups stay on disk.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.opts.Store.DeleteProject(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("project deleted", "id", id)
	writeJSON(w, http.StatusOK, pathResponse{Success: true})
}

type assignmentsResponse struct {
	Assignments []store.Assignment `json:"assignments"`
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Store.Assignments(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []store.Assignment{}
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{Assignments: list})
}

type assignRequest struct {
	UserID    int64 `json:"user_id" validate:"required"`
	ProjectID int64 `json:"project_id" validate:"required"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.opts.Store.Assign(r.Context(), req.UserID, req.ProjectID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pathResponse{Success: true})
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err1 := strconv.ParseInt(q.Get("user_id"), 10, 64)
	projectID, err2 := strconv.ParseInt(q.Get("project_id"), 10, 64)
	if err1 != nil || err2 != nil {
		s.fail(w, r, badRequest("user_id and project_id are required"))
		return
	}
	if err := s.opts.Store.Unassign(r.Context(), userID, projectID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pathResponse{Success: true})
}

type testEmailResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Configured bool   `json:"configured"`
}

// handleTestEmail sends a test message to the calling administrator.
func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	a := s.opts.Accounts
	resp := testEmailResponse{Configured: a.MailAvailable()}
	if !resp.Configured {
		resp.Message = "Email is not configured"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	to := auth.PrincipalFrom(r.Context()).User.Email
	if err := a.Mailer.Send(r.Context(), mail.TestMessage(to)); err != nil {
		s.logger.Warn("test email failed", "to", to, "err", err)
		resp.Message = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Success, resp.Message = true, "Test email sent to "+to
	writeJSON(w, http.StatusOK, resp)
}

type emailConfigResponse struct {
	Configured bool   `json:"configured"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	From       string `json:"from_email"`
	FromName   string `json:"from_name"`
}

func (s *Server) handleEmailConfig(w http.ResponseWriter, _ *http.Request) {
	resp := emailConfigResponse{Configured: s.opts.Accounts.MailAvailable()}
	if m, ok := s.opts.Accounts.Mailer.(*mail.SMTPMailer); ok {
		resp.Host, resp.Port, resp.From, resp.FromName = m.Host, m.Port, m.From, m.FromName
		resp.User = mask(m.Username)
	}
	writeJSON(w, http.StatusOK, resp)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r) + "***"
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Store.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
