package server

import (
	"errors"
	"net/http"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool      `json:"success"`
	User    *userView `json:"user,omitempty"`
}

// handleLogin checks the shared password in single-tenant mode and an
// email and password pair in multi-tenant mode.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r) {
		return
	}
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if !s.multi() {
		if s.opts.Password == nil || !s.opts.Password.Enabled() {
			writeJSON(w, http.StatusOK, loginResponse{Success: true})
			return
		}
		sess, err := s.opts.Password.Login(r.Context(), req.Password)
		if err != nil {
			s.logger.Warn("login failed", "client", clientIP(r))
			s.fail(w, r, err)
			return
		}
		s.opts.Cookies.Set(w, sess)
		writeJSON(w, http.StatusOK, loginResponse{Success: true})
		return
	}

	if req.Email == "" || req.Password == "" {
		s.fail(w, r, badRequest("email and password are required"))
		return
	}
	sess, u, err := s.opts.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Warn("login failed", "email", req.Email, "client", clientIP(r))
		}
		s.fail(w, r, err)
		return
	}
	s.opts.Cookies.Set(w, sess)
	v := viewUser(u)
	writeJSON(w, http.StatusOK, loginResponse{Success: true, User: &v})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.opts.Cookies.Token(r); token != "" {
		if err := s.opts.Sessions.Delete(r.Context(), token); err != nil {
			s.logger.Warn("logout failed", "err", err)
		}
	}
	s.opts.Cookies.Clear(w)
	writeJSON(w, http.StatusOK, pathResponse{Success: true})
}

type meResponse struct {
	Mode             string        `json:"mode"`
	Authenticated    bool          `json:"authenticated"`
	User             *userView     `json:"user,omitempty"`
	Projects         []projectView `json:"projects,omitempty"`
	CurrentProjectID int64         `json:"current_project_id,omitempty"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())
	if !s.multi() {
		writeJSON(w, http.StatusOK, meResponse{Mode: "single", Authenticated: p != nil})
		return
	}
	projects, err := s.opts.Accounts.Projects(r.Context(), p.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v := viewUser(p.User)
	writeJSON(w, http.StatusOK, meResponse{
		Mode:             "multi",
		Authenticated:    true,
		User:             &v,
		Projects:         viewProjects(projects),
		CurrentProjectID: p.Session.ProjectID,
	})
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r) {
		return
	}
	var req emailRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.opts.Accounts.RequestMagicLink(r.Context(), req.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "If your email is registered, you will receive a login link.",
	})
}

// handleVerify redeems a magic link and redirects to the editor.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	sess, u, err := s.opts.Accounts.VerifyMagicLink(r.Context(), r.PathValue("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("magic link verified", "user", u.Email)
	s.opts.Cookies.Set(w, sess)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type checkEmailResponse struct {
	Exists      bool `json:"exists"`
	HasPassword bool `json:"has_password"`
}

func (s *Server) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r) {
		return
	}
	var req emailRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.opts.Store.UserByEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusOK, checkEmailResponse{})
	case err != nil:
		s.fail(w, r, err)
	default:
		writeJSON(w, http.StatusOK, checkEmailResponse{Exists: true, HasPassword: u.HasPassword()})
	}
}

type setPasswordRequest struct {
	Password        string `json:"password" validate:"required"`
	CurrentPassword string `json:"current_password"`
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p := auth.PrincipalFrom(r.Context())
	if p.User.HasPassword() && req.CurrentPassword == "" {
		s.fail(w, r, badRequest("current password is required"))
		return
	}
	if err := s.opts.Accounts.SetPassword(r.Context(), p.User, req.CurrentPassword, req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Password updated successfully"})
}

type switchProjectRequest struct {
	ProjectID int64 `json:"project_id" validate:"required"`
}

type projectResponse struct {
	Success bool        `json:"success"`
	Project projectView `json:"project"`
}

func (s *Server) handleSwitchProject(w http.ResponseWriter, r *http.Request) {
	var req switchProjectRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	proj, err := s.opts.Accounts.SwitchProject(r.Context(), auth.PrincipalFrom(r.Context()), req.ProjectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Success: true, Project: viewProject(proj)})
}
