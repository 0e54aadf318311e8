// Package server exposes the editor, preview and admin HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/backup"
	"github.com/sigman78/waycms/internal/files"
	"github.com/sigman78/waycms/internal/preview"
	"github.com/sigman78/waycms/internal/store"
	"github.com/sigman78/waycms/internal/tenancy"
)

// Options wires the server to its collaborators. Accounts, Store and
// Projects are set in multi-tenant mode only; Password in single-tenant
// mode only.
type Options struct {
	Resolver tenancy.Resolver
	Sessions auth.SessionStore
	Cookies  auth.Cookies

	Password *auth.PasswordGuard
	Accounts *auth.Accounts
	Store    *store.Store
	Projects *tenancy.Multi

	// AppURL is the public origin; state-changing requests from other
	// origins are refused.
	AppURL         string
	Extensions     []string
	MaxUploadBytes int64
	Retention      backup.Policy
	Limiter        *auth.Limiter
	Logger         *slog.Logger
}

// Server routes HTTP requests.
type Server struct {
	opts      Options
	logger    *slog.Logger
	previewer *preview.Previewer
	proxy     *preview.Proxy
	editor    auth.Guard
	mux       *http.ServeMux
}

// New builds a Server and registers its routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	s := &Server{
		opts:      opts,
		logger:    logger,
		previewer: preview.NewPreviewer(preview.DefaultPrefix, logger),
		proxy:     &preview.Proxy{Prefix: preview.DefaultPrefix, Logger: logger},
		mux:       http.NewServeMux(),
	}
	switch {
	case opts.Accounts != nil:
		s.editor = auth.LoggedIn
	case opts.Password != nil:
		s.editor = opts.Password
	default:
		s.editor = auth.Open
	}
	s.routes()
	return s
}

func (s *Server) multi() bool { return s.opts.Accounts != nil }

func (s *Server) routes() {
	editor := func(h http.HandlerFunc) http.Handler { return s.protect(s.editor, h) }
	open := func(h http.HandlerFunc) http.Handler { return h }

	s.mux.Handle("GET /preview/{path...}", editor(s.handlePreview))
	s.mux.Handle("GET /preview-assets/{path...}", editor(s.handleAsset))
	s.mux.Handle("POST /api/preview-html", editor(s.handlePreviewHTML))

	s.mux.Handle("GET /api/files", editor(s.handleList))
	s.mux.Handle("GET /api/file", editor(s.handleRead))
	s.mux.Handle("POST /api/file", editor(s.handleWrite))
	s.mux.Handle("PUT /api/file", editor(s.handleCreate))
	s.mux.Handle("PATCH /api/file", editor(s.handleRename))
	s.mux.Handle("DELETE /api/file", editor(s.handleDelete))
	s.mux.Handle("POST /api/folder", editor(s.handleMkdir))
	s.mux.Handle("GET /api/search", editor(s.handleSearch))
	s.mux.Handle("POST /api/search-replace", editor(s.handleSearchReplace))

	s.mux.Handle("GET /api/download-zip", editor(s.handleDownloadZip))
	s.mux.Handle("POST /api/upload-zip", editor(s.handleUploadZip))
	s.mux.Handle("GET /api/backups", editor(s.handleListBackups))
	s.mux.Handle("POST /api/backups", editor(s.handleCreateBackup))
	s.mux.Handle("POST /api/backups/{name}/restore", editor(s.handleRestoreBackup))

	s.mux.Handle("POST /auth/login", open(s.handleLogin))
	s.mux.Handle("POST /auth/logout", open(s.handleLogout))
	s.mux.Handle("GET /auth/me", editor(s.handleMe))
	s.mux.Handle("GET /healthz", open(s.handleHealth))

	if !s.multi() {
		return
	}
	user := func(h http.HandlerFunc) http.Handler { return s.protect(auth.LoggedIn, h) }
	admin := func(h http.HandlerFunc) http.Handler { return s.protect(auth.Admin, h) }

	s.mux.Handle("POST /auth/magic-link", open(s.handleMagicLink))
	s.mux.Handle("GET /auth/verify/{token}", open(s.handleVerify))
	s.mux.Handle("POST /auth/check-email", open(s.handleCheckEmail))
	s.mux.Handle("POST /auth/password", user(s.handleSetPassword))
	s.mux.Handle("POST /auth/switch-project", user(s.handleSwitchProject))

	s.mux.Handle("GET /admin/users", admin(s.handleListUsers))
	s.mux.Handle("POST /admin/users", admin(s.handleCreateUser))
	s.mux.Handle("PUT /admin/users/{id}", admin(s.handleUpdateUser))
	s.mux.Handle("DELETE /admin/users/{id}", admin(s.handleDeleteUser))
	s.mux.Handle("POST /admin/users/{id}/send-link", admin(s.handleSendLink))
	s.mux.Handle("GET /admin/projects", admin(s.handleListProjects))
	s.mux.Handle("POST /admin/projects", admin(s.handleCreateProject))
	s.mux.Handle("PUT /admin/projects/{id}", admin(s.handleUpdateProject))
	s.mux.Handle("DELETE /admin/projects/{id}", admin(s.handleDeleteProject))
	s.mux.Handle("GET /admin/assignments", admin(s.handleListAssignments))
	s.mux.Handle("POST /admin/assignments", admin(s.handleAssign))
	s.mux.Handle("DELETE /admin/assignments", admin(s.handleUnassign))
	s.mux.Handle("POST /admin/email/test", admin(s.handleTestEmail))
	s.mux.Handle("GET /admin/email/config", admin(s.handleEmailConfig))
	s.mux.Handle("GET /admin/stats", admin(s.handleStats))
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	loader := &auth.Loader{Sessions: s.opts.Sessions, Store: s.opts.Store, Cookies: s.opts.Cookies, Logger: s.logger}
	var h http.Handler = s.mux
	h = loader.Middleware(h)
	h = s.withCSRFCheck(h)
	h = s.withLogging(h)
	return s.withRecovery(h)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// project resolves the caller's project, writing an error response when
// that fails.
func (s *Server) project(w http.ResponseWriter, r *http.Request) (*tenancy.Project, bool) {
	p, err := s.opts.Resolver.Resolve(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return p, true
}

func (s *Server) fileStore(p *tenancy.Project) *files.Store {
	return files.New(p.Root, s.opts.Extensions)
}

func (s *Server) backups(p *tenancy.Project) *backup.Manager {
	return &backup.Manager{
		Dir:             p.BackupDir,
		Root:            p.Root,
		Logger:          s.logger.With("project", p.Slug),
		MaxRestoreBytes: s.opts.MaxUploadBytes * 10,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
