package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/sigman78/waycms/internal/backup"
	"github.com/sigman78/waycms/internal/sandbox"
	"github.com/sigman78/waycms/internal/tenancy"
)

type backupsResponse struct {
	Backups []backup.Backup `json:"backups"`
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	list, err := s.backups(proj).List()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupsResponse{Backups: list})
}

type createBackupRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	if req.Label == "" {
		req.Label = "manual"
	}
	b, err := s.backups(proj).Create(r.Context(), req.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.backups(proj).Prune(s.opts.Retention); err != nil {
		s.logger.Warn("backup prune failed", "project", proj.Slug, "err", err)
	}
	writeJSON(w, http.StatusCreated, b)
}

type restoreResponse struct {
	Success  bool           `json:"success"`
	Restored string         `json:"restored"`
	Safety   *backup.Backup `json:"safety_backup,omitempty"`
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	safety, err := s.backups(proj).Restore(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, restoreResponse{Success: true, Restored: name, Safety: safety})
}

// handleDownloadZip streams a directory of the project as a zip archive.
func (s *Server) handleDownloadZip(w http.ResponseWriter, r *http.Request) {
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	abs, info, err := proj.Root.Stat(r.URL.Query().Get("path"))
	switch {
	case errors.Is(err, sandbox.ErrPathRejected):
		s.fail(w, r, err)
		return
	case err != nil:
		http.NotFound(w, r)
		return
	case !info.IsDir():
		s.fail(w, r, badRequest("not a directory"))
		return
	}
	rel, err := proj.Root.Rel(abs)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	base := proj.Slug
	if rel != "" {
		base = path.Base(rel)
	}
	if base == "" {
		base = "site"
	}
	name := fmt.Sprintf("%s-%s.zip", base, time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	mgr := s.backups(proj)
	n, err := backup.Archive(r.Context(), abs, w, backup.ArchiveOptions{Skip: mgr.Skip(rel)})
	if err != nil {
		// Headers are gone; all that is left is to log and cut the stream.
		s.logger.Error("zip download failed", "project", proj.Slug, "path", rel, "err", err)
		return
	}
	s.logger.Info("zip downloaded", "project", proj.Slug, "path", rel, "files", n)
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Files   int    `json:"files"`
}

// handleUploadZip extracts an uploaded archive into a project directory.
// The archive arrives as multipart field "file"; field "path" selects the
// target directory.
func (s *Server) handleUploadZip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, badRequest("invalid multipart upload"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	src, _, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, badRequest("file is required"))
		return
	}
	defer func() { _ = src.Close() }()

	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	target, rel, err := s.uploadTarget(proj, r.FormValue("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	tmp, err := os.CreateTemp("", "waycms-upload-*.zip")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	size, err := io.Copy(tmp, src)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	n, err := backup.Extract(r.Context(), tmp, size, target, backup.ExtractOptions{MaxBytes: s.opts.MaxUploadBytes * 10})
	if err != nil {
		if !errors.Is(err, backup.ErrUnsafeEntry) && !errors.Is(err, backup.ErrTooLarge) &&
			!errors.Is(err, sandbox.ErrPathRejected) {
			err = fmt.Errorf("%w: %w", badRequest("invalid zip archive"), err)
		}
		s.fail(w, r, err)
		return
	}
	s.logger.Info("zip uploaded", "project", proj.Slug, "path", rel, "files", n)
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, Path: rel, Files: n})
}

// uploadTarget creates directory p inside the project and returns a
// sandbox rooted at it.
func (s *Server) uploadTarget(proj *tenancy.Project, p string) (*sandbox.Sandbox, string, error) {
	rel, err := proj.Root.Normalize(p)
	if err != nil {
		return nil, "", err
	}
	if rel == "" {
		return proj.Root, "", nil
	}
	if _, err := s.fileStore(proj).Mkdir(rel); err != nil {
		return nil, "", err
	}
	abs, err := proj.Root.Resolve(rel)
	if err != nil {
		return nil, "", err
	}
	real, err := proj.Root.Real(abs)
	if err != nil {
		return nil, "", err
	}
	sb, err := sandbox.New(real)
	if err != nil {
		return nil, "", err
	}
	return sb, rel, nil
}
