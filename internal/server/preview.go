package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sigman78/waycms/internal/preview"
)

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

// handlePreview renders a project page. Paths outside the project are
// reported as missing.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	page, err := s.previewer.Page(proj.Root, r.PathValue("path"), "")
	if err != nil {
		if errors.Is(err, preview.ErrForbidden) || errors.Is(err, preview.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.fail(w, r, err)
		return
	}
	noStore(w)
	w.Header().Set("Content-Type", page.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(page.Body)))
	_, _ = w.Write(page.Body)
}

// handleAsset serves a file referenced by a rewritten page.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	asset, err := s.proxy.Serve(proj.Root, r.PathValue("path"))
	switch {
	case errors.Is(err, preview.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case errors.Is(err, preview.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}
	noStore(w)
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.Header().Set("Last-Modified", asset.ModTime.UTC().Format(http.TimeFormat))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(asset.Data)
}

type previewHTMLRequest struct {
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
}

type previewHTMLResponse struct {
	HTML string `json:"html"`
}

// handlePreviewHTML rewrites unsaved editor content as if it were stored
// at file_path. The result is meant for an iframe srcdoc, so the injected
// base is absolute.
func (s *Server) handlePreviewHTML(w http.ResponseWriter, r *http.Request) {
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	var req previewHTMLRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	file, err := proj.Root.Normalize(req.FilePath)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if file == "" {
		file = "index.html"
	}
	rc := preview.Context{File: file, Sandbox: proj.Root, Origin: requestOrigin(r)}
	writeJSON(w, http.StatusOK, previewHTMLResponse{HTML: s.previewer.RenderHTML([]byte(req.Content), rc)})
}

