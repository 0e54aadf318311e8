package server

import (
	"net/http"

	"github.com/sigman78/waycms/internal/files"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	listing, err := s.fileStore(proj).List(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		s.fail(w, r, badRequest("no file path provided"))
		return
	}
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	f, err := s.fileStore(proj).Read(p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type writeRequest struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

type writeResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Size    int    `json:"size"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, (*files.Store).Write, http.StatusOK)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, (*files.Store).Create, http.StatusCreated)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, op func(*files.Store, string, string) (*files.File, error), status int) {
	var req writeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	f, err := op(s.fileStore(proj), req.Path, req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("file saved", "project", proj.Slug, "path", f.Path, "size", f.Size)
	writeJSON(w, status, writeResponse{Success: true, Path: f.Path, Size: f.Size})
}

type renameRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

type pathResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	dst, err := s.fileStore(proj).Rename(req.From, req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pathResponse{Success: true, Path: dst})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		s.fail(w, r, badRequest("no file path provided"))
		return
	}
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	if err := s.fileStore(proj).Delete(p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("file deleted", "project", proj.Slug, "path", p)
	writeJSON(w, http.StatusOK, pathResponse{Success: true})
}

type mkdirRequest struct {
	Path string `json:"path" validate:"required"`
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	rel, err := s.fileStore(proj).Mkdir(req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pathResponse{Success: true, Path: rel})
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []files.Result `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	sr := &files.Searcher{Store: s.fileStore(proj)}
	results, err := sr.Search(r.Context(), q.Get("q"), q.Get("pattern"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if results == nil {
		results = []files.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q.Get("q"), Results: results})
}

type searchReplaceRequest struct {
	Query       string `json:"query" validate:"required"`
	Replacement string `json:"replacement"`
	Pattern     string `json:"pattern"`
	DryRun      bool   `json:"dry_run"`
}

type searchReplaceResponse struct {
	Files  []files.Replacement `json:"files"`
	Total  int                 `json:"total"`
	DryRun bool                `json:"dry_run"`
}

func (s *Server) handleSearchReplace(w http.ResponseWriter, r *http.Request) {
	var req searchReplaceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	proj, ok := s.project(w, r)
	if !ok {
		return
	}
	sr := &files.Searcher{Store: s.fileStore(proj)}
	out, err := sr.SearchReplace(r.Context(), req.Query, req.Replacement, req.Pattern, req.DryRun)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := searchReplaceResponse{Files: out, DryRun: req.DryRun}
	if resp.Files == nil {
		resp.Files = []files.Replacement{}
	}
	for _, f := range out {
		resp.Total += f.Count
	}
	if !req.DryRun {
		s.logger.Info("search and replace", "project", proj.Slug, "files", len(out), "replacements", resp.Total)
	}
	writeJSON(w, http.StatusOK, resp)
}
