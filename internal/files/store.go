// Package files implements the editor's file operations over a sandboxed
// project tree.
package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sigman78/waycms/internal/preview"
	"github.com/sigman78/waycms/internal/sandbox"
)

var (
	ErrNotFound            = errors.New("file not found")
	ErrExists              = errors.New("file already exists")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrRoot                = errors.New("operation not allowed on project root")
	ErrNotDir              = errors.New("not a directory")
	ErrIsDir               = errors.New("is a directory")
)

// DefaultExtensions are the file types the editor shows and writes.
var DefaultExtensions = []string{"html", "htm", "css", "js", "txt", "xml", "json", "md"}

// Entry is one item of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Type    string    `json:"type,omitempty"`
	ModTime time.Time `json:"modified"`
}

// Listing is the content of one directory: directories first, then files,
// each sorted case-insensitively by name.
type Listing struct {
	Path        string  `json:"path"`
	Directories []Entry `json:"directories"`
	Files       []Entry `json:"files"`
}

// File is the text content of one file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int    `json:"size"`
}

// Store performs file operations inside one project root. Every path is
// passed through the sandbox; logical paths are forward-slash and
// root-relative.
type Store struct {
	sb      *sandbox.Sandbox
	allowed map[string]bool
}

// New returns a Store over sb. An empty extension list means
// DefaultExtensions.
func New(sb *sandbox.Sandbox, extensions []string) *Store {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Store{sb: sb, allowed: allowed}
}

// Sandbox returns the project root the store operates on.
func (s *Store) Sandbox() *sandbox.Sandbox { return s.sb }

// Allowed reports whether name may be shown and edited. Dotfiles such as
// .htaccess are always allowed.
func (s *Store) Allowed(name string) bool {
	base := path.Base(preview.ToPosix(name))
	if strings.HasPrefix(base, ".") {
		return true
	}
	ext := path.Ext(base)
	if ext == "" {
		return false
	}
	return s.allowed[strings.ToLower(ext[1:])]
}

func (s *Store) resolve(p string) (string, string, error) {
	abs, err := s.sb.Resolve(p)
	if err != nil {
		return "", "", err
	}
	rel, err := s.sb.Rel(abs)
	if err != nil {
		return "", "", err
	}
	return abs, rel, nil
}

// Exists reports whether p names an existing file or directory.
func (s *Store) Exists(p string) bool {
	_, _, err := s.sb.Stat(p)
	return err == nil
}

// List returns the content of directory dir. Files with extensions that
// are not allowed are left out.
func (s *Store) List(dir string) (*Listing, error) {
	abs, rel, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, ErrNotFound
	}
	if !info.IsDir() {
		return nil, ErrNotDir
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	out := &Listing{Path: rel, Directories: []Entry{}, Files: []Entry{}}
	for _, de := range entries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := Entry{
			Name:    de.Name(),
			Path:    path.Join(rel, de.Name()),
			ModTime: info.ModTime(),
		}
		switch {
		case info.IsDir():
			out.Directories = append(out.Directories, e)
		case info.Mode().IsRegular() && s.Allowed(de.Name()):
			e.Size = info.Size()
			e.Type = preview.ContentType(de.Name(), nil)
			out.Files = append(out.Files, e)
		}
	}
	sortEntries(out.Directories)
	sortEntries(out.Files)
	return out, nil
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		return strings.ToLower(es[i].Name) < strings.ToLower(es[j].Name)
	})
}

// Read returns the content of file p decoded as UTF-8. Invalid sequences
// are replaced rather than rejected.
func (s *Store) Read(p string) (*File, error) {
	abs, rel, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	target, err := s.sb.Real(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, ErrNotFound
	}
	if info.IsDir() {
		return nil, ErrIsDir
	}
	data, err := os.ReadFile(target) //nolint:gosec // G304: path is confined by the sandbox
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	content := preview.DecodeText(data, false)
	return &File{Path: rel, Content: content, Size: len(content)}, nil
}

// ReadBytes returns the raw content of file p.
func (s *Store) ReadBytes(p string) ([]byte, error) {
	abs, rel, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	target, err := s.sb.Real(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	data, err := os.ReadFile(target) //nolint:gosec // G304: path is confined by the sandbox
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// Write creates or overwrites file p, creating parent directories.
func (s *Store) Write(p, content string) (*File, error) {
	return s.write(p, content, false)
}

// Create is like Write but fails with ErrExists if p is already present.
func (s *Store) Create(p, content string) (*File, error) {
	return s.write(p, content, true)
}

func (s *Store) write(p, content string, exclusive bool) (*File, error) {
	abs, rel, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, ErrRoot
	}
	if !s.Allowed(rel) {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotAllowed, rel)
	}
	if info, err := os.Lstat(abs); err == nil {
		if exclusive {
			return nil, fmt.Errorf("%w: %s", ErrExists, rel)
		}
		if info.IsDir() {
			return nil, ErrIsDir
		}
	}
	if err := s.confined(abs); err != nil {
		return nil, err
	}
	if err := s.put(abs, strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	return &File{Path: rel, Size: len(content)}, nil
}

// confined checks that the nearest existing ancestor of abs (or abs
// itself) does not resolve outside the root through a symlink.
func (s *Store) confined(abs string) error {
	for p := abs; s.sb.Contains(p); p = filepath.Dir(p) {
		if _, err := os.Lstat(p); err == nil {
			_, err = s.sb.Real(p)
			return err
		}
		if p == s.sb.Root() {
			break
		}
	}
	return nil
}

// put streams r into abs atomically via a temp file and rename.
func (s *Store) put(abs string, r io.Reader) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, ".waycms-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName) // no-op if already renamed
	}()
	if _, err := io.Copy(tmpFile, r); err != nil {
		return err
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, abs) //nolint:gosec // G703: abs is confined by the sandbox
}

// Mkdir creates directory p and its parents.
func (s *Store) Mkdir(p string) (string, error) {
	abs, rel, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", ErrRoot
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrExists, rel)
	}
	if err := s.confined(abs); err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", rel, err)
	}
	return rel, nil
}

// Delete removes file p, or directory p with everything below it. The
// project root itself can never be deleted.
func (s *Store) Delete(p string) error {
	abs, rel, err := s.resolve(p)
	if err != nil {
		return err
	}
	if rel == "" {
		return ErrRoot
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return ErrNotFound
	}
	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// Rename moves from to to. The destination must not exist.
func (s *Store) Rename(from, to string) (string, error) {
	srcAbs, srcRel, err := s.resolve(from)
	if err != nil {
		return "", err
	}
	dstAbs, dstRel, err := s.resolve(to)
	if err != nil {
		return "", err
	}
	if srcRel == "" || dstRel == "" {
		return "", ErrRoot
	}
	info, err := os.Lstat(srcAbs)
	if err != nil {
		return "", ErrNotFound
	}
	if !info.IsDir() && !s.Allowed(dstRel) {
		return "", fmt.Errorf("%w: %s", ErrExtensionNotAllowed, dstRel)
	}
	if info.IsDir() && strings.HasPrefix(dstRel+"/", srcRel+"/") {
		return "", fmt.Errorf("rename %s into itself: %w", srcRel, sandbox.ErrPathRejected)
	}
	if _, err := os.Lstat(dstAbs); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, dstRel)
	}
	if err := s.confined(dstAbs); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o750); err != nil {
		return "", fmt.Errorf("rename %s: %w", srcRel, err)
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return "", fmt.Errorf("rename %s: %w", srcRel, err)
	}
	return dstRel, nil
}
