// Package sandbox confines user-supplied paths to a project root directory.
//
// Every filesystem access made on behalf of a request must go through
// Resolve first. The check is purely lexical; Real adds a symlink check for
// paths that already exist.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathRejected is returned when a candidate path would escape the root.
var ErrPathRejected = errors.New("path escapes project root")

// Sandbox is an absolute project root directory.
type Sandbox struct {
	root string
}

// New returns a Sandbox rooted at the absolute, cleaned form of root.
func New(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sandbox: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	return &Sandbox{root: filepath.Clean(abs)}, nil
}

// MustNew is like New but panics on error. Intended for tests and constants.
func MustNew(root string) *Sandbox {
	s, err := New(root)
	if err != nil {
		panic(err)
	}
	return s
}

// Root returns the absolute root directory.
func (s *Sandbox) Root() string { return s.root }

// Resolve maps candidate to an absolute path inside the root.
//
// The order of operations matters: the candidate is normalised first and
// only then stripped of leading '/' and ".." segments, so "../../etc/passwd"
// ends up as "etc/passwd" under the root instead of surviving as a
// traversal. Dotfile names such as ".htaccess" are kept.
func (s *Sandbox) Resolve(candidate string) (string, error) {
	p := strings.ReplaceAll(candidate, "\\", "/")
	p = stripTraversal(path.Clean(p))

	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(p)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrPathRejected, candidate)
	}
	if !s.Contains(abs) {
		return "", fmt.Errorf("%w: %q", ErrPathRejected, candidate)
	}
	return abs, nil
}

// stripTraversal drops the leading slashes and ".." segments a cleaned path
// can still start with.
func stripTraversal(p string) string {
	for {
		p = strings.TrimLeft(p, "/")
		switch {
		case p == "." || p == "..":
			return ""
		case strings.HasPrefix(p, "../"):
			p = p[len("../"):]
		default:
			return p
		}
	}
}

// Contains reports whether abs is the root or a descendant of it.
// A bare prefix test is not enough: "/a/bb" must not pass for root "/a/b".
func (s *Sandbox) Contains(abs string) bool {
	return within(s.root, abs)
}

func within(root, abs string) bool {
	if abs == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(abs, prefix)
}

// Rel returns the root-relative, forward-slash form of abs. The root itself
// maps to "".
func (s *Sandbox) Rel(abs string) (string, error) {
	if !s.Contains(abs) {
		return "", fmt.Errorf("%w: %q", ErrPathRejected, abs)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrPathRejected, abs)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	return rel, nil
}

// Normalize returns the canonical RelativePath for candidate: the result of
// Resolve made relative again. Normalize is idempotent.
func (s *Sandbox) Normalize(candidate string) (string, error) {
	abs, err := s.Resolve(candidate)
	if err != nil {
		return "", err
	}
	return s.Rel(abs)
}

// Real evaluates symlinks of an existing path and verifies the target is
// still inside the (real) root.
func (s *Sandbox) Real(abs string) (string, error) {
	if !s.Contains(abs) {
		return "", fmt.Errorf("%w: %q", ErrPathRejected, abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", err
	}
	if !within(realRoot, resolved) {
		return "", fmt.Errorf("%w: %q links outside root", ErrPathRejected, abs)
	}
	return resolved, nil
}

// Stat resolves candidate and stats it.
func (s *Sandbox) Stat(candidate string) (string, os.FileInfo, error) {
	abs, err := s.Resolve(candidate)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return abs, nil, err
	}
	return abs, info, nil
}

// IsFile reports whether candidate resolves to an existing regular file.
func (s *Sandbox) IsFile(candidate string) bool {
	_, info, err := s.Stat(candidate)
	return err == nil && info.Mode().IsRegular()
}

// Resolve is a convenience wrapper for one-off checks against root.
func Resolve(root, candidate string) (string, error) {
	s, err := New(root)
	if err != nil {
		return "", err
	}
	return s.Resolve(candidate)
}
