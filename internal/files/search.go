package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sigman78/waycms/internal/preview"
)

const (
	MaxMatchesPerFile = 10
	MaxResultFiles    = 100
	MaxLineLength     = 200
)

var ErrEmptyQuery = errors.New("empty search query")

// Match is one matching line.
type Match struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Result lists the matches found in one file.
type Result struct {
	Path    string  `json:"path"`
	Matches []Match `json:"matches"`
}

// Replacement reports how many occurrences were replaced in one file.
type Replacement struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// Searcher scans a Store concurrently.
type Searcher struct {
	Store   *Store
	Workers int
}

func (sr *Searcher) workers() int {
	if sr.Workers > 0 {
		return sr.Workers
	}
	return runtime.NumCPU()
}

// candidates walks the tree and returns the allowed files whose base name
// matches the glob pattern. Hidden directories are skipped.
func (sr *Searcher) candidates(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	root := sr.Store.sb.Root()
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !sr.Store.Allowed(name) {
			return nil
		}
		if ok, _ := path.Match(pattern, name); !ok {
			return nil
		}
		rel, err := sr.Store.sb.Rel(p)
		if err != nil {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// each runs fn over every candidate file on an ants pool inside an
// errgroup. fn results are collected in candidate order.
func (sr *Searcher) each(ctx context.Context, pattern string, fn func(rel, abs string) error) error {
	files, err := sr.candidates(ctx, pattern)
	if err != nil {
		return err
	}
	pool, err := ants.NewPool(sr.workers())
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	g, ctx := errgroup.WithContext(ctx)
	for _, rel := range files {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errCh := make(chan error, 1)
			if err := pool.Submit(func() {
				errCh <- fn(rel, filepath.Join(sr.Store.sb.Root(), filepath.FromSlash(rel)))
			}); err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			return <-errCh
		})
	}
	return g.Wait()
}

// Search finds lines containing query, ignoring case. At most
// MaxMatchesPerFile lines are reported per file and at most MaxResultFiles
// files overall, in path order.
func (sr *Searcher) Search(ctx context.Context, query, pattern string) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	needle := strings.ToLower(query)

	var mu sync.Mutex
	found := map[string][]Match{}
	err := sr.each(ctx, pattern, func(rel, abs string) error {
		data, err := os.ReadFile(abs) //nolint:gosec // G304: walked from inside the sandbox
		if err != nil {
			return nil
		}
		text := preview.DecodeText(data, false)
		if !strings.Contains(strings.ToLower(text), needle) {
			return nil
		}
		var matches []Match
		for i, line := range strings.Split(text, "\n") {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			matches = append(matches, Match{Line: i + 1, Text: truncate(strings.TrimSpace(line), MaxLineLength)})
			if len(matches) == MaxMatchesPerFile {
				break
			}
		}
		mu.Lock()
		found[rel] = matches
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(found))
	for rel, m := range found {
		out = append(out, Result{Path: rel, Matches: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if len(out) > MaxResultFiles {
		out = out[:MaxResultFiles]
	}
	return out, nil
}

// SearchReplace replaces every literal occurrence of query with
// replacement in the matching files. With dryRun set nothing is written
// and the counts report what would change.
func (sr *Searcher) SearchReplace(ctx context.Context, query, replacement, pattern string, dryRun bool) ([]Replacement, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var mu sync.Mutex
	var out []Replacement
	err := sr.each(ctx, pattern, func(rel, abs string) error {
		data, err := os.ReadFile(abs) //nolint:gosec // G304: walked from inside the sandbox
		if err != nil {
			return nil
		}
		text := string(data)
		n := strings.Count(text, query)
		if n == 0 {
			return nil
		}
		if !dryRun {
			if err := sr.Store.put(abs, strings.NewReader(strings.ReplaceAll(text, query, replacement))); err != nil {
				return fmt.Errorf("replace in %s: %w", rel, err)
			}
		}
		mu.Lock()
		out = append(out, Replacement{Path: rel, Count: n})
		mu.Unlock()
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, err
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
