package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/go-sanitize"

	"github.com/sigman78/waycms/internal/sandbox"
)

var (
	ErrNotFound    = errors.New("backup not found")
	ErrInvalidName = errors.New("invalid backup name")
)

const timeLayout = "20060102-150405"

// reName matches "<time>[-<n>][_<label>].zip".
var reName = regexp.MustCompile(`^(\d{8}-\d{6})(?:-(\d+))?(?:_([A-Za-z0-9_-]+))?\.zip$`)

// Backup describes one archive in the backup directory.
type Backup struct {
	Name    string    `json:"name"`
	Label   string    `json:"label,omitempty"`
	Created time.Time `json:"created"`
	Size    int64     `json:"size"`
	// Seq orders backups created within the same second.
	Seq int `json:"-"`
}

// ParseName extracts the creation time and label from a backup file name.
func ParseName(name string) (Backup, error) {
	m := reName.FindStringSubmatch(name)
	if m == nil {
		return Backup{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	t, err := time.ParseInLocation(timeLayout, m[1], time.UTC)
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	b := Backup{Name: name, Label: m[3], Created: t}
	if m[2] != "" {
		b.Seq, _ = strconv.Atoi(m[2])
	}
	return b, nil
}

// Manager keeps zip backups of one project root in Dir.
type Manager struct {
	Dir    string
	Root   *sandbox.Sandbox
	Logger *slog.Logger
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
	// Progress, when set, creates a progress bar per operation.
	Progress func(description string) *Progress
	// MaxRestoreBytes caps the uncompressed size of a restored archive.
	MaxRestoreBytes int64
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Manager) progress(desc string) *Progress {
	if m.Progress == nil {
		return nil
	}
	return m.Progress(desc)
}

// ownDir returns the root-relative path of the backup directory when it
// lives inside the project.
func (m *Manager) ownDir() (string, bool) {
	dir, err := filepath.Abs(m.Dir)
	if err != nil || !m.Root.Contains(dir) {
		return "", false
	}
	own, err := m.Root.Rel(dir)
	if err != nil || own == "" {
		return "", false
	}
	return own, true
}

// Skip returns an ArchiveOptions.Skip that leaves the backup directory out
// of an archive of project subdirectory sub ("" for the whole project).
func (m *Manager) Skip(sub string) func(rel string, d fs.DirEntry) bool {
	own, ok := m.ownDir()
	return func(rel string, _ fs.DirEntry) bool {
		return ok && path.Join(sub, rel) == own
	}
}

// Create archives the project root into a new backup. The label is
// optional and reduced to [A-Za-z0-9_-].
func (m *Manager) Create(ctx context.Context, label string) (*Backup, error) {
	if err := os.MkdirAll(m.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}
	label = sanitize.PathName(label)
	created := m.now().Truncate(time.Second)

	tmp, err := os.CreateTemp(m.Dir, ".backup-*")
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // no-op if already renamed
	}()

	n, err := Archive(ctx, m.Root.Root(), tmp, ArchiveOptions{Skip: m.Skip(""), Progress: m.progress("Creating backup")})
	if err != nil {
		return nil, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}

	for seq := 0; ; seq++ {
		name := backupName(created, seq, label)
		final := filepath.Join(m.Dir, name)
		// Reserve the name first; Rename alone would overwrite.
		placeholder, err := os.OpenFile(final, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: name is generated
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("create backup: %w", err)
		}
		_ = placeholder.Close()
		if err := os.Rename(tmpName, final); err != nil {
			_ = os.Remove(final)
			return nil, fmt.Errorf("create backup: %w", err)
		}
		b, _ := ParseName(name)
		b.Size = info.Size()
		m.logger().Info("backup created", "name", name, "files", n, "bytes", b.Size)
		return &b, nil
	}
}

func backupName(t time.Time, seq int, label string) string {
	name := t.Format(timeLayout)
	if seq > 0 {
		name += "-" + strconv.Itoa(seq)
	}
	if label != "" {
		name += "_" + label
	}
	return name + ".zip"
}

// List returns the backups in Dir, newest first. Files that do not look
// like backups are ignored.
func (m *Manager) List() ([]Backup, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Backup{}, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}
	idx := NewIndex()
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		b, err := ParseName(e.Name())
		if err != nil {
			continue
		}
		if info, err := e.Info(); err == nil {
			b.Size = info.Size()
		}
		idx.Register(b)
	}
	out := idx.Backups()
	if out == nil {
		out = []Backup{}
	}
	return out, nil
}

// Restore replaces the project content with backup name. A safety backup
// labelled "pre-restore" is taken first and returned.
func (m *Manager) Restore(ctx context.Context, name string) (*Backup, error) {
	if _, err := ParseName(name); err != nil {
		return nil, err
	}
	archivePath := filepath.Join(m.Dir, name)
	f, err := os.Open(archivePath) //nolint:gosec // G304: name is validated by ParseName
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}

	safety, err := m.Create(ctx, "pre-restore")
	if err != nil {
		return nil, fmt.Errorf("safety backup: %w", err)
	}
	if err := m.clear(); err != nil {
		return safety, err
	}
	n, err := Extract(ctx, f, info.Size(), m.Root, ExtractOptions{
		MaxBytes: m.MaxRestoreBytes,
		Progress: m.progress("Restoring " + name),
	})
	if err != nil {
		return safety, fmt.Errorf("restore %s: %w", name, err)
	}
	m.logger().Info("backup restored", "name", name, "files", n, "safety", safety.Name)
	return safety, nil
}

// clear removes the project content, except the backup directory and
// the directories leading to it.
func (m *Manager) clear() error {
	root := m.Root.Root()
	own, inside := m.ownDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("clear project: %w", err)
	}
	for _, e := range entries {
		if inside && (e.Name() == own || strings.HasPrefix(own, e.Name()+"/")) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return fmt.Errorf("clear project: %w", err)
		}
	}
	return nil
}

// Prune deletes the backups p does not retain and returns their names.
func (m *Manager) Prune(p Policy) ([]string, error) {
	list, err := m.List()
	if err != nil {
		return nil, err
	}
	idx := NewIndex()
	for _, b := range list {
		idx.Register(b)
	}
	var removed []string
	for _, b := range idx.Expired(p) {
		if err := os.Remove(filepath.Join(m.Dir, b.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("prune %s: %w", b.Name, err)
		}
		removed = append(removed, b.Name)
	}
	if len(removed) > 0 {
		m.logger().Info("backups pruned", "count", len(removed))
	}
	return removed, nil
}
