// Package backup creates, lists, restores and prunes zip snapshots of a
// project tree.
package backup

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sigman78/waycms/internal/sandbox"
)

var (
	// ErrUnsafeEntry is returned for archive entries that would land outside
	// the destination: absolute names, ".." segments or symlinks.
	ErrUnsafeEntry = errors.New("unsafe archive entry")
	// ErrTooLarge is returned when an archive expands beyond the limit.
	ErrTooLarge = errors.New("archive too large")
)

// ArchiveOptions tunes Archive.
type ArchiveOptions struct {
	// Skip reports whether a root-relative path is left out. A skipped
	// directory is not descended into.
	Skip     func(rel string, d fs.DirEntry) bool
	Progress *Progress
}

// Archive writes every regular file below dir into w as a zip archive with
// forward-slash names relative to dir. It returns the number of files.
func Archive(ctx context.Context, dir string, w io.Writer, opts ArchiveOptions) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if opts.Skip != nil && opts.Skip(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", dir, err)
	}

	opts.Progress.SetTotal(len(files))
	zw := zip.NewWriter(w)
	for _, rel := range files {
		if ctx.Err() != nil {
			_ = zw.Close()
			return 0, ctx.Err()
		}
		if err := addFile(zw, filepath.Join(dir, filepath.FromSlash(rel)), rel); err != nil {
			_ = zw.Close()
			return 0, err
		}
		opts.Progress.Inc()
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}
	opts.Progress.Finish()
	return len(files), nil
}

func addFile(zw *zip.Writer, abs, name string) error {
	f, err := os.Open(abs) //nolint:gosec // G304: walked from inside the project
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	wr, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(wr, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

// ExtractOptions tunes Extract.
type ExtractOptions struct {
	// MaxBytes caps the total uncompressed size; zero means no limit.
	MaxBytes int64
	Progress *Progress
}

// Extract unpacks the zip archive r into the sandbox root. Every entry name
// is checked before anything is written; a single unsafe entry rejects the
// whole archive. It returns the number of files written.
func Extract(ctx context.Context, r io.ReaderAt, size int64, sb *sandbox.Sandbox, opts ExtractOptions) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}

	type target struct {
		f   *zip.File
		abs string
	}
	var targets []target
	var total uint64
	for _, f := range zr.File {
		name, err := entryName(f)
		if err != nil {
			return 0, err
		}
		if name == "" {
			continue
		}
		abs, err := sb.Resolve(name)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnsafeEntry, f.Name)
		}
		total += f.UncompressedSize64
		if opts.MaxBytes > 0 && total > uint64(opts.MaxBytes) {
			return 0, ErrTooLarge
		}
		targets = append(targets, target{f: f, abs: abs})
	}

	opts.Progress.SetTotal(len(targets))
	written := 0
	for _, t := range targets {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if t.f.FileInfo().IsDir() {
			if err := confined(sb, t.abs); err != nil {
				return written, fmt.Errorf("%w: %q: %w", ErrUnsafeEntry, t.f.Name, err)
			}
			if err := os.MkdirAll(t.abs, 0o750); err != nil {
				return written, fmt.Errorf("mkdir %s: %w", t.f.Name, err)
			}
			continue
		}
		if err := extractFile(sb, t.f, t.abs, opts.MaxBytes); err != nil {
			return written, err
		}
		written++
		opts.Progress.Inc()
	}
	opts.Progress.Finish()
	return written, nil
}

// entryName validates and cleans an archive entry name. Directory entries
// and the root itself clean to their plain path or "".
func entryName(f *zip.File) (string, error) {
	if f.Mode()&fs.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: symlink %q", ErrUnsafeEntry, f.Name)
	}
	name := strings.ReplaceAll(f.Name, "\\", "/")
	if strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, f.Name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, f.Name)
		}
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

func extractFile(sb *sandbox.Sandbox, f *zip.File, abs string, limit int64) error {
	if err := confined(sb, filepath.Dir(abs)); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsafeEntry, f.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return fmt.Errorf("mkdir for %s: %w", f.Name, err)
	}
	if info, err := os.Lstat(abs); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(abs); err != nil {
			return fmt.Errorf("replace link %s: %w", f.Name, err)
		}
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(abs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec // G304: abs is confined by the sandbox
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}
	var src io.Reader = rc
	if limit > 0 {
		src = io.LimitReader(rc, limit+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	if limit > 0 && n > limit {
		return ErrTooLarge
	}
	return nil
}

// confined checks the nearest existing ancestor of abs against symlink
// escapes before anything is created below it.
func confined(sb *sandbox.Sandbox, abs string) error {
	for p := abs; sb.Contains(p); p = filepath.Dir(p) {
		if _, err := os.Lstat(p); err == nil {
			_, err = sb.Real(p)
			return err
		}
		if p == sb.Root() {
			break
		}
	}
	return nil
}
