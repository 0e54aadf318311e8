package preview

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sigman78/waycms/internal/sandbox"
)

var (
	// ErrNotFound means the path is inside the project but no file is there,
	// even after extension completion.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the path resolved outside the project root.
	ErrForbidden = errors.New("forbidden")
)

// Asset is one file served through the proxy.
type Asset struct {
	Path        string // root-relative path of the file actually served
	ContentType string
	Data        []byte
	ModTime     time.Time
}

// Proxy serves project files for rendered previews. CSS payloads are
// rewritten on the way out so fonts and images they reference go through
// the proxy too.
type Proxy struct {
	Prefix string
	Logger *slog.Logger
}

func (p *Proxy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Serve loads assetPath from the project. Every call re-reads the file.
func (p *Proxy) Serve(sb *sandbox.Sandbox, assetPath string) (*Asset, error) {
	rel := strings.Trim(ToPosix(assetPath), "/")
	if rel == "" {
		return nil, ErrNotFound
	}
	rel, err := sb.Normalize(rel)
	if err != nil {
		p.logger().Warn("asset path rejected", "path", assetPath, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if rel == "" {
		return nil, ErrNotFound
	}
	ext, ok := FindFile(sb, rel)
	if !ok {
		return nil, ErrNotFound
	}
	rel += ext

	abs, info, data, err := readFile(sb, rel)
	if err != nil {
		if errors.Is(err, sandbox.ErrPathRejected) {
			p.logger().Warn("asset symlink rejected", "path", rel, "target", abs)
			return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
		}
		return nil, err
	}

	ct := ContentType(rel, data)
	if IsCSSResource(rel, ct) {
		css := RewriteCSS(DecodeText(data, false), Context{File: rel, Sandbox: sb, Prefix: p.Prefix})
		data = []byte(css)
		ct = contentTypes[".css"]
	}
	return &Asset{Path: rel, ContentType: ct, Data: data, ModTime: info.ModTime()}, nil
}

// readFile reads a sandboxed regular file. A file that disappears between
// the existence check and the read is reported as ErrNotFound.
func readFile(sb *sandbox.Sandbox, rel string) (string, os.FileInfo, []byte, error) {
	abs, err := sb.Resolve(rel)
	if err != nil {
		return "", nil, nil, err
	}
	target, err := sb.Real(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, nil, nil, ErrNotFound
		}
		return abs, nil, nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, nil, nil, ErrNotFound
		}
		return abs, nil, nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return abs, nil, nil, ErrNotFound
	}
	data, err := os.ReadFile(target) //nolint:gosec // G304: path is confined by the sandbox
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, nil, nil, ErrNotFound
		}
		return abs, nil, nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return abs, info, data, nil
}
