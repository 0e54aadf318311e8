package preview

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sigman78/waycms/internal/sandbox"
)

// Page is a rendered preview response.
type Page struct {
	Path        string
	ContentType string
	Body        []byte
}

// Previewer renders project files for the /preview/ endpoint.
type Previewer struct {
	Prefix   string
	Logger   *slog.Logger
	markdown goldmark.Markdown
}

// NewPreviewer returns a Previewer proxying assets under prefix.
func NewPreviewer(prefix string, logger *slog.Logger) *Previewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Previewer{
		Prefix: prefix,
		Logger: logger,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}
}

var indexNames = []string{"index.html", "index.htm"}

// Page loads pagePath from the project. HTML is rewritten for the proxy,
// Markdown is rendered to HTML first, everything else is returned raw.
// A directory (or the empty path) serves its index page.
func (p *Previewer) Page(sb *sandbox.Sandbox, pagePath, origin string) (*Page, error) {
	rel := strings.Trim(ToPosix(pagePath), "/")
	abs, info, err := sb.Stat(rel)
	if err != nil {
		if errors.Is(err, sandbox.ErrPathRejected) {
			p.Logger.Warn("preview path rejected", "path", pagePath)
			return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
		}
		return nil, ErrNotFound
	}
	if rel, err = sb.Rel(abs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if info.IsDir() {
		var found bool
		for _, name := range indexNames {
			if candidate := path.Join(rel, name); sb.IsFile(candidate) {
				rel, found = candidate, true
				break
			}
		}
		if !found {
			return nil, ErrNotFound
		}
	}

	_, _, data, err := readFile(sb, rel)
	if err != nil {
		if errors.Is(err, sandbox.ErrPathRejected) {
			return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
		}
		return nil, err
	}

	rc := Context{File: rel, Sandbox: sb, Prefix: p.Prefix, Origin: origin}
	if IsMarkdownFile(rel) {
		out, err := p.renderMarkdown(rel, data)
		if err != nil {
			return nil, err
		}
		return &Page{Path: rel, ContentType: contentTypes[".html"], Body: []byte(RewriteHTML(out, rc))}, nil
	}
	switch rw := DetectRewriter(rel, "", sniffPrefix(rel, data)).(type) {
	case nil:
		return &Page{Path: rel, ContentType: ContentType(rel, data), Body: data}, nil
	case HTMLRewriter:
		return &Page{Path: rel, ContentType: contentTypes[".html"], Body: []byte(p.RenderHTML(data, rc))}, nil
	default:
		return &Page{Path: rel, ContentType: contentTypes[".css"], Body: []byte(rw.Rewrite(DecodeText(data, false), rc))}, nil
	}
}

// RenderHTML decodes and rewrites an HTML document. It backs both saved
// pages and unsaved editor content.
func (p *Previewer) RenderHTML(data []byte, rc Context) string {
	if rc.Prefix == "" {
		rc.Prefix = p.Prefix
	}
	return RewriteHTML(DecodeText(data, true), rc)
}

func sniffPrefix(name string, data []byte) []byte {
	if path.Ext(name) != "" {
		return nil
	}
	if len(data) > 512 {
		return data[:512]
	}
	return data
}

var markdownPage = template.Must(template.New("md").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

func (p *Previewer) renderMarkdown(name string, data []byte) (string, error) {
	var body bytes.Buffer
	if err := p.markdown.Convert([]byte(DecodeText(data, false)), &body); err != nil {
		return "", fmt.Errorf("render markdown %s: %w", name, err)
	}
	var out bytes.Buffer
	err := markdownPage.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: path.Base(name),
		Body:  template.HTML(body.String()), //nolint:gosec // G203: goldmark output, raw HTML disabled
	})
	if err != nil {
		return "", fmt.Errorf("render markdown %s: %w", name, err)
	}
	return out.String(), nil
}
