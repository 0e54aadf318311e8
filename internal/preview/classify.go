package preview

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/idna"

	"github.com/sigman78/waycms/internal/sandbox"
)

// DefaultPrefix is the URL path under which project assets are proxied.
const DefaultPrefix = "/preview-assets"

// Kind classifies one URL occurrence found in markup.
type Kind int

const (
	KindSkip Kind = iota
	KindExternal
	KindLocalExisting
	KindLocalMissing
	// KindProxied marks a URL that already points at the asset proxy.
	KindProxied
)

func (k Kind) String() string {
	switch k {
	case KindExternal:
		return "external"
	case KindLocalExisting:
		return "local-existing"
	case KindLocalMissing:
		return "local-missing"
	case KindProxied:
		return "proxied"
	default:
		return "skip"
	}
}

// Context is threaded through one rewrite pass.
type Context struct {
	// File is the root-relative path of the document being rewritten.
	File string
	// Sandbox is the project root; existence checks go through it.
	Sandbox *sandbox.Sandbox
	// Prefix is the proxy URL prefix, DefaultPrefix when empty.
	Prefix string
	// Origin is "scheme://host" of the request. It is only used to make the
	// injected <base> absolute, which srcdoc iframes need.
	Origin string
}

func (c Context) prefix() string {
	p := strings.TrimRight(c.Prefix, "/")
	if p == "" {
		return DefaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Reference is the outcome of classifying one URL.
type Reference struct {
	Kind Kind
	// Resolved is the root-relative path of the target (local kinds only).
	Resolved string
	// URL is the replacement for a local-existing reference.
	URL string
}

var externalPrefixes = []string{
	"http://", "https://", "data:", "javascript:", "#", "mailto:", "tel:", "blob:",
}

// cdnHosts are third-party hosts commonly referenced by archived pages.
// A reference into one of them stays external unless the project carries a
// saved copy under a directory of the same name.
var cdnHosts = map[string]bool{
	"fonts.googleapis.com":       true,
	"fonts.gstatic.com":          true,
	"ajax.googleapis.com":        true,
	"cdnjs.cloudflare.com":       true,
	"cdn.jsdelivr.net":           true,
	"unpkg.com":                  true,
	"code.jquery.com":            true,
	"maxcdn.bootstrapcdn.com":    true,
	"stackpath.bootstrapcdn.com": true,
	"netdna.bootstrapcdn.com":    true,
	"use.fontawesome.com":        true,
	"kit.fontawesome.com":        true,
	"use.typekit.net":            true,
	"www.google-analytics.com":   true,
	"www.googletagmanager.com":   true,
}

// CompletionExtensions are tried, in order, when a local reference names a
// file that does not exist as written.
var CompletionExtensions = []string{
	".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".woff", ".woff2", ".ttf", ".eot",
}

// Classify decides what to do with one URL found in the document rc.File.
func Classify(ref string, rc Context) Reference {
	raw := strings.TrimSpace(ref)
	if raw == "" {
		return Reference{Kind: KindSkip}
	}
	lower := strings.ToLower(raw)
	for _, p := range externalPrefixes {
		if strings.HasPrefix(lower, p) {
			return Reference{Kind: KindExternal}
		}
	}
	pfx := rc.prefix()
	if raw == pfx || strings.HasPrefix(raw, pfx+"/") {
		return Reference{Kind: KindProxied}
	}
	if hasScheme(raw) {
		return Reference{Kind: KindExternal}
	}

	p, suffix := splitSuffix(raw)
	if p == "" {
		return Reference{Kind: KindSkip}
	}
	protocolRelative := strings.HasPrefix(p, "//")

	resolved := ResolveRef(rc.File, p)
	if found, ok := lookup(rc.Sandbox, resolved); ok {
		return Reference{
			Kind:     KindLocalExisting,
			Resolved: found.path,
			URL:      joinURL(pfx, found.url) + suffix,
		}
	}
	if protocolRelative || isCDNHost(firstSegment(resolved)) {
		return Reference{Kind: KindExternal, Resolved: resolved}
	}
	return Reference{Kind: KindLocalMissing, Resolved: resolved}
}

// rewriteRef returns the replacement for ref, or false to leave it alone.
func rewriteRef(ref string, rc Context) (string, bool) {
	r := Classify(ref, rc)
	if r.Kind != KindLocalExisting {
		return "", false
	}
	return r.URL, true
}

type match struct {
	path string // root-relative file name on disk
	url  string // the same, in URL-path form
}

// lookup finds the file a resolved reference points at. The decoded form
// is tried first, then the literal one, since archive downloaders keep
// percent escapes in file names. Each is tried plain and then with every
// completion extension. The URL is always rebuilt from the file name that
// matched, so escaped dot segments never reach the browser.
func lookup(sb *sandbox.Sandbox, resolved string) (match, bool) {
	if sb == nil || resolved == "" {
		return match{}, false
	}
	decoded := html.UnescapeString(resolved)
	if u, err := url.PathUnescape(decoded); err == nil {
		decoded = u
	}
	candidates := []string{normalizeRel(decoded)}
	if decoded != resolved {
		candidates = append(candidates, resolved)
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if ext, ok := FindFile(sb, c); ok {
			return match{path: c + ext, url: escapePath(c + ext)}, true
		}
	}
	return match{}, false
}

func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}

// FindFile reports whether rel names a regular file inside sb, either as
// written or with one of CompletionExtensions appended. The returned
// extension is "" for an exact hit.
func FindFile(sb *sandbox.Sandbox, rel string) (string, bool) {
	if sb.IsFile(rel) {
		return "", true
	}
	for _, ext := range CompletionExtensions {
		if sb.IsFile(rel + ext) {
			return ext, true
		}
	}
	return "", false
}

func joinURL(prefix, rel string) string {
	u := prefix + "/" + strings.TrimLeft(rel, "/")
	for strings.Contains(u, "//") {
		u = strings.ReplaceAll(u, "//", "/")
	}
	return u
}

func firstSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

func isCDNHost(host string) bool {
	if host == "" || !strings.Contains(host, ".") {
		return false
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return cdnHosts[strings.ToLower(host)]
}
