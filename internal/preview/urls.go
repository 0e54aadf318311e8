package preview

import (
	"path"
	"strings"
)

// IsHTMLFile returns true when the path/content-type/magic bytes indicate HTML.
func IsHTMLFile(filePath, contentType string, firstBytes []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") {
		return true
	}
	ext := strings.ToLower(path.Ext(filePath))
	if ext == ".html" || ext == ".htm" {
		return true
	}
	// magic: only for extension-less files (archived pages are often saved
	// without one); an .svg or .xml also starts with '<'.
	if ext == "" && len(firstBytes) > 0 {
		b := firstBytes
		// skip BOM
		if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
			b = b[3:]
		}
		trimmed := strings.ToLower(strings.TrimSpace(string(b)))
		if strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html") {
			return true
		}
	}
	return false
}

// IsCSSResource returns true when the path/content-type indicates CSS.
func IsCSSResource(filePath, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/css") {
		return true
	}
	return strings.ToLower(path.Ext(filePath)) == ".css"
}

// IsMarkdownFile reports whether filePath has a Markdown extension.
func IsMarkdownFile(filePath string) bool {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// ToPosix converts backslashes to forward slashes.
func ToPosix(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// ResolveRef maps a URL found in containingFile to a root-relative path,
// following browser semantics for relative references. Going above the
// root is clamped rather than reported. The result never has a leading
// slash; "" denotes the root.
func ResolveRef(containingFile, ref string) string {
	dir := fileDir(containingFile)

	var joined string
	switch {
	case strings.HasPrefix(ref, "/"):
		joined = ref[1:]
	case strings.HasPrefix(ref, "../"):
		segs := splitSegments(dir)
		for _, seg := range strings.Split(ref, "/") {
			switch seg {
			case "..":
				if len(segs) > 0 {
					segs = segs[:len(segs)-1]
				}
			case ".", "":
			default:
				segs = append(segs, seg)
			}
		}
		joined = strings.Join(segs, "/")
	case strings.HasPrefix(ref, "./"):
		joined = path.Join(dir, ref[2:])
	default:
		joined = path.Join(dir, ref)
	}
	return normalizeRel(joined)
}

// fileDir returns the root-relative directory of a root-relative file path.
func fileDir(file string) string {
	dir := path.Dir(strings.TrimPrefix(ToPosix(file), "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// normalizeRel collapses "." and ".." lexically. Rooting the path before
// cleaning clamps any ".." left at the top.
func normalizeRel(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func splitSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// splitSuffix separates the query and fragment from a reference.
func splitSuffix(ref string) (p, suffix string) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i], ref[i:]
	}
	return ref, ""
}

// hasScheme reports whether ref starts with an RFC 3986 scheme ("foo:").
func hasScheme(ref string) bool {
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		case c == ':':
			return i > 1 // a single letter is a drive, not a scheme
		default:
			return false
		}
	}
	return false
}
