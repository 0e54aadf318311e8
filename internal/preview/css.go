package preview

import (
	"regexp"
	"strings"
)

var (
	// url() with double, single, entity-encoded (inside style="") or no quotes.
	reCSSURL = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|&quot;(.*?)&quot;|([^"'\s)]*))\s*\)`)
	// @import "..." / @import '...' (the url() form is covered above).
	reCSSImport = regexp.MustCompile(`(?i)@import\s+(?:"([^"]*)"|'([^']*)')`)
	reFontFace  = regexp.MustCompile(`(?is)@font-face\s*\{[^}]*\}`)
	reFontSrc   = regexp.MustCompile(`(?is)\bsrc\s*:[^;}]*`)
)

// RewriteCSS rewrites url() references, @import strings and @font-face src
// declarations so local files load through the asset proxy. Unrecognised
// spans are left as they are.
func RewriteCSS(css string, rc Context) string {
	rewrite := func(ref string) (string, bool) { return rewriteRef(ref, rc) }

	css = reFontFace.ReplaceAllStringFunc(css, func(block string) string {
		return reFontSrc.ReplaceAllStringFunc(block, func(decl string) string {
			return replaceRefs(reCSSURL, decl, rewrite)
		})
	})
	css = replaceRefs(reCSSURL, css, rewrite)
	css = replaceRefs(reCSSImport, css, rewrite)
	return css
}

// replaceRefs runs fn on the first participating capture group of every
// match of re and splices the replacement in place of that group only, so
// quotes and surrounding syntax are kept byte for byte.
func replaceRefs(re *regexp.Regexp, s string, fn func(string) (string, bool)) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		for g := 1; g < len(m)/2; g++ {
			start, end := m[2*g], m[2*g+1]
			if start < 0 {
				continue
			}
			if repl, ok := fn(s[start:end]); ok {
				b.WriteString(s[last:start])
				b.WriteString(repl)
				last = end
			}
			break
		}
	}
	b.WriteString(s[last:])
	return b.String()
}
