package preview

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	reStyleBlock = regexp.MustCompile(`(?is)(<style\b[^>]*>)(.*?)(</style\s*>)`)
	reStyleAttr  = regexp.MustCompile(`(?i)[\s"'/]style\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	reURLAttr    = regexp.MustCompile(`(?i)[\s"'/](?:href|src|action|background|poster|data-src|data-background|data-bg)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)
	reBaseTag    = regexp.MustCompile(`(?i)<base\b[^>]*>`)
	reBaseTarget = regexp.MustCompile(`(?i)[\s"'/]target\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)
	reHeadOpen   = regexp.MustCompile(`(?i)<head\b[^>]*>`)
	reHTMLOpen   = regexp.MustCompile(`(?i)<html\b[^>]*>`)
	reDoctype    = regexp.MustCompile(`(?is)^\s*<!doctype[^>]*>`)
)

// RewriteHTML rewrites asset references of an HTML document so they load
// through the asset proxy and injects a <base> pointing at the proxied
// directory of rc.File. The input is treated as text: nothing is parsed
// into a tree, and markup the patterns do not recognise is passed through.
// Applying RewriteHTML to its own output changes nothing.
func RewriteHTML(doc string, rc Context) string {
	rewrite := func(ref string) (string, bool) { return rewriteRef(ref, rc) }

	// <style> blocks; an unterminated block never matches and stays as is.
	doc = reStyleBlock.ReplaceAllStringFunc(doc, func(block string) string {
		m := reStyleBlock.FindStringSubmatch(block)
		if m == nil {
			return block
		}
		return m[1] + RewriteCSS(m[2], rc) + m[3]
	})

	// style="" attributes
	doc = replaceRefs(reStyleAttr, doc, func(css string) (string, bool) {
		out := RewriteCSS(css, rc)
		return out, out != css
	})

	doc = replaceRefs(reURLAttr, doc, rewrite)

	return InjectBase(doc, BaseHref(rc))
}

// BaseHref returns the proxied directory of rc.File, absolute when
// rc.Origin is set.
func BaseHref(rc Context) string {
	dir := fileDir(rc.File)
	p := rc.prefix() + "/"
	if dir != "" {
		p += dir + "/"
	}
	href := (&url.URL{Path: p}).EscapedPath()
	if rc.Origin != "" {
		href = strings.TrimRight(rc.Origin, "/") + href
	}
	return href
}

// InjectBase makes sure doc has exactly one <base href=href>: existing base
// tags are dropped, and the new one goes right after <head>, inside a
// synthesised <head> after <html>, or into a full skeleton wrapped around a
// bare fragment. The first target= of a dropped tag is carried over.
func InjectBase(doc, href string) string {
	tag := `<base href="` + html.EscapeString(href) + `"`
	if target, ok := baseTarget(doc); ok {
		tag += ` target="` + html.EscapeString(target) + `"`
	}
	tag += ">"
	doc = reBaseTag.ReplaceAllString(doc, "")

	if loc := reHeadOpen.FindStringIndex(doc); loc != nil {
		return doc[:loc[1]] + tag + doc[loc[1]:]
	}
	if loc := reHTMLOpen.FindStringIndex(doc); loc != nil {
		return doc[:loc[1]] + "<head>" + tag + "</head>" + doc[loc[1]:]
	}

	var doctype string
	if loc := reDoctype.FindStringIndex(doc); loc != nil {
		doctype, doc = doc[:loc[1]], doc[loc[1]:]
	}
	return doctype + "<html><head>" + tag + "</head><body>" + doc + "</body></html>"
}

func baseTarget(doc string) (string, bool) {
	for _, base := range reBaseTag.FindAllString(doc, -1) {
		m := reBaseTarget.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		return html.UnescapeString(m[1] + m[2] + m[3]), true
	}
	return "", false
}
