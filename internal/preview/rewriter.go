package preview

// Rewriter rewrites the text content of a project file for preview.
type Rewriter interface {
	Rewrite(content string, rc Context) string
}

// HTMLRewriter applies RewriteHTML.
type HTMLRewriter struct{}

// Rewrite implements Rewriter.
func (HTMLRewriter) Rewrite(content string, rc Context) string { return RewriteHTML(content, rc) }

// CSSRewriter applies RewriteCSS.
type CSSRewriter struct{}

// Rewrite implements Rewriter.
func (CSSRewriter) Rewrite(content string, rc Context) string { return RewriteCSS(content, rc) }

// DetectRewriter returns the Rewriter appropriate for the given resource,
// or nil when no rewriting is needed.
// Detection order:
//
//	Content-Type -> file extension -> magic bytes (HTML only).
func DetectRewriter(filePath, contentType string, firstBytes []byte) Rewriter {
	if IsHTMLFile(filePath, contentType, firstBytes) {
		return HTMLRewriter{}
	}
	if IsCSSResource(filePath, contentType) {
		return CSSRewriter{}
	}
	return nil
}
