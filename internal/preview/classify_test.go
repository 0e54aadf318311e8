package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	sb := newProject(t, map[string]string{
		"img/logo.png":           "",
		"js/app.js":              "",
		"img/a b.png":            "",
		"img/100%25.png":         "",
		"cdnjs.cloudflare.com/x": "",
	})
	rc := ctxFor(sb, "pages/index.html")

	tests := []struct {
		ref  string
		kind Kind
		url  string
	}{
		{"", KindSkip, ""},
		{"   ", KindSkip, ""},
		{"?q=1", KindSkip, ""},
		{"https://example.com/a.png", KindExternal, ""},
		{"HTTP://EXAMPLE.COM", KindExternal, ""},
		{"data:text/plain,x", KindExternal, ""},
		{"#top", KindExternal, ""},
		{"ftp://host/file", KindExternal, ""},
		{"/preview-assets/img/logo.png", KindProxied, ""},
		{"../img/logo.png", KindLocalExisting, "/preview-assets/img/logo.png"},
		{"/img/logo.png?v=2", KindLocalExisting, "/preview-assets/img/logo.png?v=2"},
		{"../js/app", KindLocalExisting, "/preview-assets/js/app.js"},
		{"../img/a%20b.png", KindLocalExisting, "/preview-assets/img/a%20b.png"},
		{"../img/100%25.png", KindLocalExisting, "/preview-assets/img/100%2525.png"},
		{"/cdnjs.cloudflare.com/x", KindLocalExisting, "/preview-assets/cdnjs.cloudflare.com/x"},
		{"/cdnjs.cloudflare.com/y.js", KindExternal, ""},
		{"//cdn.example.com/z.js", KindExternal, ""},
		{"../img/none.png", KindLocalMissing, ""},
		{"../img/x/%2e%2e/logo.png", KindLocalExisting, "/preview-assets/img/logo.png"},
		{"../img/x/%2E%2E/%2e%2e/js/app", KindLocalExisting, "/preview-assets/js/app.js"},
		{"../img/a b.png", KindLocalExisting, "/preview-assets/img/a%20b.png"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			r := Classify(tt.ref, rc)
			assert.Equal(t, tt.kind, r.Kind, "kind is %s", r.Kind)
			assert.Equal(t, tt.url, r.URL)
		})
	}
}

func TestClassifyCustomPrefix(t *testing.T) {
	sb := newProject(t, map[string]string{"a.css": ""})
	rc := Context{File: "index.html", Sandbox: sb, Prefix: "assets/"}

	r := Classify("a.css", rc)
	assert.Equal(t, KindLocalExisting, r.Kind)
	assert.Equal(t, "/assets/a.css", r.URL)
	assert.Equal(t, KindProxied, Classify("/assets/a.css", rc).Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "local-missing", KindLocalMissing.String())
	assert.Equal(t, "skip", Kind(99).String())
}
