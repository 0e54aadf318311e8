package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	s := newStore(t, map[string]string{
		"index.html":      "<p>",
		"B.css":           "b{}",
		"a.js":            "1",
		"logo.png":        "png",
		".htaccess":       "x",
		"sub/page.html":   "",
		"Assets/x.css":    "",
		".git/config":     "",
		"sub/deep/n.json": "{}",
	})

	l, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, "", l.Path)

	var dirs, names []string
	for _, d := range l.Directories {
		dirs = append(dirs, d.Name)
	}
	for _, f := range l.Files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{".git", "Assets", "sub"}, dirs)
	assert.Equal(t, []string{".htaccess", "a.js", "B.css", "index.html"}, names)
	assert.Equal(t, "text/css; charset=utf-8", l.Files[2].Type)
	assert.EqualValues(t, 3, l.Files[2].Size)

	l, err = s.List("sub")
	require.NoError(t, err)
	assert.Equal(t, "sub", l.Path)
	require.Len(t, l.Files, 1)
	assert.Equal(t, "sub/page.html", l.Files[0].Path)
	assert.Equal(t, "sub/deep", l.Directories[0].Path)

	_, err = s.List("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.List("index.html")
	assert.ErrorIs(t, err, ErrNotDir)

	l, err = s.List("../../sub")
	require.NoError(t, err)
	assert.Equal(t, "sub", l.Path)
}

func TestReadWrite(t *testing.T) {
	s := newStore(t, map[string]string{"bad.txt": "a\xffb"})

	f, err := s.Write("new/dir/page.html", "<h1>hi</h1>")
	require.NoError(t, err)
	assert.Equal(t, "new/dir/page.html", f.Path)
	assert.Equal(t, "<h1>hi</h1>", readDisk(t, s, "new/dir/page.html"))

	got, err := s.Read("/new/dir/page.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", got.Content)
	assert.Equal(t, 11, got.Size)

	_, err = s.Write("new/dir/page.html", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", readDisk(t, s, "new/dir/page.html"))

	got, err = s.Read("bad.txt")
	require.NoError(t, err)
	assert.Equal(t, "a\uFFFDb", got.Content)

	_, err = s.Read("nope.html")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Read("new")
	assert.ErrorIs(t, err, ErrIsDir)

	entries, err := os.ReadDir(filepath.Join(s.Sandbox().Root(), "new", "dir"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteRejects(t *testing.T) {
	s := newStore(t, map[string]string{"a.html": "x"})

	_, err := s.Write("evil.exe", "x")
	assert.ErrorIs(t, err, ErrExtensionNotAllowed)

	_, err = s.Write("", "x")
	assert.ErrorIs(t, err, ErrRoot)

	_, err = s.Create("a.html", "y")
	assert.ErrorIs(t, err, ErrExists)
	assert.Equal(t, "x", readDisk(t, s, "a.html"))

	f, err := s.Create("../../b.html", "z")
	require.NoError(t, err)
	assert.Equal(t, "b.html", f.Path)

	_, err = s.Write(".htaccess", "RewriteEngine On")
	require.NoError(t, err)
}

func TestDotfilesKeepTheirName(t *testing.T) {
	s := newStore(t, map[string]string{
		".htaccess":                "secret",
		"htaccess":                 "other",
		".well-known/security.txt": "contact",
	})

	f, err := s.Read(".htaccess")
	require.NoError(t, err)
	assert.Equal(t, ".htaccess", f.Path)
	assert.Equal(t, "secret", f.Content)

	f, err = s.Read(".well-known/security.txt")
	require.NoError(t, err)
	assert.Equal(t, ".well-known/security.txt", f.Path)

	require.NoError(t, s.Delete(".htaccess"))
	assert.False(t, s.Exists(".htaccess"))
	assert.Equal(t, "other", readDisk(t, s, "htaccess"))
}

func TestWriteThroughSymlinkedDirRejected(t *testing.T) {
	outside := t.TempDir()
	s := newStore(t, nil)
	if err := os.Symlink(outside, filepath.Join(s.Sandbox().Root(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := s.Write("link/x.html", "pwned")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(outside, "x.html"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMkdirDelete(t *testing.T) {
	s := newStore(t, map[string]string{"d/a.html": "", "f.css": ""})

	rel, err := s.Mkdir("x/y/z")
	require.NoError(t, err)
	assert.Equal(t, "x/y/z", rel)
	assert.True(t, s.Exists("x/y/z"))

	_, err = s.Mkdir("f.css")
	assert.ErrorIs(t, err, ErrExists)

	require.NoError(t, s.Delete("d"))
	assert.False(t, s.Exists("d/a.html"))
	require.NoError(t, s.Delete("f.css"))
	assert.ErrorIs(t, s.Delete("f.css"), ErrNotFound)

	assert.ErrorIs(t, s.Delete(""), ErrRoot)
	assert.ErrorIs(t, s.Delete("/"), ErrRoot)
	assert.ErrorIs(t, s.Delete("../.."), ErrRoot)
	assert.DirExists(t, s.Sandbox().Root())
}

func TestRename(t *testing.T) {
	s := newStore(t, map[string]string{"a.html": "A", "b.html": "B", "dir/c.css": "C"})

	rel, err := s.Rename("a.html", "moved/a2.html")
	require.NoError(t, err)
	assert.Equal(t, "moved/a2.html", rel)
	assert.Equal(t, "A", readDisk(t, s, "moved/a2.html"))
	assert.False(t, s.Exists("a.html"))

	_, err = s.Rename("b.html", "moved/a2.html")
	assert.ErrorIs(t, err, ErrExists)

	_, err = s.Rename("b.html", "b.bin")
	assert.ErrorIs(t, err, ErrExtensionNotAllowed)

	_, err = s.Rename("missing.html", "x.html")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Rename("dir", "dir/inner")
	require.Error(t, err)

	rel, err = s.Rename("dir", "styles")
	require.NoError(t, err)
	assert.Equal(t, "styles", rel)
	assert.Equal(t, "C", readDisk(t, s, "styles/c.css"))
}

func TestAllowed(t *testing.T) {
	s := New(nil, []string{".HTML", "css"})
	assert.True(t, s.Allowed("a/b/page.html"))
	assert.True(t, s.Allowed("X.CSS"))
	assert.True(t, s.Allowed(".env"))
	assert.False(t, s.Allowed("script.js"))
	assert.False(t, s.Allowed("Makefile"))
}
