package server

import (
	"archive/zip"
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupCreateListRestore(t *testing.T) {
	e := newSingle(t, map[string]string{"index.html": "v1", "css/site.css": "a{}"}, "")

	rec := e.request(http.MethodPost, "/api/backups", map[string]string{"label": "before edit"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[struct {
		Name  string `json:"name"`
		Label string `json:"label"`
	}](t, rec)
	assert.NotEmpty(t, created.Name)

	writeTree(t, e.root, map[string]string{"index.html": "v2", "extra.html": "new"})

	rec = e.request(http.MethodPost, "/api/backups/"+created.Name+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	restored := decodeAs[restoreResponse](t, rec)
	assert.Equal(t, created.Name, restored.Restored)
	require.NotNil(t, restored.Safety)

	data, err := os.ReadFile(filepath.Join(e.root, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.NoFileExists(t, filepath.Join(e.root, "extra.html"))

	rec = e.request(http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[backupsResponse](t, rec).Backups, 2)
}

func TestBackupCreateWithoutBody(t *testing.T) {
	e := newSingle(t, map[string]string{"index.html": "x"}, "")
	rec := e.request(http.MethodPost, "/api/backups", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"label":"manual"`)
}

func TestBackupRestoreErrors(t *testing.T) {
	e := newSingle(t, map[string]string{"index.html": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, e.request(http.MethodPost, "/api/backups/not-a-backup/restore", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.request(http.MethodPost, "/api/backups/20240101-000000.zip/restore", nil).Code)
}

func TestDownloadZip(t *testing.T) {
	e := newSingle(t, map[string]string{"index.html": "home", "blog/a.html": "a", "blog/img/x.png": "png"}, "")

	rec := e.request(http.MethodGet, "/api/download-zip?path=blog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="blog-`)

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a.html", "img/x.png"}, names)

	assert.Equal(t, http.StatusNotFound, e.request(http.MethodGet, "/api/download-zip?path=nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.request(http.MethodGet, "/api/download-zip?path=index.html", nil).Code)
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func uploadRequest(t *testing.T, data []byte, dir string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if dir != "" {
		require.NoError(t, mw.WriteField("path", dir))
	}
	fw, err := mw.CreateFormFile("file", "site.zip")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-zip", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadZip(t *testing.T) {
	e := newSingle(t, nil, "")

	rec := serve(e.handler, uploadRequest(t, zipOf(t, map[string]string{"index.html": "hi", "css/a.css": "a{}"}), "imported"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeAs[uploadResponse](t, rec)
	assert.Equal(t, "imported", out.Path)
	assert.Equal(t, 2, out.Files)
	assert.FileExists(t, filepath.Join(e.root, "imported", "css", "a.css"))
}

func TestUploadZipRejected(t *testing.T) {
	e := newSingle(t, nil, "")

	rec := serve(e.handler, uploadRequest(t, zipOf(t, map[string]string{"../evil.html": "x"}), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(e.root), "evil.html"))

	rec = serve(e.handler, uploadRequest(t, []byte("not a zip"), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid zip archive")
}
