package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigman78/waycms/internal/sandbox"
)

func newStore(t *testing.T, files map[string]string) *Store {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
	}
	return New(sandbox.MustNew(root), nil)
}

func readDisk(t *testing.T, s *Store, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.Sandbox().Root(), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}
