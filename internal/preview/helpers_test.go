package preview

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigman78/waycms/internal/sandbox"
)

// newProject writes files (root-relative path -> content) into a temp dir
// and returns a sandbox over it.
func newProject(t *testing.T, files map[string]string) *sandbox.Sandbox {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
	}
	return sandbox.MustNew(root)
}

func ctxFor(sb *sandbox.Sandbox, file string) Context {
	return Context{File: file, Sandbox: sb, Prefix: DefaultPrefix}
}
