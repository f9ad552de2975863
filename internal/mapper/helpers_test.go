package mapper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeRepo creates a repository directory holding doc as its _butler.yaml.
func writeRepo(t *testing.T, dir, doc string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_butler.yaml"), []byte(doc), 0o644))
	return dir
}

// touch writes content to path, creating parent directories.
func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestFactory(t *testing.T, opts ...FactoryOption) *Factory {
	t.Helper()
	f := NewFactory(opts...)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

const rawRepo = `
mapper: standard
datasets:
  raw:
    datasetClass: bytes
    urls: ["{visit}/{detector}.dat"]
`
