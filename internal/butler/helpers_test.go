package butler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/testutil"
)

func id(pairs ...string) dataid.DataID {
	out := make(dataid.DataID, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = pairs[i+1]
	}
	return out
}

func newRawRepo(t *testing.T) string {
	t.Helper()
	return testutil.RawRepo(t, filepath.Join(t.TempDir(), "repo")).Build()
}

func openButler(t *testing.T, repo string, opts ...Option) *Butler {
	t.Helper()
	b, err := New(context.Background(), repo, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}
