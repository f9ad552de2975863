package butler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlias_ResolvesInOperations(t *testing.T) {
	b := openButler(t, newRawRepo(t))
	ctx := context.Background()

	require.NoError(t, b.DefineAlias("@input", "raw"))
	require.NoError(t, b.DefineAlias("@again", "@input"))
	require.NoError(t, b.DefineAlias("@input", "raw"))

	require.NoError(t, b.Put(ctx, []byte("x"), "@again", id("visit", "1", "detector", "1")))
	got, err := b.Get(ctx, "raw", id("visit", "1", "detector", "1"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)

	keys, err := b.GetRequiredKeys("@input")
	require.NoError(t, err)
	require.True(t, keys.Has("detector"))

	require.Equal(t, map[string]string{"@input": "raw", "@again": "raw"}, b.Aliases())
	require.Equal(t, "raw", b.Provenance().Records()[1].DatasetType)
}

func TestAlias_Errors(t *testing.T) {
	b := openButler(t, newRawRepo(t))

	require.Error(t, b.DefineAlias("input", "raw"))
	require.Error(t, b.DefineAlias("@", "raw"))
	require.NoError(t, b.DefineAlias("@input", "raw"))
	require.Error(t, b.DefineAlias("@input", "calexp"))

	_, err := b.Get(context.Background(), "@missing", id("visit", "1"))
	var unknown *UnknownAliasError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "@missing", unknown.Alias)

	require.ErrorAs(t, b.DefineAlias("@other", "@missing"), &unknown)
}

func TestResolveAlias_PlainNameUnchanged(t *testing.T) {
	b := openButler(t, newRawRepo(t))

	name, err := b.ResolveAlias("raw")
	require.NoError(t, err)
	require.Equal(t, "raw", name)
}
