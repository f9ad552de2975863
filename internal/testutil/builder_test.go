package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/repoconfig"
)

func TestRepoBuilder_Build(t *testing.T) {
	dir := NewRepo(t, filepath.Join(t.TempDir(), "repo")).
		WithMapper("glob").
		WithParents("../base").
		WithDataset("raw", "pixels", []string{"{visit}.dat"}).
		WithClass("pixels", []string{"bytes.read"}, []string{"bytes.write"}).
		WithDefaults("raw", map[string]any{"visit": 1}).
		WithFile("1.dat", "one").
		Build()

	data, err := os.ReadFile(filepath.Join(dir, repoconfig.YAMLFileName))
	require.NoError(t, err)
	cfg, err := repoconfig.Parse(data)
	require.NoError(t, err)
	require.Equal(t, "glob", cfg.Mapper)
	require.Equal(t, []string{"../base"}, cfg.Parents)
	require.Equal(t, []string{"{visit}.dat"}, cfg.Datasets["raw"].URLs)
	require.Equal(t, []string{"bytes.read"}, cfg.Classes["pixels"].Readers)
	require.Equal(t, 1, cfg.Defaults["raw"]["visit"])

	content, err := os.ReadFile(filepath.Join(dir, "1.dat"))
	require.NoError(t, err)
	require.Equal(t, "one", string(content))
}

func TestRawRepo(t *testing.T) {
	cfg := RawRepo(t, t.TempDir()).Config()
	require.Equal(t, "standard", cfg.Mapper)
	require.Len(t, cfg.Datasets, 3)
	require.Equal(t, []repoconfig.LookupRule{{Dataset: "ccdinfo", Inputs: []string{"visit"}, Outputs: []string{"ccd"}}},
		cfg.Datasets["calexp"].Lookups)
}

func TestChildRepo(t *testing.T) {
	cfg := ChildRepo(t, t.TempDir(), "/a", "/b").Config()
	require.Equal(t, []string{"/a", "/b"}, cfg.Parents)
	require.Empty(t, cfg.Mapper)
}

func TestNewTestDB(t *testing.T) {
	db := NewTestDB(t)
	require.NoError(t, db.DatasetRegistry().Record(context.Background(), "raw", dataid.DataID{"visit": "1"}))
	types, err := db.DatasetRegistry().Types(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"raw"}, types)
}
