// Package testutil builds repository fixtures and registry databases for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/repoconfig"
)

// RepoBuilder accumulates a repository document and dataset files, then
// writes them under one directory.
type RepoBuilder struct {
	t     *testing.T
	dir   string
	cfg   repoconfig.RepositoryConfig
	files map[string]string
	order []string
}

// NewRepo creates a builder for a repository rooted at dir.
func NewRepo(t *testing.T, dir string) *RepoBuilder {
	t.Helper()
	return &RepoBuilder{t: t, dir: dir, files: make(map[string]string)}
}

// WithMapper names the repository's capability.
func (b *RepoBuilder) WithMapper(name string) *RepoBuilder {
	b.cfg.Mapper = name
	return b
}

// WithParents appends parent repository URLs.
func (b *RepoBuilder) WithParents(urls ...string) *RepoBuilder {
	b.cfg.Parents = append(b.cfg.Parents, urls...)
	return b
}

// WithDataset declares a dataset type stored through class at the given templates.
func (b *RepoBuilder) WithDataset(name, class string, urls []string, opts ...DatasetOption) *RepoBuilder {
	dc := &repoconfig.DatasetTypeConfig{DatasetClass: class, URLs: urls}
	for _, opt := range opts {
		opt(dc)
	}
	if b.cfg.Datasets == nil {
		b.cfg.Datasets = make(map[string]*repoconfig.DatasetTypeConfig)
	}
	b.cfg.Datasets[name] = dc
	return b
}

// WithClass declares a dataset class.
func (b *RepoBuilder) WithClass(name string, readers, writers []string) *RepoBuilder {
	if b.cfg.Classes == nil {
		b.cfg.Classes = make(map[string]*repoconfig.ClassConfig)
	}
	b.cfg.Classes[name] = &repoconfig.ClassConfig{Readers: readers, Writers: writers}
	return b
}

// WithDefaults sets default identifier values for a dataset type.
func (b *RepoBuilder) WithDefaults(datasetType string, values map[string]any) *RepoBuilder {
	if b.cfg.Defaults == nil {
		b.cfg.Defaults = make(map[string]map[string]any)
	}
	b.cfg.Defaults[datasetType] = values
	return b
}

// WithFile adds a file at a path relative to the repository root.
func (b *RepoBuilder) WithFile(rel, content string) *RepoBuilder {
	if _, ok := b.files[rel]; !ok {
		b.order = append(b.order, rel)
	}
	b.files[rel] = content
	return b
}

// Config returns a copy of the accumulated document.
func (b *RepoBuilder) Config() *repoconfig.RepositoryConfig {
	b.t.Helper()
	clone, err := b.cfg.Clone()
	require.NoError(b.t, err)
	return clone
}

// Build writes _butler.yaml and every file, returning the repository root.
func (b *RepoBuilder) Build() string {
	b.t.Helper()
	require.NoError(b.t, os.MkdirAll(b.dir, 0o755))

	doc, err := b.cfg.Marshal()
	require.NoError(b.t, err)
	require.NoError(b.t, os.WriteFile(filepath.Join(b.dir, repoconfig.YAMLFileName), doc, 0o644))

	for _, rel := range b.order {
		WriteFile(b.t, filepath.Join(b.dir, rel), b.files[rel])
	}
	return b.dir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
