package repoconfig

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Well-known file names inside a repository directory.
const (
	RegistryFileName = "_butler.sqlite3"
	YAMLFileName     = "_butler.yaml"
	MapperFileName   = "_mapper"
)

// Repository URL schemes.
const (
	SchemeFile   = "file"
	SchemeSQLite = "sqlite"
)

// SingleFileMapper is the capability assigned to a repository wrapping one file.
const SingleFileMapper = "singlefile"

// ErrNonexistentRepository is returned when a repository URL names nothing on disk.
var ErrNonexistentRepository = errors.New("nonexistent repository")

// EmbeddedReader reads the configuration document embedded in a registry
// database. It returns nil data and no error when the database holds no document.
type EmbeddedReader func(ctx context.Context, path string) ([]byte, error)

// ParseURL splits a repository URL into scheme and filesystem path.
// Bare paths use the file scheme.
func ParseURL(raw string) (scheme, path string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty repository URL")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Not a URL (or a Windows drive letter): a plain path.
		return SchemeFile, raw, nil
	}
	path = u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	if u.Host != "" {
		path = u.Host + path
	}
	switch u.Scheme {
	case SchemeFile, SchemeSQLite:
		return u.Scheme, path, nil
	default:
		return "", "", fmt.Errorf("unknown scheme %s for repository URL %s", u.Scheme, raw)
	}
}

// ResolveURL makes a relative repository URL relative to base (a repoPath).
// URLs with absolute paths are returned unchanged.
func ResolveURL(raw, base string) (string, error) {
	scheme, path, err := ParseURL(raw)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) || base == "" {
		return raw, nil
	}
	joined := filepath.Join(base, path)
	if scheme == SchemeSQLite {
		return SchemeSQLite + ":" + joined, nil
	}
	return joined, nil
}

// Loader reads configuration documents for repository URLs.
type Loader struct {
	// Embedded reads documents stored in registry databases. When nil,
	// registry databases are skipped while probing directories and sqlite
	// URLs fail.
	Embedded EmbeddedReader
}

// Load resolves a repository URL to its configuration document.
//
// A directory is probed for _butler.sqlite3 (holding a document),
// _butler.yaml and _mapper, in that order; a directory with none of them
// yields a document carrying only its repoPath. A file is read according to
// its name, and any other existing file becomes a single-file repository.
func (l Loader) Load(ctx context.Context, repoURL string) (*RepositoryConfig, error) {
	scheme, path, err := ParseURL(repoURL)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path %s: %w", path, err)
	}
	if scheme == SchemeSQLite {
		return l.readSQLite(ctx, abs, true)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNonexistentRepository, repoURL)
	}
	if err != nil {
		return nil, fmt.Errorf("stat repository %s: %w", repoURL, err)
	}

	if info.IsDir() {
		return l.loadDir(ctx, abs)
	}

	switch {
	case strings.HasSuffix(abs, ".sqlite3"):
		return l.readSQLite(ctx, abs, true)
	case strings.HasSuffix(abs, ".yaml"):
		return readYAML(abs)
	case strings.HasSuffix(abs, MapperFileName):
		return readMapperFile(abs)
	default:
		return singleFileConfig(abs), nil
	}
}

func (l Loader) loadDir(ctx context.Context, dir string) (*RepositoryConfig, error) {
	candidate := filepath.Join(dir, RegistryFileName)
	if fileExists(candidate) {
		cfg, err := l.readSQLite(ctx, candidate, false)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	candidate = filepath.Join(dir, YAMLFileName)
	if fileExists(candidate) {
		return readYAML(candidate)
	}
	candidate = filepath.Join(dir, MapperFileName)
	if fileExists(candidate) {
		return readMapperFile(candidate)
	}
	return &RepositoryConfig{RepoPath: dir}, nil
}

// readSQLite returns nil without error when the database holds no document
// and required is false.
func (l Loader) readSQLite(ctx context.Context, path string, required bool) (*RepositoryConfig, error) {
	if l.Embedded == nil {
		if required {
			return nil, fmt.Errorf("no embedded document reader for %s", path)
		}
		return nil, nil
	}
	data, err := l.Embedded(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if data == nil {
		if required {
			return nil, fmt.Errorf("no data in configuration database %s", path)
		}
		return nil, nil
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.RepoPath == "" {
		cfg.RepoPath = filepath.Dir(path)
	}
	return cfg, nil
}

func readYAML(path string) (*RepositoryConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: repository paths are user supplied
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.RepoPath == "" {
		cfg.RepoPath = filepath.Dir(path)
	}
	return cfg, nil
}

// readMapperFile builds a document from a file whose first line names the capability.
func readMapperFile(path string) (*RepositoryConfig, error) {
	f, err := os.Open(path) //nolint:gosec // G304: repository paths are user supplied
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var name string
	if scanner.Scan() {
		name = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if name == "" {
		return nil, fmt.Errorf("empty mapper file %s", path)
	}
	return &RepositoryConfig{Mapper: name, RepoPath: filepath.Dir(path)}, nil
}

func singleFileConfig(path string) *RepositoryConfig {
	return &RepositoryConfig{
		Mapper:         SingleFileMapper,
		SingleFilePath: path,
		RepoPath:       filepath.Dir(path),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
