package mapper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/zjrosen/butler/internal/cachemanager"
	"github.com/zjrosen/butler/internal/infrastructure/sqlite"
	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/repoconfig"
	"github.com/zjrosen/butler/internal/storage"
)

// ResolverKey identifies a cached resolver: a canonical repository URL plus
// any extra parents it was created with.
type ResolverKey string

// buildRequest is the input of one resolver construction.
type buildRequest struct {
	url    string
	extras []string
	// chain lists the repositories under construction, outermost first.
	chain []string
}

// Factory creates resolvers and caches them by canonical URL so that a
// repository shared by several children is loaded once.
type Factory struct {
	loader       repoconfig.Loader
	capabilities *Capabilities
	handlers     *storage.Registry
	fs           billy.Filesystem
	resolvers    cachemanager.CacheManager[ResolverKey, *Resolver]
	expiration   time.Duration
	skipCache    bool
	cache        *cachemanager.ReadThroughCache[ResolverKey, *Resolver, buildRequest]
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFilesystem sets the filesystem used for discovery and the built-in
// storage handlers.
func WithFilesystem(fs billy.Filesystem) FactoryOption {
	return func(f *Factory) { f.fs = fs }
}

// WithCapabilities replaces the built-in capability set.
func WithCapabilities(c *Capabilities) FactoryOption {
	return func(f *Factory) { f.capabilities = c }
}

// WithHandlers replaces the built-in storage handler registry.
func WithHandlers(h *storage.Registry) FactoryOption {
	return func(f *Factory) { f.handlers = h }
}

// WithLoader replaces the configuration document loader.
func WithLoader(l repoconfig.Loader) FactoryOption {
	return func(f *Factory) { f.loader = l }
}

// WithExpiration expires cached resolvers that go unused for d. Zero or less
// keeps them until Reset.
func WithExpiration(d time.Duration) FactoryOption {
	return func(f *Factory) { f.expiration = d }
}

// WithoutCache builds a fresh resolver tree on every Create.
func WithoutCache() FactoryOption {
	return func(f *Factory) { f.skipCache = true }
}

// NewFactory creates a Factory backed by the host filesystem.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		loader:       repoconfig.Loader{Embedded: sqlite.ReadConfigDocument},
		capabilities: DefaultCapabilities(),
		fs:           osfs.New("/"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.handlers == nil {
		f.handlers = storage.Builtin(f.fs)
	}
	expiration := f.expiration
	if expiration <= 0 {
		expiration = cachemanager.NoExpiration
	}
	f.resolvers = cachemanager.NewInMemoryCacheManager[ResolverKey, *Resolver]("resolvers", expiration, cachemanager.DefaultCleanupInterval)
	f.cache = cachemanager.NewReadThroughCache(f.resolvers, f.build, f.skipCache)
	return f
}

// Handlers returns the storage handler registry resolvers are created with.
func (f *Factory) Handlers() *storage.Registry { return f.handlers }

// Capabilities returns the capability set resolvers are created with.
func (f *Factory) Capabilities() *Capabilities { return f.capabilities }

// CanonicalURL makes repoURL absolute so equivalent spellings share a cache entry.
func CanonicalURL(repoURL string) (string, error) {
	scheme, path, err := repoconfig.ParseURL(repoURL)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", repoURL, err)
	}
	if scheme == repoconfig.SchemeSQLite {
		return repoconfig.SchemeSQLite + ":" + abs, nil
	}
	return abs, nil
}

func cacheKey(url string, extras []string) ResolverKey {
	if len(extras) == 0 {
		return ResolverKey(url)
	}
	sorted := slices.Clone(extras)
	sort.Strings(sorted)
	return ResolverKey(url + "|" + strings.Join(sorted, "|"))
}

// Create returns the resolver for repoURL, loading it and its parents on
// first use. extraParents are appended to the document's parents; a request
// carrying them always rebuilds the resolver.
func (f *Factory) Create(ctx context.Context, repoURL string, extraParents []string) (*Resolver, error) {
	return f.create(ctx, repoURL, extraParents, nil)
}

func (f *Factory) create(ctx context.Context, repoURL string, extras, chain []string) (*Resolver, error) {
	canonical, err := CanonicalURL(repoURL)
	if err != nil {
		return nil, &ConfigurationError{Source: repoURL, Reason: "bad repository URL", Err: err}
	}
	if slices.Contains(chain, canonical) {
		err := &CyclicParentError{Chain: append(slices.Clone(chain), canonical)}
		log.ErrorErr(log.CatMapper, "Cyclic repository parents", err)
		return nil, err
	}

	canonExtras := make([]string, 0, len(extras))
	for _, e := range extras {
		c, err := CanonicalURL(e)
		if err != nil {
			return nil, &ConfigurationError{Source: e, Reason: "bad parent repository URL", Err: err}
		}
		canonExtras = append(canonExtras, c)
	}

	req := buildRequest{url: canonical, extras: canonExtras, chain: append(slices.Clone(chain), canonical)}
	key := cacheKey(canonical, canonExtras)
	switch {
	case len(canonExtras) > 0:
		return f.cache.Refresh(ctx, key, req, cachemanager.DefaultExpiration)
	case f.expiration > 0:
		// Each use restarts the idle clock.
		return f.cache.GetWithRefresh(ctx, key, req, f.expiration)
	default:
		return f.cache.Get(ctx, key, req, cachemanager.DefaultExpiration)
	}
}

func (f *Factory) build(ctx context.Context, req buildRequest) (*Resolver, error) {
	cfg, err := f.loader.Load(ctx, req.url)
	if err != nil {
		return nil, &ConfigurationError{Source: req.url, Reason: "cannot load repository configuration", Err: err}
	}
	return f.fromConfig(ctx, cfg, req.url, req.extras, req.chain)
}

// CreateFromConfig builds an uncached resolver from an in-memory document.
// source names the document in errors. cfg is not modified.
func (f *Factory) CreateFromConfig(ctx context.Context, cfg *repoconfig.RepositoryConfig, source string) (*Resolver, error) {
	clone, err := cfg.Clone()
	if err != nil {
		return nil, &ConfigurationError{Source: source, Reason: "cannot copy repository configuration", Err: err}
	}
	var chain []string
	if source != "" {
		if canonical, err := CanonicalURL(source); err == nil {
			source = canonical
		}
		chain = []string{source}
	}
	return f.fromConfig(ctx, clone, source, nil, chain)
}

func (f *Factory) fromConfig(ctx context.Context, cfg *repoconfig.RepositoryConfig, source string, extras, chain []string) (*Resolver, error) {
	parentURLs := make([]string, 0, len(cfg.Parents)+len(extras))
	for _, raw := range cfg.Parents {
		resolved, err := repoconfig.ResolveURL(raw, cfg.RepoPath)
		if err != nil {
			return nil, &ConfigurationError{Source: source, Reason: "bad parent repository URL " + raw, Err: err}
		}
		canonical, err := CanonicalURL(resolved)
		if err != nil {
			return nil, &ConfigurationError{Source: source, Reason: "bad parent repository URL " + raw, Err: err}
		}
		parentURLs = append(parentURLs, canonical)
	}
	for _, e := range extras {
		if !slices.Contains(parentURLs, e) {
			parentURLs = append(parentURLs, e)
		}
	}
	cfg.Parents = parentURLs

	parents := make([]*Resolver, 0, len(parentURLs))
	for _, u := range parentURLs {
		p, err := f.create(ctx, u, nil, chain)
		if err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}

	if cfg.Mapper == "" {
		if len(parents) == 0 {
			return nil, &ConfigurationError{Source: source, Reason: "no mapper capability configured and no parent to inherit one from"}
		}
		cfg.Mapper = parents[0].Capability().Name()
		log.Debug(log.CatMapper, "Inherited mapper capability", "source", source, "capability", cfg.Mapper)
	}
	capability, ok := f.capabilities.Lookup(cfg.Mapper)
	if !ok {
		return nil, &ConfigurationError{Source: source, Reason: fmt.Sprintf("unknown mapper capability %s (known: %s)",
			cfg.Mapper, strings.Join(f.capabilities.Names(), ", "))}
	}
	if err := capability.Configure(cfg); err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			if cfgErr.Source == "" {
				cfgErr.Source = source
			}
			return nil, cfgErr
		}
		return nil, &ConfigurationError{Source: source, Reason: "cannot configure capability " + cfg.Mapper, Err: err}
	}
	return newResolver(source, cfg, parents, capability, f.handlers, f.fs)
}

// Reset closes and forgets every cached resolver so the next Create reloads
// configuration from storage.
func (f *Factory) Reset(ctx context.Context) error {
	var errs []error
	for _, key := range f.resolvers.Keys(ctx) {
		if r, ok := f.resolvers.Get(ctx, key); ok {
			if err := r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := f.resolvers.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	log.Debug(log.CatCache, "Reset resolver cache")
	return errors.Join(errs...)
}

// Close releases every cached resolver.
func (f *Factory) Close() error {
	return f.Reset(context.Background())
}
