// Package butler is the dataset access façade: it reads and writes datasets
// by type and identifier through a repository resolver, serializes writes
// with a cross-process lock and keeps a provenance log.
package butler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/butler/internal/infrastructure/sqlite"
	"github.com/zjrosen/butler/internal/lock"
	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/mapper"
	"github.com/zjrosen/butler/internal/provenance"
	"github.com/zjrosen/butler/internal/tracing"
	"github.com/zjrosen/butler/internal/watcher"
)

// Butler reads and writes datasets of one output repository and its inputs.
// It is safe for concurrent use.
type Butler struct {
	repo          string
	inputs        []string
	persist       bool
	factory       *mapper.Factory
	ownsFactory   bool
	lockOpts      []lock.Option
	tracer        trace.Tracer
	prov          *provenance.Log
	ownsProv      bool
	watchDebounce time.Duration

	mu       sync.RWMutex
	resolver *mapper.Resolver

	aliasMu sync.RWMutex
	aliases map[string]string

	lockMu sync.Mutex
	lockDB *sqlite.DB

	watch     *watcher.Watcher
	watchDone chan struct{}
	closeOnce sync.Once
}

// Option configures a Butler.
type Option func(*Butler)

// WithInputs adds input repositories searched after the output repository's
// own parents.
func WithInputs(urls ...string) Option {
	return func(b *Butler) { b.inputs = append(b.inputs, urls...) }
}

// WithFactory shares a resolver factory. The caller keeps ownership.
func WithFactory(f *mapper.Factory) Option {
	return func(b *Butler) { b.factory = f }
}

// WithPersistence stores the output repository's resolved document in its
// registry database when the butler is created.
func WithPersistence(persist bool) Option {
	return func(b *Butler) { b.persist = persist }
}

// WithLockOptions configures the dataset write lock. Each put owns its lock
// under a fresh owner id; a lock.WithOwnerID option here would make all puts
// of the butler one owner and let them enter each other's critical section.
func WithLockOptions(opts ...lock.Option) Option {
	return func(b *Butler) { b.lockOpts = append(b.lockOpts, opts...) }
}

// WithTracer records a span per operation.
func WithTracer(t trace.Tracer) Option {
	return func(b *Butler) { b.tracer = t }
}

// WithProvenance shares a provenance log. The caller keeps ownership.
func WithProvenance(p *provenance.Log) Option {
	return func(b *Butler) { b.prov = p }
}

// WithWatch reloads the repository configuration when a document in the
// repository chain changes, coalescing changes within debounce.
func WithWatch(debounce time.Duration) Option {
	return func(b *Butler) { b.watchDebounce = debounce }
}

// New opens the repository at repo.
func New(ctx context.Context, repo string, opts ...Option) (_ *Butler, err error) {
	b := &Butler{
		repo:    repo,
		aliases: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}

	ctx, span := tracing.Start(ctx, b.tracer, "open", attribute.String(tracing.AttrRepository, repo))
	defer func() { tracing.Finish(span, err) }()
	if b.factory == nil {
		b.factory = mapper.NewFactory()
		b.ownsFactory = true
	}
	if b.prov == nil {
		b.prov = provenance.NewLog()
		b.ownsProv = true
	}

	r, err := b.factory.Create(ctx, repo, b.inputs)
	if err != nil {
		log.ErrorErr(log.CatButler, "Failed to open repository", err, "repo", repo)
		b.releaseOwned()
		return nil, err
	}
	b.resolver = r

	if b.persist {
		if err := r.PersistConfig(ctx); err != nil {
			b.releaseOwned()
			return nil, fmt.Errorf("failed to persist repository configuration: %w", err)
		}
	}

	if b.watchDebounce > 0 {
		if err := b.startWatching(); err != nil {
			b.releaseOwned()
			return nil, err
		}
	}

	log.Info(log.CatButler, "Opened repository", "repo", r.Source(), "inputs", len(b.inputs),
		"capability", r.Capability().Name())
	return b, nil
}

// Resolver returns the current resolver of the output repository.
func (b *Butler) Resolver() *mapper.Resolver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolver
}

// Provenance returns the log of completed gets and puts.
func (b *Butler) Provenance() *provenance.Log {
	return b.prov
}

// writeLock returns a lock with its own owner id over the output
// repository's registry database, opening the database on first use. Each
// put takes a fresh lock so that puts of one butler exclude each other.
func (b *Butler) writeLock() (*lock.DbLock, error) {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	if b.lockDB == nil {
		db, err := sqlite.NewDB(b.Resolver().RegistryPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open lock store: %w", err)
		}
		b.lockDB = db
	}
	return lock.New(b.lockDB.LockRepository(), b.lockOpts...), nil
}

// Close stops watching and releases every resource the butler owns.
func (b *Butler) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		if err := b.stopWatching(); err != nil {
			errs = append(errs, err)
		}
		b.lockMu.Lock()
		if b.lockDB != nil {
			if err := b.lockDB.Close(); err != nil {
				errs = append(errs, err)
			}
			b.lockDB = nil
		}
		b.lockMu.Unlock()
		if err := b.releaseOwned(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func (b *Butler) releaseOwned() error {
	if b.ownsProv {
		b.prov.Close()
	}
	if b.ownsFactory {
		return b.factory.Close()
	}
	return nil
}

func (b *Butler) start(ctx context.Context, op, datasetType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(tracing.AttrDatasetType, datasetType))
	return tracing.Start(ctx, b.tracer, op, attrs...)
}
