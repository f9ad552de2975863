package butler

import (
	"context"
	"fmt"
	"slices"

	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/mapper"
	"github.com/zjrosen/butler/internal/tracing"
	"github.com/zjrosen/butler/internal/watcher"
)

// Reload drops every cached resolver and reopens the repository chain from
// storage. On failure the previous resolver stays in use.
func (b *Butler) Reload(ctx context.Context) (err error) {
	ctx, span := tracing.Start(ctx, b.tracer, "reload")
	defer func() { tracing.Finish(span, err) }()

	if err := b.factory.Reset(ctx); err != nil {
		log.Warn(log.CatButler, "Closing cached resolvers failed", "error", err)
	}
	r, err := b.factory.Create(ctx, b.repo, b.inputs)
	if err != nil {
		log.ErrorErr(log.CatButler, "Reload failed", err, "repo", b.repo)
		return err
	}

	b.mu.Lock()
	b.resolver = r
	b.mu.Unlock()
	span.AddEvent(tracing.EventReloaded)
	log.Info(log.CatButler, "Reloaded repository configuration", "repo", r.Source())
	return nil
}

// repositoryDirs lists the root of r and of every ancestor, without duplicates.
func repositoryDirs(r *mapper.Resolver) []string {
	var dirs []string
	var walk func(*mapper.Resolver)
	walk = func(r *mapper.Resolver) {
		if dir := r.RepoPath(); dir != "" && !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
		for _, p := range r.Parents() {
			walk(p)
		}
	}
	walk(r)
	return dirs
}

func (b *Butler) startWatching() error {
	w, err := watcher.New(watcher.Config{
		Dirs:        repositoryDirs(b.Resolver()),
		DebounceDur: b.watchDebounce,
	})
	if err != nil {
		return fmt.Errorf("failed to watch repository configuration: %w", err)
	}
	onChange, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return fmt.Errorf("failed to watch repository configuration: %w", err)
	}

	b.watch = w
	b.watchDone = make(chan struct{})
	go func() {
		defer close(b.watchDone)
		for range onChange {
			if err := b.Reload(context.Background()); err != nil {
				log.ErrorErr(log.CatWatcher, "Reload after configuration change failed", err)
			}
		}
	}()
	return nil
}

func (b *Butler) stopWatching() error {
	if b.watch == nil {
		return nil
	}
	err := b.watch.Stop()
	<-b.watchDone
	b.watch = nil
	return err
}
