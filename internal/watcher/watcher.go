// Package watcher reports, with debouncing, changes to the configuration
// documents of a set of repository directories.
package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/repoconfig"
)

// Watcher monitors repository directories and signals when a configuration
// document is created, written, removed or renamed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dirs      []string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// Config holds watcher options.
type Config struct {
	// Dirs are the repository directories to watch.
	Dirs        []string
	DebounceDur time.Duration
}

// DefaultConfig watches dirs with a one second debounce.
func DefaultConfig(dirs ...string) Config {
	return Config{
		Dirs:        dirs,
		DebounceDur: 1 * time.Second,
	}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Dirs) == 0 {
		return nil, errors.New("no directories to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	dirs := make([]string, 0, len(cfg.Dirs))
	for _, d := range cfg.Dirs {
		d = filepath.Clean(d)
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return &Watcher{
		fsWatcher: fsw,
		dirs:      dirs,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. The returned channel receives one signal per burst
// of relevant changes and is closed once the watcher stops.
func (w *Watcher) Start() (<-chan struct{}, error) {
	for _, dir := range w.dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}
	log.Debug(log.CatWatcher, "Watching repository configuration", "dirs", len(w.dirs), "debounce", w.debounce)

	go w.loop()
	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.onChange)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			log.Debug(log.CatWatcher, "Configuration changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			select {
			case w.onChange <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "Watch error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether event touches a configuration document in
// a watched directory. Registry databases count only when created or
// removed, since dataset recording writes them constantly.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if !slices.Contains(w.dirs, filepath.Dir(event.Name)) {
		return false
	}
	switch filepath.Base(event.Name) {
	case repoconfig.YAMLFileName, repoconfig.MapperFileName:
		return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
	case repoconfig.RegistryFileName:
		return event.Op&(fsnotify.Create|fsnotify.Remove) != 0
	default:
		return false
	}
}
