// Package storage defines the storage handler contract and a registry that
// maps handler names from repository configuration to implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zjrosen/butler/internal/dataid"
)

var (
	// ErrEmptyName is returned when registering a handler without a name.
	ErrEmptyName = errors.New("storage: empty handler name")
	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("storage: nil handler")
	// ErrConflictingRegistration is returned when a name is registered twice.
	ErrConflictingRegistration = errors.New("storage: conflicting handler registration")
	// ErrUnknownHandler is returned when a configured handler name is not registered.
	ErrUnknownHandler = errors.New("storage: unknown handler")
	// ErrUnsupportedValue is returned when a writer cannot encode the value it is given.
	ErrUnsupportedValue = errors.New("storage: unsupported value")
)

// Reader loads the dataset component stored at url. Multi-location dataset
// types pass the previous reader's result as predecessor.
type Reader interface {
	Read(ctx context.Context, url string, id dataid.DataID, predecessor any) (any, error)
}

// Writer stores value at url.
type Writer interface {
	Write(ctx context.Context, value any, url string, id dataid.DataID) error
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, url string, id dataid.DataID, predecessor any) (any, error)

func (f ReaderFunc) Read(ctx context.Context, url string, id dataid.DataID, predecessor any) (any, error) {
	return f(ctx, url, id, predecessor)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, value any, url string, id dataid.DataID) error

func (f WriterFunc) Write(ctx context.Context, value any, url string, id dataid.DataID) error {
	return f(ctx, value, url, id)
}

// Registry resolves handler names. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
	writers map[string]Writer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: make(map[string]Reader),
		writers: make(map[string]Writer),
	}
}

// RegisterReader associates name with r.
func (r *Registry) RegisterReader(name string, h Reader) error {
	if name == "" {
		return ErrEmptyName
	}
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.readers[name]; exists {
		return fmt.Errorf("%w: reader %s", ErrConflictingRegistration, name)
	}
	r.readers[name] = h
	return nil
}

// RegisterWriter associates name with w.
func (r *Registry) RegisterWriter(name string, h Writer) error {
	if name == "" {
		return ErrEmptyName
	}
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.writers[name]; exists {
		return fmt.Errorf("%w: writer %s", ErrConflictingRegistration, name)
	}
	r.writers[name] = h
	return nil
}

// Reader returns the reader registered under name.
func (r *Registry) Reader(name string) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.readers[name]
	if !ok {
		return nil, fmt.Errorf("%w: reader %s", ErrUnknownHandler, name)
	}
	return h, nil
}

// Writer returns the writer registered under name.
func (r *Registry) Writer(name string) (Writer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.writers[name]
	if !ok {
		return nil, fmt.Errorf("%w: writer %s", ErrUnknownHandler, name)
	}
	return h, nil
}

// Names lists registered reader and writer names, sorted.
func (r *Registry) Names() (readers, writers []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.readers {
		readers = append(readers, n)
	}
	for n := range r.writers {
		writers = append(writers, n)
	}
	sort.Strings(readers)
	sort.Strings(writers)
	return readers, writers
}
