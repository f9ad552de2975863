// Package lock implements a named advisory lock shared between processes
// through a row store. Holding a kind means a row (kind, owner) exists.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/butler/internal/log"
)

// Default timing.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Store is the shared row store behind a lock.
type Store interface {
	// TryInsert atomically inserts (kind, owner) if kind is unheld.
	TryInsert(ctx context.Context, kind, owner string) (bool, error)
	// Owner returns the holder of kind; ok is false when unheld.
	Owner(ctx context.Context, kind string) (owner string, ok bool, err error)
	// Delete removes kind's row if owner holds it.
	Delete(ctx context.Context, kind, owner string) (bool, error)
}

// LockTimeoutError is returned when a kind stays held by another owner past the timeout.
type LockTimeoutError struct {
	Kind  string
	Owner string
	Self  string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("%s could not acquire lock of kind %s held by %s", e.Self, e.Kind, e.Owner)
}

// NotOwnedError is returned when releasing a kind this lock does not hold.
type NotOwnedError struct {
	Kind string
}

func (e *NotOwnedError) Error() string {
	return fmt.Sprintf("trying to release unowned lock of kind %s", e.Kind)
}

// OwnershipMismatchError is returned when the stored owner of a kind this
// lock believes it holds is someone else.
type OwnershipMismatchError struct {
	Kind  string
	Self  string
	Owner string
}

func (e *OwnershipMismatchError) Error() string {
	owner := e.Owner
	if owner == "" {
		owner = "nobody"
	}
	return fmt.Sprintf("%s tried to release lock of kind %s held by another owner %s", e.Self, e.Kind, owner)
}

// Option configures a DbLock.
type Option func(*DbLock)

// WithTimeout sets how long Acquire waits for a held kind.
func WithTimeout(d time.Duration) Option {
	return func(l *DbLock) {
		l.timeout = d
	}
}

// WithPollInterval sets the delay between insert attempts.
func WithPollInterval(d time.Duration) Option {
	return func(l *DbLock) {
		l.pollInterval = d
	}
}

// WithOwnerID overrides the generated owner identity.
func WithOwnerID(id string) Option {
	return func(l *DbLock) {
		l.ownerID = id
	}
}

// DbLock is one owner's view of the shared lock table. Each DbLock has a
// distinct owner identity; goroutines sharing a DbLock share its ownership.
type DbLock struct {
	store        Store
	ownerID      string
	timeout      time.Duration
	pollInterval time.Duration

	mu    sync.Mutex
	owned map[string]struct{}
}

// New creates a lock over store.
func New(store Store, opts ...Option) *DbLock {
	l := &DbLock{
		store:        store,
		ownerID:      NewOwnerID(),
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		owned:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewOwnerID returns "host H pid P lock U" for this process and a fresh UUID.
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("host %s pid %d lock %s", host, os.Getpid(), uuid.New().String())
}

// OwnerID returns this lock's owner identity.
func (l *DbLock) OwnerID() string {
	return l.ownerID
}

// Holds reports whether this lock holds kind.
func (l *DbLock) Holds(kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.owned[kind]
	return ok
}

// Acquire takes kind, polling while another owner holds it. It is a no-op
// when kind is already held by this lock. After the timeout one final
// attempt is made before failing with LockTimeoutError.
func (l *DbLock) Acquire(ctx context.Context, kind string) error {
	if l.Holds(kind) {
		return nil
	}

	start := time.Now()
	for time.Since(start) < l.timeout {
		ok, err := l.tryLock(ctx, kind)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	owner, held, err := l.store.Owner(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to read lock owner for %s: %w", kind, err)
	}
	if !held {
		ok, err := l.tryLock(ctx, kind)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if owner, _, err = l.store.Owner(ctx, kind); err != nil {
			return fmt.Errorf("failed to read lock owner for %s: %w", kind, err)
		}
	}
	timeoutErr := &LockTimeoutError{Kind: kind, Owner: owner, Self: l.ownerID}
	log.ErrorErr(log.CatLock, "Lock acquisition timed out", timeoutErr, "kind", kind, "owner", owner)
	return timeoutErr
}

func (l *DbLock) tryLock(ctx context.Context, kind string) (bool, error) {
	ok, err := l.store.TryInsert(ctx, kind, l.ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", kind, err)
	}
	if ok {
		l.mu.Lock()
		l.owned[kind] = struct{}{}
		l.mu.Unlock()
		log.Debug(log.CatLock, "Acquired lock", "kind", kind, "owner", l.ownerID)
	}
	return ok, nil
}

// Release gives up kind. It fails with NotOwnedError when this lock does
// not hold kind, and with OwnershipMismatchError when the stored row names
// another owner.
func (l *DbLock) Release(ctx context.Context, kind string) error {
	if !l.Holds(kind) {
		return &NotOwnedError{Kind: kind}
	}

	owner, held, err := l.store.Owner(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to read lock owner for %s: %w", kind, err)
	}
	if !held || owner != l.ownerID {
		mismatch := &OwnershipMismatchError{Kind: kind, Self: l.ownerID, Owner: owner}
		log.ErrorErr(log.CatLock, "Lock ownership mismatch", mismatch, "kind", kind)
		return mismatch
	}
	deleted, err := l.store.Delete(ctx, kind, l.ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", kind, err)
	}
	if !deleted {
		// The row changed hands between the read and the delete.
		owner, _, _ = l.store.Owner(ctx, kind)
		return &OwnershipMismatchError{Kind: kind, Self: l.ownerID, Owner: owner}
	}

	l.mu.Lock()
	delete(l.owned, kind)
	l.mu.Unlock()
	log.Debug(log.CatLock, "Released lock", "kind", kind, "owner", l.ownerID)
	return nil
}

// WithLock runs fn while holding kind. The lock is released whether or not
// fn fails; a release failure is joined with fn's error.
func (l *DbLock) WithLock(ctx context.Context, kind string, fn func(context.Context) error) (err error) {
	if err := l.Acquire(ctx, kind); err != nil {
		return err
	}
	defer func() {
		// Release must run even when ctx is already cancelled.
		if relErr := l.Release(context.WithoutCancel(ctx), kind); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()
	return fn(ctx)
}
