package lock

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/infrastructure/sqlite"
)

// memStore is an in-memory Store.
type memStore struct {
	mu   sync.Mutex
	rows map[string]string
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]string)}
}

func (s *memStore) TryInsert(_ context.Context, kind, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[kind]; ok {
		return false, nil
	}
	s.rows[kind] = owner
	return true, nil
}

func (s *memStore) Owner(_ context.Context, kind string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.rows[kind]
	return owner, ok, nil
}

func (s *memStore) Delete(_ context.Context, kind, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[kind] != owner {
		return false, nil
	}
	delete(s.rows, kind)
	return true, nil
}

func (s *memStore) set(kind, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[kind] = owner
}

func fastLock(store Store, id string) *DbLock {
	return New(store,
		WithOwnerID(id),
		WithTimeout(200*time.Millisecond),
		WithPollInterval(5*time.Millisecond),
	)
}

func TestNewOwnerID_Distinct(t *testing.T) {
	a, b := NewOwnerID(), NewOwnerID()
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "host "))
	require.Contains(t, a, " pid ")
	require.Contains(t, a, " lock ")
}

func TestAcquire_ReentrantForSameOwner(t *testing.T) {
	l := fastLock(newMemStore(), "a")
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "k"))
	require.NoError(t, l.Acquire(ctx, "k"))
	require.True(t, l.Holds("k"))
	require.NoError(t, l.Release(ctx, "k"))
	require.False(t, l.Holds("k"))
}

func TestAcquire_TimesOutNamingOwner(t *testing.T) {
	store := newMemStore()
	holder := fastLock(store, "holder")
	waiter := fastLock(store, "waiter")
	ctx := context.Background()

	require.NoError(t, holder.Acquire(ctx, "k"))

	err := waiter.Acquire(ctx, "k")
	var timeout *LockTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, "holder", timeout.Owner)
	require.Equal(t, "waiter", timeout.Self)
	require.Equal(t, "k", timeout.Kind)
	require.False(t, waiter.Holds("k"))
}

func TestAcquire_ZeroTimeoutStillTriesOnce(t *testing.T) {
	l := New(newMemStore(), WithTimeout(0))
	require.NoError(t, l.Acquire(context.Background(), "k"))
	require.True(t, l.Holds("k"))
}

func TestAcquire_HonorsContext(t *testing.T) {
	store := newMemStore()
	store.set("k", "someone")
	l := New(store, WithTimeout(time.Minute), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Acquire(ctx, "k"), context.DeadlineExceeded)
}

func TestRelease_NotOwned(t *testing.T) {
	store := newMemStore()
	holder := fastLock(store, "holder")
	other := fastLock(store, "other")
	ctx := context.Background()

	require.NoError(t, holder.Acquire(ctx, "k"))

	var notOwned *NotOwnedError
	require.ErrorAs(t, other.Release(ctx, "k"), &notOwned)
	require.Equal(t, "k", notOwned.Kind)

	owner, held, err := store.Owner(ctx, "k")
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, "holder", owner, "a failed release must not remove the holder's row")
}

func TestRelease_OwnershipMismatch(t *testing.T) {
	store := newMemStore()
	l := fastLock(store, "a")
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "k"))
	store.set("k", "intruder")

	var mismatch *OwnershipMismatchError
	require.ErrorAs(t, l.Release(ctx, "k"), &mismatch)
	require.Equal(t, "intruder", mismatch.Owner)
	require.Equal(t, "a", mismatch.Self)
}

func TestWithLock_ReleasesOnFailure(t *testing.T) {
	store := newMemStore()
	l := fastLock(store, "a")
	ctx := context.Background()
	boom := errors.New("boom")

	err := l.WithLock(ctx, "k", func(context.Context) error {
		require.True(t, l.Holds("k"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, l.Holds("k"))

	_, held, err := store.Owner(ctx, "k")
	require.NoError(t, err)
	require.False(t, held)
}

func TestWithLock_JoinsReleaseFailure(t *testing.T) {
	store := newMemStore()
	l := fastLock(store, "a")
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "k", func(context.Context) error {
		store.set("k", "intruder")
		return boom
	})
	require.ErrorIs(t, err, boom)
	var mismatch *OwnershipMismatchError
	require.ErrorAs(t, err, &mismatch)
}

// TestContention_SQLite runs two owners against one registry database: the
// first acquire succeeds, the second waits for the release and then succeeds.
func TestContention_SQLite(t *testing.T) {
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "_butler.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first := New(db.LockRepository(), WithTimeout(5*time.Second), WithPollInterval(10*time.Millisecond))
	second := New(db.LockRepository(), WithTimeout(5*time.Second), WithPollInterval(10*time.Millisecond))
	require.NotEqual(t, first.OwnerID(), second.OwnerID())
	ctx := context.Background()

	require.NoError(t, first.Acquire(ctx, "raw:{ccd=1}"))

	acquired := make(chan error, 1)
	go func() { acquired <- second.Acquire(ctx, "raw:{ccd=1}") }()

	select {
	case err := <-acquired:
		t.Fatalf("second owner acquired a held lock: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	var notOwned *NotOwnedError
	require.ErrorAs(t, second.Release(ctx, "raw:{ccd=1}"), &notOwned)
	require.NoError(t, first.Release(ctx, "raw:{ccd=1}"))

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second owner never acquired the released lock")
	}
	require.True(t, second.Holds("raw:{ccd=1}"))
	require.NoError(t, second.Release(ctx, "raw:{ccd=1}"))
}
