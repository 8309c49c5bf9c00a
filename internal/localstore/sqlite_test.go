package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	backend, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offline.db")

	first, err := OpenSQLite(path, 0)
	require.NoError(t, err)
	store := newTestStore(t, first)
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "persisted")))
	require.NoError(t, first.Close())

	reopened := newTestStore(t, openTestSQLite(t, path))
	all := reopened.GetAll(ctx)
	require.Len(t, all, 1)
	require.Equal(t, "persisted", all[0].Notes)
	require.Len(t, reopened.Queue(ctx), 1)

	keys, err := reopened.Backend().Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{KeyWorkouts, KeyQueue}, keys)
}

func TestSQLiteUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	backend := openTestSQLite(t, filepath.Join(t.TempDir(), "offline.db"))

	boom := errors.New("boom")
	err := backend.Update(ctx, func(tx Tx) error {
		if err := tx.Set(KeyWorkouts, "[]"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := backend.Get(ctx, KeyWorkouts)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteQuotaRollsBack(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenSQLite(filepath.Join(t.TempDir(), "offline.db"), 64)
	require.NoError(t, err)
	defer backend.Close()

	err = backend.Update(ctx, func(tx Tx) error {
		return tx.Set(KeyWorkouts, strings.Repeat("x", 128))
	})
	require.ErrorIs(t, err, ErrQuotaExceeded)

	used, total, err := backend.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, used)
	require.Equal(t, int64(64), total)
}

func TestSQLiteSizeCountsBytesLikeMemory(t *testing.T) {
	ctx := context.Background()
	notes := strings.Repeat("ż", 40)

	backends := map[string]Backend{
		"sqlite": openTestSQLite(t, filepath.Join(t.TempDir(), "offline.db")),
		"memory": NewMemoryBackend(0),
	}
	for name, backend := range backends {
		require.NoError(t, backend.Update(ctx, func(tx Tx) error {
			return tx.Set(KeyWorkouts, notes)
		}), name)
		used, _, err := backend.Size(ctx)
		require.NoError(t, err, name)
		require.Equal(t, int64(len(KeyWorkouts)+len(notes)), used, name)
	}

	small, err := OpenSQLite(filepath.Join(t.TempDir(), "small.db"), 64)
	require.NoError(t, err)
	defer small.Close()
	err = small.Update(ctx, func(tx Tx) error {
		return tx.Set("k", notes)
	})
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestSQLiteMarkSyncedFromTwoHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offline.db")
	tabA := newTestStore(t, openTestSQLite(t, path))
	tabB := newTestStore(t, openTestSQLite(t, path))

	for _, id := range []string{"offline_1_a", "offline_2_b", "offline_3_c", "offline_4_d"} {
		require.NoError(t, tabA.Save(ctx, offlineWorkout(id, "")))
	}

	var wg sync.WaitGroup
	for _, tab := range []*Store{tabA, tabB} {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for _, w := range s.Queue(ctx) {
				_ = s.MarkSynced(ctx, w.ID, "srv_"+w.ID)
			}
		}(tab)
	}
	wg.Wait()

	require.Empty(t, tabA.Queue(ctx))
	require.Empty(t, tabB.GetUnsynced(ctx))
	require.Len(t, tabB.GetAll(ctx), 4)
}

func TestWatcherReportsWritesFromAnotherHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "offline.db")
	writer := newTestStore(t, openTestSQLite(t, path))

	watcher, err := NewWatcher(path, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	require.NoError(t, writer.Save(ctx, offlineWorkout("offline_1_a", "")))

	select {
	case change := <-watcher.Changes():
		require.Empty(t, change.Key)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change notification")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
