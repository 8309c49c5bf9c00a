package localstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/treniren/internal/domain"
	"example.com/treniren/internal/logging"
)

var fixedNow = time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)

func newTestStore(t *testing.T, backend Backend) *Store {
	t.Helper()
	return New(backend, WithLogger(logging.Discard()), WithClock(func() time.Time { return fixedNow }))
}

func offlineWorkout(id, notes string) domain.Workout {
	return domain.Workout{
		ID:        id,
		Type:      "BOULDERING",
		StartTime: fixedNow.Add(-2 * time.Hour),
		Notes:     notes,
		Synced:    false,
		CreatedAt: fixedNow,
	}
}

func TestSaveIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "first")))
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "second")))

	all := store.GetAll(ctx)
	require.Len(t, all, 1)
	require.Equal(t, "second", all[0].Notes)

	queue := store.Queue(ctx)
	require.Len(t, queue, 1)
	require.Equal(t, "second", queue[0].Notes)
}

func TestSaveKeepsCreatedAtAndServerID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	original := offlineWorkout("offline_1_a", "first")
	require.NoError(t, store.Save(ctx, original))
	require.NoError(t, store.MarkSynced(ctx, original.ID, "srv_1"))

	edited := offlineWorkout("offline_1_a", "edited")
	edited.CreatedAt = fixedNow.Add(time.Hour)
	require.NoError(t, store.Save(ctx, edited))

	got, ok := store.Get(ctx, "offline_1_a")
	require.True(t, ok)
	require.Equal(t, fixedNow, got.CreatedAt)
	require.Equal(t, "srv_1", got.ServerID)
	require.Len(t, store.Queue(ctx), 1)
}

func TestEditingSyncedRecordKeepsFlagAndQueuesEdit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "first")))
	require.NoError(t, store.MarkSynced(ctx, "offline_1_a", "srv_1"))
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "edited")))

	got, ok := store.Get(ctx, "offline_1_a")
	require.True(t, ok)
	require.True(t, got.Synced)
	require.Equal(t, "edited", got.Notes)
	require.Empty(t, store.GetUnsynced(ctx))

	entry, ok := store.QueuedEntry(ctx, "offline_1_a")
	require.True(t, ok)
	require.Equal(t, "edited", entry.Notes)
	require.Equal(t, "srv_1", entry.ServerID)

	require.NoError(t, store.MarkSynced(ctx, "offline_1_a", "srv_1"))
	require.Empty(t, store.Queue(ctx))
}

func TestRecordServerIDLeavesEntryQueued(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))

	require.NoError(t, store.RecordServerID(ctx, "offline_1_a", "srv_9"))

	got, ok := store.Get(ctx, "offline_1_a")
	require.True(t, ok)
	require.False(t, got.Synced)
	require.Equal(t, "srv_9", got.ServerID)
	entry, ok := store.QueuedEntry(ctx, "offline_1_a")
	require.True(t, ok)
	require.Equal(t, "srv_9", entry.RemoteID())
}

func TestDequeueKeepsStoredWorkout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))

	require.NoError(t, store.Dequeue(ctx, "offline_1_a"))
	require.NoError(t, store.Dequeue(ctx, "offline_1_a"))

	require.Empty(t, store.Queue(ctx))
	require.Len(t, store.GetAll(ctx), 1)
}

func TestSyncLeaseExcludesOtherOwnersUntilExpiry(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	store := New(NewMemoryBackend(0), WithLogger(logging.Discard()), WithClock(func() time.Time { return now }))

	ok, err := store.AcquireSyncLease(ctx, "proxy", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.AcquireSyncLease(ctx, "tab", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// Releasing someone else's lease is ignored.
	require.NoError(t, store.ReleaseSyncLease(ctx, "tab"))
	ok, err = store.AcquireSyncLease(ctx, "tab", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = store.AcquireSyncLease(ctx, "tab", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.ReleaseSyncLease(ctx, "tab"))
	ok, err = store.AcquireSyncLease(ctx, "proxy", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMarkSyncedFlipsFlagAndDequeues(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	ids := []string{"offline_1_a", "offline_2_b", "offline_3_c"}
	for _, id := range ids {
		require.NoError(t, store.Save(ctx, offlineWorkout(id, "")))
	}
	// Explicit enqueue after save must not duplicate.
	require.NoError(t, store.Enqueue(ctx, offlineWorkout("offline_2_b", "")))
	require.Len(t, store.Queue(ctx), 3)

	before := testutil.ToFloat64(markedSyncedCounter)
	require.NoError(t, store.MarkSynced(ctx, "offline_2_b", "srv_2"))

	got, ok := store.Get(ctx, "offline_2_b")
	require.True(t, ok)
	require.True(t, got.Synced)
	require.Equal(t, "srv_2", got.ServerID)
	for _, q := range store.Queue(ctx) {
		require.NotEqual(t, "offline_2_b", q.ID)
	}
	require.Len(t, store.GetUnsynced(ctx), 2)
	require.InDelta(t, before+1, testutil.ToFloat64(markedSyncedCounter), 0.0001)

	// Second call is a no-op.
	require.NoError(t, store.MarkSynced(ctx, "offline_2_b", "srv_2"))
	require.InDelta(t, before+1, testutil.ToFloat64(markedSyncedCounter), 0.0001)
}

func TestMarkSyncedWhenOnlyQueued(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	require.NoError(t, store.Enqueue(ctx, offlineWorkout("offline_9_z", "")))
	require.NoError(t, store.MarkSynced(ctx, "offline_9_z", ""))
	require.Empty(t, store.Queue(ctx))
	require.Empty(t, store.GetAll(ctx))
}

func TestSavingSyncedRecordNeverQueues(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	w := offlineWorkout("42", "")
	w.Synced = true
	require.NoError(t, store.Save(ctx, w))
	require.Empty(t, store.Queue(ctx))
	require.Empty(t, store.GetUnsynced(ctx))
}

func TestDeleteUnsyncedRemovesFromBoth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))
	require.NoError(t, store.Delete(ctx, "offline_1_a"))

	require.Empty(t, store.GetAll(ctx))
	require.Empty(t, store.Queue(ctx))
}

func TestDeleteSyncedLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))
	require.NoError(t, store.MarkSynced(ctx, "offline_1_a", "srv_1"))
	require.NoError(t, store.Delete(ctx, "offline_1_a"))

	require.Empty(t, store.GetAll(ctx))
	queue := store.Queue(ctx)
	require.Len(t, queue, 1)
	require.True(t, queue[0].Deleted)
	require.Equal(t, "srv_1", queue[0].ServerID)

	require.NoError(t, store.CompleteDelete(ctx, "offline_1_a"))
	require.Empty(t, store.Queue(ctx))
}

func TestLastSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(0))

	require.Nil(t, store.LastSync(ctx))
	require.NoError(t, store.SetLastSync(ctx, fixedNow))
	got := store.LastSync(ctx)
	require.NotNil(t, got)
	require.True(t, fixedNow.Equal(*got))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(1<<20))

	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_2_b", "")))
	require.NoError(t, store.MarkSynced(ctx, "offline_1_a", "srv_1"))

	stats := store.Stats(ctx)
	require.Equal(t, 1, stats.UnsyncedCount)
	require.Equal(t, 1, stats.QueueLength)
	require.Greater(t, stats.StorageUsed, int64(0))
	require.Equal(t, int64(1<<20), stats.StorageTotal)
}

func TestNilBackendIsEmptyAndIgnoresWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))
	require.Empty(t, store.GetAll(ctx))
	require.NotNil(t, store.GetAll(ctx))
	require.Empty(t, store.Queue(ctx))
	require.NoError(t, store.MarkSynced(ctx, "offline_1_a", ""))
	require.Nil(t, store.LastSync(ctx))
	require.Equal(t, Stats{}, store.Stats(ctx))
}

func TestCorruptedJSONDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	require.NoError(t, backend.Update(ctx, func(tx Tx) error {
		return tx.Set(KeyWorkouts, "{not json")
	}))
	store := newTestStore(t, backend)

	before := testutil.ToFloat64(degradedCounter.WithLabelValues("read"))
	require.Empty(t, store.GetAll(ctx))
	require.InDelta(t, before+1, testutil.ToFloat64(degradedCounter.WithLabelValues("read")), 0.0001)

	// Writing replaces the unreadable list.
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))
	require.Len(t, store.GetAll(ctx), 1)
}

func TestMalformedElementsAreDroppedIndividually(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	raw := `[
		{"id":"offline_1_a","type":"GYM","startTime":"2023-11-14T20:00:00Z","synced":false},
		{"id":42,"type":"GYM","startTime":"2023-11-14T20:00:00Z","synced":false},
		{"id":"offline_3_c","type":"GYM","synced":"nope"}
	]`
	require.NoError(t, backend.Update(ctx, func(tx Tx) error { return tx.Set(KeyWorkouts, raw) }))
	store := newTestStore(t, backend)

	before := testutil.ToFloat64(droppedRecordsCounter)
	all := store.GetAll(ctx)
	require.Len(t, all, 1)
	require.Equal(t, "offline_1_a", all[0].ID)
	require.InDelta(t, before+2, testutil.ToFloat64(droppedRecordsCounter), 0.0001)
}

func TestQuotaExceededIsReportedAndNothingIsWritten(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(512))

	big := offlineWorkout("offline_1_a", strings.Repeat("x", 1024))
	err := store.Save(ctx, big)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Empty(t, store.GetAll(ctx))
	require.Empty(t, store.Queue(ctx))
}

func TestFailingBackendNeverPanics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, failingBackend{err: errors.New("privacy mode")})

	require.Empty(t, store.GetAll(ctx))
	require.Empty(t, store.GetUnsynced(ctx))
	require.Empty(t, store.Queue(ctx))
	require.Nil(t, store.LastSync(ctx))
	require.Error(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))
	require.Error(t, store.MarkSynced(ctx, "offline_1_a", ""))
	stats := store.Stats(ctx)
	require.Zero(t, stats.QueueLength)
}

func TestSaveRequiresID(t *testing.T) {
	store := newTestStore(t, NewMemoryBackend(0))
	require.ErrorIs(t, store.Save(context.Background(), domain.Workout{}), domain.ErrInvalidWorkout)
}

func TestMemoryBackendNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	changes, cancel := backend.Subscribe()
	defer cancel()

	store := newTestStore(t, backend)
	require.NoError(t, store.Save(ctx, offlineWorkout("offline_1_a", "")))

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case ch := <-changes:
			got[ch.Key] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for change notifications, got %v", got)
		}
	}
	require.True(t, got[KeyWorkouts])
	require.True(t, got[KeyQueue])
}

type failingBackend struct {
	err error
}

func (f failingBackend) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingBackend) Update(context.Context, func(Tx) error) error      { return f.err }
func (f failingBackend) Keys(context.Context) ([]string, error)            { return nil, f.err }
func (f failingBackend) Size(context.Context) (int64, int64, error)        { return 0, 0, f.err }
