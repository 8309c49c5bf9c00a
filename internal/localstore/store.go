package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"example.com/treniren/internal/domain"
	"example.com/treniren/internal/logging"
)

// Stats aggregates what the connectivity indicator shows about local state.
type Stats struct {
	UnsyncedCount int
	QueueLength   int
	StorageUsed   int64
	StorageTotal  int64
	LastSync      *time.Time
}

// Option configures optional behaviour for the Store.
type Option func(*Store)

// WithLogger overrides the logger used to report degraded operations.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store holds offline workouts and the sync queue in a Backend. Reads never fail: storage
// errors are logged and turned into empty results. A Store without a backend (outside a
// device context) is permanently empty and ignores writes.
type Store struct {
	backend Backend
	logger  *log.Logger
	now     func() time.Time
}

// New constructs a Store over backend, which may be nil.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  logging.New(logging.Options{Prefix: "localstore"}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying storage, or nil.
func (s *Store) Backend() Backend {
	return s.backend
}

// Save upserts w by id. Unsynced records are upserted into the sync queue in the same
// write, so retrying a save never produces duplicates. A synced record is removed from
// the queue instead. Editing a record the server already holds keeps its synced flag
// and queues the edit for replay.
func (s *Store) Save(ctx context.Context, w domain.Workout) error {
	if w.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrInvalidWorkout)
	}
	if s.backend == nil {
		return nil
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now().UTC()
	}

	err := s.backend.Update(ctx, func(tx Tx) error {
		workouts, err := s.readTx(tx, KeyWorkouts)
		if err != nil {
			return err
		}
		queue, err := s.readTx(tx, KeyQueue)
		if err != nil {
			return err
		}

		if i := indexOf(workouts, w.ID); i >= 0 {
			existing := workouts[i]
			if w.ServerID == "" {
				w.ServerID = existing.ServerID
			}
			// createdAt is immutable once set.
			w.CreatedAt = existing.CreatedAt
		}

		if w.Synced {
			queue = without(queue, w.ID)
		} else {
			queue = upsert(queue, w)
		}
		if i := indexOf(workouts, w.ID); i >= 0 && workouts[i].Synced {
			w.Synced = true
		}
		workouts = upsert(workouts, w)
		return writeLists(tx, workouts, queue)
	})
	return s.degradeWrite("save", err, "id", w.ID)
}

// Enqueue upserts w into the sync queue only.
func (s *Store) Enqueue(ctx context.Context, w domain.Workout) error {
	if w.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrInvalidWorkout)
	}
	if s.backend == nil {
		return nil
	}
	err := s.backend.Update(ctx, func(tx Tx) error {
		queue, err := s.readTx(tx, KeyQueue)
		if err != nil {
			return err
		}
		return writeList(tx, KeyQueue, upsert(queue, w))
	})
	return s.degradeWrite("enqueue", err, "id", w.ID)
}

// GetAll returns every stored workout.
func (s *Store) GetAll(ctx context.Context) []domain.Workout {
	return s.read(ctx, KeyWorkouts)
}

// GetUnsynced returns stored workouts not yet accepted by the server.
func (s *Store) GetUnsynced(ctx context.Context) []domain.Workout {
	all := s.read(ctx, KeyWorkouts)
	out := make([]domain.Workout, 0, len(all))
	for _, w := range all {
		if !w.Synced {
			out = append(out, w)
		}
	}
	return out
}

// Get returns the stored workout with id.
func (s *Store) Get(ctx context.Context, id string) (domain.Workout, bool) {
	for _, w := range s.read(ctx, KeyWorkouts) {
		if w.ID == id {
			return w, true
		}
	}
	return domain.Workout{}, false
}

// Queue returns the sync queue.
func (s *Store) Queue(ctx context.Context) []domain.Workout {
	return s.read(ctx, KeyQueue)
}

// QueuedEntry returns the current queue entry for id.
func (s *Store) QueuedEntry(ctx context.Context, id string) (domain.Workout, bool) {
	for _, w := range s.read(ctx, KeyQueue) {
		if w.ID == id {
			return w, true
		}
	}
	return domain.Workout{}, false
}

// Delete removes the workout and its queue entry in one write. Deleting a workout the
// server already holds leaves a tombstone in the queue so the server copy is removed by
// the next reconciliation.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.Update(ctx, func(tx Tx) error {
		workouts, err := s.readTx(tx, KeyWorkouts)
		if err != nil {
			return err
		}
		queue, err := s.readTx(tx, KeyQueue)
		if err != nil {
			return err
		}

		var remoteID string
		if i := indexOf(workouts, id); i >= 0 {
			remoteID = workouts[i].RemoteID()
		} else if i := indexOf(queue, id); i >= 0 {
			remoteID = queue[i].RemoteID()
		}

		workouts = without(workouts, id)
		queue = without(queue, id)
		if remoteID != "" {
			queue = append(queue, domain.Workout{
				ID:        id,
				ServerID:  remoteID,
				Deleted:   true,
				CreatedAt: s.now().UTC(),
			})
		}
		return writeLists(tx, workouts, queue)
	})
	return s.degradeWrite("delete", err, "id", id)
}

// MarkSynced flags the workout as synced, records the server id when given, and removes
// it from the queue. Both changes land in a single write. Marking an already synced and
// dequeued workout is a no-op.
func (s *Store) MarkSynced(ctx context.Context, id, serverID string) error {
	if s.backend == nil {
		return nil
	}
	changed := false
	err := s.backend.Update(ctx, func(tx Tx) error {
		workouts, err := s.readTx(tx, KeyWorkouts)
		if err != nil {
			return err
		}
		queue, err := s.readTx(tx, KeyQueue)
		if err != nil {
			return err
		}

		queued := indexOf(queue, id) >= 0
		i := indexOf(workouts, id)
		if i >= 0 && workouts[i].Synced && !queued && (serverID == "" || workouts[i].ServerID == serverID) {
			return nil
		}
		if i < 0 && !queued {
			return nil
		}

		if i >= 0 {
			workouts[i].Synced = true
			if serverID != "" {
				workouts[i].ServerID = serverID
			}
		}
		changed = true
		return writeLists(tx, workouts, without(queue, id))
	})
	if err == nil && changed {
		markedSyncedCounter.Inc()
	}
	return s.degradeWrite("mark_synced", err, "id", id)
}

// RecordServerID stores the id the server assigned to a workout without marking it
// synced, so a later replay updates the server copy instead of creating another.
func (s *Store) RecordServerID(ctx context.Context, id, serverID string) error {
	if s.backend == nil || serverID == "" {
		return nil
	}
	err := s.backend.Update(ctx, func(tx Tx) error {
		workouts, err := s.readTx(tx, KeyWorkouts)
		if err != nil {
			return err
		}
		queue, err := s.readTx(tx, KeyQueue)
		if err != nil {
			return err
		}
		if i := indexOf(workouts, id); i >= 0 {
			workouts[i].ServerID = serverID
		}
		if i := indexOf(queue, id); i >= 0 {
			queue[i].ServerID = serverID
		}
		return writeLists(tx, workouts, queue)
	})
	return s.degradeWrite("record_server_id", err, "id", id, "server_id", serverID)
}

// CompleteDelete removes a tombstone from the queue once the server confirmed the delete.
func (s *Store) CompleteDelete(ctx context.Context, id string) error {
	if s.backend == nil {
		return nil
	}
	return s.dequeue(ctx, "complete_delete", id)
}

// Dequeue drops id from the queue without touching the stored workout.
func (s *Store) Dequeue(ctx context.Context, id string) error {
	if s.backend == nil {
		return nil
	}
	return s.dequeue(ctx, "dequeue", id)
}

func (s *Store) dequeue(ctx context.Context, op, id string) error {
	err := s.backend.Update(ctx, func(tx Tx) error {
		queue, err := s.readTx(tx, KeyQueue)
		if err != nil {
			return err
		}
		if indexOf(queue, id) < 0 {
			return nil
		}
		return writeList(tx, KeyQueue, without(queue, id))
	})
	return s.degradeWrite(op, err, "id", id)
}

// LastSync returns the time of the last successful reconciliation, if any.
func (s *Store) LastSync(ctx context.Context) *time.Time {
	if s.backend == nil {
		return nil
	}
	raw, ok, err := s.backend.Get(ctx, KeyLastSync)
	if err != nil {
		s.degrade("last_sync", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var ts time.Time
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		s.degrade("last_sync", fmt.Errorf("corrupted JSON: %w", err))
		return nil
	}
	return &ts
}

// SetLastSync records the time of a successful reconciliation.
func (s *Store) SetLastSync(ctx context.Context, ts time.Time) error {
	if s.backend == nil {
		return nil
	}
	body, err := json.Marshal(ts.UTC())
	if err != nil {
		return err
	}
	err = s.backend.Update(ctx, func(tx Tx) error {
		return tx.Set(KeyLastSync, string(body))
	})
	return s.degradeWrite("set_last_sync", err)
}

// Stats reads the aggregate view shown by the connectivity indicator.
func (s *Store) Stats(ctx context.Context) Stats {
	stats := Stats{
		UnsyncedCount: len(s.GetUnsynced(ctx)),
		QueueLength:   len(s.Queue(ctx)),
		LastSync:      s.LastSync(ctx),
	}
	if s.backend != nil {
		used, total, err := s.backend.Size(ctx)
		if err != nil {
			s.degrade("size", err)
		} else {
			stats.StorageUsed, stats.StorageTotal = used, total
		}
	}
	return stats
}

func (s *Store) read(ctx context.Context, key string) []domain.Workout {
	if s.backend == nil {
		return []domain.Workout{}
	}
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.degrade("read", err, "key", key)
		return []domain.Workout{}
	}
	if !ok {
		return []domain.Workout{}
	}
	res, err := decodeWorkouts(raw)
	if err != nil {
		s.degrade("read", err, "key", key)
		return []domain.Workout{}
	}
	s.reportDropped(key, res.dropped)
	return res.records
}

// readTx decodes a list inside a write. A corrupted list is replaced rather than
// blocking every future write.
func (s *Store) readTx(tx Tx, key string) ([]domain.Workout, error) {
	raw, ok, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.Workout{}, nil
	}
	res, err := decodeWorkouts(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable list", "key", key, "err", err)
		degradedCounter.WithLabelValues("reset").Inc()
		return []domain.Workout{}, nil
	}
	s.reportDropped(key, res.dropped)
	return res.records, nil
}

func (s *Store) reportDropped(key string, dropped []error) {
	for _, err := range dropped {
		s.logger.Warn("dropping malformed record", "key", key, "err", err)
		droppedRecordsCounter.Inc()
	}
}

func (s *Store) degrade(op string, err error, keyvals ...interface{}) {
	degradedCounter.WithLabelValues(op).Inc()
	s.logger.Error("storage unavailable", append([]interface{}{"op", op, "err", err}, keyvals...)...)
}

// degradeWrite logs a failed write and hands the error back so callers that care (the
// reconciler) can leave work queued. UI callers are free to ignore it.
func (s *Store) degradeWrite(op string, err error, keyvals ...interface{}) error {
	if err == nil {
		return nil
	}
	s.degrade(op, err, keyvals...)
	if errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func writeLists(tx Tx, workouts, queue []domain.Workout) error {
	if err := writeList(tx, KeyWorkouts, workouts); err != nil {
		return err
	}
	return writeList(tx, KeyQueue, queue)
}

func writeList(tx Tx, key string, records []domain.Workout) error {
	body, err := encodeWorkouts(records)
	if err != nil {
		return err
	}
	return tx.Set(key, body)
}
