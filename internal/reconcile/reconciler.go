// Package reconcile replays the local sync queue against the workout API.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"example.com/treniren/internal/domain"
	"example.com/treniren/internal/events"
	"example.com/treniren/internal/logging"
	"example.com/treniren/internal/workoutapi"
)

// DefaultConcurrency bounds how many queue entries are submitted at once.
const DefaultConcurrency = 4

// DefaultLeaseTTL bounds how long a crashed pass keeps others out.
const DefaultLeaseTTL = 2 * time.Minute

// Store is the part of the local store the reconciler mutates.
type Store interface {
	Queue(ctx context.Context) []domain.Workout
	QueuedEntry(ctx context.Context, id string) (domain.Workout, bool)
	Get(ctx context.Context, id string) (domain.Workout, bool)
	MarkSynced(ctx context.Context, id, serverID string) error
	RecordServerID(ctx context.Context, id, serverID string) error
	CompleteDelete(ctx context.Context, id string) error
	Dequeue(ctx context.Context, id string) error
	SetLastSync(ctx context.Context, ts time.Time) error
	AcquireSyncLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseSyncLease(ctx context.Context, owner string) error
}

// API is the workout API surface used during replay.
type API interface {
	Create(ctx context.Context, in domain.WorkoutInput) (string, error)
	Update(ctx context.Context, id string, in domain.WorkoutInput) error
	Delete(ctx context.Context, id string) error
}

// Result summarises one reconciliation pass. Busy reports that another process held
// the sync lease, so nothing was attempted.
type Result struct {
	Attempted int
	Synced    int
	Deleted   int
	Failed    int
	Skipped   int
	Busy      bool
}

// Pending is the number of entries left queued for the next trigger.
func (r Result) Pending() int {
	return r.Failed
}

// Option configures optional behaviour for the Reconciler.
type Option func(*Reconciler)

// WithLogger overrides the reconciler logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithPublisher publishes sync state changes to topic.
func WithPublisher(pub events.Publisher, topic string) Option {
	return func(r *Reconciler) {
		r.publisher = pub
		r.topic = topic
	}
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithLeaseTTL overrides DefaultLeaseTTL.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(r *Reconciler) {
		if ttl > 0 {
			r.leaseTTL = ttl
		}
	}
}

// Reconciler submits queued entries and records the outcome locally. It keeps no retry
// schedule of its own: failed entries stay queued until the next call to Reconcile.
type Reconciler struct {
	store       Store
	api         API
	publisher   events.Publisher
	topic       string
	concurrency int
	owner       string
	leaseTTL    time.Duration
	logger      *log.Logger
	now         func() time.Time

	mu sync.Mutex
}

// New constructs a Reconciler.
func New(store Store, api API, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		api:         api,
		publisher:   events.Noop{},
		concurrency: DefaultConcurrency,
		owner:       uuid.NewString(),
		leaseTTL:    DefaultLeaseTTL,
		logger:      logging.New(logging.Options{Prefix: "reconcile"}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeDeleted
	outcomeFailed
	outcomeSkipped
)

// Reconcile runs one pass over the queue. Passes within a process are serialised by a
// mutex and passes across processes by the store's sync lease. When another process
// holds the lease the pass returns at once with Busy set. Every entry is re-read right
// before submission.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acquired, err := r.store.AcquireSyncLease(ctx, r.owner, r.leaseTTL)
	if err != nil {
		return Result{}, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !acquired {
		passesBusy.Inc()
		r.logger.Debug("another pass holds the sync lease")
		return Result{Busy: true}, nil
	}
	defer func() {
		if err := r.store.ReleaseSyncLease(context.WithoutCancel(ctx), r.owner); err != nil {
			r.logger.Warn("release sync lease failed", "err", err)
		}
	}()

	start := time.Now()
	defer func() { passDuration.Observe(time.Since(start).Seconds()) }()

	queue := r.store.Queue(ctx)
	outcomes := make([]outcome, len(queue))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, entry := range queue {
		i, entry := i, entry
		g.Go(func() error {
			outcomes[i] = r.syncEntry(gctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Attempted: len(queue)}
	for _, o := range outcomes {
		switch o {
		case outcomeSynced:
			res.Synced++
		case outcomeDeleted:
			res.Deleted++
		case outcomeFailed:
			res.Failed++
		case outcomeSkipped:
			res.Skipped++
		}
	}

	if res.Synced+res.Deleted > 0 {
		if err := r.store.SetLastSync(ctx, r.now()); err != nil {
			r.logger.Warn("record last sync failed", "err", err)
		}
	}

	if res.Attempted > 0 {
		r.logger.Info("reconciliation finished",
			"attempted", res.Attempted,
			"synced", res.Synced,
			"deleted", res.Deleted,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
	}
	return res, ctx.Err()
}

func (r *Reconciler) syncEntry(ctx context.Context, entry domain.Workout) outcome {
	queued, ok := r.store.QueuedEntry(ctx, entry.ID)
	if !ok {
		// Synced by an earlier pass or deleted locally since the queue was read.
		submissions.WithLabelValues("none", "skipped").Inc()
		return outcomeSkipped
	}
	if queued.Deleted {
		return r.syncDelete(ctx, queued)
	}

	// The stored record is the latest edit; a queue-only entry carries its own payload.
	current := queued
	if stored, ok := r.store.Get(ctx, queued.ID); ok {
		if stored.ServerID == "" {
			stored.ServerID = queued.ServerID
		}
		current = stored
	}

	op := "create"
	serverID := current.RemoteID()
	var err error
	if serverID != "" {
		op = "update"
		err = r.api.Update(ctx, serverID, current.Input())
	} else {
		serverID, err = r.api.Create(ctx, current.Input())
	}
	if err != nil {
		submissions.WithLabelValues(op, "failed").Inc()
		r.logger.Warn("submit failed, leaving queued", "id", current.ID, "op", op, "err", err)
		r.publish(ctx, current.ID, "", events.StateFailed, err.Error())
		return outcomeFailed
	}

	if err := r.store.MarkSynced(ctx, current.ID, serverID); err != nil {
		submissions.WithLabelValues(op, "failed").Inc()
		r.logger.Error("server accepted workout but local mark failed", "id", current.ID, "server_id", serverID, "err", err)
		if op == "create" {
			if err := r.store.RecordServerID(ctx, current.ID, serverID); err != nil {
				r.logger.Error("record server id failed", "id", current.ID, "server_id", serverID, "err", err)
			}
		}
		return outcomeFailed
	}
	submissions.WithLabelValues(op, "synced").Inc()
	r.publish(ctx, current.ID, serverID, events.StateSynced, "")
	return outcomeSynced
}

func (r *Reconciler) syncDelete(ctx context.Context, entry domain.Workout) outcome {
	remote := entry.RemoteID()
	if remote == "" {
		r.dequeue(ctx, entry.ID)
		submissions.WithLabelValues("delete", "skipped").Inc()
		return outcomeSkipped
	}

	if err := r.api.Delete(ctx, remote); err != nil && !workoutapi.IsNotFound(err) {
		submissions.WithLabelValues("delete", "failed").Inc()
		r.logger.Warn("delete failed, leaving queued", "id", entry.ID, "server_id", remote, "err", err)
		return outcomeFailed
	}

	if err := r.store.CompleteDelete(ctx, entry.ID); err != nil {
		submissions.WithLabelValues("delete", "failed").Inc()
		r.logger.Error("server deleted workout but local dequeue failed", "id", entry.ID, "err", err)
		return outcomeFailed
	}
	submissions.WithLabelValues("delete", "synced").Inc()
	r.publish(ctx, entry.ID, remote, events.StateDeleted, "")
	return outcomeDeleted
}

func (r *Reconciler) dequeue(ctx context.Context, id string) {
	if err := r.store.Dequeue(ctx, id); err != nil {
		r.logger.Warn("dequeue failed", "id", id, "err", err)
	}
}

func (r *Reconciler) publish(ctx context.Context, id, serverID, state, reason string) {
	if r.topic == "" {
		return
	}
	evt := events.WorkoutStateChanged{
		WorkoutID:  id,
		ServerID:   serverID,
		State:      state,
		OccurredAt: r.now().UTC(),
		Reason:     reason,
	}
	if err := r.publisher.Publish(ctx, r.topic, id, evt); err != nil {
		r.logger.Warn("publish state change failed", "id", id, "state", state, "err", err)
	}
}
