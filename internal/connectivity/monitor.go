// Package connectivity tracks online/offline transitions and the pending-sync view shown
// to the user.
package connectivity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"example.com/treniren/internal/domain"
	"example.com/treniren/internal/localstore"
	"example.com/treniren/internal/logging"
)

// DefaultPollInterval is how often the monitor re-reads storage while offline.
const DefaultPollInterval = 5 * time.Second

// Reader is the slice of the local store the monitor needs.
type Reader interface {
	GetUnsynced(ctx context.Context) []domain.Workout
	Queue(ctx context.Context) []domain.Workout
	Stats(ctx context.Context) localstore.Stats
}

// State is a derived, never persisted snapshot.
type State struct {
	IsOnline         bool
	UnsyncedWorkouts []domain.Workout
	SyncQueue        []domain.Workout
	StorageUsed      int64
	StorageTotal     int64
	LastSyncTime     *time.Time
}

// UnsyncedCount is the number shown in the pending badge.
func (s State) UnsyncedCount() int {
	return len(s.UnsyncedWorkouts)
}

// QueueLength is the number of entries still awaiting replay.
func (s State) QueueLength() int {
	return len(s.SyncQueue)
}

// Option configures optional behaviour for the Monitor.
type Option func(*Monitor)

// WithLogger overrides the monitor logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithPollInterval overrides the offline re-poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithChangeSource adds a stream of storage change notifications, such as a backend
// subscription or a file watcher.
func WithChangeSource(changes <-chan localstore.Change) Option {
	return func(m *Monitor) {
		m.sources = append(m.sources, changes)
	}
}

// Monitor keeps a per-process view of connectivity and local sync state. The store is
// the source of truth; the view is refreshed on online/offline events, on storage
// change notifications, and on a fixed interval while offline.
type Monitor struct {
	store        Reader
	pollInterval time.Duration
	sources      []<-chan localstore.Change
	logger       *log.Logger

	mu       sync.RWMutex
	state    State
	subs     map[chan State]struct{}
	onOnline []func()
}

// NewMonitor constructs a Monitor with the given initial connectivity and reads the
// store once.
func NewMonitor(store Reader, online bool, opts ...Option) *Monitor {
	m := &Monitor{
		store:        store,
		pollInterval: DefaultPollInterval,
		logger:       logging.New(logging.Options{Prefix: "connectivity"}),
		subs:         make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.IsOnline = online
	recordOnline(online)
	m.Refresh(context.Background())
	return m
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOnline reports the current connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsOnline
}

// OnOnline registers fn to run on every offline to online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Subscribe delivers a snapshot after every refresh. Slow subscribers miss intermediate
// snapshots rather than blocking the monitor.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// SetOnline handles the online event.
func (m *Monitor) SetOnline() {
	m.mu.Lock()
	wasOnline := m.state.IsOnline
	m.state.IsOnline = true
	callbacks := append([]func(){}, m.onOnline...)
	m.mu.Unlock()

	recordOnline(true)
	m.Refresh(context.Background())
	if !wasOnline {
		m.logger.Info("back online")
		for _, fn := range callbacks {
			fn()
		}
	}
}

// SetOffline handles the offline event.
func (m *Monitor) SetOffline() {
	m.mu.Lock()
	wasOnline := m.state.IsOnline
	m.state.IsOnline = false
	m.mu.Unlock()

	recordOnline(false)
	if wasOnline {
		m.logger.Warn("went offline")
	}
	m.Refresh(context.Background())
}

// Refresh re-reads the store and publishes the new snapshot.
func (m *Monitor) Refresh(ctx context.Context) {
	unsynced := m.store.GetUnsynced(ctx)
	queue := m.store.Queue(ctx)
	stats := m.store.Stats(ctx)

	m.mu.Lock()
	m.state.UnsyncedWorkouts = unsynced
	m.state.SyncQueue = queue
	m.state.StorageUsed = stats.StorageUsed
	m.state.StorageTotal = stats.StorageTotal
	m.state.LastSyncTime = stats.LastSync
	snapshot := m.state
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
	m.mu.Unlock()

	recordState(snapshot)
}

// Run drives the storage-change and offline polling triggers until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	changes := merge(ctx, m.sources)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if change.Key == "" || strings.HasPrefix(change.Key, localstore.KeyPrefix) {
				m.Refresh(ctx)
			}
		case <-ticker.C:
			if !m.IsOnline() {
				m.Refresh(ctx)
			}
		}
	}
}

func merge(ctx context.Context, sources []<-chan localstore.Change) <-chan localstore.Change {
	if len(sources) == 0 {
		return nil
	}
	out := make(chan localstore.Change, len(sources))
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src <-chan localstore.Change) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case change, ok := <-src:
					if !ok {
						return
					}
					select {
					case out <- change:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
