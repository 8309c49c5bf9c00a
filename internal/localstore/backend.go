// Package localstore is the client-side durable store holding offline workouts and the
// sync queue. It degrades to empty reads and no-op writes when storage is unavailable.
package localstore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Keys used in the storage namespace.
const (
	KeyPrefix   = "treniren_"
	KeyWorkouts = "treniren_offline_workouts"
	KeyQueue    = "treniren_sync_queue"
	KeyLastSync = "treniren_last_sync"
)

// DefaultQuota mirrors the usual per-origin localStorage allowance.
const DefaultQuota int64 = 5 << 20

// ErrQuotaExceeded is returned by backends when a write would exceed the storage quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Tx is the view of the namespace inside Backend.Update.
type Tx interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Backend is a key/value namespace of JSON strings. Update applies every write made
// through the Tx atomically, or none of them when fn returns an error.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Update(ctx context.Context, fn func(tx Tx) error) error
	Keys(ctx context.Context) ([]string, error)
	Size(ctx context.Context) (used int64, total int64, err error)
}

// Change describes a write to the namespace. An empty Key means the writer is unknown,
// as with changes observed from another process.
type Change struct {
	Key string
}

// Notifier is implemented by backends that publish their own writes.
type Notifier interface {
	Subscribe() (<-chan Change, func())
}

// broadcaster fans changes out to subscribers without ever blocking a writer.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

func (b *broadcaster) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 16)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Change]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broadcaster) publish(keys []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for _, key := range keys {
			select {
			case ch <- Change{Key: key}:
			default:
			}
		}
	}
}

// MemoryBackend keeps the namespace in process memory.
type MemoryBackend struct {
	broadcaster
	mu    sync.RWMutex
	data  map[string]string
	quota int64
}

// NewMemoryBackend constructs an empty MemoryBackend. A quota <= 0 selects DefaultQuota.
func NewMemoryBackend(quota int64) *MemoryBackend {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &MemoryBackend{data: make(map[string]string), quota: quota}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

// Update implements Backend by staging writes on a copy and swapping it in on success.
func (m *MemoryBackend) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	staged := &memoryTx{base: m.data, writes: make(map[string]*string)}
	if err := fn(staged); err != nil {
		m.mu.Unlock()
		return err
	}

	next := make(map[string]string, len(m.data)+len(staged.writes))
	for k, v := range m.data {
		next[k] = v
	}
	changed := make([]string, 0, len(staged.writes))
	for k, v := range staged.writes {
		if v == nil {
			delete(next, k)
		} else {
			next[k] = *v
		}
		changed = append(changed, k)
	}
	if sizeOf(next) > m.quota {
		m.mu.Unlock()
		return ErrQuotaExceeded
	}
	m.data = next
	m.mu.Unlock()

	sort.Strings(changed)
	m.publish(changed)
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Size implements Backend.
func (m *MemoryBackend) Size(_ context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sizeOf(m.data), m.quota, nil
}

func sizeOf(data map[string]string) int64 {
	var n int64
	for k, v := range data {
		n += int64(len(k) + len(v))
	}
	return n
}

type memoryTx struct {
	base   map[string]string
	writes map[string]*string
}

func (t *memoryTx) Get(key string) (string, bool, error) {
	if v, ok := t.writes[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	v, ok := t.base[key]
	return v, ok, nil
}

func (t *memoryTx) Set(key, value string) error {
	t.writes[key] = &value
	return nil
}

func (t *memoryTx) Remove(key string) error {
	t.writes[key] = nil
	return nil
}
