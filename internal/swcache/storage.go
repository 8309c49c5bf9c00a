package swcache

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

// Cache is one named partition of request/response pairs.
type Cache interface {
	// Match looks up req by exact URL. Only GET requests can match.
	Match(ctx context.Context, req *http.Request) (*Response, bool, error)
	Put(ctx context.Context, req *http.Request, resp *Response) error
	Delete(ctx context.Context, req *http.Request) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds the named partitions.
type Storage interface {
	// Open returns the named partition, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStorage keeps partitions in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]*memoryCache
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]*memoryCache)}
}

// Open implements Storage.
func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]*Response)}
		s.caches[name] = c
	}
	return c, nil
}

// Has implements Storage.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok, nil
}

// Keys implements Storage.
func (s *MemoryStorage) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Response
}

func (c *memoryCache) Match(_ context.Context, req *http.Request) (*Response, bool, error) {
	if req.Method != http.MethodGet {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[Key(req)]
	return resp, ok, nil
}

func (c *memoryCache) Put(_ context.Context, req *http.Request, resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(req)] = resp
	return nil
}

func (c *memoryCache) Delete(_ context.Context, req *http.Request) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := Key(req)
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *memoryCache) Keys(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
