package swcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/treniren/internal/logging"
)

type recordingClients struct {
	mu      sync.Mutex
	claimed int
	posted  []Message
}

func (r *recordingClients) Claim(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed++
	return nil
}

func (r *recordingClients) PostAll(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posted = append(r.posted, msg)
	return nil
}

type failingFetcher struct{}

func (failingFetcher) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func newUpstream(t *testing.T) (*httptest.Server, *url.URL) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fingerboard" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	origin, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return srv, origin
}

func TestStartRemovesOnlyStalePartitions(t *testing.T) {
	ctx := context.Background()
	srv, origin := newUpstream(t)
	storage := NewMemoryStorage()

	for _, name := range []string{"treniren-static-v1", "treniren-dynamic-v1", "treniren-dynamic-v2", "other-app"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	manifest := DefaultManifest()
	manifest.Version = 2
	clients := &recordingClients{}
	worker := NewWorker(storage, manifest, origin, srv.Client(), WithLogger(logging.Discard()), WithClients(clients))

	require.NoError(t, worker.Install(ctx))
	require.Equal(t, StateInstalled, worker.State())
	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	// Install only touches partitions owned by the prefix.
	require.Equal(t, []string{"other-app", "treniren-dynamic-v2", "treniren-static-v2"}, keys)

	require.NoError(t, worker.Activate(ctx))
	require.Equal(t, StateActivated, worker.State())
	keys, err = storage.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"treniren-dynamic-v2", "treniren-static-v2"}, keys)
	require.Equal(t, 1, clients.claimed)
}

func TestInstallPrecachesBestEffort(t *testing.T) {
	ctx := context.Background()
	srv, origin := newUpstream(t)
	storage := NewMemoryStorage()
	worker := NewWorker(storage, DefaultManifest(), origin, srv.Client(), WithLogger(logging.Discard()))

	require.NoError(t, worker.Start(ctx))
	require.Equal(t, StateActivated, worker.State())

	cache, err := storage.Open(ctx, "treniren-static-v1")
	require.NoError(t, err)
	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, len(DefaultManifest().Precache)-1)
	require.NotContains(t, keys, srv.URL+"/fingerboard")

	home, ok, err := cache.Match(ctx, httptest.NewRequest(http.MethodGet, srv.URL+"/", nil))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ok /", string(home.Body))
}

func TestInstallSurvivesUnreachableUpstream(t *testing.T) {
	origin, _ := url.Parse("http://unreachable.test")
	worker := NewWorker(NewMemoryStorage(), DefaultManifest(), origin, failingFetcher{}, WithLogger(logging.Discard()))

	require.NoError(t, worker.Start(context.Background()))
	require.Equal(t, StateActivated, worker.State())
}

func TestInstallAbandonedBecomesRedundant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	origin, _ := url.Parse("http://unreachable.test")
	worker := NewWorker(NewMemoryStorage(), DefaultManifest(), origin, failingFetcher{}, WithLogger(logging.Discard()))

	err := worker.Install(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateRedundant, worker.State())
	require.ErrorIs(t, worker.Activate(context.Background()), ErrInvalidTransition)
}

func TestActivateRequiresInstall(t *testing.T) {
	origin, _ := url.Parse("http://unreachable.test")
	worker := NewWorker(NewMemoryStorage(), DefaultManifest(), origin, failingFetcher{}, WithLogger(logging.Discard()))
	require.ErrorIs(t, worker.Activate(context.Background()), ErrInvalidTransition)
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	origin, _ := url.Parse("http://unreachable.test")
	worker := NewWorker(NewMemoryStorage(), DefaultManifest(), origin, failingFetcher{}, WithLogger(logging.Discard()))

	reply, err := worker.HandleMessage(ctx, Message{Type: MsgGetVersion})
	require.NoError(t, err)
	require.Equal(t, &Message{Type: MsgVersion, Version: "treniren-static-v1"}, reply)

	require.NoError(t, worker.Install(ctx))
	reply, err = worker.HandleMessage(ctx, Message{Type: MsgSkipWaiting})
	require.NoError(t, err)
	require.Nil(t, reply)
	require.Equal(t, StateActivated, worker.State())

	reply, err = worker.HandleMessage(ctx, Message{Type: "PING"})
	require.NoError(t, err)
	require.Nil(t, reply)
}

func TestSyncPostsOnlyForWorkoutTag(t *testing.T) {
	ctx := context.Background()
	origin, _ := url.Parse("http://unreachable.test")
	clients := &recordingClients{}
	worker := NewWorker(NewMemoryStorage(), DefaultManifest(), origin, failingFetcher{}, WithLogger(logging.Discard()), WithClients(clients))

	require.NoError(t, worker.Sync(ctx, "something-else"))
	require.Empty(t, clients.posted)
	require.NoError(t, worker.Sync(ctx, SyncTag))
	require.Equal(t, []Message{{Type: MsgSyncWorkouts}}, clients.posted)
}

func TestGeneration(t *testing.T) {
	gen := Generation{Prefix: "treniren", Version: 3}
	require.Equal(t, "treniren-static-v3", gen.Static())
	require.Equal(t, "treniren-dynamic-v3", gen.Dynamic())
	require.True(t, gen.IsCurrent("treniren-dynamic-v3"))
	require.False(t, gen.IsCurrent("treniren-dynamic-v2"))
	require.True(t, gen.IsOwned("treniren-dynamic-v2"))
	require.False(t, gen.IsOwned("workbox-precache"))
}

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	require.Equal(t, DefaultManifest(), m)

	file := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(file, []byte("version: 7\nprecache:\n  - /\n  - /offline\n"), 0o600))
	m, err = LoadManifest(file)
	require.NoError(t, err)
	require.Equal(t, 7, m.Version)
	require.Equal(t, []string{"/", "/offline"}, m.Precache)
	require.Equal(t, "/api/", m.APIRoot)
	require.True(t, m.IsPrecached("/offline"))
	require.True(t, m.IsChunk("/_next/static/chunks/main.js"))
	require.True(t, m.IsAPI("/api/workouts"))

	require.NoError(t, os.WriteFile(file, []byte("version: 0\nprecache: [relative]\n"), 0o600))
	_, err = LoadManifest(file)
	require.ErrorContains(t, err, "version must be positive")
	require.ErrorContains(t, err, "relative")
}
