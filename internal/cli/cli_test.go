package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/treniren/internal/api"
	"example.com/treniren/internal/auth"
	"example.com/treniren/internal/config"
	"example.com/treniren/internal/domain"
	"example.com/treniren/internal/localstore"
	"example.com/treniren/internal/messaging"
	"example.com/treniren/internal/persistence/memory"
	"example.com/treniren/internal/swcache"
)

func run(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(cfg)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testConfig(t *testing.T) config.Config {
	return config.Config{StorePath: filepath.Join(t.TempDir(), "offline.db")}
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(config.Config{})
	for _, name := range []string{"record", "list", "delete", "sync", "status"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := run(t, testConfig(t), "status", "--format", "yaml")
	require.ErrorContains(t, err, "invalid format")
}

func TestRecordListDelete(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "record", "--type", "BOULDERING", "--start", "2024-03-02T10:00:00Z",
		"-e", "Moonboard", "--feel", "4", "--format", "json")
	require.NoError(t, err)
	var recorded domain.Workout
	require.NoError(t, json.Unmarshal([]byte(out), &recorded))
	require.True(t, domain.IsOfflineID(recorded.ID))
	require.False(t, recorded.Synced)
	require.Equal(t, 4, *recorded.PreSessionFeel)

	out, err = run(t, cfg, "list", "--unsynced", "--format", "json")
	require.NoError(t, err)
	var listed []domain.Workout
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, recorded.ID, listed[0].ID)

	out, err = run(t, cfg, "list")
	require.NoError(t, err)
	require.Contains(t, out, recorded.ID)
	require.Contains(t, out, "pending")

	_, err = run(t, cfg, "delete", recorded.ID)
	require.NoError(t, err)

	out, err = run(t, cfg, "status", "--format", "json")
	require.NoError(t, err)
	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Zero(t, status.QueueLength)
	require.Zero(t, status.UnsyncedCount)

	_, err = run(t, cfg, "delete", recorded.ID)
	require.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecordRequiresType(t *testing.T) {
	_, err := run(t, testConfig(t), "record")
	require.Error(t, err)
}

func TestSyncDeliversQueuedWorkouts(t *testing.T) {
	authCfg := auth.Config{Secret: "cli-secret", Issuer: "treniren"}
	handler := api.NewHandler(domain.NewService(memory.NewRepository(), nil))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	srv := httptest.NewServer(auth.NewMiddleware(authCfg).Wrap(mux))
	t.Cleanup(srv.Close)

	token, err := auth.Issue(authCfg, "climber", "csrf-1", time.Hour)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.APIBaseURL = srv.URL
	cfg.SessionToken = token
	cfg.CSRFToken = "csrf-1"

	_, err = run(t, cfg, "record", "--type", "GYM")
	require.NoError(t, err)
	_, err = run(t, cfg, "record", "--type", "RUN")
	require.NoError(t, err)

	out, err := run(t, cfg, "sync", "--format", "json")
	require.NoError(t, err)
	var res syncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, 2, res.Synced)
	require.Zero(t, res.Failed)

	out, err = run(t, cfg, "list", "--format", "json")
	require.NoError(t, err)
	var listed []domain.Workout
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 2)
	for _, w := range listed {
		require.True(t, w.Synced)
		require.NotEmpty(t, w.ServerID)
	}

	out, err = run(t, cfg, "status", "--format", "json")
	require.NoError(t, err)
	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Zero(t, status.QueueLength)
	require.NotNil(t, status.LastSync)
}

func TestSyncFailureKeepsQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database unavailable"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.APIBaseURL = srv.URL

	_, err := run(t, cfg, "record", "--type", "GYM")
	require.NoError(t, err)

	out, err := run(t, cfg, "sync")
	require.Error(t, err)
	require.Equal(t, ExitFailure, GetExitCode(err))
	require.Contains(t, out, "failed 1")

	out, err = run(t, cfg, "status", "--format", "json")
	require.NoError(t, err)
	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Equal(t, 1, status.QueueLength)
	require.Nil(t, status.LastSync)
}

func TestStatusReportsProxyCacheVersion(t *testing.T) {
	origin, err := url.Parse("http://app.invalid")
	require.NoError(t, err)
	manifest := swcache.DefaultManifest()
	manifest.Version = 7

	hub := messaging.NewHub()
	worker := swcache.NewWorker(swcache.NewMemoryStorage(), manifest, origin, http.DefaultClient, swcache.WithClients(hub))
	hub.SetHandler(worker)
	proxy := httptest.NewServer(hub)
	t.Cleanup(proxy.Close)

	cfg := testConfig(t)
	out, err := run(t, cfg, "status", "--proxy", proxy.URL)
	require.NoError(t, err)
	require.Contains(t, out, "treniren-static-v7")
}

func TestSyncFollowRunsOnProxyBroadcast(t *testing.T) {
	var created atomic.Int32
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		created.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"srv_1"}`))
	}))
	t.Cleanup(apiSrv.Close)

	origin, err := url.Parse("http://app.invalid")
	require.NoError(t, err)
	hub := messaging.NewHub()
	worker := swcache.NewWorker(swcache.NewMemoryStorage(), swcache.DefaultManifest(), origin, http.DefaultClient, swcache.WithClients(hub))
	hub.SetHandler(worker)
	proxy := httptest.NewServer(hub)
	t.Cleanup(proxy.Close)

	cfg := testConfig(t)
	cfg.APIBaseURL = apiSrv.URL

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		cmd := NewRootCommand(cfg)
		cmd.SetArgs([]string{"sync", "--follow", "--proxy", proxy.URL})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		done <- cmd.ExecuteContext(ctx)
	}()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = run(t, cfg, "record", "--type", "GYM")
	require.NoError(t, err)
	require.Zero(t, created.Load())

	require.NoError(t, worker.Sync(context.Background(), swcache.SyncTag))
	require.Eventually(t, func() bool { return created.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	backend, err := localstore.OpenSQLite(cfg.StorePath, 0)
	require.NoError(t, err)
	defer backend.Close()
	require.Eventually(t, func() bool {
		return len(localstore.New(backend).Queue(context.Background())) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync --follow did not stop")
	}
}

func TestSyncFollowRequiresProxy(t *testing.T) {
	_, err := run(t, testConfig(t), "sync", "--follow")
	require.Equal(t, ExitCommandError, GetExitCode(err))
}
