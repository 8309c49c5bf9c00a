package swcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func storages(t *testing.T) map[string]Storage {
	t.Helper()
	sqlite, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func TestStorageRoundTrip(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cache, err := storage.Open(ctx, "treniren-static-v1")
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "http://app.test/_next/static/app.js", nil)
			_, ok, err := cache.Match(ctx, req)
			require.NoError(t, err)
			require.False(t, ok)

			header := http.Header{"Content-Type": []string{"application/javascript"}}
			require.NoError(t, cache.Put(ctx, req, &Response{Status: http.StatusOK, Header: header, Body: []byte("console.log(1)")}))

			got, ok, err := cache.Match(ctx, req)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, http.StatusOK, got.Status)
			require.Equal(t, "application/javascript", got.Header.Get("Content-Type"))
			require.Equal(t, "console.log(1)", string(got.Body))

			post := httptest.NewRequest(http.MethodPost, "http://app.test/_next/static/app.js", nil)
			_, ok, err = cache.Match(ctx, post)
			require.NoError(t, err)
			require.False(t, ok)

			keys, err := cache.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"http://app.test/_next/static/app.js"}, keys)

			deleted, err := cache.Delete(ctx, req)
			require.NoError(t, err)
			require.True(t, deleted)
			deleted, err = cache.Delete(ctx, req)
			require.NoError(t, err)
			require.False(t, deleted)
		})
	}
}

func TestStoragePartitions(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []string{"b", "a"} {
				_, err := storage.Open(ctx, n)
				require.NoError(t, err)
			}
			keys, err := storage.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, keys)

			has, err := storage.Has(ctx, "a")
			require.NoError(t, err)
			require.True(t, has)

			deleted, err := storage.Delete(ctx, "a")
			require.NoError(t, err)
			require.True(t, deleted)

			has, err = storage.Has(ctx, "a")
			require.NoError(t, err)
			require.False(t, has)
		})
	}
}

func TestSQLiteStorageDeleteDropsEntries(t *testing.T) {
	ctx := context.Background()
	storage, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer storage.Close()

	req := httptest.NewRequest(http.MethodGet, "http://app.test/", nil)
	cache, err := storage.Open(ctx, "old")
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, req, &Response{Status: http.StatusOK}))

	_, err = storage.Delete(ctx, "old")
	require.NoError(t, err)

	reopened, err := storage.Open(ctx, "old")
	require.NoError(t, err)
	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestCaptureKeepsBodyReadable(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/html")
	rec.WriteHeader(http.StatusOK)
	_, _ = rec.WriteString("<html></html>")
	resp := rec.Result()

	stored, err := Capture(resp)
	require.NoError(t, err)
	require.True(t, stored.OK())

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	require.Equal(t, "<html></html>", string(buf[:n]))

	rebuilt := stored.HTTPResponse(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rebuilt.StatusCode)
	require.Equal(t, int64(13), rebuilt.ContentLength)
}
