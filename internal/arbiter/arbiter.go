package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"example.com/treniren/internal/logging"
	"example.com/treniren/internal/swcache"
)

// ErrNetwork wraps every failure to reach the upstream.
var ErrNetwork = errors.New("network request failed")

type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Option configures optional behaviour for the Arbiter.
type Option func(*Arbiter)

// WithLogger overrides the arbiter logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

// Arbiter applies the cache strategies in front of an upstream transport.
type Arbiter struct {
	storage  swcache.Storage
	manifest swcache.Manifest
	gen      swcache.Generation
	upstream http.RoundTripper
	logger   *log.Logger
}

// New constructs an Arbiter over storage using manifest for classification and partition names.
func New(storage swcache.Storage, manifest swcache.Manifest, upstream http.RoundTripper, opts ...Option) *Arbiter {
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	a := &Arbiter{
		storage:  storage,
		manifest: manifest,
		gen:      manifest.Generation(),
		upstream: upstream,
		logger:   logging.New(logging.Options{Prefix: "arbiter"}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fetch answers req according to its class.
func (a *Arbiter) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	class := Classify(req, a.manifest)

	switch class {
	case ClassBypass:
		resp, err := a.network(req)
		observe(class, outcomeFor(err, "network"))
		return resp, err
	case ClassAPI, ClassOther:
		return a.networkFirst(ctx, req, class, "")
	case ClassNavigation:
		return a.networkFirst(ctx, req, class, a.manifest.Home)
	default:
		return a.cacheFirst(ctx, req, class)
	}
}

// networkFirst prefers a fresh response, caching 2xx answers in the dynamic partition,
// and falls back to the exact cached entry, then the fallback path, then a 503.
func (a *Arbiter) networkFirst(ctx context.Context, req *http.Request, class Class, fallback string) (*http.Response, error) {
	resp, err := a.network(req)
	if err == nil {
		if ok(resp) {
			a.store(ctx, a.gen.Dynamic(), req, resp)
		}
		observe(class, "network")
		return resp, nil
	}
	a.logger.Debug("network failed, trying cache", "url", req.URL.String(), "err", err)

	if cached := a.match(ctx, req); cached != nil {
		observe(class, "cache")
		return cached.HTTPResponse(req), nil
	}

	if fallback != "" {
		fallbackReq := req.Clone(ctx)
		fallbackReq.URL.Path = fallback
		fallbackReq.URL.RawPath = ""
		fallbackReq.URL.RawQuery = ""
		if cached := a.match(ctx, fallbackReq); cached != nil {
			observe(class, "fallback")
			return cached.HTTPResponse(req), nil
		}
	}

	observe(class, "offline")
	return offlineResponse(req), nil
}

// cacheFirst serves cached entries without touching the network. Broken chunk references
// are evicted and retried once before degrading to an empty 404.
func (a *Arbiter) cacheFirst(ctx context.Context, req *http.Request, class Class) (*http.Response, error) {
	if cached := a.match(ctx, req); cached != nil {
		observe(class, "cache")
		return cached.HTTPResponse(req), nil
	}

	resp, err := a.network(req)
	if err == nil {
		if ok(resp) {
			a.store(ctx, a.gen.Static(), req, resp)
		}
		observe(class, "network")
		return resp, nil
	}

	if !a.manifest.IsChunk(req.URL.Path) {
		observe(class, "error")
		return nil, err
	}

	a.logger.Warn("stale chunk, evicting and retrying", "url", req.URL.String(), "err", err)
	a.evict(ctx, req)

	resp, err = a.network(req)
	if err == nil {
		observe(class, "chunk_retry")
		return resp, nil
	}

	observe(class, "not_found")
	return notFoundResponse(req), nil
}

func (a *Arbiter) network(req *http.Request) (*http.Response, error) {
	resp, err := a.upstream.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return resp, nil
}

// match looks req up across every partition, like a storage-wide cache match.
func (a *Arbiter) match(ctx context.Context, req *http.Request) *swcache.Response {
	names, err := a.storage.Keys(ctx)
	if err != nil {
		a.logger.Warn("list caches failed", "err", err)
		return nil
	}
	for _, name := range names {
		cache, err := a.storage.Open(ctx, name)
		if err != nil {
			a.logger.Warn("open cache failed", "cache", name, "err", err)
			continue
		}
		resp, found, err := cache.Match(ctx, req)
		if err != nil {
			a.logger.Warn("cache match failed", "cache", name, "err", err)
			continue
		}
		if found {
			return resp
		}
	}
	return nil
}

func (a *Arbiter) store(ctx context.Context, partition string, req *http.Request, resp *http.Response) {
	stored, err := swcache.Capture(resp)
	if err != nil {
		a.logger.Warn("capture response failed", "url", req.URL.String(), "err", err)
		return
	}
	cache, err := a.storage.Open(ctx, partition)
	if err != nil {
		a.logger.Warn("open cache failed", "cache", partition, "err", err)
		return
	}
	if err := cache.Put(ctx, req, stored); err != nil {
		a.logger.Warn("cache put failed", "cache", partition, "url", req.URL.String(), "err", err)
	}
}

func (a *Arbiter) evict(ctx context.Context, req *http.Request) {
	cache, err := a.storage.Open(ctx, a.gen.Static())
	if err != nil {
		a.logger.Warn("open cache failed", "err", err)
		return
	}
	if _, err := cache.Delete(ctx, req); err != nil {
		a.logger.Warn("evict failed", "url", req.URL.String(), "err", err)
	}
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// OfflineBody is the JSON body of the synthesized 503.
func OfflineBody() []byte {
	body, _ := json.Marshal(offlineBody{Error: "offline", Message: "Content not available offline"})
	return body
}

func offlineResponse(req *http.Request) *http.Response {
	body := OfflineBody()
	return synthesize(req, http.StatusServiceUnavailable, http.Header{"Content-Type": []string{"application/json"}}, body)
}

func notFoundResponse(req *http.Request) *http.Response {
	return synthesize(req, http.StatusNotFound, http.Header{}, nil)
}

func synthesize(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func outcomeFor(err error, success string) string {
	if err != nil {
		return "error"
	}
	return success
}
