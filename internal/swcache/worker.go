// Package swcache owns cache storage and the install/activate lifecycle of the offline proxy.
package swcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"

	"example.com/treniren/internal/logging"
)

// State is a lifecycle phase.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Message types exchanged with clients.
const (
	MsgSkipWaiting  = "SKIP_WAITING"
	MsgGetVersion   = "GET_VERSION"
	MsgVersion      = "VERSION"
	MsgSyncWorkouts = "SYNC_WORKOUTS"
)

// SyncTag is the background sync tag that triggers reconciliation.
const SyncTag = "sync-workouts"

// ErrInvalidTransition is returned when a lifecycle step runs in the wrong phase.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Message is the envelope posted between the worker and its clients.
type Message struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

// Clients is the set of client contexts the worker controls.
type Clients interface {
	Claim(ctx context.Context) error
	PostAll(ctx context.Context, msg Message) error
}

// Fetcher performs upstream requests; *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// WorkerOption configures optional behaviour for the Worker.
type WorkerOption func(*Worker)

// WithLogger overrides the worker logger.
func WithLogger(logger *log.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithClients sets the client registry claimed on activation.
func WithClients(clients Clients) WorkerOption {
	return func(w *Worker) {
		w.clients = clients
	}
}

// Worker runs the cache lifecycle for one generation.
//
// Entry actions: installing pre-caches the manifest and drops stale generations owned
// by the prefix; activating drops every partition that is not current and claims clients.
// Cache failures are logged and never block the lifecycle.
type Worker struct {
	storage  Storage
	manifest Manifest
	gen      Generation
	origin   *url.URL
	fetcher  Fetcher
	clients  Clients
	logger   *log.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool
}

// NewWorker constructs a Worker in the parsed state. Pre-cache paths are resolved against origin.
func NewWorker(storage Storage, manifest Manifest, origin *url.URL, fetcher Fetcher, opts ...WorkerOption) *Worker {
	w := &Worker{
		storage:  storage,
		manifest: manifest,
		gen:      manifest.Generation(),
		origin:   origin,
		fetcher:  fetcher,
		clients:  noopClients{},
		logger:   logging.New(logging.Options{Prefix: "swcache"}),
		state:    StateParsed,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Generation returns the current partition names.
func (w *Worker) Generation() Generation { return w.gen }

// Version identifies the active cache generation to clients.
func (w *Worker) Version() string { return w.gen.Static() }

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start installs the worker and, since install always skips waiting, activates it.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	skip := w.skipWaiting
	w.mu.Unlock()
	if !skip {
		return nil
	}
	return w.Activate(ctx)
}

// Install pre-caches the manifest into the static partition and deletes partitions left
// by other generations of this application.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return err
	}

	w.precache(ctx)
	w.deletePartitions(ctx, "install", func(name string) bool {
		return w.gen.IsOwned(name) && !w.gen.IsCurrent(name)
	})

	if err := ctx.Err(); err != nil {
		w.setState(StateRedundant)
		lifecycleCounter.WithLabelValues(string(StateRedundant)).Inc()
		return fmt.Errorf("install abandoned: %w", err)
	}

	w.setState(StateInstalled)
	lifecycleCounter.WithLabelValues(string(StateInstalled)).Inc()
	w.logger.Info("installed", "version", w.Version())

	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
	return nil
}

// Activate deletes every partition that is not part of the current generation, then
// claims all clients.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}

	w.deletePartitions(ctx, "activate", func(name string) bool {
		return !w.gen.IsCurrent(name)
	})

	if err := w.clients.Claim(ctx); err != nil {
		w.logger.Warn("claim clients failed", "err", err)
	}

	w.setState(StateActivated)
	lifecycleCounter.WithLabelValues(string(StateActivated)).Inc()
	w.logger.Info("activated", "version", w.Version())
	return nil
}

// SkipWaiting lets an installed worker activate without waiting for old clients to close.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	w.skipWaiting = true
	waiting := w.state == StateInstalled
	w.mu.Unlock()

	if !waiting {
		return nil
	}
	return w.Activate(ctx)
}

// HandleMessage processes a client message and returns the reply, if any.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) (*Message, error) {
	switch msg.Type {
	case MsgSkipWaiting:
		return nil, w.SkipWaiting(ctx)
	case MsgGetVersion:
		return &Message{Type: MsgVersion, Version: w.Version()}, nil
	default:
		w.logger.Debug("ignoring message", "type", msg.Type)
		return nil, nil
	}
}

// Sync handles a background sync event. Only SyncTag is acted on.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		return nil
	}
	return w.clients.PostAll(ctx, Message{Type: MsgSyncWorkouts})
}

func (w *Worker) precache(ctx context.Context) {
	cache, err := w.storage.Open(ctx, w.gen.Static())
	if err != nil {
		w.logger.Error("open static cache failed", "err", err)
		precacheCounter.WithLabelValues("error").Add(float64(len(w.manifest.Precache)))
		return
	}

	for _, p := range w.manifest.Precache {
		if err := w.precacheOne(ctx, cache, p); err != nil {
			w.logger.Warn("precache failed", "path", p, "err", err)
			precacheCounter.WithLabelValues("error").Inc()
			continue
		}
		precacheCounter.WithLabelValues("stored").Inc()
	}
}

func (w *Worker) precacheOne(ctx context.Context, cache Cache, p string) error {
	ref, err := url.Parse(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.origin.ResolveReference(ref).String(), nil)
	if err != nil {
		return err
	}
	resp, err := w.fetcher.Do(req)
	if err != nil {
		return err
	}
	stored, err := Capture(resp)
	if err != nil {
		return err
	}
	if !stored.OK() {
		return fmt.Errorf("unexpected status %d", stored.Status)
	}
	return cache.Put(ctx, req, stored)
}

func (w *Worker) deletePartitions(ctx context.Context, phase string, stale func(string) bool) {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.logger.Error("list caches failed", "phase", phase, "err", err)
		return
	}
	for _, name := range names {
		if !stale(name) {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.logger.Warn("delete cache failed", "phase", phase, "cache", name, "err", err)
			continue
		}
		partitionsDeletedCounter.WithLabelValues(phase).Inc()
		w.logger.Info("deleted cache", "phase", phase, "cache", name)
	}
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.state, to)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

type noopClients struct{}

func (noopClients) Claim(context.Context) error            { return nil }
func (noopClients) PostAll(context.Context, Message) error { return nil }
