package localstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"example.com/treniren/internal/logging"
)

// Watcher reports writes to a SQLite store file made by any process, including ones
// this process cannot observe through a Notifier. Events are coalesced over a short window.
type Watcher struct {
	fs       *fsnotify.Watcher
	base     string
	debounce time.Duration
	out      chan Change
	logger   *log.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger overrides the watcher logger.
func WithWatcherLogger(logger *log.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce overrides the coalescing window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher watches the directory holding the database at path.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		fs:       fw,
		base:     filepath.Base(path),
		debounce: 100 * time.Millisecond,
		out:      make(chan Change, 1),
		logger:   logging.New(logging.Options{Prefix: "localstore-watch"}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Changes delivers one Change per coalesced burst of file writes.
func (w *Watcher) Changes() <-chan Change {
	return w.out
}

// Run blocks until ctx is cancelled, then closes the underlying watcher and the Changes channel.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)
	defer w.fs.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if pending == nil {
				pending = time.After(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		case <-pending:
			pending = nil
			select {
			case w.out <- Change{}:
			default:
			}
		}
	}
}

// relevant matches the database file and its -wal / -journal siblings.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), w.base)
}
