package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps the Store's metrics cache and the optional Archive in step with
// the state directory.
type Watcher struct {
	store   *Store
	archive *Archive
	logger  *slog.Logger
	ready   chan struct{}
}

// NewWatcher creates a Watcher. archive may be nil.
func NewWatcher(store *Store, archive *Archive, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:   store,
		archive: archive,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the directory is being watched and the cache is primed.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches the state directory until ctx is done. On return the store falls
// back to reading files directly.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.store.Dir()); err != nil {
		return fmt.Errorf("watch %s: %w", w.store.Dir(), err)
	}
	defer w.store.Invalidate()

	if err := w.store.Reload(); err != nil {
		w.logger.Warn("Failed to load metrics", "error", err)
	}
	w.ingest()
	close(w.ready)
	w.logger.Info("Watching state directory", "dir", w.store.Dir())

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			switch filepath.Base(ev.Name) {
			case MetricsFile:
				if err := w.store.Reload(); err != nil {
					w.logger.Warn("Failed to reload metrics", "error", err)
				}
			case AlertsFile:
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					w.ingest()
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("State directory watcher error", "error", err)
		}
	}
}

func (w *Watcher) ingest() {
	if w.archive == nil {
		return
	}
	n, err := w.archive.Ingest(w.store.AlertsPath())
	if err != nil {
		w.logger.Error("Failed to archive alerts", "error", err)
		return
	}
	if n > 0 {
		w.logger.Debug("Archived alerts", "count", n)
	}
}
