package app

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// CatalogWatcher polls the catalog database and reloads the catalog when
// another process rewrites cards. File stats gate the check: SQLite in WAL
// mode writes to the -wal file first, so both files are fingerprinted. Scan
// history shares the files, so a changed fingerprint is confirmed against the
// catalog stamp before reloading.
type CatalogWatcher struct {
	paths         []string
	checkInterval time.Duration
	stamp         func(context.Context) (string, error)
	reload        func(context.Context) error
	logger        *slog.Logger

	mu        sync.Mutex
	baseline  fingerprint
	lastStamp string
	stopCh    chan struct{}
	done      chan struct{}
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

type fingerprint []fileStamp

func (f fingerprint) equal(other fingerprint) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if !f[i].modTime.Equal(other[i].modTime) || f[i].size != other[i].size {
			return false
		}
	}
	return true
}

// NewCatalogWatcher creates a watcher for the database at dbPath. The current
// state is the baseline, so nothing reloads until the catalog changes.
func NewCatalogWatcher(ctx context.Context, dbPath string, checkInterval time.Duration,
	stamp func(context.Context) (string, error), reload func(context.Context) error, logger *slog.Logger) *CatalogWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &CatalogWatcher{
		paths:         []string{dbPath, dbPath + "-wal"},
		checkInterval: checkInterval,
		stamp:         stamp,
		reload:        reload,
		logger:        logger,
	}
	w.baseline = w.stat()
	if s, err := stamp(ctx); err == nil {
		w.lastStamp = s
	}
	return w
}

// Start begins polling in a background goroutine until Stop or ctx ends.
func (w *CatalogWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		return
	}
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.watchLoop(ctx, w.stopCh, w.done)
}

// Stop stops the polling goroutine and waits for an in-flight reload.
func (w *CatalogWatcher) Stop() {
	w.mu.Lock()
	stop, done := w.stopCh, w.done
	w.stopCh, w.done = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (w *CatalogWatcher) watchLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check polls once and reloads if the catalog changed since the last check.
// A failed reload is logged and not retried until the catalog changes again.
func (w *CatalogWatcher) Check(ctx context.Context) (changed bool, err error) {
	current := w.stat()

	w.mu.Lock()
	defer w.mu.Unlock()
	if current.equal(w.baseline) {
		return false, nil
	}
	w.baseline = current

	stamp, err := w.stamp(ctx)
	if err != nil {
		w.logger.Warn("catalog stamp unavailable", "error", err)
		return false, err
	}
	if stamp == w.lastStamp {
		return false, nil
	}
	w.lastStamp = stamp

	if err := w.reload(ctx); err != nil {
		w.logger.Warn("catalog changed but reload failed; keeping current catalog", "error", err)
		return true, err
	}
	w.logger.Info("catalog reloaded after database change")
	return true, nil
}

func (w *CatalogWatcher) stat() fingerprint {
	fp := make(fingerprint, len(w.paths))
	for i, path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			fp[i] = fileStamp{modTime: info.ModTime(), size: info.Size()}
		}
	}
	return fp
}
