// Package app wires the catalog store, the identification pipeline and the
// frame scheduler into one engine with catalog lifecycle events.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cardscan/internal/catalog"
	"cardscan/internal/config"
	"cardscan/internal/features"
	"cardscan/internal/frame"
	"cardscan/internal/identify"
	"cardscan/internal/ingest"
	"cardscan/internal/phash"
	"cardscan/internal/scheduler"
	"cardscan/internal/store"
	"cardscan/internal/verify"
)

// EventType identifies engine events.
type EventType int

const (
	EventCatalogLoaded       EventType = iota // data: *catalog.Index
	EventCatalogReloadFailed                  // data: error
	EventCatalogRetired                       // data: *catalog.Index
	EventScanRecorded                         // data: identify.ScanEvent
	EventIngestFinished                       // data: ingest.Report
)

// EventListener is called when an event occurs. Listeners run on the
// goroutine that raised the event and must not block.
type EventListener func(data any)

// Engine owns the long-lived identification components.
type Engine struct {
	mu sync.RWMutex

	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	extractor *features.Extractor
	handle    *catalog.Handle
	pipeline  *identify.Pipeline
	scheduler *scheduler.Scheduler

	listeners map[EventType][]EventListener
}

// Open opens the catalog database, loads the catalog and starts the
// scheduler workers. An empty database yields an empty, usable catalog.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine requires a config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(ctx, store.Options{Path: cfg.Paths.CatalogDB, Driver: cfg.Store.Driver})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		extractor: features.New(cfg.ExtractorParams()),
		listeners: make(map[EventType][]EventListener),
	}
	e.handle = catalog.NewHandle(
		catalog.WithHandleLogger(logger.With("component", "catalog")),
		catalog.WithRetireHook(func(idx *catalog.Index) { e.Emit(EventCatalogRetired, idx) }),
	)
	e.pipeline = identify.New(e.extractor, verify.New(cfg.VerifierParams()), cfg.PipelineParams(),
		identify.WithRecorder(scanRecorder{e}),
		identify.WithLogger(logger.With("component", "identify")),
	)
	e.scheduler = scheduler.New(e.pipeline.Identify, e.handle, cfg.SchedulerParams(),
		scheduler.WithLogger(logger.With("component", "scheduler")))

	if _, err := e.Reload(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// On registers an event listener for the specified event type.
func (e *Engine) On(event EventType, listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (e *Engine) Emit(event EventType, data any) {
	e.mu.RLock()
	listeners := e.listeners[event]
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Reload rebuilds the catalog from the database and swaps it in. On failure
// the serving catalog is left untouched.
func (e *Engine) Reload(ctx context.Context) (*catalog.Index, error) {
	idx, err := catalog.Load(ctx, e.store, catalog.Options{
		Extractor: e.extractor,
		ImageRoot: e.cfg.Paths.ImagesDir,
		Logger:    e.logger.With("component", "catalog"),
	})
	if err != nil {
		e.logger.Warn("catalog reload failed", "component", "engine", "error", err)
		e.Emit(EventCatalogReloadFailed, err)
		return nil, err
	}
	if want := phash.ByteLen(e.extractor.Params().HashGrid); idx.Len() > 0 && idx.HashLen() != want {
		// Served anyway so a forced ingest can rebuild it; frames fail until then.
		e.logger.Warn("catalog hash size differs from extractor.hash_grid",
			"component", "engine",
			"catalog_bytes", idx.HashLen(),
			"extractor_bytes", want)
	}
	e.handle.Swap(idx)
	e.Emit(EventCatalogLoaded, idx)
	return idx, nil
}

// Identify runs one frame synchronously against the current catalog.
func (e *Engine) Identify(ctx context.Context, f *frame.Frame) identify.Outcome {
	out, _ := e.IdentifyCard(ctx, f)
	return out
}

// IdentifyCard is Identify that also returns the matched card, looked up in
// the same catalog the frame was matched against. The card is nil unless
// the outcome is a match.
func (e *Engine) IdentifyCard(ctx context.Context, f *frame.Frame) (identify.Outcome, *catalog.CardReference) {
	lease, err := e.handle.Acquire()
	if err != nil {
		return e.pipeline.Identify(ctx, f, nil), nil
	}
	defer lease.Release()
	out := e.pipeline.Identify(ctx, f, lease.Index())
	if !out.Result.Found() {
		return out, nil
	}
	card, err := lease.Index().Lookup(out.Result.ID)
	if err != nil {
		return out, nil
	}
	return out, card
}

// Submit queues a frame on the scheduler.
func (e *Engine) Submit(ctx context.Context, req scheduler.Request) (<-chan scheduler.Response, error) {
	return e.scheduler.Submit(ctx, req)
}

// Ingest builds catalog entries from a manifest under the ingest lock and
// reloads the catalog when anything was written.
func (e *Engine) Ingest(ctx context.Context, cards []ingest.ManifestCard, force bool) (ingest.Report, error) {
	lock, err := e.store.LockIngest()
	if err != nil {
		return ingest.Report{}, err
	}
	defer lock.Unlock()

	report, err := ingest.Run(ctx, cards, e.store, ingest.Options{
		ImagesDir:   e.cfg.Paths.ImagesDir,
		Concurrency: e.cfg.Ingest.Concurrency,
		Force:       force,
		Extractor:   e.extractor,
		Logger:      e.logger.With("component", "ingest"),
	})
	if err != nil {
		return report, err
	}
	e.Emit(EventIngestFinished, report)
	if report.Computed+report.MetadataOnly > 0 {
		if _, err := e.Reload(ctx); err != nil {
			return report, fmt.Errorf("reload after ingest: %w", err)
		}
	}
	return report, nil
}

// Watch starts a catalog watcher when enabled in the config. The returned
// watcher is nil when watching is disabled.
func (e *Engine) Watch(ctx context.Context) *CatalogWatcher {
	if !e.cfg.Watcher.Enabled {
		return nil
	}
	w := NewCatalogWatcher(ctx, e.store.Path(), e.cfg.PollInterval(), e.store.CatalogStamp,
		func(ctx context.Context) error {
			_, err := e.Reload(ctx)
			return err
		}, e.logger.With("component", "watcher"))
	w.Start(ctx)
	return w
}

func (e *Engine) Config() *config.Config { return e.cfg }
func (e *Engine) Store() *store.Store { return e.store }
func (e *Engine) Handle() *catalog.Handle { return e.handle }
func (e *Engine) Pipeline() *identify.Pipeline { return e.pipeline }
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Close stops the scheduler and closes the database.
func (e *Engine) Close() error {
	if e.scheduler != nil {
		e.scheduler.Close()
	}
	return e.store.Close()
}

type scanRecorder struct {
	e *Engine
}

func (r scanRecorder) RecordScan(ctx context.Context, ev identify.ScanEvent) error {
	if err := r.e.store.RecordScan(ctx, ev); err != nil {
		return err
	}
	r.e.Emit(EventScanRecorded, ev)
	return nil
}
