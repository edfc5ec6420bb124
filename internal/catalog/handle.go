package catalog

import (
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrNoCatalog is returned by Acquire before the first Swap.
var ErrNoCatalog = errors.New("no catalog loaded")

type snapshot struct {
	idx *Index
	// refs counts outstanding leases plus one while the snapshot is current.
	refs   atomic.Int64
	retire func(*Index)
}

func (s *snapshot) tryAcquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *snapshot) release() {
	if s.refs.Add(-1) == 0 && s.retire != nil {
		s.retire(s.idx)
	}
}

// Handle is the shared, swappable reference to the active Index. Readers
// never block: Acquire and Release are lock-free.
type Handle struct {
	current  atomic.Pointer[snapshot]
	onRetire func(*Index)
	logger   *slog.Logger
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithRetireHook registers fn to run when a swapped-out index loses its
// last lease.
func WithRetireHook(fn func(*Index)) HandleOption {
	return func(h *Handle) { h.onRetire = fn }
}

// WithHandleLogger sets the logger used for swap and retire events.
func WithHandleLogger(logger *slog.Logger) HandleOption {
	return func(h *Handle) { h.logger = logger }
}

// NewHandle creates an empty handle.
func NewHandle(opts ...HandleOption) *Handle {
	h := &Handle{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Swap installs idx as the active index and returns the previous one, which
// stays usable by existing leases until they are released. A nil idx leaves
// the handle unchanged and returns nil.
func (h *Handle) Swap(idx *Index) *Index {
	if idx == nil {
		h.logger.Warn("ignoring swap to nil catalog")
		return nil
	}
	s := &snapshot{idx: idx, retire: h.retired}
	s.refs.Store(1)

	old := h.current.Swap(s)
	h.logger.Info("catalog swapped", "version", idx.Version(), "cards", idx.Len())
	if old == nil {
		return nil
	}
	old.release()
	return old.idx
}

func (h *Handle) retired(idx *Index) {
	h.logger.Debug("catalog retired", "version", idx.Version())
	if h.onRetire != nil {
		h.onRetire(idx)
	}
}

// Current returns the active index without taking a lease, or nil. Use it
// for status reporting only; identification must go through Acquire.
func (h *Handle) Current() *Index {
	s := h.current.Load()
	if s == nil {
		return nil
	}
	return s.idx
}

// Acquire leases the active index. The caller must Release the lease.
func (h *Handle) Acquire() (*Lease, error) {
	for {
		s := h.current.Load()
		if s == nil {
			return nil, ErrNoCatalog
		}
		if !s.tryAcquire() {
			continue
		}
		// A swap between Load and tryAcquire leases an index that is no
		// longer current; retry so new work always sees the newest one.
		if h.current.Load() != s {
			s.release()
			continue
		}
		return &Lease{snap: s}, nil
	}
}

// Lease keeps one Index alive.
type Lease struct {
	snap     *snapshot
	released atomic.Bool
}

// Index returns the leased index.
func (l *Lease) Index() *Index {
	return l.snap.idx
}

// Release drops the lease. Calling it more than once is harmless.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	if l.released.CompareAndSwap(false, true) {
		l.snap.release()
	}
}
