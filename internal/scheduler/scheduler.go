// Package scheduler admits identification requests, bounds how many run at
// once and drops stale frames in favour of newer ones from the same session.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"cardscan/internal/catalog"
	"cardscan/internal/frame"
	"cardscan/internal/identify"
)

var (
	// ErrBusy means the queue is full. Retry with a fresh frame.
	ErrBusy = errors.New("scheduler busy")
	// ErrSuperseded means a newer frame from the same session replaced this one.
	ErrSuperseded = errors.New("request superseded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scheduler closed")
)

// RunFunc performs one identification.
type RunFunc func(ctx context.Context, f *frame.Frame, idx *catalog.Index) identify.Outcome

// Request is one frame submitted for identification. Seq orders frames
// within a session; zero assigns the next number. Requests without a
// SessionID are never superseded.
type Request struct {
	SessionID string
	Seq       uint64
	Frame     *frame.Frame
}

// Response resolves a Request. Err is set when the request never ran.
type Response struct {
	SessionID      string
	Seq            uint64
	Outcome        identify.Outcome
	Err            error
	CatalogVersion uint64
	Elapsed        time.Duration // from submission to resolution
}

// Params bounds the scheduler.
type Params struct {
	Workers   int
	QueueSize int
}

// DefaultParams sizes the pool to the machine.
func DefaultParams() Params {
	w := runtime.GOMAXPROCS(0)
	return Params{Workers: w, QueueSize: 2 * w}
}

func (p Params) normalized() Params {
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 2 * p.Workers
	}
	return p
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Workers    int
	QueueSize  int
	Queued     int
	Running    int
	Submitted  uint64
	Completed  uint64
	Superseded uint64
	Rejected   uint64
}

type job struct {
	ctx      context.Context
	req      Request
	lease    *catalog.Lease
	resp     chan Response
	enqueued time.Time
}

// resolve delivers the response and releases the lease. It is called exactly
// once per job.
func (j *job) resolve(r Response) {
	r.SessionID = j.req.SessionID
	r.Seq = j.req.Seq
	r.Elapsed = time.Since(j.enqueued)
	if j.lease != nil {
		r.CatalogVersion = j.lease.Index().Version()
		j.lease.Release()
	}
	j.resp <- r
}

// Scheduler runs requests on a fixed worker pool behind a bounded queue.
type Scheduler struct {
	run    RunFunc
	handle *catalog.Handle
	params Params
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	pending map[string]*job   // queued, not started, per session
	lastSeq map[string]uint64 // newest accepted sequence per session
	running int
	closed  bool
	stats   Stats

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New starts params.Workers workers. Every request leases the catalog that is
// current in handle at submission and runs against it.
func New(run RunFunc, handle *catalog.Handle, params Params, opts ...Option) *Scheduler {
	params = params.normalized()
	s := &Scheduler{
		run:     run,
		handle:  handle,
		params:  params,
		logger:  slog.Default(),
		pending: make(map[string]*job),
		lastSeq: make(map[string]uint64),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(params.Workers)
	for i := 0; i < params.Workers; i++ {
		go s.worker()
	}
	return s
}

// Submit queues req and returns a channel that receives exactly one
// Response. It fails immediately with ErrBusy when the queue is full,
// ErrSuperseded when req is older than a frame already accepted for the
// session, or ErrClosed.
func (s *Scheduler) Submit(ctx context.Context, req Request) (<-chan Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	session := req.SessionID
	var replaced *job
	if session != "" {
		last := s.lastSeq[session]
		if req.Seq == 0 {
			req.Seq = last + 1
		} else if req.Seq <= last {
			s.stats.Superseded++
			return nil, fmt.Errorf("%w: seq %d, session already at %d", ErrSuperseded, req.Seq, last)
		}
		replaced = s.pending[session]
	}
	if replaced == nil && len(s.queue) >= s.params.QueueSize {
		s.stats.Rejected++
		return nil, ErrBusy
	}

	lease, err := s.handle.Acquire()
	if err != nil {
		return nil, err
	}

	if req.Frame != nil {
		req.Frame.Seq = req.Seq
		req.Frame.SessionID = session
	}
	j := &job{
		ctx:      ctx,
		req:      req,
		lease:    lease,
		resp:     make(chan Response, 1),
		enqueued: time.Now(),
	}
	s.stats.Submitted++

	if session != "" {
		s.lastSeq[session] = req.Seq
		s.pending[session] = j
	}
	if replaced != nil {
		// The newer frame takes the older one's place in line.
		for i, q := range s.queue {
			if q == replaced {
				s.queue[i] = j
				break
			}
		}
		s.stats.Superseded++
		s.logger.Debug("frame superseded",
			"session", session,
			"dropped_seq", replaced.req.Seq,
			"seq", req.Seq)
		replaced.resolve(Response{Err: ErrSuperseded})
		return j.resp, nil
	}

	s.queue = append(s.queue, j)
	s.cond.Signal()
	return j.resp, nil
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if s.pending[j.req.SessionID] == j {
			delete(s.pending, j.req.SessionID)
		}
		s.running++
		s.mu.Unlock()

		resp := s.execute(j)

		s.mu.Lock()
		s.running--
		s.stats.Completed++
		s.mu.Unlock()

		j.resolve(resp)
	}
}

func (s *Scheduler) execute(j *job) Response {
	if err := j.ctx.Err(); err != nil {
		return Response{Err: err}
	}
	return Response{Outcome: s.run(j.ctx, j.req.Frame, j.lease.Index())}
}

// EndSession forgets the sequence state of a session. A queued frame from the
// session still runs, but frames of a new session under the same id no
// longer replace it.
func (s *Scheduler) EndSession(session string) {
	s.mu.Lock()
	delete(s.lastSeq, session)
	delete(s.pending, session)
	s.mu.Unlock()
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Workers = s.params.Workers
	st.QueueSize = s.params.QueueSize
	st.Queued = len(s.queue)
	st.Running = s.running
	return st
}

// Close rejects queued requests with ErrClosed, waits for running ones and
// stops the workers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := s.queue
	s.queue = nil
	clear(s.pending)
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, j := range dropped {
		j.resolve(Response{Err: ErrClosed})
	}
	s.wg.Wait()
}
