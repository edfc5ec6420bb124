// Package identify runs one frame through extraction, hash filtering and
// geometric verification against a catalog snapshot.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"cardscan/internal/candidate"
	"cardscan/internal/catalog"
	"cardscan/internal/features"
	"cardscan/internal/frame"
	"cardscan/internal/phash"
	"cardscan/internal/verify"

	"github.com/google/uuid"
)

// Extractor turns a frame into matchable features.
type Extractor interface {
	Extract(f *frame.Frame) (*features.ExtractedFeatures, error)
}

// Params controls the pipeline.
type Params struct {
	TopK            int
	MaxHashDistance int
	// Budget bounds one invocation; zero disables it.
	Budget time.Duration
}

// DefaultParams returns the pipeline defaults.
func DefaultParams() Params {
	return Params{
		TopK:            8,
		MaxHashDistance: 40,
		Budget:          250 * time.Millisecond,
	}
}

// Pipeline is safe for concurrent use; each call owns its own state.
type Pipeline struct {
	extractor Extractor
	verifier  *verify.Verifier
	params    Params
	recorder  ScanRecorder
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder sends a ScanEvent to r for every matched invocation.
func WithRecorder(r ScanRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a pipeline.
func New(extractor Extractor, verifier *verify.Verifier, params Params, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		verifier:  verifier,
		params:    params,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Params returns the pipeline configuration.
func (p *Pipeline) Params() Params {
	return p.params
}

// invocation tracks the state machine of one Identify call.
type invocation struct {
	ctx   context.Context
	stage Stage
	out   Outcome
}

func (inv *invocation) enter(s Stage) error {
	if err := inv.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w before %s", ErrTimeout, s)
		}
		return err
	}
	inv.stage = s
	return nil
}

func (inv *invocation) fail(err error) Outcome {
	inv.out.Kind = KindFailed
	inv.out.Err = err
	inv.out.FailedAt = inv.stage
	inv.out.Stage = StageFailed
	return inv.out
}

func (inv *invocation) complete(kind Kind) Outcome {
	inv.out.Kind = kind
	inv.out.Stage = StageCompleted
	return inv.out
}

// Identify runs f against idx. The result depends only on the frame, the
// index and the configuration. A frame showing no catalog card completes
// with KindNoMatch; only extraction problems, cancellation and budget
// overruns produce KindFailed.
func (p *Pipeline) Identify(ctx context.Context, f *frame.Frame, idx *catalog.Index) Outcome {
	if f == nil {
		f = &frame.Frame{}
	}
	out := p.run(ctx, f, idx)
	p.log(f, out)
	if out.Kind == KindMatched && p.recorder != nil {
		p.record(ctx, f, out)
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, f *frame.Frame, idx *catalog.Index) Outcome {
	if p.params.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.params.Budget)
		defer cancel()
	}
	inv := &invocation{ctx: ctx, stage: StageReceived}
	if idx == nil {
		return inv.fail(catalog.ErrNoCatalog)
	}
	inv.out.Trace.CatalogVersion = idx.Version()

	if err := inv.enter(StageExtracting); err != nil {
		return inv.fail(err)
	}
	start := time.Now()
	feats, err := p.extractor.Extract(f)
	inv.out.Trace.Extract = time.Since(start)
	if err != nil {
		return inv.fail(err)
	}
	inv.out.Trace.Keypoints = len(feats.Keypoints)
	inv.out.Trace.Located = feats.Outline != nil

	if err := inv.enter(StageFiltering); err != nil {
		return inv.fail(err)
	}
	if idx.Len() > 0 && len(feats.Hash) != idx.HashLen() {
		return inv.fail(fmt.Errorf("%w: frame %d bytes, catalog %d bytes", ErrHashMismatch, len(feats.Hash), idx.HashLen()))
	}
	start = time.Now()
	set := candidate.Filter(queryHashes(feats), idx, p.params.TopK, p.params.MaxHashDistance)
	inv.out.Trace.Filter = time.Since(start)
	inv.out.Trace.Candidates = set
	if set.Len() == 0 {
		return inv.complete(KindNoMatch)
	}

	if err := inv.enter(StageVerifying); err != nil {
		return inv.fail(err)
	}
	start = time.Now()
	res := p.verifier.Verify(feats, set, idx)
	inv.out.Trace.Verify = time.Since(start)
	inv.out.Trace.Evaluated = res.Evaluated
	inv.out.Trace.EarlyExit = res.EarlyExit

	// Verification is never interrupted, but a result that arrives after
	// the budget is stale.
	if err := inv.enter(StageCompleted); err != nil {
		return inv.fail(err)
	}
	if !res.Accepted {
		return inv.complete(KindNoMatch)
	}

	outline := res.Best.Outline
	inv.out.Result = MatchResult{
		ID:         res.Best.CardID,
		Confidence: p.verifier.Confidence(res.Best),
		Inliers:    res.Best.Inliers,
		Outline:    &outline,
	}
	return inv.complete(KindMatched)
}

// queryHashes returns the quarter-turn hash variants, falling back to the
// plain hash for features built without them. A located card adds its
// straightened turns; the whole-frame ones stay for frames the card fills.
func queryHashes(feats *features.ExtractedFeatures) []phash.Hash {
	if len(feats.Rotations[0]) == 0 {
		return []phash.Hash{feats.Hash}
	}
	hashes := slices.Clone(feats.Rotations[:])
	if feats.Outline != nil {
		hashes = append(hashes, feats.CardRotations[:]...)
	}
	return hashes
}

func (p *Pipeline) record(ctx context.Context, f *frame.Frame, out Outcome) {
	ev := ScanEvent{
		EventID:    uuid.NewString(),
		CardID:     out.Result.ID,
		SessionID:  f.SessionID,
		RequestID:  f.RequestID,
		Confidence: out.Result.Confidence,
		Inliers:    out.Result.Inliers,
		At:         time.Now().UTC(),
	}
	// The match is already final, so a caller that has gone away does not
	// stop the event.
	if err := p.recorder.RecordScan(context.WithoutCancel(ctx), ev); err != nil {
		p.logger.Warn("scan record failed",
			"card_id", ev.CardID,
			"session", ev.SessionID,
			"error", err)
	}
}

func (p *Pipeline) log(f *frame.Frame, out Outcome) {
	attrs := []any{
		"kind", out.Kind.String(),
		"session", f.SessionID,
		"request_id", f.RequestID,
		"catalog_version", out.Trace.CatalogVersion,
		"keypoints", out.Trace.Keypoints,
		"candidates", out.Trace.Candidates.Len(),
		"evaluated", out.Trace.Evaluated,
	}
	switch out.Kind {
	case KindMatched:
		p.logger.Debug("card identified", append(attrs,
			"card_id", out.Result.ID,
			"inliers", out.Result.Inliers,
			"confidence", out.Result.Confidence)...)
	case KindNoMatch:
		p.logger.Debug("no match", attrs...)
	case KindFailed:
		p.logger.Debug("identification failed", append(attrs,
			"stage", out.FailedAt.String(),
			"error", out.Err)...)
	}
}
