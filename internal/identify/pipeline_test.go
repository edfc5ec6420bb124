package identify

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"cardscan/internal/catalog"
	"cardscan/internal/features"
	"cardscan/internal/frame"
	"cardscan/internal/testsupport"
	"cardscan/internal/verify"
)

type fixture struct {
	extractor *features.Extractor
	idx       *catalog.Index
	cards     map[string]*image.RGBA
}

var (
	fixtureOnce sync.Once
	shared      fixture
	fixtureErr  error
)

// catalogABC builds a catalog of three synthetic cards from their own
// extracted features.
func catalogABC(t *testing.T) fixture {
	t.Helper()
	fixtureOnce.Do(func() {
		ex := features.New(features.DefaultParams())
		cards := map[string]*image.RGBA{
			"A": testsupport.SyntheticCard(101),
			"B": testsupport.SyntheticCard(102),
			"C": testsupport.SyntheticCard(103),
		}
		var recs catalog.SliceSource
		for _, id := range []string{"A", "B", "C"} {
			feats, err := ex.Extract(frame.FromImage(cards[id], ""))
			if err != nil {
				fixtureErr = err
				return
			}
			recs = append(recs, catalog.Record{
				ID:          id,
				Name:        "Card " + id,
				Hash:        feats.Hash,
				Keypoints:   feats.Points(),
				Descriptors: feats.Descriptors,
				Width:       feats.Width,
				Height:      feats.Height,
			})
		}
		idx, err := catalog.Load(context.Background(), recs, catalog.Options{})
		if err != nil {
			fixtureErr = err
			return
		}
		shared = fixture{extractor: ex, idx: idx, cards: cards}
	})
	if fixtureErr != nil {
		t.Fatalf("building catalog: %v", fixtureErr)
	}
	return shared
}

func newPipeline(fx fixture, opts ...Option) *Pipeline {
	params := DefaultParams()
	params.Budget = 0 // CI machines are slow; budget is covered separately
	return New(fx.extractor, verify.New(verify.DefaultParams()), params, opts...)
}

func TestIdentifyTransformedReferences(t *testing.T) {
	fx := catalogABC(t)
	p := newPipeline(fx)
	minInliers := verify.DefaultParams().MinInliers

	bg := testsupport.Backdrop
	tests := []struct {
		name    string
		id      string
		img     image.Image
		located bool
	}{
		{"identity", "A", fx.cards["A"], false},
		{"rotated 90", "B", testsupport.Rotate90(fx.cards["B"]), false},
		{"rotated 180", "C", testsupport.Rotate180(fx.cards["C"]), false},
		{"scaled", "A", testsupport.Scale(fx.cards["A"], 0.8), false},
		{"cropped", "B", testsupport.Crop(fx.cards["B"], 0.06), false},
		{"rotated 25 on table", "C", testsupport.RotateOnCanvas(fx.cards["C"], 25, bg), true},
		{"rotated -15 on table", "A", testsupport.RotateOnCanvas(fx.cards["A"], -15, bg), true},
		{"placed on table", "B", testsupport.Place(fx.cards["B"], 420, 540, image.Pt(70, 60)), true},
		{"tilted", "A", testsupport.Tilt(fx.cards["A"], 0.06, bg), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Identify(context.Background(), frame.FromImage(tt.img, "s1"), fx.idx)
			if out.Kind != KindMatched {
				t.Fatalf("kind = %s, err = %v, candidates = %v", out.Kind, out.Err, out.Trace.Candidates.IDs())
			}
			if out.Result.ID != tt.id {
				t.Fatalf("matched %s, want %s", out.Result.ID, tt.id)
			}
			if out.Result.Inliers < minInliers {
				t.Fatalf("inliers %d below %d", out.Result.Inliers, minInliers)
			}
			if out.Result.Confidence <= 0 || out.Result.Confidence > 1 {
				t.Fatalf("confidence %v", out.Result.Confidence)
			}
			if out.Result.Outline == nil || out.Stage != StageCompleted {
				t.Fatalf("outline %v stage %s", out.Result.Outline, out.Stage)
			}
			if _, err := fx.idx.Lookup(out.Result.ID); err != nil {
				t.Fatalf("matched id not in index: %v", err)
			}
			if tt.located && !out.Trace.Located {
				t.Fatal("card outline not located on the table")
			}
		})
	}
}

func TestSkipOutlineLeavesTraceUnlocated(t *testing.T) {
	fx := catalogABC(t)
	params := features.DefaultParams()
	params.SkipOutline = true
	p := New(features.New(params), verify.New(verify.DefaultParams()), Params{TopK: 8, MaxHashDistance: 40})

	img := testsupport.RotateOnCanvas(fx.cards["C"], 25, testsupport.Backdrop)
	out := p.Identify(context.Background(), frame.FromImage(img, "s1"), fx.idx)
	if out.Trace.Located {
		t.Fatal("outline located with SkipOutline set")
	}
	if out.Kind == KindMatched && out.Result.ID != "C" {
		t.Fatalf("matched wrong card %s", out.Result.ID)
	}
}

func TestHashGridMismatchFails(t *testing.T) {
	fx := catalogABC(t)
	params := features.DefaultParams()
	params.HashGrid = 8
	p := New(features.New(params), verify.New(verify.DefaultParams()), Params{TopK: 8, MaxHashDistance: 40})

	out := p.Identify(context.Background(), frame.FromImage(fx.cards["A"], "s1"), fx.idx)
	if out.Kind != KindFailed || !errors.Is(out.Err, ErrHashMismatch) {
		t.Fatalf("kind %s err %v, want failed with ErrHashMismatch", out.Kind, out.Err)
	}
	if out.FailedAt != StageFiltering || out.Result.Found() {
		t.Fatalf("failed at %s, result %+v", out.FailedAt, out.Result)
	}
}

func TestIdentifyUnknownCard(t *testing.T) {
	fx := catalogABC(t)
	out := newPipeline(fx).Identify(context.Background(), frame.FromImage(testsupport.SyntheticCard(999), "s1"), fx.idx)
	if out.Kind != KindNoMatch || out.Result.Found() || out.Err != nil {
		t.Fatalf("kind %s id %q err %v", out.Kind, out.Result.ID, out.Err)
	}
	if out.Stage != StageCompleted {
		t.Fatalf("stage %s", out.Stage)
	}
}

func TestIdentifyUniformFrame(t *testing.T) {
	fx := catalogABC(t)
	out := newPipeline(fx).Identify(context.Background(), frame.FromImage(testsupport.Uniform(300, 420, color.Gray{Y: 128}), "s1"), fx.idx)
	switch out.Kind {
	case KindFailed:
		if !errors.Is(out.Err, features.ErrNoFeatures) || out.FailedAt != StageExtracting {
			t.Fatalf("err %v at %s", out.Err, out.FailedAt)
		}
	case KindNoMatch:
	default:
		t.Fatalf("uniform frame matched %s", out.Result.ID)
	}
}

func TestIdentifyInvalidFrame(t *testing.T) {
	fx := catalogABC(t)
	bad := &frame.Frame{Pix: make([]byte, 3), Width: 10, Height: 10, Format: frame.FormatRGB24}
	out := newPipeline(fx).Identify(context.Background(), bad, fx.idx)
	if out.Kind != KindFailed || !errors.Is(out.Err, features.ErrInvalidFrame) {
		t.Fatalf("kind %s err %v", out.Kind, out.Err)
	}
	if out := newPipeline(fx).Identify(context.Background(), nil, fx.idx); out.Kind != KindFailed {
		t.Fatalf("nil frame: kind %s", out.Kind)
	}
}

func TestIdentifyIsDeterministic(t *testing.T) {
	fx := catalogABC(t)
	p := newPipeline(fx)
	img := testsupport.Rotate90(fx.cards["B"])

	first := p.Identify(context.Background(), frame.FromImage(img, "s"), fx.idx)
	for i := 0; i < 3; i++ {
		again := p.Identify(context.Background(), frame.FromImage(img, "s"), fx.idx)
		if !sameResult(first.Result, again.Result) || first.Kind != again.Kind {
			t.Fatalf("run %d differs: %+v vs %+v", i, first.Result, again.Result)
		}
	}
}

func sameResult(a, b MatchResult) bool {
	if a.ID != b.ID || a.Confidence != b.Confidence || a.Inliers != b.Inliers {
		return false
	}
	if (a.Outline == nil) != (b.Outline == nil) {
		return false
	}
	return a.Outline == nil || *a.Outline == *b.Outline
}

func TestConcurrentCallsMatchSequential(t *testing.T) {
	fx := catalogABC(t)
	p := newPipeline(fx)
	images := []image.Image{
		fx.cards["A"],
		testsupport.Rotate90(fx.cards["B"]),
		testsupport.Rotate180(fx.cards["C"]),
		testsupport.SyntheticCard(999),
		testsupport.Scale(fx.cards["B"], 0.8),
		fx.cards["C"],
	}

	sequential := make([]Outcome, len(images))
	for i, img := range images {
		sequential[i] = p.Identify(context.Background(), frame.FromImage(img, "seq"), fx.idx)
	}

	concurrent := make([]Outcome, len(images))
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			concurrent[i] = p.Identify(context.Background(), frame.FromImage(img, "par"), fx.idx)
		}()
	}
	wg.Wait()

	for i := range images {
		if sequential[i].Kind != concurrent[i].Kind || !sameResult(sequential[i].Result, concurrent[i].Result) {
			t.Fatalf("frame %d: sequential %+v, concurrent %+v", i, sequential[i].Result, concurrent[i].Result)
		}
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	events []ScanEvent
	err    error
}

func (r *countingRecorder) RecordScan(ctx context.Context, ev ScanEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestRecorderReceivesOneEventPerMatch(t *testing.T) {
	fx := catalogABC(t)
	rec := &countingRecorder{}
	p := newPipeline(fx, WithRecorder(rec))

	p.Identify(context.Background(), frame.FromImage(fx.cards["A"], "session-7"), fx.idx)
	p.Identify(context.Background(), frame.FromImage(testsupport.SyntheticCard(999), "session-7"), fx.idx)

	if len(rec.events) != 1 {
		t.Fatalf("recorded %d events", len(rec.events))
	}
	ev := rec.events[0]
	if ev.CardID != "A" || ev.SessionID != "session-7" || ev.EventID == "" || ev.RequestID == "" {
		t.Fatalf("event %+v", ev)
	}
}

func TestRecorderErrorDoesNotChangeOutcome(t *testing.T) {
	fx := catalogABC(t)
	rec := &countingRecorder{err: errors.New("disk full")}
	out := newPipeline(fx, WithRecorder(rec)).Identify(context.Background(), frame.FromImage(fx.cards["C"], "s"), fx.idx)
	if out.Kind != KindMatched || out.Result.ID != "C" {
		t.Fatalf("kind %s id %s", out.Kind, out.Result.ID)
	}
}

type slowExtractor struct {
	delay time.Duration
	inner Extractor
}

func (s slowExtractor) Extract(f *frame.Frame) (*features.ExtractedFeatures, error) {
	time.Sleep(s.delay)
	return s.inner.Extract(f)
}

func TestBudgetExceededFailsWithTimeout(t *testing.T) {
	fx := catalogABC(t)
	params := DefaultParams()
	params.Budget = time.Millisecond
	p := New(slowExtractor{delay: 20 * time.Millisecond, inner: fx.extractor}, verify.New(verify.DefaultParams()), params)

	out := p.Identify(context.Background(), frame.FromImage(fx.cards["A"], "s"), fx.idx)
	if out.Kind != KindFailed || !errors.Is(out.Err, ErrTimeout) {
		t.Fatalf("kind %s err %v", out.Kind, out.Err)
	}
	if out.FailedAt != StageExtracting || out.Stage != StageFailed {
		t.Fatalf("failed at %s, stage %s", out.FailedAt, out.Stage)
	}
}

func TestCanceledContext(t *testing.T) {
	fx := catalogABC(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := newPipeline(fx).Identify(ctx, frame.FromImage(fx.cards["A"], "s"), fx.idx)
	if out.Kind != KindFailed || !errors.Is(out.Err, context.Canceled) || out.FailedAt != StageReceived {
		t.Fatalf("kind %s err %v at %s", out.Kind, out.Err, out.FailedAt)
	}
}

func TestNilIndex(t *testing.T) {
	fx := catalogABC(t)
	out := newPipeline(fx).Identify(context.Background(), frame.FromImage(fx.cards["A"], "s"), nil)
	if out.Kind != KindFailed || !errors.Is(out.Err, catalog.ErrNoCatalog) {
		t.Fatalf("kind %s err %v", out.Kind, out.Err)
	}
}

func TestStageStrings(t *testing.T) {
	if !StageCompleted.Terminal() || !StageFailed.Terminal() || StageVerifying.Terminal() {
		t.Fatal("terminal stages wrong")
	}
	if StageFiltering.String() != "filtering" || KindNoMatch.String() != "no_match" {
		t.Fatal("unexpected names")
	}
}
