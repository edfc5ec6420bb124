package catalog

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"cardscan/internal/features"
	"cardscan/internal/frame"
	"cardscan/internal/phash"
	"cardscan/internal/testsupport"
	"cardscan/pkg/geometry"
)

func record(id string, hashLen int) Record {
	hash := make(phash.Hash, hashLen)
	hash[0] = byte(len(id))
	return Record{
		ID:          id,
		Name:        "Card " + id,
		Hash:        hash,
		Keypoints:   []geometry.Point2D{{X: 1, Y: 2}, {X: 3, Y: 4}},
		Descriptors: [][]byte{make([]byte, 32), make([]byte, 32)},
		Width:       300,
		Height:      420,
	}
}

func mustLoad(t *testing.T, recs ...Record) *Index {
	t.Helper()
	idx, err := Load(context.Background(), SliceSource(recs), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return idx
}

func TestLoadKeepsSourceOrder(t *testing.T) {
	idx := mustLoad(t, record("c", 18), record("a", 18), record("b", 18))
	if idx.Len() != 3 {
		t.Fatalf("Len = %d", idx.Len())
	}
	want := []string{"c", "a", "b"}
	for i, c := range idx.Entries() {
		if c.ID != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, c.ID, want[i])
		}
	}
	if idx.HashLen() != 18 {
		t.Fatalf("HashLen = %d", idx.HashLen())
	}
}

func TestLoadRejectsDuplicateID(t *testing.T) {
	_, err := Load(context.Background(), SliceSource{record("a", 18), record("a", 18)}, Options{})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.ID != "a" {
		t.Fatalf("expected LoadError for a, got %#v", err)
	}
}

func TestLoadRejectsMalformedDescriptors(t *testing.T) {
	short := record("a", 18)
	short.Descriptors = short.Descriptors[:1]

	ragged := record("b", 18)
	ragged.Descriptors = [][]byte{make([]byte, 32), make([]byte, 16)}

	noSize := record("c", 18)
	noSize.Width = 0

	for _, rec := range []Record{short, ragged, noSize} {
		_, err := Load(context.Background(), SliceSource{rec}, Options{})
		if !errors.Is(err, ErrMalformedDescriptors) {
			t.Fatalf("%s: expected ErrMalformedDescriptors, got %v", rec.ID, err)
		}
	}
}

func TestLoadRejectsMixedHashLengths(t *testing.T) {
	_, err := Load(context.Background(), SliceSource{record("a", 18), record("b", 8)}, Options{})
	if !errors.Is(err, ErrHashLength) {
		t.Fatalf("expected ErrHashLength, got %v", err)
	}
}

func TestLoadImageOnlyWithoutExtractor(t *testing.T) {
	rec := Record{ID: "x", ImagePath: "x.png"}
	_, err := Load(context.Background(), SliceSource{rec}, Options{})
	if !errors.Is(err, ErrReferenceImage) {
		t.Fatalf("expected ErrReferenceImage, got %v", err)
	}
}

type stubExtractor struct {
	calls atomic.Int32
}

func (s *stubExtractor) Extract(f *frame.Frame) (*features.ExtractedFeatures, error) {
	s.calls.Add(1)
	return &features.ExtractedFeatures{
		Keypoints:   []features.Keypoint{{Point2D: geometry.Point2D{X: 5, Y: 6}}},
		Descriptors: [][]byte{make([]byte, 32)},
		Hash:        make(phash.Hash, 18),
		Width:       f.Width,
		Height:      f.Height,
	}, nil
}

func TestLoadComputesImageOnlyRecords(t *testing.T) {
	dir := t.TempDir()
	file, err := os.Create(filepath.Join(dir, "x.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(file, testsupport.SyntheticCard(1)); err != nil {
		t.Fatal(err)
	}
	file.Close()

	rec := Record{ID: "x", Name: "Computed", ImagePath: "x.png"}
	src := SliceSource{rec}
	ex := &stubExtractor{}
	idx, err := Load(context.Background(), src, Options{Extractor: ex, ImageRoot: dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ex.calls.Load() != 1 {
		t.Fatalf("extractor called %d times", ex.calls.Load())
	}
	card, err := idx.Lookup("x")
	if err != nil {
		t.Fatal(err)
	}
	if card.Width != testsupport.CardWidth || card.Height != testsupport.CardHeight || len(card.Descriptors) != 1 {
		t.Fatalf("unexpected computed card %+v", card)
	}
	if src[0].Hash != nil {
		t.Fatal("Load modified the caller's record")
	}
}

func TestLookupUnknown(t *testing.T) {
	idx := mustLoad(t, record("a", 18))
	if _, err := idx.Lookup("zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIndexIsolatedFromSource(t *testing.T) {
	rec := record("a", 18)
	idx := mustLoad(t, rec)
	rec.Descriptors[0][0] = 0xff
	rec.Hash[1] = 0xff

	card, _ := idx.Lookup("a")
	if card.Descriptors[0][0] != 0 || card.Hash[1] != 0 {
		t.Fatal("index shares memory with the source record")
	}
}

func TestFindByName(t *testing.T) {
	a := record("a", 18)
	a.Name, a.Subtitle = "Mickey Mouse", "Brave Little Tailor"
	b := record("b", 18)
	b.Name = "Elsa"
	idx := mustLoad(t, a, b)

	if got := idx.FindByName("TAILOR"); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("FindByName(TAILOR) = %v", got)
	}
	if got := idx.FindByName("  "); got != nil {
		t.Fatalf("blank query returned %v", got)
	}
	if idx.At(0).DisplayName() != "Mickey Mouse - Brave Little Tailor" {
		t.Fatalf("DisplayName = %q", idx.At(0).DisplayName())
	}
}

func TestVersionsIncrease(t *testing.T) {
	a := mustLoad(t, record("a", 18))
	b := mustLoad(t, record("a", 18))
	if b.Version() <= a.Version() {
		t.Fatalf("versions %d then %d", a.Version(), b.Version())
	}
}

func TestHandleAcquireBeforeSwap(t *testing.T) {
	h := NewHandle()
	if _, err := h.Acquire(); !errors.Is(err, ErrNoCatalog) {
		t.Fatalf("expected ErrNoCatalog, got %v", err)
	}
	if h.Current() != nil {
		t.Fatal("Current should be nil")
	}
}

func TestHandleRetiresAfterLastLease(t *testing.T) {
	var retired []uint64
	var mu sync.Mutex
	h := NewHandle(WithRetireHook(func(idx *Index) {
		mu.Lock()
		retired = append(retired, idx.Version())
		mu.Unlock()
	}))

	first := mustLoad(t, record("a", 18))
	h.Swap(first)

	lease, err := h.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	second := mustLoad(t, record("a", 18), record("b", 18))
	if prev := h.Swap(second); prev != first {
		t.Fatal("Swap did not return the previous index")
	}

	if len(retired) != 0 {
		t.Fatal("retired while a lease was outstanding")
	}
	if lease.Index() != first {
		t.Fatal("lease moved to the new index")
	}
	lease.Release()
	lease.Release()
	if len(retired) != 1 || retired[0] != first.Version() {
		t.Fatalf("retired = %v", retired)
	}

	next, err := h.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer next.Release()
	if next.Index() != second {
		t.Fatal("new lease should see the new index")
	}
}

func TestReloadWithCallsInFlight(t *testing.T) {
	var retiredCount atomic.Int32
	h := NewHandle(WithRetireHook(func(*Index) { retiredCount.Add(1) }))
	old := mustLoad(t, record("a", 18))
	h.Swap(old)

	const inflight = 10
	leases := make([]*Lease, inflight)
	for i := range leases {
		l, err := h.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		leases[i] = l
	}

	fresh := mustLoad(t, record("a", 18), record("b", 18))
	h.Swap(fresh)

	var wg sync.WaitGroup
	for _, l := range leases {
		wg.Add(1)
		go func(l *Lease) {
			defer wg.Done()
			if l.Index() != old {
				t.Errorf("in-flight lease saw a different index")
			}
			if _, err := l.Index().Lookup("b"); !errors.Is(err, ErrNotFound) {
				t.Errorf("old index unexpectedly has b")
			}
			l.Release()
		}(l)
	}
	wg.Wait()

	if retiredCount.Load() != 1 {
		t.Fatalf("old index retired %d times", retiredCount.Load())
	}
	l, err := h.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()
	if l.Index().Len() != 2 {
		t.Fatalf("new calls see %d cards", l.Index().Len())
	}
}

func TestConcurrentAcquireAndSwap(t *testing.T) {
	h := NewHandle()
	h.Swap(mustLoad(t, record("a", 18)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				l, err := h.Acquire()
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				if l.Index().Len() == 0 {
					t.Errorf("leased empty index")
				}
				l.Release()
			}
		}()
	}
	for range 50 {
		h.Swap(mustLoad(t, record("a", 18)))
	}
	close(stop)
	wg.Wait()
}

func TestHandleSwapNilKeepsCurrent(t *testing.T) {
	h := NewHandle()
	if prev := h.Swap(nil); prev != nil || h.Current() != nil {
		t.Fatal("nil swap on empty handle changed state")
	}
	idx := mustLoad(t, record("a", 18))
	h.Swap(idx)
	if prev := h.Swap(nil); prev != nil {
		t.Fatalf("nil swap returned %v", prev)
	}
	if h.Current() != idx {
		t.Fatal("nil swap replaced the active catalog")
	}
	lease, err := h.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	lease.Release()
}
