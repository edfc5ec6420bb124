package ingest

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"cardscan/internal/catalog"
	"cardscan/internal/features"
	"cardscan/internal/frame"
	"cardscan/internal/phash"
	"cardscan/internal/store"
	"cardscan/internal/testsupport"
	"cardscan/pkg/geometry"
)

const manifestJSON = `{
  "cards": [
    {"name": "Elsa", "version": "Snow Queen", "setCode": "1", "number": 42, "rarity": "Legendary", "images": {"full": "https://example.invalid/1-42.jpg"}},
    {"name": "Mickey Mouse", "version": "Brave Little Tailor", "setCode": "1", "number": 115, "images": {"full": "art/mickey.png"}},
    {"name": "Stitch", "setCode": "2", "number": 7, "promoGrouping": "P1"}
  ]
}`

type countingExtractor struct {
	calls atomic.Int32
}

func (c *countingExtractor) Extract(f *frame.Frame) (*features.ExtractedFeatures, error) {
	c.calls.Add(1)
	return &features.ExtractedFeatures{
		Keypoints:   []features.Keypoint{{Point2D: geometry.Point2D{X: 3, Y: 4}}},
		Descriptors: [][]byte{make([]byte, 32)},
		Hash:        make(phash.Hash, 18),
		Width:       f.Width,
		Height:      f.Height,
	}, nil
}

func writePNG(t *testing.T, path string, seed int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := png.Encode(file, testsupport.SyntheticCard(seed)); err != nil {
		t.Fatal(err)
	}
}

func setup(t *testing.T) ([]ManifestCard, string, *store.Store) {
	t.Helper()
	cards, err := ParseManifest([]byte(manifestJSON))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	writePNG(t, filepath.Join(images, "1-42.png"), 1)
	writePNG(t, filepath.Join(images, "art", "mickey.png"), 2)

	s, err := store.Open(context.Background(), store.Options{Path: filepath.Join(dir, "catalog.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return cards, images, s
}

func TestParseManifest(t *testing.T) {
	cards, err := ParseManifest([]byte(manifestJSON))
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 3 || cards[0].ID() != "1-42" || cards[0].DisplaySubtitle() != "Snow Queen" {
		t.Fatalf("cards %+v", cards)
	}
	if _, err := ParseManifest([]byte(`{"cards":[{"name":"A","setCode":"1","number":1},{"name":"B","setCode":"1","number":1}]}`)); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if _, err := ParseManifest([]byte(`{"cards":[{"name":"A","number":1}]}`)); err == nil {
		t.Fatal("expected missing set code error")
	}
}

func TestRunComputesAndReportsMissingImages(t *testing.T) {
	cards, images, s := setup(t)
	ex := &countingExtractor{}
	ctx := context.Background()

	report, err := Run(ctx, cards, s, Options{ImagesDir: images, Extractor: ex})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Computed != 2 || len(report.Failed) != 1 || report.Failed[0].ID != "2-7" {
		t.Fatalf("report %+v", report)
	}
	if !errors.Is(report.Failed[0].Err, ErrNoImage) {
		t.Fatalf("failure %v", report.Failed[0].Err)
	}

	rec, err := s.Card(ctx, "1-115")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ImagePath != filepath.Join("art", "mickey.png") || rec.Metadata[catalog.MetaCardNumber] != "115" {
		t.Fatalf("stored %+v", rec)
	}
	if rec.Width != testsupport.CardWidth {
		t.Fatalf("width %d", rec.Width)
	}
	elsa, _ := s.Card(ctx, "1-42")
	if elsa.Metadata[catalog.MetaRarity] != "Legendary" {
		t.Fatalf("rarity %q", elsa.Metadata[catalog.MetaRarity])
	}
}

func TestRunSkipsCompleteCards(t *testing.T) {
	cards, images, s := setup(t)
	ex := &countingExtractor{}
	ctx := context.Background()

	if _, err := Run(ctx, cards, s, Options{ImagesDir: images, Extractor: ex}); err != nil {
		t.Fatal(err)
	}
	first := ex.calls.Load()

	cards[0].Version = "Spirit of Winter"
	report, err := Run(ctx, cards, s, Options{ImagesDir: images, Extractor: ex})
	if err != nil {
		t.Fatal(err)
	}
	if report.MetadataOnly != 2 || report.Computed != 0 {
		t.Fatalf("report %+v", report)
	}
	if ex.calls.Load() != first {
		t.Fatal("complete cards were re-extracted")
	}
	rec, _ := s.Card(ctx, "1-42")
	if rec.Subtitle != "Spirit of Winter" || !rec.Precomputed() || rec.ImagePath == "" {
		t.Fatalf("metadata update lost data: %+v", rec)
	}

	report, err = Run(ctx, cards, s, Options{ImagesDir: images, Extractor: ex, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Computed != 2 {
		t.Fatalf("forced report %+v", report)
	}
}

func TestRunKeepsManifestOrder(t *testing.T) {
	cards, images, s := setup(t)
	ctx := context.Background()
	if _, err := Run(ctx, cards, s, Options{ImagesDir: images, Extractor: &countingExtractor{}, Concurrency: 2}); err != nil {
		t.Fatal(err)
	}
	recs, err := s.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "1-42" || recs[1].ID != "1-115" {
		t.Fatalf("records %v", recs)
	}

	idx, err := catalog.Load(ctx, s, catalog.Options{ImageRoot: images})
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("catalog has %d cards", idx.Len())
	}
}

func TestRunRequiresExtractor(t *testing.T) {
	if _, err := Run(context.Background(), nil, nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
}
