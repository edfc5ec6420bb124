package features

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"cardscan/internal/frame"
	"cardscan/internal/phash"
	"cardscan/internal/testsupport"
	"cardscan/pkg/geometry"
)

func TestExtractSyntheticCard(t *testing.T) {
	ex := New(DefaultParams())
	f := frame.FromImage(testsupport.SyntheticCard(11), "s")

	feats, err := ex.Extract(f)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(feats.Keypoints) < ex.Params().MinKeypoints {
		t.Fatalf("only %d keypoints", len(feats.Keypoints))
	}
	if len(feats.Descriptors) != len(feats.Keypoints) {
		t.Fatalf("descriptor count %d != keypoint count %d", len(feats.Descriptors), len(feats.Keypoints))
	}
	for i, d := range feats.Descriptors {
		if len(d) != 32 {
			t.Fatalf("descriptor %d has %d bytes", i, len(d))
		}
	}
	if feats.Width != testsupport.CardWidth || feats.Height != testsupport.CardHeight {
		t.Fatalf("unexpected size %dx%d", feats.Width, feats.Height)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	ex := New(DefaultParams())
	img := testsupport.SyntheticCard(12)

	a, err := ex.Extract(frame.FromImage(img, "a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ex.Extract(frame.FromImage(img, "b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Keypoints) != len(b.Keypoints) {
		t.Fatalf("keypoint counts differ: %d vs %d", len(a.Keypoints), len(b.Keypoints))
	}
	for i := range a.Keypoints {
		if a.Keypoints[i] != b.Keypoints[i] || !bytes.Equal(a.Descriptors[i], b.Descriptors[i]) {
			t.Fatalf("keypoint %d differs between runs", i)
		}
	}
	if !bytes.Equal(a.Hash, b.Hash) {
		t.Fatal("hash differs between runs")
	}
}

func TestExtractUniformFrameHasNoFeatures(t *testing.T) {
	ex := New(DefaultParams())
	f := frame.FromImage(testsupport.Uniform(320, 240, color.Gray{Y: 90}), "s")

	_, err := ex.Extract(f)
	if !errors.Is(err, ErrNoFeatures) {
		t.Fatalf("expected ErrNoFeatures, got %v", err)
	}
	var ee *ExtractionError
	if !errors.As(err, &ee) || ee.Kind != KindNoFeatures {
		t.Fatalf("expected *ExtractionError with KindNoFeatures, got %#v", err)
	}
}

func TestExtractInvalidFrame(t *testing.T) {
	ex := New(DefaultParams())
	f := &frame.Frame{Pix: make([]byte, 10), Width: 100, Height: 100, Format: frame.FormatRGB24}

	_, err := ex.Extract(f)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
	if errors.Is(err, ErrNoFeatures) {
		t.Fatal("invalid frame must not match ErrNoFeatures")
	}
}

func TestExtractReportsOriginalCoordinatesWhenDownscaling(t *testing.T) {
	params := DefaultParams()
	params.WorkingSize = 400
	ex := New(params)
	img := testsupport.Scale(testsupport.SyntheticCard(13), 2)
	f := frame.FromImage(img, "s")

	feats, err := ex.Extract(f)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var maxX, maxY float64
	for _, kp := range feats.Keypoints {
		maxX = max(maxX, kp.X)
		maxY = max(maxY, kp.Y)
	}
	if maxX > float64(f.Width) || maxY > float64(f.Height) {
		t.Fatalf("keypoint outside frame: max (%v, %v) for %dx%d", maxX, maxY, f.Width, f.Height)
	}
	// Keypoints must span more than the working-size box, proving they were scaled back.
	if maxY <= float64(params.WorkingSize) {
		t.Fatalf("keypoints look unscaled: max (%v, %v)", maxX, maxY)
	}
}

func TestExtractLocatesPlacedCard(t *testing.T) {
	ex := New(DefaultParams())
	card := testsupport.SyntheticCard(13)
	offset := image.Pt(70, 60)
	f := frame.FromImage(testsupport.Place(card, 440, 560, offset), "s")

	feats, err := ex.Extract(f)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if feats.Outline == nil {
		t.Fatal("card outline not located")
	}
	want := geometry.NewRect(float64(offset.X), float64(offset.Y), testsupport.CardWidth, testsupport.CardHeight).Corners()
	for i, p := range feats.Outline {
		if d := p.Distance(want[i]); d > 4 {
			t.Fatalf("corner %d at %v, want near %v", i, p, want[i])
		}
	}
	if len(feats.CardRotations[0]) != len(feats.Hash) {
		t.Fatalf("card hash %d bytes, frame hash %d", len(feats.CardRotations[0]), len(feats.Hash))
	}

	// The straightened card hashes close to the bare card.
	bare, err := ex.Extract(frame.FromImage(card, "s"))
	if err != nil {
		t.Fatal(err)
	}
	d, err := phash.Distance(feats.CardRotations[0], bare.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if d > 20 {
		t.Fatalf("located card hash distance %d", d)
	}
}

func TestExtractSkipOutline(t *testing.T) {
	params := DefaultParams()
	params.SkipOutline = true
	ex := New(params)
	f := frame.FromImage(testsupport.Place(testsupport.SyntheticCard(13), 440, 560, image.Pt(70, 60)), "s")

	feats, err := ex.Extract(f)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if feats.Outline != nil || feats.CardRotations[0] != nil {
		t.Fatalf("outline computed with SkipOutline: %v", feats.Outline)
	}
}
