package phash

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"cardscan/internal/testsupport"
)

func gray(img image.Image) *image.Gray {
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g
}

func TestComputeIsDeterministic(t *testing.T) {
	card := gray(testsupport.SyntheticCard(7))
	a := Compute(card, DefaultGrid)
	b := Compute(card, DefaultGrid)
	if len(a) != ByteLen(DefaultGrid) {
		t.Fatalf("hash length %d, want %d", len(a), ByteLen(DefaultGrid))
	}
	d, err := Distance(a, b)
	if err != nil || d != 0 {
		t.Fatalf("distance = %d, err = %v", d, err)
	}
}

func TestDistinctCardsAreFarApart(t *testing.T) {
	a := Compute(gray(testsupport.SyntheticCard(1)), DefaultGrid)
	b := Compute(gray(testsupport.SyntheticCard(2)), DefaultGrid)
	d, err := Distance(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if d < 30 {
		t.Fatalf("unrelated cards too close: %d", d)
	}
}

func TestRotatedImageMatchesRotatedHash(t *testing.T) {
	card := testsupport.SyntheticCard(3)
	base := Compute(gray(card), DefaultGrid)
	turned := Compute(gray(testsupport.Rotate90(card)), DefaultGrid)

	d, err := Distance(turned, Rotate90(base, DefaultGrid))
	if err != nil {
		t.Fatal(err)
	}
	if d > 10 {
		t.Fatalf("quarter-turn hash drifted by %d bits", d)
	}
}

func TestRotationsCycle(t *testing.T) {
	h := Compute(gray(testsupport.SyntheticCard(4)), DefaultGrid)
	r := Rotations(h, DefaultGrid)
	full := Rotate90(r[3], DefaultGrid)
	if d, _ := Distance(full, h); d != 0 {
		t.Fatalf("four quarter turns should be identity, distance %d", d)
	}
	if d, _ := Distance(r[0], h); d != 0 {
		t.Fatal("first rotation must be the input hash")
	}
}

func TestUniformImageHasNoBitsSet(t *testing.T) {
	h := Compute(gray(testsupport.Uniform(200, 280, color.Gray{Y: 128})), DefaultGrid)
	for i := 0; i < DefaultGrid*DefaultGrid; i++ {
		if h.Bit(i) {
			t.Fatalf("bit %d set on uniform image", i)
		}
	}
}

func TestDistanceLengthMismatch(t *testing.T) {
	_, err := Distance(make(Hash, 18), make(Hash, 8))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestHexRoundTrip(t *testing.T) {
	h := Compute(gray(testsupport.SyntheticCard(5)), DefaultGrid)
	parsed, err := ParseHex(h.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if d, _ := Distance(h, parsed); d != 0 {
		t.Fatal("hex round trip changed the hash")
	}
	if _, err := ParseHex("zz"); err == nil {
		t.Fatal("expected parse error")
	}
}
