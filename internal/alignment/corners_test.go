package alignment

import (
	"image"
	"image/color"
	"math"
	"testing"

	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

func TestOrderCorners(t *testing.T) {
	want := geometry.Quad{{X: 10, Y: 12}, {X: 90, Y: 8}, {X: 95, Y: 120}, {X: 5, Y: 118}}
	shuffled := geometry.Quad{want[2], want[0], want[3], want[1]}

	got := OrderCorners(shuffled)
	if got != want {
		t.Fatalf("OrderCorners = %v, want %v", got, want)
	}
}

func TestDetectOutlineFindsRectangle(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 0, 0, 0), 300, 400, gocv.MatTypeCV8UC1)
	defer img.Close()
	gocv.Rectangle(&img, image.Rect(100, 50, 300, 250), color.RGBA{A: 255}, -1)

	q, ok := DetectOutline(img, DefaultOutlineParams())
	if !ok {
		t.Fatal("outline not found")
	}
	want := geometry.NewRect(100, 50, 200, 200).Corners()
	for i := range q {
		if d := q[i].Distance(want[i]); d > 4 {
			t.Fatalf("corner %d at %v, want near %v", i, q[i], want[i])
		}
	}
}

func TestDetectOutlineRejectsFullFrameAndBlank(t *testing.T) {
	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 0, 0, 0), 200, 200, gocv.MatTypeCV8UC1)
	defer blank.Close()
	if _, ok := DetectOutline(blank, DefaultOutlineParams()); ok {
		t.Fatal("outline found on a blank image")
	}

	full := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 0, 0, 0), 200, 200, gocv.MatTypeCV8UC1)
	defer full.Close()
	gocv.Rectangle(&full, image.Rect(2, 2, 198, 198), color.RGBA{A: 255}, -1)
	if _, ok := DetectOutline(full, DefaultOutlineParams()); ok {
		t.Fatal("outline found for a subject filling the image")
	}
}

func TestRectifyStraightensQuad(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 200, gocv.MatTypeCV8UC1)
	defer src.Close()
	gocv.Rectangle(&src, image.Rect(40, 60, 140, 110), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	out, err := Rectify(src, geometry.NewRect(40, 60, 100, 50).Corners())
	if err != nil {
		t.Fatalf("Rectify: %v", err)
	}
	defer out.Close()
	if out.Cols() != 100 || out.Rows() != 50 {
		t.Fatalf("rectified size %dx%d, want 100x50", out.Cols(), out.Rows())
	}
	if v := out.GetUCharAt(25, 50); v != 255 {
		t.Fatalf("center pixel %d, want 255", v)
	}

	tiny := geometry.Quad{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 2}, {X: 0, Y: 2}}
	if _, err := Rectify(src, tiny); err == nil {
		t.Fatal("expected error for tiny outline")
	}
}

func TestQuadHomographyMapsCorners(t *testing.T) {
	src := geometry.NewRect(0, 0, 300, 420).Corners()
	dst := geometry.Quad{{X: 38, Y: 20}, {X: 302, Y: 20}, {X: 320, Y: 440}, {X: 20, Y: 440}}

	h, err := QuadHomography(src, dst)
	if err != nil {
		t.Fatalf("QuadHomography: %v", err)
	}
	for i := range src {
		p, ok := h.Apply(src[i])
		if !ok || math.Abs(p.X-dst[i].X) > 1e-6 || math.Abs(p.Y-dst[i].Y) > 1e-6 {
			t.Fatalf("corner %d maps to %v, want %v", i, p, dst[i])
		}
	}
}
