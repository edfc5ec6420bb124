package geometry

import (
	"math"
	"testing"
)

func TestHomographyInverseRoundTrip(t *testing.T) {
	h := Homography{1.1, 0.2, 30, -0.1, 0.9, 12, 0.0004, -0.0002, 1}
	inv, ok := h.Inverse()
	if !ok {
		t.Fatal("expected invertible homography")
	}
	for _, p := range []Point2D{{0, 0}, {100, 50}, {320, 240}} {
		q, ok := h.Apply(p)
		if !ok {
			t.Fatalf("apply(%v) failed", p)
		}
		back, ok := inv.Apply(q)
		if !ok {
			t.Fatalf("inverse apply(%v) failed", q)
		}
		if back.Distance(p) > 1e-6 {
			t.Fatalf("round trip drifted: got %v want %v", back, p)
		}
	}
}

func TestHomographyComposeWithIdentity(t *testing.T) {
	h := Homography{2, 0, 5, 0, 3, -4, 0, 0, 1}
	got := h.Compose(IdentityHomography())
	if got != h {
		t.Fatalf("compose with identity changed transform: %v", got)
	}
}

func TestSingularHomographyHasNoInverse(t *testing.T) {
	if _, ok := (Homography{}).Inverse(); ok {
		t.Fatal("zero matrix should not invert")
	}
}

func TestQuadAreaAndConvexity(t *testing.T) {
	q := NewRect(0, 0, 10, 20).Corners()
	if math.Abs(q.Area()-200) > 1e-9 {
		t.Fatalf("unexpected area %v", q.Area())
	}
	if !IsConvex(q.Points()) {
		t.Fatal("rectangle should be convex")
	}

	bowtie := Quad{{0, 0}, {10, 10}, {10, 0}, {0, 10}}
	if IsConvex(bowtie.Points()) {
		t.Fatal("self-intersecting quad reported convex")
	}

	flat := Quad{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	if IsConvex(flat.Points()) {
		t.Fatal("degenerate quad reported convex")
	}
}

func TestCollinear(t *testing.T) {
	if !Collinear(Point2D{0, 0}, Point2D{1, 1}, Point2D{5, 5}, 1e-9) {
		t.Fatal("expected collinear")
	}
	if Collinear(Point2D{0, 0}, Point2D{1, 0}, Point2D{0, 1}, 1e-9) {
		t.Fatal("expected non-collinear")
	}
}
