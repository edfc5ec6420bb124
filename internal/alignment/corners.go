package alignment

import (
	"cmp"
	"errors"
	"image"
	"math"
	"slices"

	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// OutlineParams bounds the quadrilaterals DetectOutline accepts, as
// fractions of the image area.
type OutlineParams struct {
	MinArea float64
	// MaxArea marks a subject that already fills the image; such outlines
	// are reported as not found.
	MaxArea float64
}

// DefaultOutlineParams returns the outline detection defaults.
func DefaultOutlineParams() OutlineParams {
	return OutlineParams{MinArea: 0.1, MaxArea: 0.9}
}

// DetectOutline finds the largest convex four-sided contour in a single
// channel image. Corners are ordered TL, TR, BR, BL.
func DetectOutline(gray gocv.Mat, p OutlineParams) (geometry.Quad, bool) {
	if gray.Empty() {
		return geometry.Quad{}, false
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	// Close small gaps in the card edge.
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	gocv.Dilate(edges, &edges, kernel)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	imgArea := float64(gray.Cols() * gray.Rows())
	var best geometry.Quad
	var bestArea float64
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < imgArea*p.MinArea || area <= bestArea {
			continue
		}

		approx := gocv.ApproxPolyDP(contour, 0.02*gocv.ArcLength(contour, true), true)
		if approx.Size() == 4 {
			var q geometry.Quad
			for j := 0; j < 4; j++ {
				pt := approx.At(j)
				q[j] = geometry.Point2D{X: float64(pt.X), Y: float64(pt.Y)}
			}
			if geometry.IsConvex(q[:]) {
				best, bestArea = q, area
			}
		}
		approx.Close()
	}

	if bestArea == 0 || bestArea > imgArea*p.MaxArea {
		return geometry.Quad{}, false
	}
	return OrderCorners(best), true
}

// OrderCorners orders corner points TL, TR, BR, BL: the two highest points
// form the top edge, each pair sorted left to right.
func OrderCorners(q geometry.Quad) geometry.Quad {
	sorted := q
	slices.SortStableFunc(sorted[:], func(a, b geometry.Point2D) int {
		return cmp.Compare(a.Y, b.Y)
	})
	byX := func(a, b geometry.Point2D) int { return cmp.Compare(a.X, b.X) }
	top, bottom := sorted[:2], sorted[2:]
	slices.SortStableFunc(top, byX)
	slices.SortStableFunc(bottom, byX)
	return geometry.Quad{top[0], top[1], bottom[1], bottom[0]}
}

// QuadHomography maps the corners of src onto the corners of dst.
func QuadHomography(src, dst geometry.Quad) (geometry.Homography, error) {
	return solveHomography(src[:], dst[:])
}

// Rectify warps the region inside q (TL, TR, BR, BL) to an upright image
// whose size follows the mean lengths of opposite sides. The caller closes
// the result.
func Rectify(src gocv.Mat, q geometry.Quad) (gocv.Mat, error) {
	w := math.Round((q[0].Distance(q[1]) + q[3].Distance(q[2])) / 2)
	h := math.Round((q[0].Distance(q[3]) + q[1].Distance(q[2])) / 2)
	if w < 4 || h < 4 {
		return gocv.NewMat(), errors.New("outline too small to rectify")
	}
	hm, err := QuadHomography(q, geometry.NewRect(0, 0, w, h).Corners())
	if err != nil {
		return gocv.NewMat(), err
	}
	return WarpPerspective(src, hm, int(w), int(h)), nil
}
