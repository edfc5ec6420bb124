package alignment

import (
	"image"
	"image/color"

	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// homographyMat converts h to a 3x3 CV_64F matrix. The caller closes it.
func homographyMat(h geometry.Homography) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r*3+c])
		}
	}
	return m
}

// WarpPerspective maps src through h into an image of the given size.
func WarpPerspective(src gocv.Mat, h geometry.Homography, width, height int) gocv.Mat {
	m := homographyMat(h)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspective(src, &dst, m, image.Point{X: width, Y: height})
	return dst
}

// DrawQuad outlines q on img.
func DrawQuad(img *gocv.Mat, q geometry.Quad, col color.RGBA, thickness int) {
	for i := range q {
		a, b := q[i], q[(i+1)%len(q)]
		gocv.Line(img,
			image.Pt(int(a.X+0.5), int(a.Y+0.5)),
			image.Pt(int(b.X+0.5), int(b.Y+0.5)),
			col, thickness)
	}
}

// DrawPoints marks each point with a small circle.
func DrawPoints(img *gocv.Mat, pts []geometry.Point2D, col color.RGBA) {
	for _, p := range pts {
		gocv.Circle(img, image.Pt(int(p.X+0.5), int(p.Y+0.5)), 3, col, 1)
	}
}

// CreateOverlay blends a warped reference over the query frame.
func CreateOverlay(query, warped gocv.Mat, opacity float64) gocv.Mat {
	dst := gocv.NewMat()
	if query.Empty() || warped.Empty() {
		return dst
	}
	gocv.AddWeighted(query, opacity, warped, 1.0-opacity, 0, &dst)
	return dst
}
