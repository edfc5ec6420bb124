package alignment

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"cardscan/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewPoints is returned when fewer than four correspondences are given.
	ErrTooFewPoints = errors.New("need at least 4 point pairs")
	// ErrNoConsensus is returned when no sample yields a usable transform.
	ErrNoConsensus = errors.New("no consensus transform")
)

// Params controls EstimateHomography.
type Params struct {
	Iterations int     // upper bound on RANSAC iterations
	Threshold  float64 // inlier reprojection threshold, pixels
	Confidence float64 // stop early once this probability of success is reached
	Seed       int64
}

// DefaultParams returns the estimator defaults.
func DefaultParams() Params {
	return Params{
		Iterations: 1000,
		Threshold:  6,
		Confidence: 0.995,
		Seed:       1,
	}
}

// Fit is the result of a homography estimate.
type Fit struct {
	H       geometry.Homography // maps src into dst
	Inliers []int               // indices into the input slices
	Error   float64             // mean reprojection error over inliers
}

// EstimateHomography fits a homography mapping src onto dst using RANSAC over
// 4-point samples, then refits on all inliers by least squares. The random
// source is seeded from p.Seed so identical inputs give identical fits.
func EstimateHomography(src, dst []geometry.Point2D, p Params) (Fit, error) {
	if len(src) != len(dst) {
		return Fit{}, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	n := len(src)
	if n < 4 {
		return Fit{}, fmt.Errorf("%w: got %d", ErrTooFewPoints, n)
	}
	if p.Iterations <= 0 {
		p.Iterations = DefaultParams().Iterations
	}

	rng := rand.New(rand.NewSource(p.Seed))
	var (
		best        []int
		bestH       geometry.Homography
		sample      [4]int
		sampleSrc   = make([]geometry.Point2D, 4)
		sampleDst   = make([]geometry.Point2D, 4)
		maxIter     = p.Iterations
		degenerates int
	)

	for iter := 0; iter < maxIter; iter++ {
		drawSample(rng, n, &sample)
		for i, idx := range sample {
			sampleSrc[i] = src[idx]
			sampleDst[i] = dst[idx]
		}
		if degenerate(sampleSrc) || degenerate(sampleDst) {
			degenerates++
			continue
		}

		h, err := solveHomography(sampleSrc, sampleDst)
		if err != nil {
			continue
		}

		inliers := countInliers(h, src, dst, p.Threshold)
		if len(inliers) > len(best) {
			best = inliers
			bestH = h
			maxIter = min(maxIter, adaptiveIterations(len(best), n, p.Confidence, p.Iterations))
		}
	}

	if len(best) < 4 {
		return Fit{}, fmt.Errorf("%w: best sample had %d inliers (%d degenerate samples)", ErrNoConsensus, len(best), degenerates)
	}

	// Refit on the consensus set and keep it only if it does not lose support.
	inSrc := make([]geometry.Point2D, len(best))
	inDst := make([]geometry.Point2D, len(best))
	for i, idx := range best {
		inSrc[i] = src[idx]
		inDst[i] = dst[idx]
	}
	if refit, err := solveHomography(inSrc, inDst); err == nil {
		if inliers := countInliers(refit, src, dst, p.Threshold); len(inliers) >= len(best) {
			best = inliers
			bestH = refit
		}
	}

	return Fit{
		H:       bestH.Normalized(),
		Inliers: best,
		Error:   ReprojectionError(bestH, src, dst, best),
	}, nil
}

// drawSample picks four distinct indices below n.
func drawSample(rng *rand.Rand, n int, out *[4]int) {
	for k := 0; k < 4; {
		v := rng.Intn(n)
		fresh := true
		for j := 0; j < k; j++ {
			if out[j] == v {
				fresh = false
				break
			}
		}
		if fresh {
			out[k] = v
			k++
		}
	}
}

// degenerate reports whether any three of the four points are collinear.
func degenerate(pts []geometry.Point2D) bool {
	const tol = 1.0
	return geometry.Collinear(pts[0], pts[1], pts[2], tol) ||
		geometry.Collinear(pts[0], pts[1], pts[3], tol) ||
		geometry.Collinear(pts[0], pts[2], pts[3], tol) ||
		geometry.Collinear(pts[1], pts[2], pts[3], tol)
}

func adaptiveIterations(inliers, n int, confidence float64, limit int) int {
	if confidence <= 0 || confidence >= 1 {
		return limit
	}
	w := float64(inliers) / float64(n)
	denom := math.Log(1 - math.Pow(w, 4))
	if denom >= 0 || math.IsInf(denom, -1) {
		// All points agree; no further sampling helps.
		return 0
	}
	k := math.Ceil(math.Log(1-confidence) / denom)
	if k > float64(limit) {
		return limit
	}
	return int(k)
}

func countInliers(h geometry.Homography, src, dst []geometry.Point2D, threshold float64) []int {
	var inliers []int
	for i := range src {
		m, ok := h.Apply(src[i])
		if ok && m.Distance(dst[i]) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// ReprojectionError returns the mean distance between h(src[i]) and dst[i]
// over the given indices.
func ReprojectionError(h geometry.Homography, src, dst []geometry.Point2D, indices []int) float64 {
	if len(indices) == 0 {
		return math.Inf(1)
	}
	var total float64
	for _, i := range indices {
		m, ok := h.Apply(src[i])
		if !ok {
			return math.Inf(1)
		}
		total += m.Distance(dst[i])
	}
	return total / float64(len(indices))
}

// normalization returns the similarity transform that moves the centroid of
// pts to the origin and scales the mean distance to sqrt(2).
func normalization(pts []geometry.Point2D) geometry.Homography {
	c := geometry.Centroid(pts)
	var mean float64
	for _, p := range pts {
		mean += p.Distance(c)
	}
	mean /= float64(len(pts))
	s := 1.0
	if mean > 1e-12 {
		s = math.Sqrt2 / mean
	}
	return geometry.Homography{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}
}

// solveHomography solves the DLT system with h8 fixed to 1 on normalized
// coordinates. Four pairs give an exact solve; more give a QR least-squares fit.
func solveHomography(src, dst []geometry.Point2D) (geometry.Homography, error) {
	n := len(src)
	if n < 4 {
		return geometry.Homography{}, ErrTooFewPoints
	}

	ts := normalization(src)
	td := normalization(dst)

	A := mat.NewDense(n*2, 8, nil)
	B := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		s, _ := ts.Apply(src[i])
		d, _ := td.Apply(dst[i])
		x, y := s.X, s.Y
		xp, yp := d.X, d.Y

		// x' = (h0 x + h1 y + h2) / (h6 x + h7 y + 1)
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		A.Set(i*2, 6, -x*xp)
		A.Set(i*2, 7, -y*xp)
		B.SetVec(i*2, xp)

		// y' = (h3 x + h4 y + h5) / (h6 x + h7 y + 1)
		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		A.Set(i*2+1, 6, -x*yp)
		A.Set(i*2+1, 7, -y*yp)
		B.SetVec(i*2+1, yp)
	}

	var qr mat.QR
	qr.Factorize(A)
	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.Homography{}, err
	}

	hn := geometry.Homography{
		params.AtVec(0), params.AtVec(1), params.AtVec(2),
		params.AtVec(3), params.AtVec(4), params.AtVec(5),
		params.AtVec(6), params.AtVec(7), 1,
	}
	tdInv, ok := td.Inverse()
	if !ok {
		return geometry.Homography{}, errors.New("degenerate destination points")
	}
	h := tdInv.Compose(hn).Compose(ts).Normalized()
	if _, ok := h.Inverse(); !ok {
		return geometry.Homography{}, errors.New("singular homography")
	}
	return h, nil
}
