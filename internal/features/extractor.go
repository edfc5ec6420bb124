// Package features turns a frame into local keypoint descriptors plus the
// similarity hash used for catalog pre-filtering.
//
// Detection uses OpenCV's ORB (oriented FAST corners with rotated BRIEF
// binary descriptors) through gocv. A fresh detector is built per call, so an
// Extractor is safe for concurrent use and carries no state between frames.
// With fixed Params the output for a given pixel buffer is always identical.
package features

import (
	"image"

	"cardscan/internal/alignment"
	"cardscan/internal/frame"
	"cardscan/internal/phash"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// Keypoint is a detected corner in frame coordinates.
type Keypoint struct {
	geometry.Point2D
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// ExtractedFeatures is everything the matcher needs from one frame.
type ExtractedFeatures struct {
	Keypoints   []Keypoint
	Descriptors [][]byte // Descriptors[i] describes Keypoints[i]
	Hash        phash.Hash
	// Rotations holds Hash turned 0, 90, 180 and 270 degrees.
	Rotations [4]phash.Hash
	// Outline is the card edge found inside the frame, nil when the card
	// was not located. CardRotations then hold the hash of the straightened
	// card in the same four turns.
	Outline       *geometry.Quad
	CardRotations [4]phash.Hash
	Width         int
	Height        int
}

// Points returns the keypoint locations.
func (f *ExtractedFeatures) Points() []geometry.Point2D {
	pts := make([]geometry.Point2D, len(f.Keypoints))
	for i, kp := range f.Keypoints {
		pts[i] = kp.Point2D
	}
	return pts
}

// Extractor computes ExtractedFeatures.
type Extractor struct {
	params Params
}

// New creates an extractor. Unset parameters take their defaults.
func New(params Params) *Extractor {
	return &Extractor{params: params.normalized()}
}

// Params returns the effective parameters.
func (e *Extractor) Params() Params {
	return e.params
}

// Extract detects keypoints and computes the similarity hash for f.
func (e *Extractor) Extract(f *frame.Frame) (*ExtractedFeatures, error) {
	if err := f.Validate(); err != nil {
		return nil, &ExtractionError{Kind: KindInvalidFrame, Err: err}
	}

	hash := phash.Compute(f.Gray(), e.params.HashGrid)

	gray, err := f.GrayMat()
	if err != nil {
		return nil, &ExtractionError{Kind: KindInvalidFrame, Err: err}
	}
	defer gray.Close()

	work, scale := e.prepare(gray)
	defer work.Close()

	keypoints, descriptors := e.detect(work, scale)
	if len(keypoints) < e.params.MinKeypoints {
		return nil, &ExtractionError{Kind: KindNoFeatures, Found: len(keypoints), Min: e.params.MinKeypoints}
	}

	feats := &ExtractedFeatures{
		Keypoints:   keypoints,
		Descriptors: descriptors,
		Hash:        hash,
		Rotations:   phash.Rotations(hash, e.params.HashGrid),
		Width:       f.Width,
		Height:      f.Height,
	}
	if !e.params.SkipOutline {
		if q, cardHash, ok := e.locate(gray, work, scale); ok {
			feats.Outline = &q
			feats.CardRotations = phash.Rotations(cardHash, e.params.HashGrid)
		}
	}
	return feats, nil
}

// locate finds the card outline on the working image and hashes the
// straightened card cut from the full resolution gray image.
func (e *Extractor) locate(gray, work gocv.Mat, scale float64) (geometry.Quad, phash.Hash, bool) {
	q, ok := alignment.DetectOutline(work, alignment.DefaultOutlineParams())
	if !ok {
		return geometry.Quad{}, nil, false
	}
	for i := range q {
		q[i] = q[i].Scale(1 / scale)
	}

	card, err := alignment.Rectify(gray, q)
	if err != nil {
		return geometry.Quad{}, nil, false
	}
	defer card.Close()

	img := &image.Gray{
		Pix:    card.ToBytes(),
		Stride: card.Cols(),
		Rect:   image.Rect(0, 0, card.Cols(), card.Rows()),
	}
	return q, phash.Compute(img, e.params.HashGrid), true
}

// prepare downsizes and smooths the intensity image. The returned Mat is
// always a new Mat owned by the caller.
func (e *Extractor) prepare(gray gocv.Mat) (gocv.Mat, float64) {
	scale := 1.0
	work := gray.Clone()

	longEdge := max(work.Cols(), work.Rows())
	if e.params.WorkingSize > 0 && longEdge > e.params.WorkingSize {
		scale = float64(e.params.WorkingSize) / float64(longEdge)
		small := gocv.NewMat()
		gocv.Resize(work, &small, image.Point{}, scale, scale, gocv.InterpolationArea)
		work.Close()
		work = small
	}

	if k := e.params.BlurKernel; k > 0 {
		blurred := gocv.NewMat()
		gocv.GaussianBlur(work, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)
		work.Close()
		work = blurred
	}

	return work, scale
}

func (e *Extractor) detect(work gocv.Mat, scale float64) ([]Keypoint, [][]byte) {
	orb := gocv.NewORBWithParams(
		e.params.MaxFeatures,
		e.params.ScaleFactor,
		e.params.Octaves,
		e.params.EdgeThreshold,
		0, // first level
		2, // WTA_K
		gocv.ORBScoreTypeHarris,
		e.params.PatchSize,
		e.params.FastThreshold,
	)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := orb.DetectAndCompute(work, mask)
	defer desc.Close()

	if desc.Empty() || desc.Rows() != len(kps) {
		return nil, nil
	}

	cols := desc.Cols()
	raw := desc.ToBytes()
	keypoints := make([]Keypoint, len(kps))
	descriptors := make([][]byte, len(kps))
	for i, kp := range kps {
		keypoints[i] = Keypoint{
			Point2D:  geometry.Point2D{X: kp.X / scale, Y: kp.Y / scale},
			Size:     kp.Size / scale,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
		}
		d := make([]byte, cols)
		copy(d, raw[i*cols:(i+1)*cols])
		descriptors[i] = d
	}
	return keypoints, descriptors
}
