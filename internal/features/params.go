package features

import "cardscan/internal/phash"

// Params tunes keypoint detection. The zero value is not useful; start from
// DefaultParams.
type Params struct {
	MaxFeatures   int     // Upper bound on keypoints kept per image
	FastThreshold int     // Detector sensitivity; lower finds more, weaker corners
	Octaves       int     // Pyramid levels
	ScaleFactor   float32 // Pyramid decimation ratio between levels
	EdgeThreshold int     // Border where features are not detected
	PatchSize     int     // Descriptor patch size
	MinKeypoints  int     // Fewer than this is reported as ErrNoFeatures

	// WorkingSize caps the long edge of the image handed to the detector.
	// Keypoints are always reported in original frame coordinates.
	WorkingSize int

	// BlurKernel is the Gaussian kernel applied before detection; 0 disables.
	BlurKernel int

	// HashGrid is the similarity hash grid edge (bits = HashGrid²).
	HashGrid int

	// SkipOutline disables locating the card outline inside the frame, so
	// only the whole-frame hash is computed.
	SkipOutline bool
}

// DefaultParams returns extractor parameters tuned for card-sized subjects
// filling a good part of a phone camera frame.
func DefaultParams() Params {
	return Params{
		MaxFeatures:   500,
		FastThreshold: 20,
		Octaves:       8,
		ScaleFactor:   1.2,
		EdgeThreshold: 31,
		PatchSize:     31,
		MinKeypoints:  20,
		WorkingSize:   640,
		BlurKernel:    3,
		HashGrid:      phash.DefaultGrid,
	}
}

// WithSensitivity returns a copy of params with a different detector
// threshold and pyramid depth.
func (p Params) WithSensitivity(fastThreshold, octaves int) Params {
	p.FastThreshold = fastThreshold
	p.Octaves = octaves
	return p
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.MaxFeatures <= 0 {
		p.MaxFeatures = d.MaxFeatures
	}
	if p.FastThreshold <= 0 {
		p.FastThreshold = d.FastThreshold
	}
	if p.Octaves <= 0 {
		p.Octaves = d.Octaves
	}
	if p.ScaleFactor <= 1 {
		p.ScaleFactor = d.ScaleFactor
	}
	if p.EdgeThreshold <= 0 {
		p.EdgeThreshold = d.EdgeThreshold
	}
	if p.PatchSize <= 0 {
		p.PatchSize = d.PatchSize
	}
	if p.MinKeypoints <= 0 {
		p.MinKeypoints = d.MinKeypoints
	}
	if p.HashGrid <= 0 {
		p.HashGrid = d.HashGrid
	}
	// Kernel must be odd for GaussianBlur.
	if p.BlurKernel > 0 && p.BlurKernel%2 == 0 {
		p.BlurKernel++
	}
	return p
}
