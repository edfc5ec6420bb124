// Package verify confirms shortlisted candidates by descriptor matching and
// planar geometric consistency.
package verify

import (
	"errors"
	"fmt"

	"cardscan/internal/alignment"
	"cardscan/internal/candidate"
	"cardscan/internal/catalog"
	"cardscan/internal/features"
	"cardscan/pkg/geometry"
)

// Params controls verification.
type Params struct {
	// RatioMargin accepts a match only if best < RatioMargin * second best.
	RatioMargin float64
	// MinMatches is the fewest accepted matches worth fitting geometry to.
	MinMatches int
	// MinInliers is the acceptance threshold for a candidate.
	MinInliers int
	// ConfidentInliers stops the search early and saturates confidence.
	ConfidentInliers int
	ReprojThreshold  float64
	RANSACIterations int
	Seed             int64
	// MaxHammingDistance caps the distance of any accepted match.
	MaxHammingDistance int
	// MinOutlineArea rejects fits whose projected card collapses.
	MinOutlineArea float64
}

// DefaultParams returns tuned defaults for 256-bit binary descriptors.
func DefaultParams() Params {
	return Params{
		RatioMargin:        0.8,
		MinMatches:         4,
		MinInliers:         12,
		ConfidentInliers:   40,
		ReprojThreshold:    6,
		RANSACIterations:   1000,
		Seed:               1,
		MaxHammingDistance: 80,
		MinOutlineArea:     400,
	}
}

// Validate reports inconsistent parameters.
func (p Params) Validate() error {
	switch {
	case p.RatioMargin <= 0 || p.RatioMargin > 1:
		return fmt.Errorf("ratio margin %v outside (0, 1]", p.RatioMargin)
	case p.MinMatches < 4:
		return errors.New("min matches must be at least 4")
	case p.MinInliers < p.MinMatches:
		return fmt.Errorf("min inliers %d below min matches %d", p.MinInliers, p.MinMatches)
	case p.ConfidentInliers < p.MinInliers:
		return fmt.Errorf("confident inliers %d below min inliers %d", p.ConfidentInliers, p.MinInliers)
	case p.ReprojThreshold <= 0:
		return errors.New("reprojection threshold must be positive")
	case p.RANSACIterations <= 0:
		return errors.New("ransac iterations must be positive")
	}
	return nil
}

// Score is the outcome of verifying one reference against the query.
type Score struct {
	CardID   string
	Matches  int // ratio-test survivors
	Inliers  int // matches consistent with H; 0 when rejected before fitting
	H        geometry.Homography
	Outline  geometry.Quad // reference corners in frame coordinates
	Accepted bool
	Reason   string // why an unaccepted score was rejected
}

// Result is the outcome of verifying a whole candidate set.
type Result struct {
	Accepted  bool
	Best      Score // valid when Accepted
	Candidate candidate.Candidate
	Evaluated int
	EarlyExit bool
	Scores    []Score // every evaluated candidate, in evaluation order
}

// Verifier holds only immutable parameters and is safe for concurrent use.
type Verifier struct {
	params Params
}

// New creates a verifier.
func New(params Params) *Verifier {
	return &Verifier{params: params}
}

// Params returns the verifier configuration.
func (v *Verifier) Params() Params {
	return v.params
}

// Score matches q against one reference card.
func (v *Verifier) Score(q *features.ExtractedFeatures, ref *catalog.CardReference) Score {
	p := v.params
	s := Score{CardID: ref.ID}

	matches := RatioMatches(q.Descriptors, ref.Descriptors, p.RatioMargin, p.MaxHammingDistance)
	s.Matches = len(matches)
	if len(matches) < p.MinMatches {
		s.Reason = fmt.Sprintf("%d matches, need %d", len(matches), p.MinMatches)
		return s
	}

	src := make([]geometry.Point2D, len(matches))
	dst := make([]geometry.Point2D, len(matches))
	for i, m := range matches {
		src[i] = ref.Keypoints[m.Ref]
		dst[i] = q.Keypoints[m.Query].Point2D
	}

	fit, err := alignment.EstimateHomography(src, dst, alignment.Params{
		Iterations: p.RANSACIterations,
		Threshold:  p.ReprojThreshold,
		Confidence: 0.995,
		Seed:       p.Seed,
	})
	if err != nil {
		s.Reason = err.Error()
		return s
	}

	outline, ok := fit.H.ProjectQuad(ref.Outline())
	if !ok || !geometry.IsConvex(outline.Points()) || outline.Area() < p.MinOutlineArea {
		s.Reason = "degenerate outline"
		return s
	}

	s.H = fit.H
	s.Outline = outline
	s.Inliers = len(fit.Inliers)
	if s.Inliers < p.MinInliers {
		s.Reason = fmt.Sprintf("%d inliers, need %d", s.Inliers, p.MinInliers)
		return s
	}
	s.Accepted = true
	return s
}

// Verify scores candidates in rank order and returns the best accepted one.
// A candidate reaching ConfidentInliers ends the search. Among accepted
// candidates with equal inliers the earlier one wins.
func (v *Verifier) Verify(q *features.ExtractedFeatures, set candidate.Set, idx *catalog.Index) Result {
	var res Result
	for _, c := range set {
		ref, err := idx.Lookup(c.ID)
		if err != nil {
			continue
		}
		s := v.Score(q, ref)
		res.Evaluated++
		res.Scores = append(res.Scores, s)
		if !s.Accepted {
			continue
		}
		if !res.Accepted || s.Inliers > res.Best.Inliers {
			res.Accepted = true
			res.Best = s
			res.Candidate = c
		}
		if s.Inliers >= v.params.ConfidentInliers {
			res.EarlyExit = true
			break
		}
	}
	return res
}

// Confidence maps an accepted score into [0, 1]: inlier support saturating at
// ConfidentInliers, weighted by the share of matches that are inliers.
func (v *Verifier) Confidence(s Score) float64 {
	if !s.Accepted || s.Matches == 0 {
		return 0
	}
	support := min(1, float64(s.Inliers)/float64(v.params.ConfidentInliers))
	ratio := float64(s.Inliers) / float64(s.Matches)
	return min(1, support*ratio)
}
