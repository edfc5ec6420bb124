// Command matchtest scores one query photo against one reference image and
// optionally writes an overlay of the fitted reference onto the photo.
package main

import (
	"flag"
	"fmt"
	"os"

	"cardscan/internal/alignment"
	"cardscan/internal/catalog"
	"cardscan/internal/features"
	"cardscan/internal/frame"
	"cardscan/internal/phash"
	"cardscan/internal/verify"
	"cardscan/pkg/colorutil"

	"gocv.io/x/gocv"
)

func main() {
	refPath := flag.String("r", "", "Path to reference card image")
	queryPath := flag.String("q", "", "Path to query photo")
	outPath := flag.String("o", "", "Write overlay PNG to this path")
	opacity := flag.Float64("opacity", 0.5, "Query weight in the overlay")
	fast := flag.Int("fast", 0, "FAST threshold override")
	octaves := flag.Int("octaves", 0, "Pyramid levels override")
	minInliers := flag.Int("min-inliers", 0, "Inlier acceptance override")
	flag.Parse()

	if *refPath == "" || *queryPath == "" {
		fmt.Println("Usage: matchtest -r <reference> -q <query> [-o overlay.png] [-fast N] [-octaves N] [-min-inliers N]")
		os.Exit(1)
	}

	fp := features.DefaultParams().WithSensitivity(*fast, *octaves)
	extractor := features.New(fp)
	vp := verify.DefaultParams()
	if *minInliers > 0 {
		vp.MinInliers = *minInliers
		vp.ConfidentInliers = max(vp.ConfidentInliers, vp.MinInliers)
	}
	if err := vp.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid verifier settings: %v\n", err)
		os.Exit(1)
	}
	verifier := verify.New(vp)

	fmt.Printf("=== Reference: %s ===\n", *refPath)
	refFeats := mustExtract(extractor, *refPath)
	fmt.Printf("\n=== Query: %s ===\n", *queryPath)
	queryFeats := mustExtract(extractor, *queryPath)

	ref := &catalog.CardReference{
		ID:          "reference",
		Hash:        refFeats.Hash,
		Keypoints:   refFeats.Points(),
		Descriptors: refFeats.Descriptors,
		Width:       refFeats.Width,
		Height:      refFeats.Height,
	}

	fmt.Printf("\n=== Hash distance ===\n")
	for turn, h := range queryFeats.Rotations {
		d, err := phash.Distance(h, ref.Hash)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Hash distance failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  %3d deg: %d of %d bits\n", turn*90, d, len(h)*8)
	}

	fmt.Printf("\n=== Verification ===\n")
	s := verifier.Score(queryFeats, ref)
	fmt.Printf("  Matches:    %d\n", s.Matches)
	fmt.Printf("  Inliers:    %d (need %d)\n", s.Inliers, vp.MinInliers)
	fmt.Printf("  Accepted:   %v\n", s.Accepted)
	if s.Reason != "" {
		fmt.Printf("  Reason:     %s\n", s.Reason)
	}
	if s.Inliers > 0 {
		fmt.Printf("  Confidence: %.3f\n", verifier.Confidence(s))
		fmt.Printf("  Outline:    %.1f,%.1f %.1f,%.1f %.1f,%.1f %.1f,%.1f (area %.0f)\n",
			s.Outline[0].X, s.Outline[0].Y, s.Outline[1].X, s.Outline[1].Y,
			s.Outline[2].X, s.Outline[2].Y, s.Outline[3].X, s.Outline[3].Y,
			s.Outline.Area())
	}

	if *outPath == "" {
		return
	}
	if s.Inliers == 0 {
		fmt.Fprintln(os.Stderr, "No geometric fit; overlay not written")
		os.Exit(1)
	}
	if err := writeOverlay(*outPath, *refPath, *queryPath, s, queryFeats, *opacity); err != nil {
		fmt.Fprintf(os.Stderr, "Overlay failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nOverlay written to %s\n", *outPath)
}

func mustExtract(extractor *features.Extractor, path string) *features.ExtractedFeatures {
	f, err := frame.Load(path, "matchtest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", path, err)
		os.Exit(1)
	}
	feats, err := extractor.Extract(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extraction failed for %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("  Size:      %dx%d (%s)\n", f.Width, f.Height, f.Format)
	fmt.Printf("  Keypoints: %d\n", len(feats.Keypoints))
	fmt.Printf("  Hash:      %s\n", feats.Hash.Hex())
	return feats
}

func writeOverlay(out, refPath, queryPath string, s verify.Score, q *features.ExtractedFeatures, opacity float64) error {
	refImg := gocv.IMRead(refPath, gocv.IMReadColor)
	defer refImg.Close()
	queryImg := gocv.IMRead(queryPath, gocv.IMReadColor)
	defer queryImg.Close()
	if refImg.Empty() || queryImg.Empty() {
		return fmt.Errorf("could not decode %s or %s", refPath, queryPath)
	}

	warped := alignment.WarpPerspective(refImg, s.H, queryImg.Cols(), queryImg.Rows())
	defer warped.Close()
	overlay := alignment.CreateOverlay(queryImg, warped, opacity)
	defer overlay.Close()
	if overlay.Empty() {
		return fmt.Errorf("overlay is empty")
	}

	alignment.DrawPoints(&overlay, q.Points(), colorutil.Yellow)
	outline := colorutil.Green
	if !s.Accepted {
		outline = colorutil.Magenta
	}
	alignment.DrawQuad(&overlay, s.Outline, outline, 3)

	if !gocv.IMWrite(out, overlay) {
		return fmt.Errorf("could not write %s", out)
	}
	return nil
}
