// Package ingest fills the card store from a manifest and a directory of
// reference images.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"cardscan/internal/catalog"
	"cardscan/internal/frame"
)

// DefaultConcurrency bounds parallel feature extraction.
const DefaultConcurrency = 10

// ErrNoImage means no reference image was found for a card.
var ErrNoImage = errors.New("no reference image")

// Writer is the store surface ingestion needs.
type Writer interface {
	HasFeatures(ctx context.Context, id string) (bool, error)
	UpsertCard(ctx context.Context, rec catalog.Record) error
	UpdateMetadata(ctx context.Context, rec catalog.Record) error
}

// Options controls Run.
type Options struct {
	ImagesDir   string
	Concurrency int
	// Force recomputes features for cards that already have them.
	Force     bool
	Extractor catalog.Extractor
	Logger    *slog.Logger
}

// CardError records a card that could not be ingested.
type CardError struct {
	ID  string
	Err error
}

func (e CardError) Error() string {
	return fmt.Sprintf("card %s: %v", e.ID, e.Err)
}

// Report summarises a run.
type Report struct {
	Total        int
	Computed     int
	MetadataOnly int
	Failed       []CardError
}

type job struct {
	card ManifestCard
	rec  catalog.Record
	full bool // compute features
	err  error
}

// Run ingests cards. Cards already holding features get a metadata-only
// update unless Force is set. Failures of single cards are reported, not
// returned; the error is reserved for cancellation and store failures that
// stop the run.
func Run(ctx context.Context, cards []ManifestCard, w Writer, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Extractor == nil {
		return Report{}, errors.New("ingest requires an extractor")
	}

	report := Report{Total: len(cards)}
	jobs := make([]*job, len(cards))
	for i, c := range cards {
		j := &job{card: c, rec: recordFor(c)}
		if opts.Force {
			j.full = true
		} else {
			complete, err := w.HasFeatures(ctx, j.rec.ID)
			if err != nil {
				return report, err
			}
			j.full = !complete
		}
		jobs[i] = j
	}

	// Extraction runs in parallel; writes below keep manifest order.
	var wg sync.WaitGroup
	sem := make(chan struct{}, opts.Concurrency)
	for _, j := range jobs {
		if !j.full {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(j *job) {
			defer wg.Done()
			defer func() { <-sem }()
			j.err = computeFeatures(j, opts)
		}(j)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, j := range jobs {
		id := j.rec.ID
		if j.err != nil {
			logger.Warn("card skipped", "card_id", id, "error", j.err)
			report.Failed = append(report.Failed, CardError{ID: id, Err: j.err})
			continue
		}
		if j.full {
			if err := w.UpsertCard(ctx, j.rec); err != nil {
				return report, fmt.Errorf("store card %s: %w", id, err)
			}
			report.Computed++
			logger.Debug("card processed", "card_id", id, "name", j.rec.Name, "phash", j.rec.Hash.Hex())
			continue
		}
		if err := w.UpdateMetadata(ctx, j.rec); err != nil {
			return report, fmt.Errorf("update card %s: %w", id, err)
		}
		report.MetadataOnly++
	}

	logger.Info("ingestion complete",
		"cards", report.Total,
		"computed", report.Computed,
		"metadata_only", report.MetadataOnly,
		"failed", len(report.Failed))
	return report, nil
}

func recordFor(c ManifestCard) catalog.Record {
	rarity := c.Rarity
	if rarity == "" {
		rarity = "Unknown"
	}
	meta := map[string]string{
		catalog.MetaRarity:     rarity,
		catalog.MetaCardNumber: strconv.Itoa(c.Number),
	}
	if c.PromoGrouping != "" {
		meta[catalog.MetaPromoGrouping] = c.PromoGrouping
	}
	return catalog.Record{
		ID:       c.ID(),
		Name:     c.Name,
		Subtitle: c.DisplaySubtitle(),
		SetCode:  c.SetCode,
		Metadata: meta,
	}
}

func computeFeatures(j *job, opts Options) error {
	path, err := findImage(j.card, opts.ImagesDir)
	if err != nil {
		return err
	}
	f, err := frame.Load(path, "")
	if err != nil {
		return err
	}
	feats, err := opts.Extractor.Extract(f)
	if err != nil {
		return err
	}

	j.rec.ImagePath = path
	if rel, err := filepath.Rel(opts.ImagesDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		j.rec.ImagePath = rel
	}
	j.rec.Hash = feats.Hash
	j.rec.Keypoints = feats.Points()
	j.rec.Descriptors = feats.Descriptors
	j.rec.Width = feats.Width
	j.rec.Height = feats.Height
	return nil
}

var imageExts = []string{".jpg", ".jpeg", ".png", ".webp", ".tiff"}

// findImage looks for <id>.<ext> in dir, then the manifest's image field
// when it names a local file.
func findImage(c ManifestCard, dir string) (string, error) {
	for _, ext := range imageExts {
		p := filepath.Join(dir, c.ID()+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if full := c.Images.Full; full != "" && !strings.Contains(full, "://") {
		p := full
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoImage, dir)
}
