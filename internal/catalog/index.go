package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"cardscan/internal/features"
	"cardscan/internal/frame"

	"golang.org/x/text/cases"
)

// ErrNotFound is returned by Lookup for unknown ids.
var ErrNotFound = errors.New("card not found")

// Reasons a load fails. Wrapped by *LoadError.
var (
	ErrDuplicateID          = errors.New("duplicate card id")
	ErrMalformedDescriptors = errors.New("malformed descriptor set")
	ErrHashLength           = errors.New("hash length differs from catalog")
	ErrReferenceImage       = errors.New("unusable reference image")
	ErrSource               = errors.New("catalog source failed")
)

// LoadError aborts a catalog load. An index that is already serving is not
// affected.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("catalog load: %v", e.Err)
	}
	return fmt.Sprintf("catalog load: card %q: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func loadErr(id string, reason error, detail error) *LoadError {
	if detail == nil {
		return &LoadError{ID: id, Err: reason}
	}
	return &LoadError{ID: id, Err: fmt.Errorf("%w: %v", reason, detail)}
}

// Source supplies catalog records in load order.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// SliceSource serves records from memory.
type SliceSource []Record

// Records implements Source.
func (s SliceSource) Records(context.Context) ([]Record, error) {
	return s, nil
}

// Extractor computes matching data for image-only records.
type Extractor interface {
	Extract(f *frame.Frame) (*features.ExtractedFeatures, error)
}

// Options controls Load.
type Options struct {
	// Extractor is required only when the source has image-only records.
	Extractor Extractor
	// ImageRoot resolves relative ImagePath values.
	ImageRoot string
	Logger    *slog.Logger
}

var indexVersion atomic.Uint64

// Index is an immutable snapshot of the catalog.
type Index struct {
	version  uint64
	entries  []*CardReference
	byID     map[string]int
	hashLen  int
	loadedAt time.Time
}

// Load builds an Index from src. Any bad record fails the whole load.
func Load(ctx context.Context, src Source, opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	records, err := src.Records(ctx)
	if err != nil {
		return nil, loadErr("", ErrSource, err)
	}

	idx := &Index{
		entries: make([]*CardReference, 0, len(records)),
		byID:    make(map[string]int, len(records)),
	}

	computed := 0
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, loadErr("", ErrSource, err)
		}
		rec := &records[i]
		if strings.TrimSpace(rec.ID) == "" {
			return nil, loadErr(fmt.Sprintf("#%d", i), ErrMalformedDescriptors, errors.New("empty id"))
		}
		if _, dup := idx.byID[rec.ID]; dup {
			return nil, loadErr(rec.ID, ErrDuplicateID, nil)
		}

		card, err := buildCard(rec, opts)
		if err != nil {
			return nil, err
		}
		if !rec.Precomputed() {
			computed++
		}

		if idx.hashLen == 0 {
			idx.hashLen = len(card.Hash)
		} else if len(card.Hash) != idx.hashLen {
			return nil, loadErr(rec.ID, ErrHashLength, fmt.Errorf("%d bytes, catalog uses %d", len(card.Hash), idx.hashLen))
		}

		idx.byID[card.ID] = len(idx.entries)
		idx.entries = append(idx.entries, card)
	}

	idx.version = indexVersion.Add(1)
	idx.loadedAt = time.Now()
	logger.Info("catalog loaded",
		"version", idx.version,
		"cards", len(idx.entries),
		"computed", computed,
		"hash_bits", idx.hashLen*8)
	return idx, nil
}

func buildCard(rec *Record, opts Options) (*CardReference, error) {
	work := *rec
	if !work.Precomputed() {
		if err := computeFromImage(&work, opts); err != nil {
			return nil, err
		}
	}

	card := work.clone()
	if len(card.Keypoints) == 0 || len(card.Keypoints) != len(card.Descriptors) {
		return nil, loadErr(rec.ID, ErrMalformedDescriptors,
			fmt.Errorf("%d keypoints, %d descriptors", len(card.Keypoints), len(card.Descriptors)))
	}
	size := len(card.Descriptors[0])
	for i, d := range card.Descriptors {
		if len(d) == 0 || len(d) != size {
			return nil, loadErr(rec.ID, ErrMalformedDescriptors,
				fmt.Errorf("descriptor %d has %d bytes, expected %d", i, len(d), size))
		}
	}
	if card.Width <= 0 || card.Height <= 0 {
		return nil, loadErr(rec.ID, ErrMalformedDescriptors,
			fmt.Errorf("reference size %dx%d", card.Width, card.Height))
	}
	return card, nil
}

// computeFromImage fills the matching fields of rec from its reference image.
func computeFromImage(rec *Record, opts Options) error {
	if rec.ImagePath == "" {
		return loadErr(rec.ID, ErrMalformedDescriptors, errors.New("no descriptors and no reference image"))
	}
	if opts.Extractor == nil {
		return loadErr(rec.ID, ErrReferenceImage, errors.New("no extractor configured for image-only records"))
	}

	path := rec.ImagePath
	if !filepath.IsAbs(path) && opts.ImageRoot != "" {
		path = filepath.Join(opts.ImageRoot, path)
	}
	f, err := frame.Load(path, "")
	if err != nil {
		return loadErr(rec.ID, ErrReferenceImage, err)
	}
	feats, err := opts.Extractor.Extract(f)
	if err != nil {
		return loadErr(rec.ID, ErrReferenceImage, err)
	}

	rec.Hash = feats.Hash
	rec.Keypoints = feats.Points()
	rec.Descriptors = feats.Descriptors
	rec.Width = feats.Width
	rec.Height = feats.Height
	return nil
}

// Lookup returns the card with the given id.
func (x *Index) Lookup(id string) (*CardReference, error) {
	i, ok := x.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return x.entries[i], nil
}

// Entries returns cards in load order. The slice must not be modified.
func (x *Index) Entries() []*CardReference {
	return x.entries
}

// At returns the card at load position i.
func (x *Index) At(i int) *CardReference {
	return x.entries[i]
}

// Len returns the number of cards.
func (x *Index) Len() int {
	return len(x.entries)
}

// HashLen returns the catalog-wide hash length in bytes (0 for an empty index).
func (x *Index) HashLen() int {
	return x.hashLen
}

// HashBits returns the catalog-wide hash length in bits.
func (x *Index) HashBits() int {
	return x.hashLen * 8
}

// Version identifies this snapshot; every successful Load gets a new one.
func (x *Index) Version() uint64 {
	return x.version
}

// LoadedAt returns when the snapshot was built.
func (x *Index) LoadedAt() time.Time {
	return x.loadedAt
}

// FindByName returns cards whose name or subtitle contains query, ignoring case.
func (x *Index) FindByName(query string) []*CardReference {
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []*CardReference
	for _, c := range x.entries {
		if strings.Contains(fold.String(c.Name), q) || strings.Contains(fold.String(c.Subtitle), q) {
			out = append(out, c)
		}
	}
	return out
}
