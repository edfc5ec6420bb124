// Package catalog holds the immutable in-memory index of known cards and the
// shared handle through which identification calls borrow it.
//
// An Index is built once by Load and never mutated. Reloading builds a new
// Index and installs it with Handle.Swap; calls that already hold a Lease on
// the old Index finish against it, and the old Index is retired when the
// last Lease is released.
package catalog

import (
	"maps"
	"slices"

	"cardscan/internal/phash"
	"cardscan/pkg/geometry"
)

// Metadata keys used by ingestion. The engine treats metadata as opaque.
const (
	MetaRarity        = "rarity"
	MetaCardNumber    = "card_number"
	MetaPromoGrouping = "promo_grouping"
)

// CardReference is one known card with its precomputed matching data.
// Values reachable from an Index must not be modified.
type CardReference struct {
	ID        string
	Name      string
	Subtitle  string
	SetCode   string
	ImagePath string

	Hash        phash.Hash
	Keypoints   []geometry.Point2D
	Descriptors [][]byte

	// Width and Height of the reference image the keypoints refer to.
	Width  int
	Height int

	Metadata map[string]string
}

// Outline returns the reference image rectangle in reference coordinates.
func (c *CardReference) Outline() geometry.Quad {
	return geometry.NewRect(0, 0, float64(c.Width), float64(c.Height)).Corners()
}

// DisplayName joins name and subtitle the way cards print them.
func (c *CardReference) DisplayName() string {
	if c.Subtitle == "" {
		return c.Name
	}
	return c.Name + " - " + c.Subtitle
}

// Record is a collaborator-supplied catalog row. Either the matching data
// (Hash, Keypoints, Descriptors, Width, Height) is present, or ImagePath
// points to a reference image from which Load computes it.
type Record struct {
	ID        string
	Name      string
	Subtitle  string
	SetCode   string
	ImagePath string
	Metadata  map[string]string

	Hash        phash.Hash
	Keypoints   []geometry.Point2D
	Descriptors [][]byte
	Width       int
	Height      int
}

// Precomputed reports whether the record carries matching data.
func (r *Record) Precomputed() bool {
	return len(r.Hash) > 0 && len(r.Descriptors) > 0
}

// clone deep-copies the record into a CardReference so later changes to the
// caller's record cannot leak into a served index.
func (r *Record) clone() *CardReference {
	descriptors := make([][]byte, len(r.Descriptors))
	for i, d := range r.Descriptors {
		descriptors[i] = slices.Clone(d)
	}
	return &CardReference{
		ID:          r.ID,
		Name:        r.Name,
		Subtitle:    r.Subtitle,
		SetCode:     r.SetCode,
		ImagePath:   r.ImagePath,
		Hash:        slices.Clone(r.Hash),
		Keypoints:   slices.Clone(r.Keypoints),
		Descriptors: descriptors,
		Width:       r.Width,
		Height:      r.Height,
		Metadata:    maps.Clone(r.Metadata),
	}
}
