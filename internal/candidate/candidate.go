// Package candidate narrows a catalog to a short, ranked list of cards whose
// similarity hash is close to the query.
package candidate

import (
	"slices"

	"cardscan/internal/catalog"
	"cardscan/internal/phash"
)

// Candidate is one shortlisted catalog entry.
type Candidate struct {
	ID       string
	Index    int // load position in the catalog
	Distance int // hash distance in bits
}

// Set is ordered by ascending Distance, ties by catalog load order.
type Set []Candidate

// Len returns the number of candidates.
func (s Set) Len() int { return len(s) }

// IDs returns candidate ids in rank order.
func (s Set) IDs() []string {
	ids := make([]string, len(s))
	for i, c := range s {
		ids[i] = c.ID
	}
	return ids
}

// Filter ranks every catalog entry by its minimum bit distance to any of the
// query hashes, drops those above maxDistance and keeps the first k. Query
// hashes whose length differs from the catalog's are ignored. An empty Set
// means nothing in the catalog is plausibly the card.
func Filter(query []phash.Hash, idx *catalog.Index, k, maxDistance int) Set {
	if k <= 0 || idx == nil || idx.Len() == 0 {
		return nil
	}

	usable := make([]phash.Hash, 0, len(query))
	for _, q := range query {
		if len(q) == idx.HashLen() {
			usable = append(usable, q)
		}
	}
	if len(usable) == 0 {
		return nil
	}

	var out Set
	for i, card := range idx.Entries() {
		best := -1
		for _, q := range usable {
			d, err := phash.Distance(q, card.Hash)
			if err != nil {
				continue
			}
			if best < 0 || d < best {
				best = d
			}
		}
		if best < 0 || best > maxDistance {
			continue
		}
		out = append(out, Candidate{ID: card.ID, Index: i, Distance: best})
	}

	// Entries are visited in load order, so a stable sort keeps ties in it.
	slices.SortStableFunc(out, func(a, b Candidate) int {
		return a.Distance - b.Distance
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
