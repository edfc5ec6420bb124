package verify

import (
	"encoding/binary"
	"math"
	"math/bits"
	"slices"
)

// Match pairs a query descriptor with a reference descriptor.
type Match struct {
	Query    int
	Ref      int
	Distance int
}

// Hamming returns the number of differing bits between two descriptors of
// equal length.
func Hamming(a, b []byte) int {
	d := 0
	i := 0
	for ; i+8 <= len(a); i += 8 {
		d += bits.OnesCount64(binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:]))
	}
	for ; i < len(a); i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// RatioMatches finds, for every query descriptor, its two nearest reference
// descriptors and keeps the pair when the nearest is closer than ratio times
// the second nearest and within maxDistance. Each reference descriptor is
// used at most once; when several queries claim it the closest wins. The
// result is ordered by query index.
func RatioMatches(query, ref [][]byte, ratio float64, maxDistance int) []Match {
	if len(query) == 0 || len(ref) == 0 {
		return nil
	}

	claimed := make(map[int]Match, len(query))
	for qi, qd := range query {
		best, second := math.MaxInt, math.MaxInt
		bestRef := -1
		for ri, rd := range ref {
			if len(rd) != len(qd) {
				continue
			}
			d := Hamming(qd, rd)
			switch {
			case d < best:
				second = best
				best, bestRef = d, ri
			case d < second:
				second = d
			}
		}
		if bestRef < 0 || best > maxDistance {
			continue
		}
		if second != math.MaxInt && float64(best) >= ratio*float64(second) {
			continue
		}
		if prev, ok := claimed[bestRef]; ok && prev.Distance <= best {
			continue
		}
		claimed[bestRef] = Match{Query: qi, Ref: bestRef, Distance: best}
	}

	out := make([]Match, 0, len(claimed))
	for _, m := range claimed {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Match) int { return a.Query - b.Query })
	return out
}
