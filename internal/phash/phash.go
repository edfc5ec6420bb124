// Package phash computes the compact similarity hash used to shortlist
// catalog cards before descriptor matching.
//
// The hash is an average hash over a small square grid: the intensity image
// is downsampled to Grid×Grid cells and each cell contributes one bit, set
// when the cell is brighter than the grid median. Bits are packed MSB-first.
package phash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/bits"
	"slices"

	"github.com/nfnt/resize"
)

// DefaultGrid gives a 144-bit hash.
const DefaultGrid = 12

// ErrLengthMismatch is returned when comparing hashes of different sizes.
var ErrLengthMismatch = errors.New("hash length mismatch")

// Hash is a packed bit vector.
type Hash []byte

// ByteLen returns the packed size of a hash over a grid×grid image.
func ByteLen(grid int) int {
	return (grid*grid + 7) / 8
}

// Compute hashes an intensity image.
func Compute(gray *image.Gray, grid int) Hash {
	if grid <= 0 {
		grid = DefaultGrid
	}
	scaled := resize.Resize(uint(grid), uint(grid), gray, resize.Bilinear)

	cells := make([]float64, 0, grid*grid)
	b := scaled.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cells = append(cells, float64(color.GrayModel.Convert(scaled.At(x, y)).(color.Gray).Y))
		}
	}

	median := medianOf(cells)
	h := make(Hash, ByteLen(grid))
	for i, v := range cells {
		if v > median {
			h.set(i)
		}
	}
	return h
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (h Hash) set(i int) {
	h[i/8] |= 0x80 >> (i % 8)
}

// Bit reports whether bit i is set.
func (h Hash) Bit(i int) bool {
	return h[i/8]&(0x80>>(i%8)) != 0
}

// Distance counts differing bits.
func Distance(a, b Hash) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d bytes", ErrLengthMismatch, len(a), len(b))
	}
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d, nil
}

// Hex encodes the hash the way the catalog stores it.
func (h Hash) Hex() string {
	return hex.EncodeToString(h)
}

// ParseHex decodes a stored hash.
func ParseHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse hash: %w", err)
	}
	return Hash(b), nil
}

// Rotate90 returns the hash of the same image turned a quarter turn
// clockwise, computed by permuting grid cells.
func Rotate90(h Hash, grid int) Hash {
	out := make(Hash, len(h))
	for r := 0; r < grid; r++ {
		for c := 0; c < grid; c++ {
			// new[r][c] = old[grid-1-c][r]
			if h.Bit((grid-1-c)*grid + r) {
				out.set(r*grid + c)
			}
		}
	}
	return out
}

// Rotations returns the hash turned by 0, 90, 180 and 270 degrees.
func Rotations(h Hash, grid int) [4]Hash {
	var out [4]Hash
	out[0] = h
	for i := 1; i < 4; i++ {
		out[i] = Rotate90(out[i-1], grid)
	}
	return out
}
