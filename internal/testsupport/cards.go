// Package testsupport renders deterministic synthetic card images and
// catalogs for tests across packages.
package testsupport

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
)

// Card dimensions used by tests, roughly a 63×88 mm trading card.
const (
	CardWidth  = 300
	CardHeight = 420
)

// SyntheticCard renders a texture-rich card. The same seed always yields the
// same pixels, and different seeds yield unrelated layouts.
func SyntheticCard(seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))

	bg := randomColor(rng)
	fillRect(img, img.Bounds(), bg)

	// Large blocks set the coarse layout the similarity hash sees.
	for i := 0; i < 10; i++ {
		w := 40 + rng.Intn(120)
		h := 40 + rng.Intn(150)
		x := rng.Intn(CardWidth - w/2)
		y := rng.Intn(CardHeight - h/2)
		fillRect(img, image.Rect(x, y, x+w, y+h), randomColor(rng))
	}

	// Small triangles and rectangles give the detector distinct corners.
	for i := 0; i < 90; i++ {
		cx := 10 + rng.Float64()*(CardWidth-20)
		cy := 10 + rng.Float64()*(CardHeight-20)
		if i%3 == 0 {
			s := 6 + rng.Intn(20)
			fillRect(img, image.Rect(int(cx), int(cy), int(cx)+s, int(cy)+s*2/3+3), randomColor(rng))
			continue
		}
		r := 8 + rng.Float64()*18
		a := rng.Float64() * 2 * math.Pi
		p0 := image.Pt(int(cx+r*math.Cos(a)), int(cy+r*math.Sin(a)))
		p1 := image.Pt(int(cx+r*math.Cos(a+2.1)), int(cy+r*math.Sin(a+2.1)))
		p2 := image.Pt(int(cx+0.6*r*math.Cos(a+4.0)), int(cy+0.6*r*math.Sin(a+4.0)))
		fillTriangle(img, p0, p1, p2, randomColor(rng))
	}

	// Thin frame border like a printed card.
	border := color.RGBA{R: 20, G: 20, B: 20, A: 255}
	b := img.Bounds()
	fillRect(img, image.Rect(0, 0, b.Dx(), 6), border)
	fillRect(img, image.Rect(0, b.Dy()-6, b.Dx(), b.Dy()), border)
	fillRect(img, image.Rect(0, 0, 6, b.Dy()), border)
	fillRect(img, image.Rect(b.Dx()-6, 0, b.Dx(), b.Dy()), border)
	return img
}

// Uniform renders a featureless image.
func Uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// Rotate90 turns img a quarter turn clockwise, pixel exact.
func Rotate90(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(b.Dy()-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// Rotate180 turns img upside down, pixel exact.
func Rotate180(img image.Image) *image.RGBA {
	return Rotate90(Rotate90(img))
}

// Scale resamples img by factor.
func Scale(img image.Image, factor float64) *image.RGBA {
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}

// Crop trims fraction of the width and height, split evenly between sides.
func Crop(img image.Image, fraction float64) *image.RGBA {
	b := img.Bounds()
	dx := int(float64(b.Dx()) * fraction / 2)
	dy := int(float64(b.Dy()) * fraction / 2)
	r := image.Rect(b.Min.X+dx, b.Min.Y+dy, b.Max.X-dx, b.Max.Y-dy)
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

func randomColor(rng *rand.Rand) color.RGBA {
	return color.RGBA{
		R: uint8(rng.Intn(256)),
		G: uint8(rng.Intn(256)),
		B: uint8(rng.Intn(256)),
		A: 255,
	}
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func fillTriangle(img *image.RGBA, p0, p1, p2 image.Point, c color.RGBA) {
	minX := min(p0.X, p1.X, p2.X)
	maxX := max(p0.X, p1.X, p2.X)
	minY := min(p0.Y, p1.Y, p2.Y)
	maxY := max(p0.Y, p1.Y, p2.Y)
	b := img.Bounds()
	for y := max(minY, b.Min.Y); y <= min(maxY, b.Max.Y-1); y++ {
		for x := max(minX, b.Min.X); x <= min(maxX, b.Max.X-1); x++ {
			p := image.Pt(x, y)
			d0 := edge(p0, p1, p)
			d1 := edge(p1, p2, p)
			d2 := edge(p2, p0, p)
			if (d0 >= 0 && d1 >= 0 && d2 >= 0) || (d0 <= 0 && d1 <= 0 && d2 <= 0) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func edge(a, b, p image.Point) int {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}
