package testsupport

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"cardscan/internal/alignment"
	"cardscan/pkg/geometry"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Backdrop is the table surface behind placed cards.
var Backdrop = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// sceneMargin is the backdrop left around a rotated or tilted card.
const sceneMargin = 20

// RotateOnCanvas turns img by deg degrees clockwise about its center and
// draws it on a bg canvas just large enough to hold it plus a margin.
func RotateOnCanvas(img image.Image, deg float64, bg color.Color) *image.RGBA {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	sin, cos := math.Sincos(deg * math.Pi / 180)
	cw := int(math.Ceil(math.Abs(w*cos)+math.Abs(h*sin))) + 2*sceneMargin
	ch := int(math.Ceil(math.Abs(w*sin)+math.Abs(h*cos))) + 2*sceneMargin

	out := Uniform(cw, ch, bg)
	sx, sy := float64(b.Min.X)+w/2, float64(b.Min.Y)+h/2
	dx, dy := float64(cw)/2, float64(ch)/2
	s2d := f64.Aff3{
		cos, -sin, dx - (cos*sx - sin*sy),
		sin, cos, dy - (sin*sx + cos*sy),
	}
	draw.BiLinear.Transform(out, s2d, img, b, draw.Src, nil)
	return out
}

// Place copies img onto a Backdrop canvas of the given size with its
// top-left corner at offset.
func Place(img image.Image, canvasW, canvasH int, offset image.Point) *image.RGBA {
	out := Uniform(canvasW, canvasH, Backdrop)
	b := img.Bounds()
	draw.Draw(out, b.Sub(b.Min).Add(offset), img, b.Min, draw.Src)
	return out
}

// Tilt renders img as if leaned back from the camera: the top edge is
// narrowed by frac of the width on each side, on a bg canvas with a margin.
func Tilt(img image.Image, frac float64, bg color.Color) *image.RGBA {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	m := float64(sceneMargin)
	inset := frac * w
	to := geometry.Quad{
		{X: m + inset, Y: m},
		{X: m + w - inset, Y: m},
		{X: m + w, Y: m + h},
		{X: m, Y: m + h},
	}
	out := Uniform(b.Dx()+2*sceneMargin, b.Dy()+2*sceneMargin, bg)
	WarpOnto(out, img, to)
	return out
}

// WarpOnto draws img into the quadrilateral to (TL, TR, BR, BL) on dst,
// sampling bilinearly. Pixels of dst outside the quadrilateral are kept.
func WarpOnto(dst *image.RGBA, img image.Image, to geometry.Quad) {
	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	from := geometry.NewRect(0, 0, float64(b.Dx()), float64(b.Dy())).Corners()
	back, err := alignment.QuadHomography(to, from)
	if err != nil {
		panic(fmt.Sprintf("testsupport: degenerate target quad %v: %v", to, err))
	}

	db := dst.Bounds()
	maxX, maxY := float64(b.Dx()-1), float64(b.Dy()-1)
	for y := db.Min.Y; y < db.Max.Y; y++ {
		for x := db.Min.X; x < db.Max.X; x++ {
			p, ok := back.Apply(geometry.Point2D{X: float64(x) + 0.5, Y: float64(y) + 0.5})
			if !ok {
				continue
			}
			sx, sy := p.X-0.5, p.Y-0.5
			if sx < 0 || sy < 0 || sx > maxX || sy > maxY {
				continue
			}
			dst.SetRGBA(x, y, bilinear(src, sx, sy))
		}
	}
}

func bilinear(img *image.RGBA, x, y float64) color.RGBA {
	x0, y0 := int(x), int(y)
	x1 := min(x0+1, img.Rect.Dx()-1)
	y1 := min(y0+1, img.Rect.Dy()-1)
	fx, fy := x-float64(x0), y-float64(y0)

	c00, c10 := img.RGBAAt(x0, y0), img.RGBAAt(x1, y0)
	c01, c11 := img.RGBAAt(x0, y1), img.RGBAAt(x1, y1)
	mix := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bottom := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bottom*fy))
	}
	return color.RGBA{
		R: mix(c00.R, c10.R, c01.R, c11.R),
		G: mix(c00.G, c10.G, c01.G, c11.G),
		B: mix(c00.B, c10.B, c01.B, c11.B),
		A: mix(c00.A, c10.A, c01.A, c11.A),
	}
}
