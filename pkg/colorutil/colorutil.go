// Package colorutil provides shared color utilities for card scanning.
package colorutil

import (
	"image/color"
)

// Overlay colors used by debug renderings.
var (
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Luma converts 8-bit RGB to 8-bit intensity using the same BT.601
// weights as color.GrayModel.
func Luma(r, g, b uint8) uint8 {
	r16, g16, b16 := uint32(r)*0x101, uint32(g)*0x101, uint32(b)*0x101
	y := (19595*r16 + 38470*g16 + 7471*b16 + 1<<15) >> 24
	return uint8(y)
}
