// Package frame holds the transient pixel buffers submitted for
// identification and converts them into the forms the extractor needs.
package frame

import (
	"errors"
	"fmt"
	"image"
	"time"

	"cardscan/pkg/colorutil"

	"github.com/google/uuid"
)

// PixelFormat describes the byte layout of a Frame.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatGray8               // 1 byte per pixel
	FormatRGB24               // R, G, B
	FormatBGR24               // B, G, R (OpenCV native order)
	FormatRGBA32              // R, G, B, A (image.RGBA layout)
)

func (f PixelFormat) String() string {
	switch f {
	case FormatGray8:
		return "gray8"
	case FormatRGB24:
		return "rgb24"
	case FormatBGR24:
		return "bgr24"
	case FormatRGBA32:
		return "rgba32"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the pixel size, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatGray8:
		return 1
	case FormatRGB24, FormatBGR24:
		return 3
	case FormatRGBA32:
		return 4
	default:
		return 0
	}
}

// ErrMalformed is returned by Validate for pixel data that cannot be read.
var ErrMalformed = errors.New("malformed frame")

// Frame is one decoded camera frame. It is owned by a single identification
// call and discarded afterwards.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	// Stride is the byte distance between rows; 0 means tightly packed.
	Stride int
	Format PixelFormat

	SessionID   string
	RequestID   string
	Seq         uint64
	SubmittedAt time.Time
}

// New wraps a pixel buffer and stamps it with a request id and timestamp.
func New(pix []byte, width, height int, format PixelFormat, sessionID string) *Frame {
	return &Frame{
		Pix:         pix,
		Width:       width,
		Height:      height,
		Format:      format,
		SessionID:   sessionID,
		RequestID:   uuid.NewString(),
		SubmittedAt: time.Now(),
	}
}

// FromImage copies img into an RGBA32 frame.
func FromImage(img image.Image, sessionID string) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	}
	f := New(rgba.Pix, b.Dx(), b.Dy(), FormatRGBA32, sessionID)
	f.Stride = rgba.Stride
	return f
}

// RowStride returns the effective stride.
func (f *Frame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * f.Format.BytesPerPixel()
}

// Validate checks dimensions, format and buffer size.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrMalformed)
	}
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("%w: unsupported pixel format %d", ErrMalformed, int(f.Format))
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrMalformed, f.Width, f.Height)
	}
	stride := f.RowStride()
	if stride < f.Width*bpp {
		return fmt.Errorf("%w: stride %d shorter than row (%d bytes)", ErrMalformed, stride, f.Width*bpp)
	}
	need := stride*(f.Height-1) + f.Width*bpp
	if len(f.Pix) < need {
		return fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrMalformed, len(f.Pix), need)
	}
	return nil
}

// Packed returns the pixel rows without padding. The result aliases Pix
// when the frame is already tightly packed.
func (f *Frame) Packed() []byte {
	row := f.Width * f.Format.BytesPerPixel()
	stride := f.RowStride()
	if stride == row {
		return f.Pix[:row*f.Height]
	}
	out := make([]byte, row*f.Height)
	for y := 0; y < f.Height; y++ {
		copy(out[y*row:(y+1)*row], f.Pix[y*stride:y*stride+row])
	}
	return out
}

// Gray converts the frame to an 8-bit intensity image. The frame must be valid.
func (f *Frame) Gray() *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	stride := f.RowStride()
	bpp := f.Format.BytesPerPixel()

	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*stride:]
		out := gray.Pix[y*gray.Stride:]
		for x := 0; x < f.Width; x++ {
			p := row[x*bpp:]
			switch f.Format {
			case FormatGray8:
				out[x] = p[0]
			case FormatRGB24, FormatRGBA32:
				out[x] = colorutil.Luma(p[0], p[1], p[2])
			case FormatBGR24:
				out[x] = colorutil.Luma(p[2], p[1], p[0])
			}
		}
	}
	return gray
}
