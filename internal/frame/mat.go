package frame

import (
	"fmt"
	"runtime"

	"gocv.io/x/gocv"
)

// GrayMat converts the frame to a single-channel 8-bit Mat owned by the
// caller, who must Close it. The frame must be valid.
func (f *Frame) GrayMat() (gocv.Mat, error) {
	var (
		matType gocv.MatType
		code    gocv.ColorConversionCode
	)
	switch f.Format {
	case FormatGray8:
		matType = gocv.MatTypeCV8UC1
	case FormatRGB24:
		matType, code = gocv.MatTypeCV8UC3, gocv.ColorRGBToGray
	case FormatBGR24:
		matType, code = gocv.MatTypeCV8UC3, gocv.ColorBGRToGray
	case FormatRGBA32:
		matType, code = gocv.MatTypeCV8UC4, gocv.ColorRGBAToGray
	default:
		return gocv.NewMat(), fmt.Errorf("%w: unsupported pixel format %s", ErrMalformed, f.Format)
	}

	packed := f.Packed()
	src, err := gocv.NewMatFromBytes(f.Height, f.Width, matType, packed)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer src.Close()

	// src borrows packed; copy out before returning.
	var gray gocv.Mat
	if matType == gocv.MatTypeCV8UC1 {
		gray = src.Clone()
	} else {
		gray = gocv.NewMat()
		gocv.CvtColor(src, &gray, code)
	}
	runtime.KeepAlive(packed)
	return gray, nil
}
