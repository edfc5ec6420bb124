package colorutil

import (
	"image/color"
	"testing"
)

func TestLumaMatchesGrayModel(t *testing.T) {
	samples := []color.RGBA{
		{0, 0, 0, 255},
		{255, 255, 255, 255},
		{255, 0, 0, 255},
		{0, 255, 0, 255},
		{0, 0, 255, 255},
		{12, 200, 99, 255},
	}
	for _, c := range samples {
		want := color.GrayModel.Convert(c).(color.Gray).Y
		if got := Luma(c.R, c.G, c.B); got != want {
			t.Fatalf("Luma(%v) = %d, want %d", c, got, want)
		}
	}
}
