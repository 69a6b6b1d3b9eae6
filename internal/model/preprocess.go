package model

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// Preprocess converts img to RGB, resizes it to size×size and scales each
// channel to [0,1]. The result has a batch dimension of one in the given layout.
func Preprocess(img image.Image, size int, layout Layout) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bicubic)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// NRGBA drops premultiplication so transparent pixels keep their color.
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r := float32(c.R) / 255.0
			g := float32(c.G) / 255.0
			b := float32(c.B) / 255.0

			pixel := y*width + x
			if layout == LayoutNCHW {
				data[pixel] = r
				data[plane+pixel] = g
				data[2*plane+pixel] = b
				continue
			}
			data[3*pixel] = r
			data[3*pixel+1] = g
			data[3*pixel+2] = b
		}
	}

	return data
}
