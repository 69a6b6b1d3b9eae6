package training

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Augmenter applies random geometric transforms to training images. The
// output always has the input's size; uncovered pixels are black.
type Augmenter struct {
	MaxRotation float64 // degrees, either direction
	MaxShift    float64 // fraction of width/height, either direction
	FlipH       bool
}

// DefaultAugmenter rotates up to 20°, shifts up to 20% and flips half the time.
func DefaultAugmenter() Augmenter {
	return Augmenter{MaxRotation: 20, MaxShift: 0.2, FlipH: true}
}

func (a Augmenter) Apply(img image.Image, rng *rand.Rand) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := imaging.Clone(img)

	if a.MaxRotation > 0 {
		angle := (rng.Float64()*2 - 1) * a.MaxRotation
		out = imaging.CropCenter(imaging.Rotate(out, angle, color.Black), w, h)
	}

	if a.MaxShift > 0 {
		dx := int(math.Round((rng.Float64()*2 - 1) * a.MaxShift * float64(w)))
		dy := int(math.Round((rng.Float64()*2 - 1) * a.MaxShift * float64(h)))
		if dx != 0 || dy != 0 {
			out = imaging.Paste(imaging.New(w, h, color.Black), out, image.Pt(dx, dy))
		}
	}

	if a.FlipH && rng.Intn(2) == 1 {
		out = imaging.FlipH(out)
	}
	return out
}
