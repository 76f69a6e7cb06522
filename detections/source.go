package detections

import (
	"image"

	"github.com/nfnt/resize"
)

// FitWithin shrinks img so neither side exceeds maxDimension, keeping the
// aspect ratio. Images already small enough, or maxDimension <= 0, are
// returned as is.
func FitWithin(img image.Image, maxDimension int) image.Image {
	if maxDimension <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDimension && b.Dy() <= maxDimension {
		return img
	}
	return resize.Thumbnail(uint(maxDimension), uint(maxDimension), img, resize.Bilinear)
}
