package render

import (
	"image"
	"io"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/pkg/errors"
)

// EncodePNG writes img to w as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return errors.Wrap(imgio.PNGEncoder()(w, img), "encode png")
}

// SavePNG writes img to path as PNG.
func SavePNG(path string, img image.Image) error {
	return errors.Wrapf(imgio.Save(path, img, imgio.PNGEncoder()), "save %s", path)
}

// Open decodes an image file in any format registered with image.
func Open(path string) (image.Image, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	return img, nil
}
