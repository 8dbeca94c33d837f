package bridge

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/pano"
)

func WritePNG(img image.Image, filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "open+w '%s'", filename)
	}
	defer writer.Close()
	return errors.Wrapf(png.Encode(writer, img), "png encode '%s'", filename)
}

// WriteHDR outputs the panorama as a Radiance HDR file, keeping values
// above 1.0 that the PNG would clip. Uncovered pixels are black.
func WriteHDR(p pano.Panorama, filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "open+w '%s'", filename)
	}
	defer writer.Close()
	return errors.Wrapf(rgbe.Encode(writer, hdrImage{p}), "rgbe encode '%s'", filename)
}

// hdrImage implements hdr.Image over a panorama.
type hdrImage struct {
	pano.Panorama
}

// Implement image.Image
func (hi hdrImage) ColorModel() color.Model { return hdrcolor.RGBModel }
func (hi hdrImage) Bounds() image.Rectangle { return hi.Image.Bounds() }
func (hi hdrImage) At(x, y int) color.Color { return hi.HDRAt(x, y) }

// Implement hdr.Image
func (hi hdrImage) Size() int { return hi.Image.Dx() * hi.Image.Dy() }

func (hi hdrImage) HDRAt(x, y int) hdrcolor.Color {
	if !hi.Mask.In(x, y) || hi.Mask.Get(x, y) < 0.5 {
		return hdrcolor.RGB{}
	}
	ch := func(c int) float64 {
		if c >= hi.Image.NumChannels() {
			c = 0
		}
		return hi.Image.Channel(c).Get(x, y)
	}
	return hdrcolor.RGB{R: ch(0), G: ch(1), B: ch(2)}
}
