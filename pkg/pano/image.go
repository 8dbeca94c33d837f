package pano

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Image is a planar float raster, with 1 (gray) or 3 (RGB) channels,
// values nominally in [0,1]. Treat it as immutable once built. Implements
// the image.Image interface.
type Image struct {
	chans     []emath.FloatGrid
	FocalHint float64 // pixels at this resolution; 0 if unknown
}

// NewImageFromGrids wraps the channels, which must all be the same size.
func NewImageFromGrids(chans ...emath.FloatGrid) Image {
	return Image{chans: chans}
}

func newImage(w, h, nchan int) Image {
	im := Image{chans: make([]emath.FloatGrid, nchan)}
	for c := range im.chans {
		im.chans[c] = emath.NewFloatGrid(w, h)
	}
	return im
}

// ImageFromStd converts any image.Image; gray images stay single channel.
func ImageFromStd(img image.Image) Image {
	b := img.Bounds()
	nchan := 3
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		nchan = 1
	}

	im := newImage(b.Dx(), b.Dy(), nchan)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			im.chans[0].Set(x, y, float64(r)/0xffff)
			if nchan == 3 {
				im.chans[1].Set(x, y, float64(g)/0xffff)
				im.chans[2].Set(x, y, float64(bl)/0xffff)
			}
		}
	}
	return im
}

func (im Image) Dx() int {
	if len(im.chans) == 0 {
		return 0
	}
	return im.chans[0].Dx()
}

func (im Image) Dy() int {
	if len(im.chans) == 0 {
		return 0
	}
	return im.chans[0].Dy()
}

func (im Image) NumChannels() int              { return len(im.chans) }
func (im Image) Channel(c int) emath.FloatGrid { return im.chans[c] }
func (im Image) Empty() bool                   { return im.Dx() == 0 || im.Dy() == 0 }
func (im Image) String() string                { return fmt.Sprintf("Image[%dx%d, %dch]", im.Dx(), im.Dy(), len(im.chans)) }
func (im Image) WithFocalHint(f float64) Image { im.FocalHint = f; return im }

// Implement image.Image
func (im Image) ColorModel() color.Model { return color.RGBA64Model }
func (im Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.Dx(), im.Dy()) }
func (im Image) At(x, y int) color.Color { return im.RGBA64At(x, y) }

func (im Image) RGBA64At(x, y int) color.RGBA64 {
	if !im.chans[0].In(x, y) {
		return color.RGBA64{}
	}
	r, g, b := im.rgbAt(x, y)
	return color.RGBA64{to16(r), to16(g), to16(b), 0xffff}
}

func to16(v float64) uint16 {
	return uint16(math.Round(clamp01(v) * 0xffff))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	} else if v > 1 {
		return 1
	}
	return v
}

// rgbAt returns the color at (x,y); gray images give r=g=b.
func (im Image) rgbAt(x, y int) (float64, float64, float64) {
	if len(im.chans) < 3 {
		v := im.chans[0].Get(x, y)
		return v, v, v
	}
	return im.chans[0].Get(x, y), im.chans[1].Get(x, y), im.chans[2].Get(x, y)
}

// Gray returns a luminance grid (Rec. 601 weights).
func (im Image) Gray() emath.FloatGrid {
	if len(im.chans) < 3 {
		return im.chans[0].Copy()
	}
	g := im.chans[0].NewFromThis()
	vals := g.Values()
	r, gr, b := im.chans[0].Values(), im.chans[1].Values(), im.chans[2].Values()
	for i := range vals {
		vals[i] = 0.299*r[i] + 0.587*gr[i] + 0.114*b[i]
	}
	return g
}

// Scaled multiplies every channel by gain.
func (im Image) Scaled(gain float64) Image {
	out := Image{chans: make([]emath.FloatGrid, len(im.chans)), FocalHint: im.FocalHint}
	for c, ch := range im.chans {
		out.chans[c] = ch.Copy()
		vals := out.chans[c].Values()
		for i := range vals {
			vals[i] *= gain
		}
	}
	return out
}

// Resized returns the image scaled by s (bilinear). The focal hint
// scales with it.
func (im Image) Resized(s float64) Image {
	if s == 1.0 {
		return im
	}
	w := uint(math.Max(1, math.Round(float64(im.Dx())*s)))
	h := uint(math.Max(1, math.Round(float64(im.Dy())*s)))
	small := ImageFromStd(resize.Resize(w, h, im, resize.Bilinear))
	if len(im.chans) == 1 {
		small.chans = small.chans[:1]
	}
	small.FocalHint = im.FocalHint * s
	return small
}
