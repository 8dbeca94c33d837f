package pano

import (
	"context"
	"image"
	"math"

	"github.com/abworrall/panostitch/pkg/emath"
)

// A Blender composites the warped images onto a single canvas, using the
// seam masks to decide who contributes where. It returns the canvas and
// its coverage mask.
type Blender interface {
	Blend(ctx context.Context, warped []WarpedImage, seams []SeamMask) (Image, emath.FloatGrid, error)
}

// canvasRect is the union of the rectangles of every warped image that
// has at least one valid pixel.
func canvasRect(warped []WarpedImage) (image.Rectangle, error) {
	canvas := image.Rectangle{}
	for _, w := range warped {
		if w.Mask.Sum() > 0 {
			canvas = canvas.Union(w.Rect())
		}
	}
	if canvas.Empty() {
		return canvas, ErrEmptyCanvas
	}
	return canvas, nil
}

func numChannels(warped []WarpedImage) int {
	n := 1
	for _, w := range warped {
		if w.Image.NumChannels() > n {
			n = w.Image.NumChannels()
		}
	}
	return n
}

// channelOf returns channel c, repeating the gray channel of 1 channel images.
func channelOf(im Image, c int) emath.FloatGrid {
	if c >= im.NumChannels() {
		return im.chans[0]
	}
	return im.chans[c]
}

// coverage is 1 wherever some seam mask owns the canvas pixel.
func coverage(canvas image.Rectangle, seams []SeamMask, warped []WarpedImage) emath.FloatGrid {
	cov := emath.NewFloatGrid(canvas.Dx(), canvas.Dy())
	for i, s := range seams {
		off := warped[i].Corner.Sub(canvas.Min)
		for y := 0; y < s.Mask.Dy(); y++ {
			for x := 0; x < s.Mask.Dx(); x++ {
				if s.Mask.Get(x, y) > 0.5 {
					cov.Set(x+off.X, y+off.Y, 1)
				}
			}
		}
	}
	return cov
}

// FeatherBlender is a weighted average; each image's weight ramps from
// 1 inside its seam mask, through 0.5 at the seam, down to 0 at Width
// pixels outside it.
type FeatherBlender struct {
	Width float64
}

// featherWeights computes the weight map for one image.
func featherWeights(valid, owned emath.FloatGrid, width float64) emath.FloatGrid {
	if width <= 0 {
		width = 1
	}
	notOwned := owned.NewFromThis()
	nv, ov := notOwned.Values(), owned.Values()
	for k := range nv {
		if ov[k] <= 0.5 {
			nv[k] = 1
		}
	}
	inside := owned.DistanceTransform()
	outside := notOwned.DistanceTransform()

	w := owned.NewFromThis()
	wv, iv, ot, vv := w.Values(), inside.Values(), outside.Values(), valid.Values()
	for k := range wv {
		if vv[k] < 0.5 {
			continue
		}
		sd := iv[k] - ot[k]
		wv[k] = math.Max(0, math.Min(1, 0.5+sd/(2*width)))
	}
	return w
}

func (fb FeatherBlender) Blend(ctx context.Context, warped []WarpedImage, seams []SeamMask) (Image, emath.FloatGrid, error) {
	canvas, err := canvasRect(warped)
	if err != nil {
		return Image{}, emath.FloatGrid{}, err
	}
	nchan := numChannels(warped)
	out := newImage(canvas.Dx(), canvas.Dy(), nchan)
	den := emath.NewFloatGrid(canvas.Dx(), canvas.Dy())

	for i, w := range warped {
		if err := ctx.Err(); err != nil {
			return Image{}, emath.FloatGrid{}, err
		}
		weights := featherWeights(w.Mask, seams[i].Mask, fb.Width)
		off := w.Corner.Sub(canvas.Min)
		for y := 0; y < weights.Dy(); y++ {
			for x := 0; x < weights.Dx(); x++ {
				wt := weights.Get(x, y)
				if wt <= 0 {
					continue
				}
				cx, cy := x+off.X, y+off.Y
				den.Set(cx, cy, den.Get(cx, cy)+wt)
				for c := 0; c < nchan; c++ {
					ch := out.chans[c]
					ch.Set(cx, cy, ch.Get(cx, cy)+wt*channelOf(w.Image, c).Get(x, y))
				}
			}
		}
	}

	cov := coverage(canvas, seams, warped)
	for y := 0; y < canvas.Dy(); y++ {
		for x := 0; x < canvas.Dx(); x++ {
			d := den.Get(x, y)
			for c := 0; c < nchan; c++ {
				if d > 0 && cov.Get(x, y) > 0 {
					out.chans[c].Set(x, y, out.chans[c].Get(x, y)/d)
				} else {
					out.chans[c].Set(x, y, 0)
				}
			}
		}
	}

	return out, cov, nil
}
