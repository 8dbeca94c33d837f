package pano

import (
	"context"
	"image"

	"github.com/abworrall/panostitch/pkg/emath"
)

// MultiBandBlender blends each frequency band separately (Burt & Adelson):
// low frequencies mix over a wide area around the seam, fine detail over
// a narrow one.
type MultiBandBlender struct {
	Bands int
}

// numLevels clamps the band count so the coarsest level is at least 2x2.
func numLevels(bands int, canvas image.Rectangle) int {
	levels := 0
	w, h := canvas.Dx(), canvas.Dy()
	for levels < bands && w/2 >= 2 && h/2 >= 2 {
		w, h = w/2, h/2
		levels++
	}
	return levels
}

func reduce(g emath.FloatGrid) emath.FloatGrid { return g.GaussianBlur().DownSample() }

// expand brings a level back up to (w x h). The same operator is used
// for building and collapsing the pyramids, so a lone image rebuilds exactly.
func expand(g emath.FloatGrid, w, h int) emath.FloatGrid { return g.UpSample(w, h) }

func gaussianPyramid(g emath.FloatGrid, levels int) []emath.FloatGrid {
	pyr := []emath.FloatGrid{g}
	for k := 0; k < levels; k++ {
		pyr = append(pyr, reduce(pyr[k]))
	}
	return pyr
}

// laplacianPyramid has levels+1 entries; the last is the residual low-pass.
func laplacianPyramid(g emath.FloatGrid, levels int) []emath.FloatGrid {
	gp := gaussianPyramid(g, levels)
	lp := make([]emath.FloatGrid, levels+1)
	for k := 0; k < levels; k++ {
		lp[k] = gp[k].Sub(expand(gp[k+1], gp[k].Dx(), gp[k].Dy()))
	}
	lp[levels] = gp[levels]
	return lp
}

func collapse(lp []emath.FloatGrid) emath.FloatGrid {
	g := lp[len(lp)-1].Copy()
	for k := len(lp) - 2; k >= 0; k-- {
		up := expand(g, lp[k].Dx(), lp[k].Dy())
		up.AddFrom(lp[k])
		g = up
	}
	return g
}

// onCanvas pastes a grid (at corner off) into a zeroed canvas sized grid.
func onCanvas(g emath.FloatGrid, off image.Point, w, h int) emath.FloatGrid {
	out := emath.NewFloatGrid(w, h)
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			if out.In(x+off.X, y+off.Y) {
				out.Set(x+off.X, y+off.Y, g.Get(x, y))
			}
		}
	}
	return out
}

func (mb MultiBandBlender) Blend(ctx context.Context, warped []WarpedImage, seams []SeamMask) (Image, emath.FloatGrid, error) {
	canvas, err := canvasRect(warped)
	if err != nil {
		return Image{}, emath.FloatGrid{}, err
	}
	W, H := canvas.Dx(), canvas.Dy()
	levels := numLevels(mb.Bands, canvas)
	nchan := numChannels(warped)

	// Weight pyramids, one per image
	weights := make([][]emath.FloatGrid, len(warped))
	for i, w := range warped {
		m := seams[i].Mask.Copy()
		mv, vv := m.Values(), w.Mask.Values()
		for k := range mv {
			mv[k] *= vv[k]
		}
		weights[i] = gaussianPyramid(onCanvas(m, w.Corner.Sub(canvas.Min), W, H), levels)
	}

	out := newImage(W, H, nchan)
	for c := 0; c < nchan; c++ {
		if err := ctx.Err(); err != nil {
			return Image{}, emath.FloatGrid{}, err
		}

		// Per level: the weighted sum of the bands, the sum of the weights,
		// and the plain sum of the bands for where nobody has any weight
		blended := make([]emath.FloatGrid, levels+1)
		wsum := make([]emath.FloatGrid, levels+1)
		plain := make([]emath.FloatGrid, levels+1)
		for k := range blended {
			blended[k] = weights[0][k].NewFromThis()
			wsum[k] = weights[0][k].NewFromThis()
			plain[k] = weights[0][k].NewFromThis()
		}

		for i, w := range warped {
			lp := laplacianPyramid(onCanvas(channelOf(w.Image, c), w.Corner.Sub(canvas.Min), W, H), levels)
			for k := range lp {
				bv, sv, pv := blended[k].Values(), wsum[k].Values(), plain[k].Values()
				lv, wv := lp[k].Values(), weights[i][k].Values()
				for p := range bv {
					bv[p] += wv[p] * lv[p]
					sv[p] += wv[p]
					pv[p] += lv[p]
				}
			}
		}

		for k := range blended {
			bv, sv, pv := blended[k].Values(), wsum[k].Values(), plain[k].Values()
			for p := range bv {
				if sv[p] > 1e-12 {
					bv[p] /= sv[p]
				} else {
					bv[p] = pv[p]
				}
			}
		}
		out.chans[c] = collapse(blended)
	}

	cov := coverage(canvas, seams, warped)
	for c := 0; c < nchan; c++ {
		vals, cv := out.chans[c].Values(), cov.Values()
		for p := range vals {
			if cv[p] > 0 {
				vals[p] = clamp01(vals[p])
			} else {
				vals[p] = 0
			}
		}
	}

	return out, cov, nil
}
