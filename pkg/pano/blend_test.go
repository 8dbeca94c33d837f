package pano

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/emath"
)

func TestBlendSingleImageRoundTrip(t *testing.T) {
	wi := texturedWarped(0, 10, 20, 90, 70, true)
	seams := []SeamMask{{Index: 0, Mask: wi.Mask.Copy()}}

	blenders := map[string]Blender{
		"feather":   FeatherBlender{Width: 10},
		"multiband": MultiBandBlender{Bands: 5},
	}
	for name, b := range blenders {
		t.Run(name, func(t *testing.T) {
			out, cov, err := b.Blend(context.Background(), []WarpedImage{wi}, seams)
			require.NoError(t, err)
			require.Equal(t, 90, out.Dx())
			require.Equal(t, 70, out.Dy())
			assert.Equal(t, wi.Mask.Values(), cov.Values())

			in, got := wi.Image.Channel(0), out.Channel(0)
			for y := 0; y < 70; y++ {
				for x := 0; x < 90; x++ {
					if wi.Mask.Get(x, y) > 0.5 {
						assert.InDelta(t, in.Get(x, y), got.Get(x, y), 1e-9, "%d,%d", x, y)
					} else {
						assert.Equal(t, 0.0, got.Get(x, y))
					}
				}
			}
		})
	}
}

func TestBlendTwoFlatImages(t *testing.T) {
	warped := []WarpedImage{
		flatWarped(0, 0.3, 0, 0, 100, 60),
		flatWarped(1, 0.7, 60, 0, 100, 60),
	}
	seams, err := SeamFinder{}.FindSeams(context.Background(), warped)
	require.NoError(t, err)

	blenders := map[string]Blender{
		"feather":   FeatherBlender{Width: 5},
		"multiband": MultiBandBlender{Bands: 2},
	}
	for name, b := range blenders {
		t.Run(name, func(t *testing.T) {
			out, cov, err := b.Blend(context.Background(), warped, seams)
			require.NoError(t, err)
			require.Equal(t, 160, out.Dx())
			require.Equal(t, 60, out.Dy())
			assert.Equal(t, float64(160*60), cov.Sum())

			g := out.Channel(0)
			assert.InDelta(t, 0.3, g.Get(2, 30), 1e-6)
			assert.InDelta(t, 0.7, g.Get(157, 30), 1e-6)

		})
	}

	// Feathering is a convex combination, so never leaves the input range
	out, _, err := FeatherBlender{Width: 5}.Blend(context.Background(), warped, seams)
	require.NoError(t, err)
	for _, v := range out.Channel(0).Values() {
		assert.True(t, v >= 0.3-1e-9 && v <= 0.7+1e-9, "value %f", v)
	}
}

func TestBlendEmptyCanvas(t *testing.T) {
	wi := flatWarped(0, 0.5, 0, 0, 20, 20)
	wi.Mask.Fill(0)
	seams := []SeamMask{{Index: 0, Mask: wi.Mask.Copy()}}

	for _, b := range []Blender{FeatherBlender{Width: 5}, MultiBandBlender{Bands: 3}} {
		_, _, err := b.Blend(context.Background(), []WarpedImage{wi}, seams)
		assert.ErrorIs(t, err, ErrEmptyCanvas)
	}
}

func TestBlendCancelled(t *testing.T) {
	wi := flatWarped(0, 0.5, 0, 0, 20, 20)
	seams := []SeamMask{{Index: 0, Mask: wi.Mask.Copy()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, b := range []Blender{FeatherBlender{Width: 5}, MultiBandBlender{Bands: 3}} {
		_, _, err := b.Blend(ctx, []WarpedImage{wi}, seams)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestNumLevels(t *testing.T) {
	assert.Equal(t, 5, numLevels(5, image.Rect(0, 0, 100, 100)))
	assert.Equal(t, 3, numLevels(3, image.Rect(0, 0, 100, 100)))
	assert.Equal(t, 2, numLevels(5, image.Rect(0, 0, 10, 10)))
	assert.Equal(t, 0, numLevels(5, image.Rect(0, 0, 3, 100)))
}

func TestLaplacianPyramidCollapses(t *testing.T) {
	g := emath.NewFloatGrid(37, 29)
	for y := 0; y < 29; y++ {
		for x := 0; x < 37; x++ {
			g.Set(x, y, tileValue(x/4, y/3))
		}
	}
	lp := laplacianPyramid(g, 3)
	require.Len(t, lp, 4)
	assert.Equal(t, 37/8, lp[3].Dx())

	back := collapse(lp)
	for k, v := range g.Values() {
		assert.InDelta(t, v, back.Values()[k], 1e-12)
	}
}
