package pano

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/emath"
)

func flatImage(v float64) Image {
	g := emath.NewFloatGrid(testWidth, testHeight)
	g.Fill(v)
	return NewImageFromGrids(g)
}

func TestStitchTooFewImages(t *testing.T) {
	_, err := Stitch(context.Background(), testViews(testRotations())[:1], testConfig())
	assert.ErrorIs(t, err, ErrTooFewImages)
	assert.ErrorIs(t, err, &StitchError{Kind: InvalidInput})

	_, err = StitchAll(context.Background(), nil, testConfig())
	assert.ErrorIs(t, err, ErrTooFewImages)
}

func TestStitchRejectsBadInput(t *testing.T) {
	cfg := testConfig()
	cfg.Blender = "smudge"
	_, err := Stitch(context.Background(), testViews(testRotations()), cfg)
	assert.ErrorIs(t, err, &StitchError{Kind: InvalidInput})

	imgs := []Image{testViews(testRotations())[0], {}}
	_, err = Stitch(context.Background(), imgs, testConfig())
	assert.ErrorIs(t, err, &StitchError{Kind: InvalidInput})
}

func TestStitchTwoViews(t *testing.T) {
	imgs := testViews(testRotations())

	p, err := Stitch(context.Background(), imgs, testConfig())
	require.NoError(t, err)
	assert.True(t, p.Stitched)
	assert.Equal(t, []int{0, 1}, p.Indices)

	// Wider than one view, but not by much more than the 8 degree pan
	assert.Greater(t, p.Image.Dx(), testWidth)
	assert.Less(t, p.Image.Dx(), testWidth+100)
	assert.Greater(t, p.Image.Dy(), testHeight-20)
	assert.Less(t, p.Image.Dy(), testHeight+60)
	assert.Equal(t, p.Image.Dx(), p.Mask.Dx())
	assert.Greater(t, p.Mask.Sum(), float64(testWidth*testHeight))

	for _, v := range p.Image.Channel(0).Values() {
		assert.True(t, v >= 0 && v <= 1)
	}
}

func TestStitchTranslatedCrops(t *testing.T) {
	imgs := testCrops(2, 200, 150, 90)

	// Defaults: wave correction on, multiband blending
	cfg := testConfig()
	require.True(t, cfg.WaveCorrection)

	p, err := Stitch(context.Background(), imgs, cfg)
	require.NoError(t, err)
	assert.True(t, p.Stitched)
	assert.Equal(t, []int{0, 1}, p.Indices)
	assert.Greater(t, p.Image.Dx(), 200)
	assert.Greater(t, p.Mask.Sum(), float64(200*150))

	cfg.Blender = "feather"
	p, err = Stitch(context.Background(), imgs, cfg)
	require.NoError(t, err)
	assert.Greater(t, p.Image.Dx(), 200)
}

func TestStitchRecoversCameras(t *testing.T) {
	rots := testRotations()
	p, err := newPipeline(testViews(rots), testConfig())
	require.NoError(t, err)
	require.NoError(t, p.register(context.Background()))
	require.Equal(t, [][]int{{0, 1}}, p.graph.Components())

	tree := p.graph.SpanningTree([]int{0, 1})
	est := NewEstimator(p.cfg, p.log)
	cams, err := est.Estimate(context.Background(), tree, p.feats, p.hints)
	require.NoError(t, err)
	assert.Equal(t, Done, est.State)

	for _, c := range cams {
		assert.InDelta(t, testFocal, c.Focal, 0.05*testFocal)
	}
	want := rots[0].T().Mult(rots[1])
	got := cams[0].R.T().Mult(cams[1].R)
	assert.Less(t, want.T().Mult(got).RotationAngle(), deg(1))
}

func TestStitchIsDeterministic(t *testing.T) {
	imgs := testViews(testRotations())
	p1, err := Stitch(context.Background(), imgs, testConfig())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Workers = 1
	p2, err := Stitch(context.Background(), imgs, cfg)
	require.NoError(t, err)

	assert.Equal(t, p1.Image.Channel(0).Values(), p2.Image.Channel(0).Values())
	assert.Equal(t, p1.Mask.Values(), p2.Mask.Values())
}

func TestStitchSurvivesDivergence(t *testing.T) {
	p, err := newPipeline(testViews(testRotations()), testConfig())
	require.NoError(t, err)
	p.refiner = divergingRefiner{}

	pano, err := p.stitchOne(context.Background())
	require.NoError(t, err)
	assert.True(t, pano.Stitched)
	assert.Greater(t, pano.Image.Dx(), testWidth)
}

func TestStitchFeatherFlat(t *testing.T) {
	cfg := testConfig()
	cfg.Blender = "feather"
	cfg.Projection = "cylindrical"
	cfg.WaveCorrection = false
	cfg.ExposureCompensation = false

	p, err := Stitch(context.Background(), testViews(testRotations()), cfg)
	require.NoError(t, err)
	assert.True(t, p.Stitched)
}

func TestStitchAllKeepsUnmatchedImages(t *testing.T) {
	imgs := append(testViews(testRotations()), flatImage(0.5))

	panos, err := StitchAll(context.Background(), imgs, testConfig())
	require.NoError(t, err)
	require.Len(t, panos, 2)

	assert.True(t, panos[0].Stitched)
	assert.Equal(t, []int{0, 1}, panos[0].Indices)

	assert.False(t, panos[1].Stitched)
	assert.Equal(t, []int{2}, panos[1].Indices)
	assert.Equal(t, imgs[2], panos[1].Image)
	assert.Equal(t, float64(testWidth*testHeight), panos[1].Mask.Sum())
}

func TestStitchDisconnectedPolicy(t *testing.T) {
	imgs := append(testViews(testRotations()), flatImage(0.5))

	p, err := Stitch(context.Background(), imgs, testConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, p.Indices)

	cfg := testConfig()
	cfg.DisconnectedPolicy = "fail"
	_, err = Stitch(context.Background(), imgs, cfg)
	assert.ErrorIs(t, err, ErrDisconnectedPanorama)
}

func TestStitchNothingMatches(t *testing.T) {
	_, err := Stitch(context.Background(), []Image{flatImage(0.2), flatImage(0.6)}, testConfig())
	assert.ErrorIs(t, err, ErrStitchFailed)
}

func TestStitchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Stitch(ctx, testViews(testRotations()), testConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
