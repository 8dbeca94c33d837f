package pano

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/emath"
)

func TestWaveCorrectLevelsTiltedSweep(t *testing.T) {
	// A horizontal sweep, with a little pitch on each camera, seen from a
	// world frame that is tilted and rolled
	tilt := emath.RotX(deg(7)).Mult(emath.RotZ(deg(-4)))
	cams := []CameraParams{}
	for _, yaw := range []float64{-20, -5, 10, 25} {
		R := tilt.Mult(emath.RotY(deg(yaw))).Mult(emath.RotX(deg(3)))
		cams = append(cams, CameraParams{Focal: 500, R: R})
	}

	// Before: x axes are not horizontal
	assert.Greater(t, absf(cams[0].R.Col(0)[1]), 0.01)

	out, ok := WaveCorrect(cams)
	require.True(t, ok)
	require.Len(t, out, len(cams))

	for i, c := range out {
		assert.True(t, c.R.IsRotation(1e-9))
		assert.InDelta(t, 0, c.R.Col(0)[1], 1e-9, "camera %d x axis", i)
		assert.Equal(t, cams[i].Focal, c.Focal)
	}

	// Relative rotations are untouched
	before := cams[0].R.T().Mult(cams[2].R)
	after := out[0].R.T().Mult(out[2].R)
	for k := range before {
		assert.InDelta(t, before[k], after[k], 1e-9)
	}

	// And the x axes still point the same way round
	sum := 0.0
	for i := range out {
		sum += out[i].R.Col(0)[0]
	}
	assert.Greater(t, sum, 0.0)
}

func TestWaveCorrectDegenerate(t *testing.T) {
	one := []CameraParams{{Focal: 500, R: emath.Identity3()}}
	out, ok := WaveCorrect(one)
	assert.False(t, ok)
	assert.Equal(t, one, out)
}

func TestWaveCorrectNeedsSpreadCameras(t *testing.T) {
	// Near identical cameras don't say which way is up
	tilt := emath.RotX(deg(7))
	cams := []CameraParams{
		{Focal: 500, R: tilt},
		{Focal: 500, R: tilt.Mult(emath.RotY(1e-5))},
		{Focal: 500, R: tilt.Mult(emath.RotX(1e-5))},
	}
	out, ok := WaveCorrect(cams)
	assert.False(t, ok)
	assert.Equal(t, cams, out)

	// A real pan, even a small one, is fine
	cams[1].R = tilt.Mult(emath.RotY(deg(5)))
	cams[2].R = tilt.Mult(emath.RotY(deg(-5)))
	out, ok = WaveCorrect(cams)
	require.True(t, ok)
	for i, c := range out {
		assert.InDelta(t, 0, c.R.Col(0)[1], 1e-9, "camera %d x axis", i)
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
