package pano

import (
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompensateGainsReducesMismatch(t *testing.T) {
	warped := []WarpedImage{
		flatWarped(0, 0.5, 0, 0, 100, 80),
		flatWarped(1, 0.4, 60, 0, 100, 80),
	}

	gains, err := CompensateGains(context.Background(), warped, 2, testLog())
	require.NoError(t, err)
	require.Len(t, gains, 2)

	for _, g := range gains {
		assert.True(t, g > 0.7 && g < 1.4, "gain %f", g)
	}
	assert.Less(t, gains[0], 1.0)
	assert.Greater(t, gains[1], 1.0)

	before := math.Abs(0.5 - 0.4)
	after := math.Abs(0.5*gains[0] - 0.4*gains[1])
	assert.Less(t, after, 0.5*before)

	out := ApplyGains(warped, gains)
	assert.InDelta(t, 0.5*gains[0], out[0].Image.Channel(0).Get(70, 10), 1e-12)
	assert.InDelta(t, 0.5, warped[0].Image.Channel(0).Get(70, 10), 1e-12, "input is left alone")
}

func TestCompensateGainsNoOverlap(t *testing.T) {
	warped := []WarpedImage{
		flatWarped(0, 0.5, 0, 0, 50, 50),
		flatWarped(1, 0.2, 100, 0, 50, 50),
	}
	gains, err := CompensateGains(context.Background(), warped, 2, testLog())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, gains[0], 1e-9)
	assert.InDelta(t, 1.0, gains[1], 1e-9)
}

func TestCompensateGainsSingularSystem(t *testing.T) {
	// An image with no valid pixels leaves its row of the system empty
	empty := flatWarped(1, 0.2, 100, 0, 50, 50)
	empty.Mask.Fill(0)
	warped := []WarpedImage{flatWarped(0, 0.5, 0, 0, 50, 50), empty}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	gains, err := CompensateGains(context.Background(), warped, 2, logrus.NewEntry(logger))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, gains)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "not solvable")
}
