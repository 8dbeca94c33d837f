package pano

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaultsValidate(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Validate())

	b, err := c.GetBlender()
	require.NoError(t, err)
	assert.Equal(t, MultiBandBlender{Bands: 5}, b)

	p, err := c.GetProjector()
	require.NoError(t, err)
	assert.Equal(t, "spherical", p.Name())
}

func TestConfigYaml(t *testing.T) {
	c := NewConfig()
	c.Blender = "feather"
	c.FeatherWidth = 12
	c.WaveCorrection = false

	c2, err := NewConfigFromYaml([]byte(c.AsYaml()))
	require.NoError(t, err)
	assert.Equal(t, c, c2)

	// Missing fields keep their defaults
	c3, err := NewConfigFromYaml([]byte("projection: cylindrical\nworkmegapix: 0.1\n"))
	require.NoError(t, err)
	assert.Equal(t, "cylindrical", c3.Projection)
	assert.Equal(t, 0.1, c3.WorkMegapix)
	assert.Equal(t, "multiband", c3.Blender)
	assert.Equal(t, 500, c3.MaxKeypoints)
}

func TestConfigRejects(t *testing.T) {
	tests := []string{
		"blender: smudge",
		"projection: fisheye",
		"disconnectedpolicy: shrug",
		"mininliers: 3",
		"ransaciters: 0",
	}
	for _, y := range tests {
		_, err := NewConfigFromYaml([]byte(y))
		assert.ErrorIs(t, err, &StitchError{Kind: InvalidInput}, y)
	}

	_, err := NewConfigFromYaml([]byte("blender: [oops"))
	assert.Error(t, err)
}

func TestStitchErrorIsByKind(t *testing.T) {
	err := newError(InsufficientMatches, fmt.Errorf("only %d", 3), "pair 0-1")
	wrapped := errors.Wrap(errors.WithStack(err), "match")

	assert.ErrorIs(t, wrapped, ErrInsufficientMatches)
	assert.NotErrorIs(t, wrapped, ErrInsufficientFeatures)
	assert.Equal(t, "match: InsufficientMatches: pair 0-1: only 3", wrapped.Error())

	var se *StitchError
	require.True(t, errors.As(wrapped, &se))
	assert.Equal(t, InsufficientMatches, se.Kind)
	assert.Equal(t, "ErrorKind(99)", ErrorKind(99).String())
}
