package bridge

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/emath"
	"github.com/abworrall/panostitch/pkg/pano"
)

// texture is a gray image of random 8x8 tiles.
func texture(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i, j := uint32(x/8), uint32(y/8)
			v := (i*73856093 ^ j*19349663) * 0x5bd1e995
			v ^= v >> 15
			img.SetGray(x, y, color.Gray{Y: uint8(30 + v%200)})
		}
	}
	return img
}

// frames crops n overlapping frames out of one wide texture.
func frames(n int) []image.Image {
	const w, h, step = 200, 150, 90
	tex := texture(w+step*(n-1), h)
	out := []image.Image{}
	for i := 0; i < n; i++ {
		out = append(out, tex.SubImage(image.Rect(i*step, 0, i*step+w, h)))
	}
	return out
}

func testConfig() pano.Config {
	cfg := pano.NewConfig()
	cfg.Workers = 2
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	cfg.Logger = l
	return cfg
}

func TestStitchTooFewImages(t *testing.T) {
	img, err := Stitch(context.Background(), frames(1), testConfig())
	assert.Nil(t, img)
	assert.ErrorIs(t, err, pano.ErrTooFewImages)

	_, err = Stitch(context.Background(), nil, testConfig())
	assert.ErrorIs(t, err, pano.ErrTooFewImages)
}

func TestStitchNilImage(t *testing.T) {
	_, err := Stitch(context.Background(), []image.Image{frames(1)[0], nil}, testConfig())
	assert.ErrorIs(t, err, &pano.StitchError{Kind: pano.InvalidInput})
}

func TestStitchFrames(t *testing.T) {
	img, err := Stitch(context.Background(), frames(2), testConfig())
	require.NoError(t, err)
	require.NotNil(t, img)

	rgba, ok := img.(*image.RGBA64)
	require.True(t, ok)
	assert.Greater(t, rgba.Bounds().Dx(), 200)
	assert.False(t, rgba.Bounds().Empty())

	// Somewhere in the middle is covered, and so opaque
	b := rgba.Bounds()
	assert.Equal(t, uint16(0xffff), rgba.RGBA64At(b.Dx()/2, b.Dy()/2).A)
}

func TestSessionCachesPerConfig(t *testing.T) {
	s, err := NewSessionFromStd(frames(2))
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumImages())

	cfg := testConfig()
	p1, err := s.Panorama(context.Background(), cfg)
	require.NoError(t, err)
	p2, err := s.Panorama(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, &p1.Image.Channel(0).Values()[0], &p2.Image.Channel(0).Values()[0])

	// A different option restitches
	cfg.Blender = "feather"
	p3, err := s.Panorama(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotSame(t, &p1.Image.Channel(0).Values()[0], &p3.Image.Channel(0).Values()[0])
	assert.Len(t, s.cache, 2)

	// Failures aren't cached
	cfg.Projection = "fisheye"
	_, err = s.Panorama(context.Background(), cfg)
	assert.Error(t, err)
	assert.Len(t, s.cache, 2)
}

func TestToImageAlpha(t *testing.T) {
	im := pano.ImageFromStd(texture(4, 3))
	mask := emath.NewFloatGrid(4, 3)
	mask.Set(1, 1, 1)
	out := ToImage(pano.Panorama{Image: im, Mask: mask})

	assert.Equal(t, uint16(0xffff), out.RGBA64At(1, 1).A)
	assert.Equal(t, im.RGBA64At(1, 1), out.RGBA64At(1, 1))
	assert.Equal(t, color.RGBA64{}, out.RGBA64At(0, 0))
}
