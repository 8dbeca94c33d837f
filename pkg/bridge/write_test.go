package bridge

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/emath"
	"github.com/abworrall/panostitch/pkg/pano"
)

func testPanorama() pano.Panorama {
	r, g, b := emath.NewFloatGrid(6, 4), emath.NewFloatGrid(6, 4), emath.NewFloatGrid(6, 4)
	r.Fill(0.5)
	g.Fill(1.5)
	b.Fill(0.25)
	mask := emath.NewFloatGrid(6, 4)
	mask.Fill(1)
	mask.Set(0, 0, 0)
	return pano.Panorama{Image: pano.NewImageFromGrids(r, g, b), Mask: mask, Indices: []int{0, 1}, Stitched: true}
}

func TestWritePNG(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, WritePNG(ToImage(testPanorama()), filename))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 4), img.Bounds())

	_, _, _, a := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), a)
	r, g, _, a := img.At(3, 2).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, uint32(0xffff), g, "clipped")
	assert.InDelta(t, 0x7fff, r, 1)

	assert.Error(t, WritePNG(ToImage(testPanorama()), filepath.Join(t.TempDir(), "nodir", "out.png")))
}

func TestWriteHDR(t *testing.T) {
	p := testPanorama()
	hi := hdrImage{p}
	assert.Equal(t, 24, hi.Size())
	assert.Equal(t, hdrcolor.RGB{R: 0.5, G: 1.5, B: 0.25}, hi.HDRAt(2, 2))
	assert.Equal(t, hdrcolor.RGB{}, hi.HDRAt(0, 0))

	filename := filepath.Join(t.TempDir(), "out.hdr")
	require.NoError(t, WriteHDR(p, filename))
	contents, err := os.ReadFile(filename)
	require.NoError(t, err)
	require.Greater(t, len(contents), 2)
	assert.Equal(t, "#?", string(contents[:2]))
}
