package main

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/bridge"
	"github.com/abworrall/panostitch/pkg/pano"
)

func TestOutputNames(t *testing.T) {
	tm := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "pano-2024-03-09-14-05-07.png", defaultOutputName(tm))
	assert.Equal(t, "out-002.hdr", numberedName("out.hdr", 2))
	assert.Equal(t, filepath.Join("a", "b-000.png"), numberedName(filepath.Join("a", "b.png"), 0))
}

func TestConfigCommand(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config"})
	require.NoError(t, cmd.Execute())

	cfg, err := pano.NewConfigFromYaml(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, pano.NewConfig(), cfg)
}

func TestStitchCommandFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	require.NoError(t, bridge.WritePNG(img, filepath.Join(dir, "flat.png")))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	out := filepath.Join(dir, "out.png")
	cmd.SetArgs([]string{"stitch", dir, "-o", out, "--blender", "feather"})

	// One image isn't a panorama
	err := cmd.Execute()
	assert.ErrorIs(t, err, pano.ErrTooFewImages)
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestStitchCommandRejectsBadFlags(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.SetGray(1, 1, color.Gray{Y: 200})
	require.NoError(t, bridge.WritePNG(img, filepath.Join(dir, "a.png")))
	require.NoError(t, bridge.WritePNG(img, filepath.Join(dir, "b.png")))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stitch", dir, "--projection", "fisheye"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, &pano.StitchError{Kind: pano.InvalidInput})
}
