package pano

import (
	"image"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/abworrall/panostitch/pkg/emath"
)

// The test scene is a plane at z=1, covered in square tiles of random
// gray levels. Views are rendered from cameras rotating about the origin.

const (
	testFocal  = 300.0
	testWidth  = 240
	testHeight = 180
	tileSize   = 0.06
)

func tileValue(i, j int) float64 {
	h := uint32(i*73856093) ^ uint32(j*19349663)
	h ^= h >> 13
	h *= 0x5bd1e995
	h ^= h >> 15
	return 0.1 + 0.8*float64(h%1024)/1023.0
}

func sceneAt(d emath.Vec3) float64 {
	if d[2] <= 0 {
		return 0
	}
	u, v := d[0]/d[2], d[1]/d[2]
	return tileValue(int(math.Floor(u/tileSize)), int(math.Floor(v/tileSize)))
}

// renderView renders the scene through a camera with rotation R
// (camera-to-world), with 2x2 supersampling.
func renderView(R emath.Mat3, f float64, w, h int) Image {
	g := emath.NewFloatGrid(w, h)
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tot := 0.0
			for _, o := range [][2]float64{{0.25, 0.25}, {0.75, 0.25}, {0.25, 0.75}, {0.75, 0.75}} {
				ray := R.Apply(emath.Vec3{float64(x) - 0.5 + o[0] - cx, float64(y) - 0.5 + o[1] - cy, f})
				tot += sceneAt(ray)
			}
			g.Set(x, y, tot/4)
		}
	}
	return NewImageFromGrids(g)
}

func deg(d float64) float64 { return d * math.Pi / 180 }

// testRotations are a small horizontal sweep, with a little pitch so the
// geometry isn't degenerate.
func testRotations() []emath.Mat3 {
	return []emath.Mat3{
		emath.Identity3(),
		emath.RotY(deg(8)).Mult(emath.RotX(deg(2))),
	}
}

func testViews(rots []emath.Mat3) []Image {
	imgs := make([]Image, len(rots))
	for i, R := range rots {
		imgs[i] = renderView(R, testFocal, testWidth, testHeight)
	}
	return imgs
}

// testCrops cuts n overlapping w x h frames, step pixels apart, out of
// one wide texture of 8x8 pixel tiles: a pan with no rotation at all.
func testCrops(n, w, h, step int) []Image {
	imgs := make([]Image, n)
	for i := range imgs {
		g := emath.NewFloatGrid(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g.Set(x, y, tileValue((x+i*step)/8, y/8))
			}
		}
		imgs[i] = NewImageFromGrids(g)
	}
	return imgs
}

func testConfig() Config {
	cfg := NewConfig()
	cfg.Workers = 4
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	cfg.Logger = l
	return cfg
}

func testLog() *logrus.Entry {
	return testConfig().newRunLogger()
}

// flatWarped is a warped image of constant value v, fully valid.
func flatWarped(idx int, v float64, x0, y0, w, h int) WarpedImage {
	g := emath.NewFloatGrid(w, h)
	g.Fill(v)
	m := emath.NewFloatGrid(w, h)
	m.Fill(1)
	return WarpedImage{Index: idx, Image: NewImageFromGrids(g), Mask: m, Corner: image.Pt(x0, y0)}
}
