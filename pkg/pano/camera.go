package pano

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/abworrall/panostitch/pkg/emath"
)

// CameraParams model a rotating pinhole camera. R maps camera rays into
// the world frame; K works on centred pixel coordinates, so the
// principal point only matters when going back to pixel coordinates.
type CameraParams struct {
	Focal    float64
	PPX, PPY float64
	R        emath.Mat3
}

func (c CameraParams) String() string {
	return fmt.Sprintf("Cam[f=%.2f, pp=(%.1f,%.1f), rot=%.2fdeg]", c.Focal, c.PPX, c.PPY,
		c.R.RotationAngle()*180/math.Pi)
}

func (c CameraParams) K() emath.Mat3 {
	return emath.Mat3{c.Focal, 0, 0, 0, c.Focal, 0, 0, 0, 1}
}

func (c CameraParams) KInv() emath.Mat3 {
	return emath.Mat3{1 / c.Focal, 0, 0, 0, 1 / c.Focal, 0, 0, 0, 1}
}

// Scaled returns the camera for an image resized by s.
func (c CameraParams) Scaled(s float64) CameraParams {
	c.Focal *= s
	c.PPX *= s
	c.PPY *= s
	return c
}

// Ray returns the world direction seen by the centred pixel p.
func (c CameraParams) Ray(x, y float64) emath.Vec3 {
	return c.R.Apply(emath.Vec3{x, y, c.Focal})
}

// Homography between two cameras: maps centred pixels in a to centred pixels in b.
func Homography(a, b CameraParams) emath.Mat3 {
	return b.K().Mult(b.R.T()).Mult(a.R).Mult(a.KInv())
}

// focalsFromHomography recovers the focal lengths of both images from a
// homography induced by a pure rotation with equal-ish focals. Either
// result may be missing (ok=false) when the geometry is degenerate.
func focalsFromHomography(H emath.Mat3) (f0 float64, ok0 bool, f1 float64, ok1 bool) {
	h := H

	// pick chooses between two estimates of f^2, preferring the one with
	// the better-conditioned denominator
	pick := func(n1, d1, n2, d2 float64) (float64, bool) {
		v1, v2 := n1/d1, n2/d2
		good1 := d1 != 0 && !math.IsNaN(v1) && !math.IsInf(v1, 0) && v1 > 0
		good2 := d2 != 0 && !math.IsNaN(v2) && !math.IsInf(v2, 0) && v2 > 0
		switch {
		case good1 && good2:
			if math.Abs(d1) > math.Abs(d2) {
				return math.Sqrt(v1), true
			}
			return math.Sqrt(v2), true
		case good1:
			return math.Sqrt(v1), true
		case good2:
			return math.Sqrt(v2), true
		}
		return 0, false
	}

	// Destination image
	f1, ok1 = pick(
		-(h[0]*h[1] + h[3]*h[4]), h[6]*h[7],
		h[0]*h[0]+h[3]*h[3]-h[1]*h[1]-h[4]*h[4], (h[7]-h[6])*(h[7]+h[6]))

	// Source image
	f0, ok0 = pick(
		-h[2]*h[5], h[0]*h[3]+h[1]*h[4],
		h[5]*h[5]-h[2]*h[2], h[0]*h[0]+h[1]*h[1]-h[3]*h[3]-h[4]*h[4])

	return
}

// Homography focals outside [lo,hi] times (w+h)/2 are taken to be noise;
// a near-translation between two images implies an enormous focal.
const (
	minFocalRatio = 0.1
	maxFocalRatio = 10.0
)

// estimateFocal seeds the focal length for a component: the median over
// its edges of the plausible focals implied by the homographies; else the
// median of any EXIF hints; else (w+h)/2.
func estimateFocal(edges []*MatchSet, hints []float64, w, h int) (float64, string) {
	sizeFocal := float64(w+h) / 2

	focals := []float64{}
	for _, e := range edges {
		f0, ok0, f1, ok1 := focalsFromHomography(e.H)
		if !ok0 || !ok1 {
			continue
		}
		if f := math.Sqrt(f0 * f1); f >= minFocalRatio*sizeFocal && f <= maxFocalRatio*sizeFocal {
			focals = append(focals, f)
		}
	}
	if len(focals) > 0 {
		if m, err := stats.Median(focals); err == nil && m > 0 {
			return m, "homography"
		}
	}

	known := []float64{}
	for _, f := range hints {
		if f > 0 {
			known = append(known, f)
		}
	}
	if len(known) > 0 {
		if m, err := stats.Median(known); err == nil && m > 0 {
			return m, "exif"
		}
	}

	return sizeFocal, "size"
}
