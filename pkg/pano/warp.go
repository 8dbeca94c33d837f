package pano

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"

	"github.com/abworrall/panostitch/pkg/emath"
)

// A Projector maps world directions onto the canvas surface, scaled by s.
type Projector interface {
	Name() string
	Project(d r3.Vector, s float64) (u, v float64, ok bool)
	Unproject(u, v, s float64) r3.Vector
}

type SphericalProjector struct{}
type CylindricalProjector struct{}
type PlanarProjector struct{}

func (SphericalProjector) Name() string { return "spherical" }

func (SphericalProjector) Project(d r3.Vector, s float64) (float64, float64, bool) {
	n := d.Norm()
	if n == 0 {
		return 0, 0, false
	}
	return s * math.Atan2(d.X, d.Z), s * math.Asin(d.Y/n), true
}

func (SphericalProjector) Unproject(u, v, s float64) r3.Vector {
	theta, phi := u/s, v/s
	return r3.Vector{X: math.Sin(theta) * math.Cos(phi), Y: math.Sin(phi), Z: math.Cos(theta) * math.Cos(phi)}
}

func (CylindricalProjector) Name() string { return "cylindrical" }

func (CylindricalProjector) Project(d r3.Vector, s float64) (float64, float64, bool) {
	rho := math.Hypot(d.X, d.Z)
	if rho == 0 {
		return 0, 0, false
	}
	return s * math.Atan2(d.X, d.Z), s * d.Y / rho, true
}

func (CylindricalProjector) Unproject(u, v, s float64) r3.Vector {
	theta := u / s
	return r3.Vector{X: math.Sin(theta), Y: v / s, Z: math.Cos(theta)}
}

func (PlanarProjector) Name() string { return "planar" }

func (PlanarProjector) Project(d r3.Vector, s float64) (float64, float64, bool) {
	if d.Z <= 0 {
		return 0, 0, false
	}
	return s * d.X / d.Z, s * d.Y / d.Z, true
}

func (PlanarProjector) Unproject(u, v, s float64) r3.Vector {
	return r3.Vector{X: u / s, Y: v / s, Z: 1}
}

// WarpedImage is one input image, reprojected onto the canvas. Corner is
// the canvas position of the top-left pixel; Mask is 1 where the pixel
// maps back inside the source image.
type WarpedImage struct {
	Index  int
	Image  Image
	Mask   emath.FloatGrid
	Corner image.Point
}

func (w WarpedImage) Rect() image.Rectangle {
	return image.Rect(w.Corner.X, w.Corner.Y, w.Corner.X+w.Image.Dx(), w.Corner.Y+w.Image.Dy())
}

// Stops a near-degenerate planar view from eating all the memory.
const maxWarpDim = 1 << 14

// Warper reprojects full resolution images onto the canvas.
type Warper struct {
	Projector Projector
	Scale     float64
}

// NewWarper uses the median focal length as the canvas scale, so that
// pixels near the middle of the panorama keep their size.
func NewWarper(p Projector, cams []CameraParams) Warper {
	focals := make([]float64, len(cams))
	for i, c := range cams {
		focals[i] = c.Focal
	}
	s, err := stats.Median(focals)
	if err != nil || s <= 0 {
		s = 1
	}
	return Warper{Projector: p, Scale: s}
}

func (w Warper) toCanvas(cam CameraParams, x, y float64) (float64, float64, bool) {
	d := cam.Ray(x-cam.PPX, y-cam.PPY)
	return w.Projector.Project(r3.Vector{X: d[0], Y: d[1], Z: d[2]}, w.Scale)
}

// ROI is the canvas rectangle covered by the image, found by projecting
// points along its border (and its centre).
func (w Warper) ROI(cam CameraParams, width, height int) image.Rectangle {
	minU, minV := math.Inf(1), math.Inf(1)
	maxU, maxV := math.Inf(-1), math.Inf(-1)
	add := func(x, y float64) {
		u, v, ok := w.toCanvas(cam, x, y)
		if !ok {
			return
		}
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
	}

	const steps = 64
	fw, fh := float64(width-1), float64(height-1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / steps
		add(t*fw, 0)
		add(t*fw, fh)
		add(0, t*fh)
		add(fw, t*fh)
	}
	add(fw/2, fh/2)

	if math.IsInf(minU, 0) {
		return image.Rectangle{}
	}
	r := image.Rect(int(math.Floor(minU)), int(math.Floor(minV)), int(math.Ceil(maxU))+1, int(math.Ceil(maxV))+1)
	if r.Dx() > maxWarpDim {
		r.Max.X = r.Min.X + maxWarpDim
	}
	if r.Dy() > maxWarpDim {
		r.Max.Y = r.Min.Y + maxWarpDim
	}
	return r
}

// Warp does the backward mapping: each canvas pixel in the ROI is
// unprojected, rotated into the camera, and sampled bilinearly.
func (w Warper) Warp(img Image, cam CameraParams, idx int) WarpedImage {
	roi := w.ROI(cam, img.Dx(), img.Dy())
	out := WarpedImage{
		Index:  idx,
		Image:  newImage(roi.Dx(), roi.Dy(), img.NumChannels()),
		Mask:   emath.NewFloatGrid(roi.Dx(), roi.Dy()),
		Corner: roi.Min,
	}
	Rt := cam.R.T()

	for y := 0; y < roi.Dy(); y++ {
		for x := 0; x < roi.Dx(); x++ {
			d := w.Projector.Unproject(float64(roi.Min.X+x), float64(roi.Min.Y+y), w.Scale)
			c := Rt.Apply(emath.Vec3{d.X, d.Y, d.Z})
			if c[2] <= 0 {
				continue
			}
			sx := cam.Focal*c[0]/c[2] + cam.PPX
			sy := cam.Focal*c[1]/c[2] + cam.PPY

			valid := true
			for ch := 0; ch < img.NumChannels(); ch++ {
				v, ok := img.chans[ch].Bilinear(sx, sy)
				if !ok {
					valid = false
					break
				}
				out.Image.chans[ch].Set(x, y, v)
			}
			if valid {
				out.Mask.Set(x, y, 1)
			} else {
				for ch := 0; ch < img.NumChannels(); ch++ {
					out.Image.chans[ch].Set(x, y, 0)
				}
			}
		}
	}
	return out
}

// WarpAll warps each image concurrently; cams are at full resolution.
func (w Warper) WarpAll(ctx context.Context, imgs []Image, cams []CameraParams, indices []int, nWorkers int) ([]WarpedImage, error) {
	out := make([]WarpedImage, len(imgs))
	err := runConcurrently(ctx, nWorkers, len(imgs), func(i int) error {
		out[i] = w.Warp(imgs[i], cams[i], indices[i])
		return nil
	})
	return out, err
}
