package pano

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/steakknife/hamming"

	"github.com/abworrall/panostitch/pkg/emath"
)

const (
	descriptorBits  = 256
	descriptorWords = descriptorBits / 32
	patchRadius     = 15 // BRIEF sampling window is [-15,15]^2
	centroidRadius  = 7
	briefSeed       = 0x5eed
)

// Descriptor is a 256 bit BRIEF descriptor, packed 32 bits per word.
type Descriptor [descriptorWords]int

// Distance is the Hamming distance between two descriptors.
func (d Descriptor) Distance(o Descriptor) int {
	dist := 0
	for k := 0; k < descriptorWords; k++ {
		dist += hamming.CountBitsInt(d[k] ^ o[k])
	}
	return dist
}

type Keypoint struct {
	Pt          r2.Point // pixel coords, at work scale
	Scale       float64
	Orientation float64 // radians, from the intensity centroid
	Response    float64
	Desc        Descriptor
}

func (kp Keypoint) String() string {
	return fmt.Sprintf("kp[(%.1f,%.1f) r=%.4g]", kp.Pt.X, kp.Pt.Y, kp.Response)
}

// Features are the keypoints found in one image.
type Features struct {
	ImageIndex    int
	Width, Height int // of the work image
	Keypoints     []Keypoint
}

// Centred returns the keypoint position relative to the image centre.
func (f Features) Centred(i int) r2.Point {
	return f.Keypoints[i].Pt.Sub(r2.Point{X: float64(f.Width) / 2, Y: float64(f.Height) / 2})
}

// The BRIEF sampling pattern: pairs of offsets, fixed for all images.
var briefPattern = func() [descriptorBits][4]int {
	var p [descriptorBits][4]int
	rng := rand.New(rand.NewSource(briefSeed))
	for i := range p {
		for j := 0; j < 4; j++ {
			p[i][j] = rng.Intn(2*patchRadius+1) - patchRadius
		}
	}
	return p
}()

// ExtractFeatures finds Harris corners in the image, and computes a
// BRIEF descriptor for each one. The output is deterministic; keypoints
// are ordered by descending response.
func ExtractFeatures(img Image, idx int, cfg Config) (Features, error) {
	f := Features{ImageIndex: idx, Width: img.Dx(), Height: img.Dy()}

	gray := img.Gray().GaussianBlur()
	resp := harrisResponse(gray, cfg.HarrisK)

	_, max := resp.MinMax()
	if max <= 0 {
		return f, ErrInsufficientFeatures
	}
	thresh := 0.01 * max

	margin := patchRadius + 2
	type cand struct {
		x, y int
		r    float64
	}
	cands := []cand{}
	for y := margin; y < resp.Dy()-margin; y++ {
		for x := margin; x < resp.Dx()-margin; x++ {
			r := resp.Get(x, y)
			if r <= thresh || !isLocalMax(resp, x, y) {
				continue
			}
			cands = append(cands, cand{x, y, r})
		}
	}
	if len(cands) == 0 {
		return f, ErrInsufficientFeatures
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].r != cands[j].r {
			return cands[i].r > cands[j].r
		}
		if cands[i].y != cands[j].y {
			return cands[i].y < cands[j].y
		}
		return cands[i].x < cands[j].x
	})
	if len(cands) > cfg.MaxKeypoints {
		cands = cands[:cfg.MaxKeypoints]
	}

	smooth := gray.BlurN(2)
	for _, c := range cands {
		kp := Keypoint{
			Pt:          subPixel(resp, c.x, c.y),
			Scale:       1.0,
			Orientation: centroidOrientation(gray, c.x, c.y),
			Response:    c.r,
			Desc:        briefDescriptor(smooth, c.x, c.y),
		}
		f.Keypoints = append(f.Keypoints, kp)
	}

	return f, nil
}

// harrisResponse computes det(M) - k.trace(M)^2 over the structure tensor M,
// smoothed over a small window.
func harrisResponse(gray emath.FloatGrid, k float64) emath.FloatGrid {
	gx, gy := gray.Gradients()
	ixx, iyy, ixy := gray.NewFromThis(), gray.NewFromThis(), gray.NewFromThis()
	dx, xx, yy, xy := gx.Values(), ixx.Values(), iyy.Values(), ixy.Values()
	dy := gy.Values()
	for i := range dx {
		xx[i] = dx[i] * dx[i]
		yy[i] = dy[i] * dy[i]
		xy[i] = dx[i] * dy[i]
	}
	ixx, iyy, ixy = ixx.BlurN(2), iyy.BlurN(2), ixy.BlurN(2)

	resp := gray.NewFromThis()
	r := resp.Values()
	xx, yy, xy = ixx.Values(), iyy.Values(), ixy.Values()
	for i := range r {
		det := xx[i]*yy[i] - xy[i]*xy[i]
		tr := xx[i] + yy[i]
		r[i] = det - k*tr*tr
	}
	return resp
}

// isLocalMax is a strict 3x3 non-maximum suppression.
func isLocalMax(g emath.FloatGrid, x, y int) bool {
	v := g.Get(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if g.Get(x+dx, y+dy) >= v {
				return false
			}
		}
	}
	return true
}

// subPixel fits a parabola through the response in each direction.
func subPixel(resp emath.FloatGrid, x, y int) r2.Point {
	offset := func(l, c, r float64) float64 {
		den := 2 * (l - 2*c + r)
		if den == 0 {
			return 0
		}
		o := (l - r) / den
		return math.Max(-0.5, math.Min(0.5, o))
	}
	c := resp.Get(x, y)
	ox := offset(resp.Get(x-1, y), c, resp.Get(x+1, y))
	oy := offset(resp.Get(x, y-1), c, resp.Get(x, y+1))
	return r2.Point{X: float64(x) + ox, Y: float64(y) + oy}
}

func centroidOrientation(gray emath.FloatGrid, x, y int) float64 {
	m01, m10 := 0.0, 0.0
	for dy := -centroidRadius; dy <= centroidRadius; dy++ {
		for dx := -centroidRadius; dx <= centroidRadius; dx++ {
			if dx*dx+dy*dy > centroidRadius*centroidRadius {
				continue
			}
			v := gray.Get(x+dx, y+dy)
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

func briefDescriptor(smooth emath.FloatGrid, x, y int) Descriptor {
	var d Descriptor
	for j, p := range briefPattern {
		if smooth.Get(x+p[0], y+p[1]) < smooth.Get(x+p[2], y+p[3]) {
			d[j/32] |= 1 << (uint(j) & 31)
		}
	}
	return d
}
