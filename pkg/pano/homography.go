package pano

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/panostitch/pkg/emath"
)

// applyH maps p through the homography. Returns false if p maps to infinity.
func applyH(H emath.Mat3, p r2.Point) (r2.Point, bool) {
	v := H.Apply(emath.Vec3{p.X, p.Y, 1})
	if math.Abs(v[2]) < 1e-12 {
		return r2.Point{}, false
	}
	return r2.Point{X: v[0] / v[2], Y: v[1] / v[2]}, true
}

// normalizingTransform is Hartley's normalization: translate the centroid
// to the origin and scale so the mean distance is sqrt(2).
func normalizingTransform(pts []r2.Point) emath.Mat3 {
	c := r2.Point{}
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	d := 0.0
	for _, p := range pts {
		d += p.Sub(c).Norm()
	}
	d /= float64(len(pts))
	s := 1.0
	if d > 1e-12 {
		s = math.Sqrt2 / d
	}
	return emath.Mat3{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}
}

// fitHomography is the normalized DLT; it finds H such that H*src[i] ~ dst[i],
// least squares if there are more than four points.
func fitHomography(src, dst []r2.Point) (emath.Mat3, bool) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return emath.Mat3{}, false
	}
	t1 := normalizingTransform(src)
	t2 := normalizingTransform(dst)

	rows := 2 * n
	if rows < 9 {
		rows = 9 // pad with a zero row, so we always get the full V
	}
	A := mat.NewDense(rows, 9, nil)
	for i := 0; i < n; i++ {
		p, _ := applyH(t1, src[i])
		q, _ := applyH(t2, dst[i])
		X, Y, x, y := p.X, p.Y, q.X, q.Y
		A.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, x * X, x * Y, x})
		A.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, y * X, y * Y, y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return emath.Mat3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn emath.Mat3
	for i := 0; i < 9; i++ {
		hn[i] = v.At(i, 8) // singular values are descending, so the last column
	}

	t2inv, err := invert3(t2)
	if err != nil {
		return emath.Mat3{}, false
	}
	H := t2inv.Mult(hn).Mult(t1)
	if math.Abs(H[8]) < 1e-12 {
		return emath.Mat3{}, false
	}
	H = H.Scale(1 / H[8])
	for _, v := range H {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return emath.Mat3{}, false
		}
	}
	return H, true
}

func invert3(m emath.Mat3) (emath.Mat3, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return emath.Mat3{}, err
	}
	return emath.Mat3FromDense(&inv), nil
}

// collinear reports whether any three of the four points are (nearly) on a line.
func collinear(pts [4]r2.Point) bool {
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				a, b := pts[j].Sub(pts[i]), pts[k].Sub(pts[i])
				if math.Abs(a.Cross(b)) <= 1e-6*(a.Norm()*b.Norm()+1e-12) {
					return true
				}
			}
		}
	}
	return false
}

type ransacResult struct {
	H       emath.Mat3
	Inliers []int // indices into the candidate list
}

// ransacHomography robustly fits a homography to the candidate point pairs,
// then refits on the consensus set. The rng makes it repeatable.
func ransacHomography(src, dst []r2.Point, thresh float64, iters int, rng *rand.Rand) (ransacResult, bool) {
	n := len(src)
	best := ransacResult{}
	if n < 4 {
		return best, false
	}

	var sample [4]int
	var s4, d4 [4]r2.Point
	for it := 0; it < iters; it++ {
		// Four distinct indices
		for k := 0; k < 4; {
			sample[k] = rng.Intn(n)
			dup := false
			for m := 0; m < k; m++ {
				dup = dup || sample[m] == sample[k]
			}
			if dup {
				continue
			}
			s4[k], d4[k] = src[sample[k]], dst[sample[k]]
			k++
		}
		if collinear(s4) || collinear(d4) {
			continue
		}

		H, ok := fitHomography(s4[:], d4[:])
		if !ok {
			continue
		}
		inliers := findInliers(H, src, dst, thresh)
		if len(inliers) > len(best.Inliers) {
			best = ransacResult{H: H, Inliers: inliers}
		}
	}

	if len(best.Inliers) < 4 {
		return best, false
	}

	// Refit on the whole consensus set; keep it only if it doesn't lose inliers
	s, d := make([]r2.Point, len(best.Inliers)), make([]r2.Point, len(best.Inliers))
	for k, idx := range best.Inliers {
		s[k], d[k] = src[idx], dst[idx]
	}
	if H, ok := fitHomography(s, d); ok {
		if inliers := findInliers(H, src, dst, thresh); len(inliers) >= len(best.Inliers) {
			best = ransacResult{H: H, Inliers: inliers}
		}
	}

	return best, true
}

func findInliers(H emath.Mat3, src, dst []r2.Point, thresh float64) []int {
	inliers := []int{}
	for i := range src {
		p, ok := applyH(H, src[i])
		if ok && p.Sub(dst[i]).Norm() < thresh {
			inliers = append(inliers, i)
		}
	}
	return inliers
}
