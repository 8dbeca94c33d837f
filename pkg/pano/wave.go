package pano

import (
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Below this fraction of the moment's trace, the two smallest eigenvalues
// are too close to pick the plane's normal.
const waveSeparation = 1e-5

// WaveCorrect levels a horizontal panorama. The camera x axes of a
// horizontal sweep all lie in one plane; its normal becomes the world's
// vertical axis. Returns the input (and false) if the cameras don't
// define such a plane, e.g. when they all point the same way.
func WaveCorrect(cams []CameraParams) ([]CameraParams, bool) {
	if len(cams) < 2 {
		return cams, false
	}

	var moment emath.Mat3
	var sumZ, sumX emath.Vec3
	for _, c := range cams {
		x := c.R.Col(0)
		moment = moment.Add(x.Outer(x))
		sumZ = sumZ.Add(c.R.Col(2))
		sumX = sumX.Add(x)
	}

	sym := mat.NewSymDense(3, nil)
	for r := 0; r < 3; r++ {
		for c := r; c < 3; c++ {
			sym.SetSym(r, c, moment.At(r, c))
		}
	}
	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return cams, false
	}
	vals := es.Values(nil)
	if vals[1]-vals[0] < waveSeparation*(vals[0]+vals[1]+vals[2]) {
		return cams, false
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Eigenvalues are ascending, so column 0 is the smallest
	up := emath.Vec3{vecs.At(0, 0), vecs.At(1, 0), vecs.At(2, 0)}.Normalize()

	right := up.Cross(sumZ)
	if right.Norm() < 1e-8 {
		return cams, false
	}
	right = right.Normalize()
	fwd := right.Cross(up)

	if right.Dot(sumX) < 0 {
		right = right.Scale(-1)
		up = up.Scale(-1)
	}

	W := emath.Mat3FromRows(right, up, fwd)
	out := make([]CameraParams, len(cams))
	for i, c := range cams {
		c.R = W.Mult(c.R)
		if R, err := c.R.Orthonormalize(); err == nil {
			c.R = R
		}
		out[i] = c
	}
	return out, true
}
