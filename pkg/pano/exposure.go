package pano

import (
	"context"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/panostitch/pkg/emath"
)

const (
	gainAlpha = 0.01 // 1/sigmaN^2, sigmaN = 10 (intensity noise, 0-255 scale)
	gainBeta  = 100  // 1/sigmaG^2, sigmaG = 0.1 (gain prior)
)

// overlapStats are the pixel count, and each image's mean intensity, over
// the overlap of two warped images.
type overlapStats struct {
	N     float64
	MeanI float64 // of image i, over the overlap
	MeanJ float64
}

func pairOverlap(a, b WarpedImage, ga, gb emath.FloatGrid) overlapStats {
	st := overlapStats{}
	r := a.Rect().Intersect(b.Rect())
	if r.Empty() {
		return st
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			ax, ay := x-a.Corner.X, y-a.Corner.Y
			bx, by := x-b.Corner.X, y-b.Corner.Y
			if a.Mask.Get(ax, ay) < 0.5 || b.Mask.Get(bx, by) < 0.5 {
				continue
			}
			st.N++
			st.MeanI += 255 * ga.Get(ax, ay)
			st.MeanJ += 255 * gb.Get(bx, by)
		}
	}
	if st.N > 0 {
		st.MeanI /= st.N
		st.MeanJ /= st.N
	}
	return st
}

// CompensateGains solves for a gain per image that evens out the
// brightness in the overlaps, while staying close to 1. The overlap stats
// are computed concurrently. If the system can't be solved, every gain
// stays at 1.
func CompensateGains(ctx context.Context, warped []WarpedImage, nWorkers int, log *logrus.Entry) ([]float64, error) {
	n := len(warped)
	gains := make([]float64, n)
	for i := range gains {
		gains[i] = 1
	}
	if n < 2 {
		return gains, nil
	}

	grays := make([]emath.FloatGrid, n)
	for i, w := range warped {
		grays[i] = w.Image.Gray()
	}

	pairs := allPairs(n)
	st := make([]overlapStats, len(pairs))
	err := runConcurrently(ctx, nWorkers, len(pairs), func(k int) error {
		i, j := pairs[k].I, pairs[k].J
		st[k] = pairOverlap(warped[i], warped[j], grays[i], grays[j])
		return nil
	})
	if err != nil {
		return gains, err
	}

	N := mat.NewDense(n, n, nil)
	I := mat.NewDense(n, n, nil) // I(i,j): mean of image i over its overlap with j
	for i, w := range warped {
		count := 0.0
		for _, v := range w.Mask.Values() {
			if v >= 0.5 {
				count++
			}
		}
		N.Set(i, i, count)
	}
	for k, p := range pairs {
		N.Set(p.I, p.J, st[k].N)
		N.Set(p.J, p.I, st[k].N)
		I.Set(p.I, p.J, st[k].MeanI)
		I.Set(p.J, p.I, st[k].MeanJ)
	}

	A := mat.NewDense(n, n, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			nij := N.At(i, j)
			b.SetVec(i, b.AtVec(i)+gainBeta*nij)
			A.Set(i, i, A.At(i, i)+gainBeta*nij)
			if j == i {
				continue
			}
			A.Set(i, i, A.At(i, i)+2*gainAlpha*I.At(i, j)*I.At(i, j)*nij)
			A.Set(i, j, A.At(i, j)-2*gainAlpha*I.At(i, j)*I.At(j, i)*nij)
		}
	}

	var g mat.VecDense
	if err := g.SolveVec(A, b); err != nil {
		log.Debugf("gain system not solvable (%v), leaving gains at 1", err)
		return gains, nil
	}
	for i := range gains {
		if v := g.AtVec(i); finite(v) && v > 0 {
			gains[i] = v
		}
	}
	return gains, nil
}

// ApplyGains returns new warped images, with their pixels scaled.
func ApplyGains(warped []WarpedImage, gains []float64) []WarpedImage {
	out := make([]WarpedImage, len(warped))
	for i, w := range warped {
		w.Image = w.Image.Scaled(gains[i])
		out[i] = w
	}
	return out
}
