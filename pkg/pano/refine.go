package pano

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/panostitch/pkg/emath"
)

type RefineStatus int

const (
	Converged RefineStatus = iota
	Diverged
	IterationLimitReached
)

func (s RefineStatus) String() string {
	switch s {
	case Converged:
		return "Converged"
	case Diverged:
		return "Diverged"
	case IterationLimitReached:
		return "IterationLimitReached"
	}
	return fmt.Sprintf("RefineStatus(%d)", int(s))
}

type RefineResult struct {
	Status     RefineStatus
	Iterations int
	InitialRMS float64 // pixels
	FinalRMS   float64
	Cameras    []CameraParams
}

func (r RefineResult) String() string {
	return fmt.Sprintf("%s after %d iterations, rms %.4f -> %.4f", r.Status, r.Iterations, r.InitialRMS, r.FinalRMS)
}

// A Refiner improves the cameras of one component.
type Refiner interface {
	Refine(ctx context.Context, p BundleProblem, cams []CameraParams) (RefineResult, error)
}

// edgePoints are the inlier correspondences of one edge, in centred
// coordinates, with the cameras given as indices into the problem.
type edgePoints struct {
	a, b   int
	pa, pb []emath.Vec3
}

// BundleProblem is the set of correspondences over one component. The
// cameras are indexed like Nodes; camera Root keeps its rotation.
type BundleProblem struct {
	Nodes []int
	Root  int
	edges []edgePoints
	nRes  int
}

func NewBundleProblem(tree SpanningTree, feats []Features) BundleProblem {
	p := BundleProblem{Nodes: tree.Nodes}
	pos := map[int]int{}
	for k, n := range tree.Nodes {
		pos[n] = k
	}
	p.Root = pos[tree.Root]

	for _, e := range tree.Edges {
		ep := edgePoints{a: pos[e.Src], b: pos[e.Dst]}
		for _, m := range e.Matches {
			qa := feats[e.Src].Centred(m.QueryIdx)
			qb := feats[e.Dst].Centred(m.TrainIdx)
			ep.pa = append(ep.pa, emath.Vec3{qa.X, qa.Y, 1})
			ep.pb = append(ep.pb, emath.Vec3{qb.X, qb.Y, 1})
		}
		p.nRes += 4 * len(ep.pa)
		p.edges = append(p.edges, ep)
	}
	return p
}

func (p BundleProblem) NumResiduals() int { return p.nRes }

// residuals fills out with the symmetric transfer error: for each
// correspondence, a->b then b->a, x and y.
func (p BundleProblem) residuals(cams []CameraParams, out []float64) {
	k := 0
	for _, e := range p.edges {
		hab := Homography(cams[e.a], cams[e.b])
		hba := Homography(cams[e.b], cams[e.a])
		for i := range e.pa {
			dx, dy := transferError(hab, e.pa[i], e.pb[i])
			out[k], out[k+1] = dx, dy
			dx, dy = transferError(hba, e.pb[i], e.pa[i])
			out[k+2], out[k+3] = dx, dy
			k += 4
		}
	}
}

func transferError(H emath.Mat3, from, to emath.Vec3) (float64, float64) {
	v := H.Apply(from)
	if math.Abs(v[2]) < 1e-12 {
		return 1e6, 1e6
	}
	return v[0]/v[2] - to[0], v[1]/v[2] - to[1]
}

// ReprojectionErrors returns the per-correspondence transfer distances.
func (p BundleProblem) ReprojectionErrors(cams []CameraParams) []float64 {
	r := make([]float64, p.nRes)
	p.residuals(cams, r)
	errs := make([]float64, 0, p.nRes/2)
	for k := 0; k < len(r); k += 2 {
		errs = append(errs, math.Hypot(r[k], r[k+1]))
	}
	return errs
}

// params: every camera has a focal, all but the root have a rotation increment.
type paramRef struct {
	cam int
	rot int // -1 for the focal, else 0..2
}

func (p BundleProblem) params() []paramRef {
	refs := []paramRef{}
	for k := range p.Nodes {
		refs = append(refs, paramRef{k, -1})
		if k == p.Root {
			continue
		}
		for r := 0; r < 3; r++ {
			refs = append(refs, paramRef{k, r})
		}
	}
	return refs
}

func applyUpdate(cams []CameraParams, refs []paramRef, delta []float64) []CameraParams {
	out := append([]CameraParams{}, cams...)
	rots := make([]emath.Vec3, len(cams))
	for i, ref := range refs {
		if ref.rot < 0 {
			out[ref.cam].Focal += delta[i]
		} else {
			rots[ref.cam][ref.rot] += delta[i]
		}
	}
	for k := range out {
		if rots[k].Norm() == 0 {
			continue
		}
		R := out[k].R.Mult(emath.Rodrigues(rots[k]))
		if on, err := R.Orthonormalize(); err == nil {
			R = on
		}
		out[k].R = R
	}
	return out
}

func sumSq(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return s
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// LMRefiner is a Levenberg-Marquardt bundle adjuster over focal lengths
// and rotations, with a numerical Jacobian.
type LMRefiner struct {
	MaxIters     int
	Tolerance    float64 // on the (focal-relative) step norm
	MaxIncreases int
	Workers      int
}

func NewLMRefiner(cfg Config) LMRefiner {
	return LMRefiner{
		MaxIters:     cfg.RefineMaxIters,
		Tolerance:    cfg.RefineTolerance,
		MaxIncreases: cfg.RefineMaxIncreases,
		Workers:      cfg.numWorkers(),
	}
}

func (lm LMRefiner) Refine(ctx context.Context, p BundleProblem, cams []CameraParams) (RefineResult, error) {
	m := p.NumResiduals()
	refs := p.params()
	n := len(refs)

	res := RefineResult{Cameras: cams}
	r := make([]float64, m)
	p.residuals(cams, r)
	errSq := sumSq(r)
	res.InitialRMS = math.Sqrt(errSq / math.Max(1, float64(m)))
	res.FinalRMS = res.InitialRMS

	if !finite(errSq) {
		res.Status = Diverged
		return res, nil
	}
	if m == 0 {
		res.Status = Converged
		return res, nil
	}

	lambda := 1e-3
	increases := 0
	var jtj mat.SymDense
	var g mat.VecDense
	stale := true // the Jacobian needs recomputing after an accepted step

	for iter := 0; iter < lm.MaxIters; iter++ {
		res.Iterations = iter + 1
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if stale {
			J, err := lm.jacobian(ctx, p, cams, refs, r)
			if err != nil {
				return res, err
			}
			jtj.Reset()
			jtj.SymOuterK(1, J.T())
			g.Reset()
			g.MulVec(J.T(), mat.NewVecDense(m, r))
			stale = false
		}

		A := mat.NewSymDense(n, nil)
		A.CopySym(&jtj)
		for i := 0; i < n; i++ {
			A.SetSym(i, i, jtj.At(i, i)*(1+lambda)+1e-12)
		}

		var chol mat.Cholesky
		var step mat.VecDense
		solved := chol.Factorize(A)
		if solved {
			solved = chol.SolveVecTo(&step, &g) == nil
		}
		if !solved {
			lambda *= 10
			if increases++; increases >= lm.MaxIncreases {
				res.Status = Diverged
				return res, nil
			}
			continue
		}

		delta := make([]float64, n)
		norm := 0.0
		for i := range delta {
			delta[i] = -step.AtVec(i)
			d := delta[i]
			if refs[i].rot < 0 {
				d /= cams[refs[i].cam].Focal
			}
			norm += d * d
		}
		if math.Sqrt(norm) < lm.Tolerance {
			res.Status = Converged
			return res, nil
		}

		trial := applyUpdate(cams, refs, delta)
		for _, c := range trial {
			if !(c.Focal > 0) {
				res.Status = Diverged
				return res, nil
			}
		}
		rTrial := make([]float64, m)
		p.residuals(trial, rTrial)
		trialSq := sumSq(rTrial)
		if !finite(trialSq) {
			res.Status = Diverged
			return res, nil
		}

		if trialSq < errSq {
			improvement := (errSq - trialSq) / errSq
			cams, r, errSq = trial, rTrial, trialSq
			res.Cameras = cams
			res.FinalRMS = math.Sqrt(errSq / float64(m))
			lambda = math.Max(lambda/10, 1e-12)
			increases = 0
			stale = true
			if improvement < 1e-12 {
				res.Status = Converged
				return res, nil
			}
		} else {
			lambda *= 10
			if increases++; increases >= lm.MaxIncreases {
				res.Status = Diverged
				return res, nil
			}
		}
	}

	res.Status = IterationLimitReached
	return res, nil
}

// jacobian computes forward differences; the columns for each camera are
// filled in concurrently.
func (lm LMRefiner) jacobian(ctx context.Context, p BundleProblem, cams []CameraParams, refs []paramRef, r0 []float64) (*mat.Dense, error) {
	m, n := len(r0), len(refs)
	J := mat.NewDense(m, n, nil)

	byCam := make([][]int, len(cams))
	for i, ref := range refs {
		byCam[ref.cam] = append(byCam[ref.cam], i)
	}

	err := runConcurrently(ctx, lm.Workers, len(cams), func(k int) error {
		local := make([]float64, m)
		delta := make([]float64, n)
		for _, i := range byCam[k] {
			h := 1e-6
			if refs[i].rot < 0 {
				h = 1e-5 * math.Max(1, math.Abs(cams[k].Focal))
			}
			delta[i] = h
			p.residuals(applyUpdate(cams, refs, delta), local)
			delta[i] = 0
			for row := 0; row < m; row++ {
				J.Set(row, i, (local[row]-r0[row])/h)
			}
		}
		return nil
	})
	return J, err
}
