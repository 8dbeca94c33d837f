package pano

import (
	"context"
	"fmt"
	"math"

	"github.com/codahale/hdrhistogram"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/abworrall/panostitch/pkg/emath"
)

type EstimatorState int

const (
	Uninitialized EstimatorState = iota
	IncrementalEstimate
	GlobalRefine
	Done
)

func (s EstimatorState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case IncrementalEstimate:
		return "IncrementalEstimate"
	case GlobalRefine:
		return "GlobalRefine"
	case Done:
		return "Done"
	}
	return fmt.Sprintf("EstimatorState(%d)", int(s))
}

// Estimator works out the cameras of one component: an incremental
// estimate along the spanning tree, then a global refinement.
type Estimator struct {
	State   EstimatorState
	Refiner Refiner
	Result  RefineResult // of the last refinement

	log *logrus.Entry
}

func NewEstimator(cfg Config, log *logrus.Entry) *Estimator {
	return &Estimator{
		State:   Uninitialized,
		Refiner: NewLMRefiner(cfg),
		log:     log,
	}
}

// Estimate returns a camera per tree node (in the order of tree.Nodes),
// at work scale. hints are focal hints per image, indexed like feats.
func (e *Estimator) Estimate(ctx context.Context, tree SpanningTree, feats []Features, hints []float64) ([]CameraParams, error) {
	e.State = IncrementalEstimate
	cams, err := e.incremental(tree, feats, hints)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.State = GlobalRefine
	problem := NewBundleProblem(tree, feats)
	res, err := e.Refiner.Refine(ctx, problem, cams)
	if err != nil {
		return nil, errors.Wrap(err, "refine")
	}
	e.Result = res

	if res.Status == Diverged {
		e.log.Warnf("%v (%s); keeping the incremental estimate", ErrRefinementDivergence, res)
	} else {
		e.log.Debugf("refinement %s", res)
		cams = res.Cameras
	}

	logReprojectionErrors(e.log, problem.ReprojectionErrors(cams))
	e.State = Done
	return cams, nil
}

func (e *Estimator) incremental(tree SpanningTree, feats []Features, hints []float64) ([]CameraParams, error) {
	pos := map[int]int{}
	for k, n := range tree.Nodes {
		pos[n] = k
	}

	root := feats[tree.Root]
	nodeHints := []float64{}
	for _, n := range tree.Nodes {
		if n < len(hints) {
			nodeHints = append(nodeHints, hints[n])
		}
	}
	focal, source := estimateFocal(tree.Edges, nodeHints, root.Width, root.Height)
	e.log.Debugf("focal seed %.2f (from %s)", focal, source)

	cams := make([]CameraParams, len(tree.Nodes))
	for k, n := range tree.Nodes {
		cams[k] = CameraParams{
			Focal: focal,
			PPX:   float64(feats[n].Width) / 2,
			PPY:   float64(feats[n].Height) / 2,
			R:     emath.Identity3(),
		}
	}

	for _, step := range tree.Steps {
		parent, child := cams[pos[step.Parent]], cams[pos[step.Child]]
		H, ok := step.Edge.HomographyFrom(step.Parent)
		if !ok {
			return nil, newError(StitchFailed, nil, "singular homography %s", step.Edge)
		}

		// H ~ Kc Rc^T Rp Kp^-1, so Rc = Rp (Kc^-1 H Kp)^T
		M := child.KInv().Mult(H).Mult(parent.K())
		if M.Det() < 0 {
			M = M.Scale(-1)
		}
		rel, err := M.T().Orthonormalize()
		if err != nil {
			return nil, newError(StitchFailed, err, "camera %d", step.Child)
		}
		R, err := parent.R.Mult(rel).Orthonormalize()
		if err != nil {
			return nil, newError(StitchFailed, err, "camera %d", step.Child)
		}
		cams[pos[step.Child]].R = R
		e.log.Debugf("camera %d from %d: %s", step.Child, step.Parent, cams[pos[step.Child]])
	}

	return cams, nil
}

// logReprojectionErrors logs quantiles of the errors, in pixels.
func logReprojectionErrors(log *logrus.Entry, errs []float64) {
	if len(errs) == 0 {
		return
	}
	const scale = 100.0 // record hundredths of a pixel
	h := hdrhistogram.New(0, 1e8, 3)
	for _, e := range errs {
		v := int64(math.Min(e*scale, 1e8))
		if !finite(e) {
			v = 1e8
		}
		h.RecordValue(v)
	}
	log.WithFields(logrus.Fields{
		"p50": float64(h.ValueAtQuantile(50)) / scale,
		"p95": float64(h.ValueAtQuantile(95)) / scale,
		"max": float64(h.Max()) / scale,
		"n":   len(errs),
	}).Info("reprojection error (px)")
}
