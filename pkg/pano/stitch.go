package pano

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Panorama is the output of stitching one connected group of images. A
// group of one is returned verbatim, with Stitched=false.
type Panorama struct {
	Image    Image
	Mask     emath.FloatGrid // 1 where the canvas is covered
	Indices  []int           // the input images it was built from
	Stitched bool
}

func (p Panorama) String() string {
	return fmt.Sprintf("Panorama[%dx%d from %v, stitched=%v]", p.Image.Dx(), p.Image.Dy(), p.Indices, p.Stitched)
}

// Stitch builds a single panorama. If the images form more than one
// connected group, cfg.DisconnectedPolicy decides between stitching the
// largest group ("largest") or failing ("fail").
func Stitch(ctx context.Context, images []Image, cfg Config) (Panorama, error) {
	p, err := newPipeline(images, cfg)
	if err != nil {
		return Panorama{}, err
	}
	return p.stitchOne(ctx)
}

// StitchAll builds a panorama per connected group, ordered by the lowest
// image index in each group.
func StitchAll(ctx context.Context, images []Image, cfg Config) ([]Panorama, error) {
	p, err := newPipeline(images, cfg)
	if err != nil {
		return nil, err
	}
	return p.stitchAll(ctx)
}

// pipeline is the state of a single Stitch call.
type pipeline struct {
	cfg     Config
	log     *logrus.Entry
	refiner Refiner // nil means the LM refiner

	images    []Image
	workScale float64
	feats     []Features
	hints     []float64 // focal hints at work scale
	graph     ImageGraph
}

func newPipeline(images []Image, cfg Config) (*pipeline, error) {
	if len(images) < 2 {
		return nil, errors.WithStack(ErrTooFewImages)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	for i, im := range images {
		if im.Empty() {
			return nil, newError(InvalidInput, nil, "image %d is empty", i)
		}
	}
	return &pipeline{
		cfg:    cfg,
		log:    cfg.newRunLogger(),
		images: images,
	}, nil
}

func (p *pipeline) stage(name string) *logrus.Entry {
	return p.log.WithField("stage", name)
}

// register runs feature extraction and matching on the work scale
// images, and builds the graph.
func (p *pipeline) register(ctx context.Context) error {
	log := p.stage("features")

	// One scale for all the images, from the largest
	maxArea := 0.0
	for _, im := range p.images {
		maxArea = math.Max(maxArea, float64(im.Dx()*im.Dy()))
	}
	p.workScale = 1.0
	if p.cfg.WorkMegapix > 0 {
		p.workScale = math.Min(1.0, math.Sqrt(p.cfg.WorkMegapix*1e6/maxArea))
	}
	log.Debugf("%d images, work scale %.3f", len(p.images), p.workScale)

	p.feats = make([]Features, len(p.images))
	p.hints = make([]float64, len(p.images))
	err := runConcurrently(ctx, p.cfg.numWorkers(), len(p.images), func(i int) error {
		work := p.images[i].Resized(p.workScale)
		p.hints[i] = work.FocalHint
		f, err := ExtractFeatures(work, i, p.cfg)
		if errors.Is(err, ErrInsufficientFeatures) {
			log.WithField("image", i).Warnf("%v; carrying on without it", err)
		} else if err != nil {
			return err
		}
		p.feats[i] = f
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "features")
	}
	for i, f := range p.feats {
		log.Debugf("image %d: %d keypoints", i, len(f.Keypoints))
	}

	sets, err := MatchAll(ctx, p.feats, p.cfg, p.stage("match"))
	if err != nil {
		return errors.Wrap(err, "match")
	}
	p.graph = BuildGraph(len(p.images), sets)
	p.stage("graph").Debugf("%d confident pairs, components %v", len(p.graph.Edges), p.graph.Components())

	return nil
}

func (p *pipeline) stitchOne(ctx context.Context) (Panorama, error) {
	if err := p.register(ctx); err != nil {
		return Panorama{}, err
	}

	comps := p.graph.Components()
	largest := comps[0]
	for _, c := range comps[1:] {
		if len(c) > len(largest) {
			largest = c
		}
	}
	if len(largest) < 2 {
		return Panorama{}, errors.WithStack(newError(StitchFailed, nil, "no two images could be matched"))
	}
	if len(comps) > 1 {
		if p.cfg.DisconnectedPolicy == "fail" {
			return Panorama{}, errors.WithStack(newError(DisconnectedPanorama, nil, "components %v", comps))
		}
		p.log.Warnf("%v: components %v, stitching %v", ErrDisconnectedPanorama, comps, largest)
	}

	return p.stitchComponent(ctx, largest)
}

func (p *pipeline) stitchAll(ctx context.Context) ([]Panorama, error) {
	if err := p.register(ctx); err != nil {
		return nil, err
	}

	panos := []Panorama{}
	for _, comp := range p.graph.Components() {
		if len(comp) == 1 {
			i := comp[0]
			mask := emath.NewFloatGrid(p.images[i].Dx(), p.images[i].Dy())
			mask.Fill(1)
			panos = append(panos, Panorama{Image: p.images[i], Mask: mask, Indices: comp})
			continue
		}
		pano, err := p.stitchComponent(ctx, comp)
		if err != nil {
			return nil, err
		}
		panos = append(panos, pano)
	}
	return panos, nil
}

func (p *pipeline) stitchComponent(ctx context.Context, comp []int) (Panorama, error) {
	log := p.log.WithField("component", fmt.Sprintf("%v", comp))

	// Cameras
	tree := p.graph.SpanningTree(comp)
	est := NewEstimator(p.cfg, log.WithField("stage", "estimate"))
	if p.refiner != nil {
		est.Refiner = p.refiner
	}
	cams, err := est.Estimate(ctx, tree, p.feats, p.hints)
	if err != nil {
		return Panorama{}, errors.Wrap(err, "estimate")
	}

	if p.cfg.WaveCorrection {
		if corrected, ok := WaveCorrect(cams); ok {
			cams = corrected
		} else {
			log.WithField("stage", "wave").Debug("degenerate, skipped")
		}
	}
	if err := ctx.Err(); err != nil {
		return Panorama{}, err
	}

	// Back to full resolution
	imgs := make([]Image, len(tree.Nodes))
	for k, n := range tree.Nodes {
		imgs[k] = p.images[n]
		cams[k] = cams[k].Scaled(1 / p.workScale)
		log.WithField("stage", "estimate").Debugf("image %d: %s", n, cams[k])
	}

	projector, _ := p.cfg.GetProjector()
	warper := NewWarper(projector, cams)
	warped, err := warper.WarpAll(ctx, imgs, cams, tree.Nodes, p.cfg.numWorkers())
	if err != nil {
		return Panorama{}, errors.Wrap(err, "warp")
	}

	if p.cfg.ExposureCompensation {
		elog := log.WithField("stage", "exposure")
		gains, err := CompensateGains(ctx, warped, p.cfg.numWorkers(), elog)
		if err != nil {
			return Panorama{}, errors.Wrap(err, "exposure")
		}
		elog.Debugf("gains %v", gains)
		warped = ApplyGains(warped, gains)
	}

	sf := SeamFinder{log: log.WithField("stage", "seams")}
	if p.cfg.Verbosity > 0 {
		sf.DebugDir = p.cfg.DebugDir
	}
	seams, err := sf.FindSeams(ctx, warped)
	if err != nil {
		return Panorama{}, errors.Wrap(err, "seams")
	}

	blender, _ := p.cfg.GetBlender()
	img, mask, err := blender.Blend(ctx, warped, seams)
	if err != nil {
		return Panorama{}, errors.Wrap(err, "blend")
	}
	log.WithField("stage", "blend").Infof("%s: %dx%d canvas", p.cfg.Blender, img.Dx(), img.Dy())

	return Panorama{
		Image:    img,
		Mask:     mask,
		Indices:  append([]int{}, tree.Nodes...),
		Stitched: true,
	}, nil
}
