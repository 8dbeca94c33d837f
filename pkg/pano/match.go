package pano

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/sirupsen/logrus"
	"github.com/skypies/util/histogram"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Match is one correspondence between keypoints in two images.
type Match struct {
	QueryIdx   int // keypoint index in the src image
	TrainIdx   int // keypoint index in the dst image
	Distance   int
	Confidence float64
}

// A MatchSet holds the RANSAC inliers between two images, and the
// homography that maps centred src coords onto centred dst coords.
type MatchSet struct {
	Src, Dst      int
	Matches       []Match // inliers only
	H             emath.Mat3
	NumInliers    int
	NumCandidates int
	Confidence    float64
}

func (ms MatchSet) String() string {
	return fmt.Sprintf("MatchSet[%d->%d, %d/%d inliers, conf=%.3f]", ms.Src, ms.Dst,
		ms.NumInliers, ms.NumCandidates, ms.Confidence)
}

// HomographyFrom returns the homography that maps centred coords in
// image `from` to the other image of the pair.
func (ms MatchSet) HomographyFrom(from int) (emath.Mat3, bool) {
	if from == ms.Src {
		return ms.H, true
	}
	inv, err := invert3(ms.H)
	return inv, err == nil
}

// nearest finds, for each descriptor in a, the closest descriptor in b
// and the distance to the second closest. Equal distances keep the lower
// index.
func nearest(a, b []Keypoint) (idx []int, best []int, second []int) {
	idx = make([]int, len(a))
	best = make([]int, len(a))
	second = make([]int, len(a))
	for i := range a {
		idx[i], best[i], second[i] = -1, math.MaxInt32, math.MaxInt32
		for j := range b {
			d := a[i].Desc.Distance(b[j].Desc)
			if d < best[i] {
				second[i] = best[i]
				best[i], idx[i] = d, j
			} else if d < second[i] {
				second[i] = d
			}
		}
	}
	return
}

func passesRatio(best, second int, ratio float64) bool {
	return second == math.MaxInt32 || float64(best) < ratio*float64(second)
}

// candidateMatches is the mutual nearest neighbour set, after the ratio
// test in both directions. Ordered by query index.
func candidateMatches(f1, f2 Features, ratio float64) []Match {
	fwd, fBest, fSecond := nearest(f1.Keypoints, f2.Keypoints)
	bwd, bBest, bSecond := nearest(f2.Keypoints, f1.Keypoints)

	matches := []Match{}
	for i, j := range fwd {
		if j < 0 || bwd[j] != i {
			continue
		}
		if !passesRatio(fBest[i], fSecond[i], ratio) || !passesRatio(bBest[j], bSecond[j], ratio) {
			continue
		}
		matches = append(matches, Match{
			QueryIdx:   i,
			TrainIdx:   j,
			Distance:   fBest[i],
			Confidence: 1.0 - float64(fBest[i])/descriptorBits,
		})
	}
	return matches
}

// MatchPair matches the features of two images, and validates the
// matches with a RANSAC homography. Returns ErrInsufficientMatches if
// the pair is not confident.
func MatchPair(f1, f2 Features, cfg Config, seed int64) (*MatchSet, error) {
	cands := candidateMatches(f1, f2, cfg.MatchRatio)
	if len(cands) < 4 {
		return nil, newError(InsufficientMatches, nil, "images %d,%d: %d candidates", f1.ImageIndex, f2.ImageIndex, len(cands))
	}

	src, dst := make([]r2.Point, len(cands)), make([]r2.Point, len(cands))
	for k, m := range cands {
		src[k] = f1.Centred(m.QueryIdx)
		dst[k] = f2.Centred(m.TrainIdx)
	}

	rng := rand.New(rand.NewSource(seed))
	res, ok := ransacHomography(src, dst, cfg.RansacThreshold, cfg.RansacIters, rng)
	if !ok {
		return nil, newError(InsufficientMatches, nil, "images %d,%d: no homography", f1.ImageIndex, f2.ImageIndex)
	}

	nIn := len(res.Inliers)
	ratio := float64(nIn) / float64(len(cands))
	if nIn < cfg.MinInliers || ratio < cfg.MinInlierRatio {
		return nil, newError(InsufficientMatches, nil, "images %d,%d: %d/%d inliers",
			f1.ImageIndex, f2.ImageIndex, nIn, len(cands))
	}

	ms := &MatchSet{
		Src:           f1.ImageIndex,
		Dst:           f2.ImageIndex,
		H:             res.H,
		NumInliers:    nIn,
		NumCandidates: len(cands),
		Confidence:    float64(nIn) / (8.0 + 0.3*float64(len(cands))),
	}
	for _, k := range res.Inliers {
		ms.Matches = append(ms.Matches, cands[k])
	}
	return ms, nil
}

type imagePair struct{ I, J int }

// MatchAll matches every pair i<j concurrently. The result is indexed
// like allPairs(len(feats)); pairs that didn't match are nil.
func MatchAll(ctx context.Context, feats []Features, cfg Config, log *logrus.Entry) ([]*MatchSet, error) {
	pairs := allPairs(len(feats))
	sets := make([]*MatchSet, len(pairs))

	err := runConcurrently(ctx, cfg.numWorkers(), len(pairs), func(k int) error {
		i, j := pairs[k].I, pairs[k].J
		seed := cfg.Seed + int64(i*len(feats)+j)
		ms, err := MatchPair(feats[i], feats[j], cfg, seed)
		if err != nil {
			log.WithField("pair", fmt.Sprintf("%d-%d", i, j)).Debugf("pair rejected: %v", err)
			return nil
		}
		sets[k] = ms
		return nil
	})
	if err != nil {
		return nil, err
	}

	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		h := histogram.Histogram{NumBuckets: 32, ValMin: 0, ValMax: descriptorBits}
		for _, ms := range sets {
			if ms == nil {
				continue
			}
			log.Debugf("%s", ms)
			for _, m := range ms.Matches {
				h.Add(histogram.ScalarVal(m.Distance))
			}
		}
		log.Debugf("inlier descriptor distances: %s", h.String())
	}

	return sets, nil
}

func allPairs(n int) []imagePair {
	pairs := []imagePair{}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, imagePair{i, j})
		}
	}
	return pairs
}
