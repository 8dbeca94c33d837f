package pano

import (
	"context"
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/sirupsen/logrus"

	"github.com/abworrall/panostitch/pkg/emath"
)

// SeamMask is the hard (0/1) ownership mask of a warped image, over the
// same rectangle as the image. Across all the masks, every covered canvas
// pixel has exactly one owner.
type SeamMask struct {
	Index int
	Mask  emath.FloatGrid
}

// SeamFinder carves the overlaps between images along minimum-cost paths.
type SeamFinder struct {
	DebugDir string // if set, dump the masks as PNGs
	log      *logrus.Entry
}

type seamImage struct {
	w        WarpedImage
	grad     emath.FloatGrid // gradient magnitude of the gray image
	centroid [2]float64      // of the valid mask, in canvas coords
}

// FindSeams starts from the validity masks, and resolves each
// overlapping pair (in index order) with a dynamic programming seam.
func (sf SeamFinder) FindSeams(ctx context.Context, warped []WarpedImage) ([]SeamMask, error) {
	imgs := make([]seamImage, len(warped))
	masks := make([]SeamMask, len(warped))
	for i, w := range warped {
		m := w.Mask.NewFromThis()
		vals, src := m.Values(), w.Mask.Values()
		for k := range vals {
			if src[k] >= 0.5 {
				vals[k] = 1
			}
		}
		masks[i] = SeamMask{Index: w.Index, Mask: m}

		gx, gy := w.Image.Gray().Gradients()
		grad := gx.NewFromThis()
		gv, xv, yv := grad.Values(), gx.Values(), gy.Values()
		for k := range gv {
			gv[k] = math.Hypot(xv[k], yv[k])
		}
		imgs[i] = seamImage{w: w, grad: grad, centroid: maskCentroid(w)}
	}

	for _, p := range allPairs(len(warped)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sf.resolvePair(imgs[p.I], imgs[p.J], masks[p.I].Mask, masks[p.J].Mask)
	}

	if sf.DebugDir != "" {
		for i, m := range masks {
			title := fmt.Sprintf("seam mask %d", m.Index)
			filename := filepath.Join(sf.DebugDir, fmt.Sprintf("seam-%03d.png", m.Index))
			if err := m.Mask.ToImg(title, filename); err != nil && sf.log != nil {
				sf.log.Warnf("seam debug dump %d: %v", i, err)
			}
		}
	}

	return masks, nil
}

func maskCentroid(w WarpedImage) [2]float64 {
	sx, sy, n := 0.0, 0.0, 0.0
	for y := 0; y < w.Mask.Dy(); y++ {
		for x := 0; x < w.Mask.Dx(); x++ {
			if w.Mask.Get(x, y) >= 0.5 {
				sx += float64(x)
				sy += float64(y)
				n++
			}
		}
	}
	if n == 0 {
		r := w.Rect()
		return [2]float64{float64(r.Min.X+r.Max.X) / 2, float64(r.Min.Y+r.Max.Y) / 2}
	}
	return [2]float64{sx/n + float64(w.Corner.X), sy/n + float64(w.Corner.Y)}
}

// resolvePair removes every pixel currently owned by both a and b from
// one of them, splitting the overlap along the cheapest seam.
func (sf SeamFinder) resolvePair(a, b seamImage, ma, mb emath.FloatGrid) {
	r := a.w.Rect().Intersect(b.w.Rect())
	if r.Empty() {
		return
	}

	both := func(x, y int) bool {
		return ma.Get(x-a.w.Corner.X, y-a.w.Corner.Y) > 0.5 && mb.Get(x-b.w.Corner.X, y-b.w.Corner.Y) > 0.5
	}

	// Shrink to the bounding box of the shared pixels
	bbox := image.Rectangle{}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if both(x, y) {
				bbox = bbox.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	if bbox.Empty() {
		return
	}

	// Costs, transposed if need be so that the seam always runs down the rows
	vertical := bbox.Dy() > bbox.Dx()
	rows, cols := bbox.Dy(), bbox.Dx()
	if !vertical {
		rows, cols = cols, rows
	}
	toCanvas := func(row, col int) (int, int) {
		if vertical {
			return bbox.Min.X + col, bbox.Min.Y + row
		}
		return bbox.Min.X + row, bbox.Min.Y + col
	}

	cost := emath.NewFloatGrid(cols, rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x, y := toCanvas(row, col)
			if !both(x, y) {
				cost.Set(col, row, math.Inf(1))
				continue
			}
			cost.Set(col, row, pixelCost(a, b, x, y))
		}
	}

	seam := dpSeam(cost)

	// Which side goes where: a gets the side its centroid is on
	var aLow bool
	if vertical {
		aLow = a.centroid[0] <= b.centroid[0]
	} else {
		aLow = a.centroid[1] <= b.centroid[1]
	}

	for row := 0; row < rows; row++ {
		if seam[row] < 0 {
			continue
		}
		for col := 0; col < cols; col++ {
			x, y := toCanvas(row, col)
			if !both(x, y) {
				continue
			}
			low := col < seam[row]
			if low == aLow {
				mb.Set(x-b.w.Corner.X, y-b.w.Corner.Y, 0)
			} else {
				ma.Set(x-a.w.Corner.X, y-a.w.Corner.Y, 0)
			}
		}
	}
}

// pixelCost is the Lab color difference between the two images, plus
// their gradient magnitudes; seams prefer flat areas where they agree.
func pixelCost(a, b seamImage, x, y int) float64 {
	ax, ay := x-a.w.Corner.X, y-a.w.Corner.Y
	bx, by := x-b.w.Corner.X, y-b.w.Corner.Y
	r1, g1, b1 := a.w.Image.rgbAt(ax, ay)
	r2, g2, b2 := b.w.Image.rgbAt(bx, by)
	c1 := colorful.Color{R: clamp01(r1), G: clamp01(g1), B: clamp01(b1)}
	c2 := colorful.Color{R: clamp01(r2), G: clamp01(g2), B: clamp01(b2)}
	return c1.DistanceLab(c2) + a.grad.Get(ax, ay) + b.grad.Get(bx, by)
}

// dpSeam finds a minimum cost path down the rows (moving at most one
// column per row), returning the seam column per row. Infinite cells are
// impassable; rows with no finite cell get -1, and the path restarts
// below them.
func dpSeam(cost emath.FloatGrid) []int {
	cols, rows := cost.Dx(), cost.Dy()
	acc := cost.NewFromThis()
	from := make([]int, cols*rows)
	seam := make([]int, rows)

	rowOK := func(row int) bool {
		for col := 0; col < cols; col++ {
			if !math.IsInf(acc.Get(col, row), 1) {
				return true
			}
		}
		return false
	}

	// backtrack fills in the seam up from row `end` to the next empty row.
	// Where the path began a segment, the row above restarts from its
	// cheapest cell.
	backtrack := func(end int) {
		best := -1
		for row := end; row >= 0 && rowOK(row); row-- {
			if best < 0 {
				for col := 0; col < cols; col++ {
					if best < 0 || acc.Get(col, row) < acc.Get(best, row) {
						best = col
					}
				}
			}
			seam[row] = best
			best = from[row*cols+best]
		}
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			c := cost.Get(col, row)
			from[row*cols+col] = -1
			if math.IsInf(c, 1) {
				acc.Set(col, row, c)
				continue
			}
			prev := math.Inf(1)
			if row > 0 {
				for d := -1; d <= 1; d++ {
					pc := col + d
					if pc < 0 || pc >= cols {
						continue
					}
					if v := acc.Get(pc, row-1); v < prev {
						prev, from[row*cols+col] = v, pc
					}
				}
			}
			if math.IsInf(prev, 1) {
				prev = 0 // start of a new segment
				from[row*cols+col] = -1
			}
			acc.Set(col, row, c+prev)
		}

		if !rowOK(row) {
			seam[row] = -1
			if row > 0 && seam[row-1] != -1 && rowOK(row-1) {
				backtrack(row - 1)
			}
		}
	}
	if rows > 0 && rowOK(rows-1) {
		backtrack(rows - 1)
	}

	return seam
}
