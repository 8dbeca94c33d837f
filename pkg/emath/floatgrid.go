package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A FloatGrid is a grid of floats, with some operations. We use it for
// gray images, masks, weight maps and the levels of image pyramids.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	if w < 0 || h < 0 {
		w, h = 0, 0
	}
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

func (g1 FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg FloatGrid) Dx() int                 { return fg.stride }
func (fg FloatGrid) Values() []float64       { return fg.values }
func (fg FloatGrid) Empty() bool             { return len(fg.values) == 0 }

func (fg FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

// In reports whether (x,y) is inside the grid.
func (fg FloatGrid) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < fg.Dx() && y < fg.Dy()
}

func (g1 FloatGrid) Copy() FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return g2
}

func (fg FloatGrid) Fill(v float64) {
	for i := range fg.values {
		fg.values[i] = v
	}
}

func (fg FloatGrid) Sum() float64 {
	tot := 0.0
	for _, v := range fg.values {
		tot += v
	}
	return tot
}

// Sub returns g1 - g2; the grids must be the same size.
func (g1 FloatGrid) Sub(g2 FloatGrid) FloatGrid {
	out := g1.NewFromThis()
	for i := range out.values {
		out.values[i] = g1.values[i] - g2.values[i]
	}
	return out
}

// AddFrom adds g2 into g1, in place.
func (g1 FloatGrid) AddFrom(g2 FloatGrid) {
	for i := range g1.values {
		g1.values[i] += g2.values[i]
	}
}

// GaussianBlur is a separable [1 2 1]/4 blur. Call it repeatedly for a wider kernel.
func (g1 FloatGrid) GaussianBlur() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	if width < 2 || height < 2 {
		return g1.Copy()
	}
	g2 := g1.NewFromThis()

	T := g1.NewFromThis()

	//--- X blur, build up in T
	for y := 0; y < height; y++ {
		for x := 1; x < width-1; x++ {
			t := 2.0 * g1.Get(x, y)
			t += g1.Get(x-1, y)
			t += g1.Get(x+1, y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y, (3.0*g1.Get(0, y)+g1.Get(1, y))/4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1, y)+g1.Get(width-2, y))/4.0)
	}

	//--- Y blur, read from T and generate output
	for x := 0; x < width; x++ {
		for y := 1; y < height-1; y++ {
			t := 2.0 * T.Get(x, y)
			t += T.Get(x, y-1)
			t += T.Get(x, y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0, (3.0*T.Get(x, 0)+T.Get(x, 1))/4.0)
		g2.Set(x, height-1, (3.0*T.Get(x, height-1)+T.Get(x, height-2))/4.0)
	}

	return g2
}

// BlurN applies GaussianBlur n times.
func (g1 FloatGrid) BlurN(n int) FloatGrid {
	g := g1
	for i := 0; i < n; i++ {
		g = g.GaussianBlur()
	}
	if n <= 0 {
		return g1.Copy()
	}
	return g
}

// Gradients returns the central-difference derivatives in x and y,
// clamping at the edges.
func (H FloatGrid) Gradients() (FloatGrid, FloatGrid) {
	gx := H.NewFromThis()
	gy := H.NewFromThis()

	width := H.Dx()
	height := H.Dy()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			w, e, n, s := x-1, x+1, y-1, y+1
			if x == 0 {
				w = 0
			}
			if x == width-1 {
				e = x
			}
			if y == 0 {
				n = 0
			}
			if y == height-1 {
				s = y
			}
			gx.Set(x, y, (H.Get(e, y)-H.Get(w, y))/2.0)
			gy.Set(x, y, (H.Get(x, s)-H.Get(x, n))/2.0)
		}
	}

	return gx, gy
}

// DownSample returns a grid that is 1/4 of the size, averaging the values from the
// original.
func (g1 FloatGrid) DownSample() FloatGrid {
	width := g1.Dx() / 2
	height := g1.Dy() / 2
	g2 := NewFloatGrid(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := g1.Get(2*x, 2*y)
			p += g1.Get(2*x+1, 2*y)
			p += g1.Get(2*x, 2*y+1)
			p += g1.Get(2*x+1, 2*y+1)
			g2.Set(x, y, p/4.0)
		}
	}

	return g2
}

// UpSampleInto populates a grid `B`, which is assumed be 2x as big,
// by simply copying each value from `A` four times into a 2x2 block
// of values in `B`
func (A FloatGrid) UpSampleInto(B FloatGrid) {
	awidth := A.Dx()
	aheight := A.Dy()
	width := B.Dx()
	height := B.Dy()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ax := x / 2
			ay := y / 2
			if ax >= awidth {
				ax = awidth - 1
			}
			if ay >= aheight {
				ay = aheight - 1
			}
			B.Set(x, y, A.Get(ax, ay))
		}
	}
}

// UpSample makes a (w x h) grid from this one, replicating then smoothing.
func (A FloatGrid) UpSample(w, h int) FloatGrid {
	B := NewFloatGrid(w, h)
	A.UpSampleInto(B)
	return B.GaussianBlur()
}

// Bilinear samples the grid at a fractional position. Returns false if
// the position is outside the grid.
func (fg FloatGrid) Bilinear(x, y float64) (float64, bool) {
	w, h := fg.Dx(), fg.Dy()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 0, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= h {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	top := fg.Get(x0, y0)*(1-fx) + fg.Get(x1, y0)*fx
	bot := fg.Get(x0, y1)*(1-fx) + fg.Get(x1, y1)*fx
	return top*(1-fy) + bot*fy, true
}

// DistanceTransform returns, for every cell > 0.5, the (chamfer 1/sqrt2)
// distance to the nearest cell <= 0.5. Cells <= 0.5 get zero. If there
// are no such cells at all, distances saturate at w+h.
func (fg FloatGrid) DistanceTransform() FloatGrid {
	w, h := fg.Dx(), fg.Dy()
	d := fg.NewFromThis()
	far := float64(w + h)
	for i, v := range fg.values {
		if v > 0.5 {
			d.values[i] = far
		}
	}

	diag := math.Sqrt2
	relax := func(x, y, nx, ny int, cost float64) {
		if nx < 0 || ny < 0 || nx >= w || ny >= h {
			return
		}
		if v := d.Get(nx, ny) + cost; v < d.Get(x, y) {
			d.Set(x, y, v)
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			relax(x, y, x-1, y, 1)
			relax(x, y, x, y-1, 1)
			relax(x, y, x-1, y-1, diag)
			relax(x, y, x+1, y-1, diag)
		}
	}
	for y := h - 1; y >= 0; y-- {
		for x := w - 1; x >= 0; x-- {
			relax(x, y, x+1, y, 1)
			relax(x, y, x, y+1, 1)
			relax(x, y, x+1, y+1, diag)
			relax(x, y, x-1, y+1, diag)
		}
	}

	return d
}

func (fg FloatGrid) MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0 * min

	for i := 0; i < len(fg.values); i++ {
		if fg.values[i] > max {
			max = fg.values[i]
		}
		if fg.values[i] < min {
			min = fg.values[i]
		}
	}
	return min, max
}

func (fg FloatGrid) Stats() string {
	min, max := fg.MinMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale PNG, scaled to the range of values in the
// grid, with a title written in the corner.
func (fg FloatGrid) ToImg(title, filename string) error {
	min, max := fg.MinMax()
	span := max - min
	if span == 0 {
		span = 1
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), fg.Dy()}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < fg.Dy(); y++ {
			gray := uint16((fg.Get(x, y) - min) / span * 65535.0)
			img.Set(x, y, color.RGBA64{gray, gray, gray, 0xFFFF})
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0, 0)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}
