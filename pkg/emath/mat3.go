package emath

// Fixed size 3x3 matrices and 3-vectors, used for camera rotations.

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64" // Will be "image/math/f64" at some point
	"gonum.org/v1/gonum/mat"
)

// Row-major, like f64.Mat3.
type Vec3 f64.Vec3
type Mat3 f64.Mat3

func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// Mat3FromRows builds a matrix whose rows are the three vectors.
func Mat3FromRows(r0, r1, r2 Vec3) Mat3 {
	return Mat3{
		r0[0], r0[1], r0[2],
		r1[0], r1[1], r1[2],
		r2[0], r2[1], r2[2],
	}
}

func (a Mat3) Mult(b Mat3) Mat3 {
	return Mat3{
		a[3*0+0]*b[3*0+0] + a[3*0+1]*b[3*1+0] + a[3*0+2]*b[3*2+0],
		a[3*0+0]*b[3*0+1] + a[3*0+1]*b[3*1+1] + a[3*0+2]*b[3*2+1],
		a[3*0+0]*b[3*0+2] + a[3*0+1]*b[3*1+2] + a[3*0+2]*b[3*2+2],

		a[3*1+0]*b[3*0+0] + a[3*1+1]*b[3*1+0] + a[3*1+2]*b[3*2+0],
		a[3*1+0]*b[3*0+1] + a[3*1+1]*b[3*1+1] + a[3*1+2]*b[3*2+1],
		a[3*1+0]*b[3*0+2] + a[3*1+1]*b[3*1+2] + a[3*1+2]*b[3*2+2],

		a[3*2+0]*b[3*0+0] + a[3*2+1]*b[3*1+0] + a[3*2+2]*b[3*2+0],
		a[3*2+0]*b[3*0+1] + a[3*2+1]*b[3*1+1] + a[3*2+2]*b[3*2+1],
		a[3*2+0]*b[3*0+2] + a[3*2+1]*b[3*1+2] + a[3*2+2]*b[3*2+2],
	}
}

func (m Mat3) Apply(v Vec3) Vec3 {
	return Vec3{
		m[3*0+0]*v[0] + m[3*0+1]*v[1] + m[3*0+2]*v[2],
		m[3*1+0]*v[0] + m[3*1+1]*v[1] + m[3*1+2]*v[2],
		m[3*2+0]*v[0] + m[3*2+1]*v[1] + m[3*2+2]*v[2],
	}
}

func (m Mat3) T() Mat3 {
	return Mat3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

func (m Mat3) At(r, c int) float64 { return m[3*r+c] }
func (m Mat3) Col(c int) Vec3      { return Vec3{m[c], m[3+c], m[6+c]} }
func (m Mat3) Row(r int) Vec3      { return Vec3{m[3*r], m[3*r+1], m[3*r+2]} }

func (m Mat3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

func (m Mat3) Scale(s float64) Mat3 {
	for i := range m {
		m[i] *= s
	}
	return m
}

// Dense copies the matrix into a gonum matrix.
func (m Mat3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8]})
}

// Mat3FromDense is the inverse of Dense; d must be 3x3.
func Mat3FromDense(d mat.Matrix) Mat3 {
	var m Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[3*r+c] = d.At(r, c)
		}
	}
	return m
}

// Orthonormalize returns the closest rotation matrix to m (the orthogonal
// factor of its polar decomposition, via SVD). Rotations accumulate
// floating point drift as we compose them, so this gets called after every
// update.
func (m Mat3) Orthonormalize() (Mat3, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m.Dense(), mat.SVDFull); !ok {
		return m, fmt.Errorf("orthonormalize: SVD failed on\n%s", m)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Reflection; flip the axis with the smallest singular value
		for row := 0; row < 3; row++ {
			u.Set(row, 2, -u.At(row, 2))
		}
		r.Mul(&u, v.T())
	}
	return Mat3FromDense(&r), nil
}

// IsRotation checks orthonormality and handedness, within tol.
func (m Mat3) IsRotation(tol float64) bool {
	p := m.Mult(m.T())
	id := Identity3()
	for i := range p {
		if math.Abs(p[i]-id[i]) > tol {
			return false
		}
	}
	return math.Abs(m.Det()-1) <= tol
}

// Rodrigues maps a rotation vector (axis * angle, radians) to a rotation matrix.
func Rodrigues(w Vec3) Mat3 {
	theta := w.Norm()
	if theta < 1e-12 {
		// First order: I + [w]x
		return Mat3{
			1, -w[2], w[1],
			w[2], 1, -w[0],
			-w[1], w[0], 1,
		}
	}
	k := w.Scale(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return Mat3{
		t*k[0]*k[0] + c, t*k[0]*k[1] - s*k[2], t*k[0]*k[2] + s*k[1],
		t*k[0]*k[1] + s*k[2], t*k[1]*k[1] + c, t*k[1]*k[2] - s*k[0],
		t*k[0]*k[2] - s*k[1], t*k[1]*k[2] + s*k[0], t*k[2]*k[2] + c,
	}
}

// RotationAngle is the angle (radians) of the rotation m.
func (m Mat3) RotationAngle() float64 {
	c := (m[0] + m[4] + m[8] - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// RotX, RotY and RotZ are rotations about the axes, by theta radians.
func RotX(theta float64) Mat3 {
	c, s := math.Cos(theta), math.Sin(theta)
	return Mat3{1, 0, 0, 0, c, -s, 0, s, c}
}

func RotY(theta float64) Mat3 {
	c, s := math.Cos(theta), math.Sin(theta)
	return Mat3{c, 0, s, 0, 1, 0, -s, 0, c}
}

func RotZ(theta float64) Mat3 {
	c, s := math.Cos(theta), math.Sin(theta)
	return Mat3{c, -s, 0, s, c, 0, 0, 0, 1}
}

func (m Mat3) String() string {
	str := fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*0+0], m[3*0+1], m[3*0+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*1+0], m[3*1+1], m[3*1+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*2+0], m[3*2+1], m[3*2+2])
	return str
}

func (v Vec3) String() string {
	return fmt.Sprintf("[%12.10f, %12.10f, %12.10f]", v[0], v[1], v[2])
}

func (v Vec3) Add(u Vec3) Vec3      { return Vec3{v[0] + u[0], v[1] + u[1], v[2] + u[2]} }
func (v Vec3) Sub(u Vec3) Vec3      { return Vec3{v[0] - u[0], v[1] - u[1], v[2] - u[2]} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }
func (v Vec3) Dot(u Vec3) float64   { return v[0]*u[0] + v[1]*u[1] + v[2]*u[2] }
func (v Vec3) Norm() float64        { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Cross(u Vec3) Vec3 {
	return Vec3{
		v[1]*u[2] - v[2]*u[1],
		v[2]*u[0] - v[0]*u[2],
		v[0]*u[1] - v[1]*u[0],
	}
}

// Normalize returns the unit vector; the zero vector stays zero.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// Outer is v * u^T.
func (v Vec3) Outer(u Vec3) Mat3 {
	return Mat3{
		v[0] * u[0], v[0] * u[1], v[0] * u[2],
		v[1] * u[0], v[1] * u[1], v[1] * u[2],
		v[2] * u[0], v[2] * u[1], v[2] * u[2],
	}
}

func (a Mat3) Add(b Mat3) Mat3 {
	for i := range a {
		a[i] += b[i]
	}
	return a
}
