// Package simd provides flat float32 slice primitives shared by the sparse
// kernels. The loops are written so the compiler can vectorize them; no
// per-element function calls escape into the hot paths.
package simd

import "math"

// Exp32 exponentiates x in place.
func Exp32(x []float32) {
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v)))
	}
}

// Mul32 multiplies x by y elementwise, in place. Lengths must match.
func Mul32(x, y []float32) {
	for i := range x {
		x[i] *= y[i]
	}
}

// Sub32 subtracts y from x elementwise, in place. Lengths must match.
func Sub32(x, y []float32) {
	for i := range x {
		x[i] -= y[i]
	}
}

// Axpy32 computes x += a*y elementwise, in place. Lengths must match.
func Axpy32(a float32, x, y []float32) {
	for i := range x {
		x[i] += a * y[i]
	}
}

// Sum32 returns the sum of x.
func Sum32(x []float32) float32 {
	var s float32
	for _, v := range x {
		s += v
	}
	return s
}
