package simd

import (
	"math"
	"testing"
)

func TestExp32(t *testing.T) {
	x := []float32{0, 1, -2}
	Exp32(x)
	want := []float64{1, math.E, math.Exp(-2)}
	for i, w := range want {
		if math.Abs(float64(x[i])-w) > 1e-6 {
			t.Errorf("elem %d: got %f want %f", i, x[i], w)
		}
	}
}

func TestMulSubAxpy(t *testing.T) {
	x := []float32{1, 2, 3}
	Mul32(x, []float32{2, 2, 2})
	if x[2] != 6 {
		t.Fatalf("Mul32: got %v", x)
	}
	Sub32(x, []float32{1, 1, 1})
	if x[0] != 1 {
		t.Fatalf("Sub32: got %v", x)
	}
	Axpy32(2, x, []float32{1, 1, 1})
	if x[1] != 5 {
		t.Fatalf("Axpy32: got %v", x)
	}
	if Sum32(x) != 3+5+7 {
		t.Fatalf("Sum32: got %f", Sum32(x))
	}
}
