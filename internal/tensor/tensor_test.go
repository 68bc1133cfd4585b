package tensor

import (
	"errors"
	"math"
	"testing"
)

func TestBroadcastShape(t *testing.T) {
	cases := []struct {
		a, b, want []int
		wantErr    bool
	}{
		{[]int{4}, []int{4}, []int{4}, false},
		{[]int{4}, []int{1}, []int{4}, false},
		{[]int{3, 1}, []int{1, 4}, []int{3, 4}, false},
		{[]int{4}, nil, []int{4}, false},
		{[]int{2, 3}, []int{3}, []int{2, 3}, false},
		{[]int{3}, []int{4}, nil, true},
	}
	for i, c := range cases {
		got, err := BroadcastShape(c.a, c.b)
		if c.wantErr {
			if err == nil {
				t.Errorf("case %d: expected error", i)
			} else if !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("case %d: error is not ErrShapeMismatch: %v", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !shapeEq(got, c.want) {
			t.Errorf("case %d: got %v want %v", i, got, c.want)
		}
	}
}

func TestBroadcastOffsets(t *testing.T) {
	// Operand [3,1] walked over result [3,4]: offset advances only per row.
	out := []int{3, 4}
	strides := BroadcastStrides([]int{3, 1}, out)
	offs := BroadcastOffsets(out, strides)
	want := []int{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2}
	for i, w := range want {
		if offs[i] != w {
			t.Fatalf("offset %d: got %d want %d", i, offs[i], w)
		}
	}
}

func TestReduceGrad(t *testing.T) {
	// Gradient with feature shape [2,3] reduced to operand shape [1,3]:
	// sums over the broadcast axis.
	g, err := NewDense([]int{1, 2, 3}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	r := ReduceGrad(g, 1, []int{1, 3})
	want := []float32{5, 7, 9}
	for i, w := range want {
		if r.Data()[i] != w {
			t.Fatalf("elem %d: got %f want %f", i, r.Data()[i], w)
		}
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	x := FromSlice([]float32{0, 1, -2.5, 65504})
	h := x.ToFloat16()
	if h.DType() != Float16 {
		t.Fatalf("dtype: got %s", h.DType())
	}
	back := h.Data()
	for i, v := range x.Data() {
		if math.Abs(float64(back[i]-v)) > 1e-3 {
			t.Errorf("elem %d: got %f want %f", i, back[i], v)
		}
	}
}

func TestIndexWidthNarrowing(t *testing.T) {
	x := IndexFromInts(0, 1, math.MaxInt32+1)
	if _, err := x.AsWidth(Width32); !errors.Is(err, ErrDtypeMismatch) {
		t.Fatalf("expected ErrDtypeMismatch, got %v", err)
	}
	y := IndexFromInts(0, 1, 2)
	n, err := y.AsWidth(Width32)
	if err != nil {
		t.Fatal(err)
	}
	if n.Width() != Width32 || &n.Data()[0] != &y.Data()[0] {
		t.Fatal("narrowed view must share the backing store")
	}
}

func TestDenseShapeValidation(t *testing.T) {
	if _, err := NewDense([]int{2, 3}, []float32{1}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
