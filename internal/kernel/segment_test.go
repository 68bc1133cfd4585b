package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func TestSegmentReduceSumWithEmptySegment(t *testing.T) {
	x := tensor.FromSlice([]float32{1, 2, 3, 4, 5})
	out, _, err := SegmentReduce(ReduceSum, x, []int64{0, 2, 2, 5})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 12}, out.Data())
}

func TestSegmentReduceMaxArgAndBackward(t *testing.T) {
	x, err := tensor.NewDense([]int{5, 2}, []float32{
		1, 9,
		4, 2,
		0, 0,
		7, 1,
		6, 8,
	})
	require.NoError(t, err)
	out, ctx, err := SegmentReduce(ReduceMax, x, []int64{0, 2, 2, 5})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 9}, out.Row(0))
	assert.True(t, math.IsInf(float64(out.Row(1)[0]), -1), "empty segment gets the sentinel")
	assert.Equal(t, []float32{7, 8}, out.Row(2))
	assert.Equal(t, []int64{1, 0}, ctx.Arg.Data()[0:2])
	assert.Equal(t, []int64{-1, -1}, ctx.Arg.Data()[2:4])
	assert.Equal(t, []int64{3, 4}, ctx.Arg.Data()[4:6])

	dout, err := tensor.NewDense([]int{3, 2}, []float32{1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	dx, err := SegmentReduceBackward(ctx, dout)
	require.NoError(t, err)
	want := []float32{
		0, 1,
		1, 0,
		0, 0,
		1, 0,
		0, 1,
	}
	assert.Equal(t, want, dx.Data())
}

func TestSegmentReduceSumBackwardBroadcasts(t *testing.T) {
	x := tensor.FromSlice([]float32{1, 2, 3})
	_, ctx, err := SegmentReduce(ReduceSum, x, []int64{0, 0, 3})
	require.NoError(t, err)
	dx, err := SegmentReduceBackward(ctx, tensor.FromSlice([]float32{9, 2}))
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2, 2}, dx.Data())
}

func TestSegmentReduceOffsetValidation(t *testing.T) {
	x := tensor.FromSlice([]float32{1, 2})
	_, _, err := SegmentReduce(ReduceSum, x, []int64{0, 3, 2})
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
	_, _, err = SegmentReduce(ReduceSum, x, []int64{0, 1})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}
