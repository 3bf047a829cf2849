package array

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowsMap(t *testing.T) {
	outer := RowRange(10, 20).Map(RowRange(2, 5))
	require.True(t, outer.IsRange())
	require.Equal(t, []int{12, 13, 14}, outer.Indices())

	mapped := RowIndex([]int{5, 3, 9}).Map(RowIndex([]int{2, 2, 0}))
	require.False(t, mapped.IsRange())
	require.Equal(t, []int{9, 9, 5}, mapped.Indices())

	require.Equal(t, []int{11, 14}, RowRange(10, 20).Map(RowIndex([]int{1, 4})).Indices())
}

func TestRowsRuns(t *testing.T) {
	require.Nil(t, RowRange(3, 3).Runs())
	require.Equal(t, [][2]int{{3, 7}}, RowRange(3, 7).Runs())
	require.Equal(t, [][2]int{{1, 4}, {8, 9}}, RowIndex([]int{8, 3, 1, 2, 2}).Runs())
}

func TestRowsValidateAndBounds(t *testing.T) {
	require.Nil(t, RowIndex([]int{0, 4}).Validate(5))
	require.NotNil(t, RowIndex([]int{-1}).Validate(5))
	require.NotNil(t, RowRange(0, 6).Validate(5))
	require.Nil(t, RowIndex(nil).Validate(0))
	lo, hi := RowIndex([]int{4, 1, 7}).Bounds()
	require.Equal(t, 1, lo)
	require.Equal(t, 8, hi)
}

func TestRowsHash(t *testing.T) {
	require.Equal(t, RowRange(0, 10).Hash(), RowRange(0, 10).Hash())
	require.NotEqual(t, RowRange(0, 10).Hash(), RowRange(0, 11).Hash())
	require.NotEqual(t, RowRange(0, 2).Hash(), RowIndex([]int{0, 1}).Hash())
}

func TestBufferEncoding(t *testing.T) {
	buf, err := BufferOf(Int64, 2, []float64{1, 2, 3, 4})
	require.Nil(t, err)
	data, err := buf.MarshalBinary()
	require.Nil(t, err)
	decoded := &Buffer{}
	require.Nil(t, decoded.UnmarshalBinary(data))
	require.True(t, buf.Equal(decoded))
	require.Equal(t, Int64, decoded.DType())
	require.NotNil(t, decoded.UnmarshalBinary(data[:len(data)-1]))

	_, err = BufferOf(Float64, 3, []float64{1, 2})
	require.NotNil(t, err)
}

func TestBufferString(t *testing.T) {
	buf, err := BufferOf(Int64, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7})
	require.Nil(t, err)
	require.Equal(t, "int64[8 x 1](0, 1, 2, ... 2 more, 5, 6, 7)", buf.String())
}
