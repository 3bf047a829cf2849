package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangesTileGlobalRange(t *testing.T) {
	for _, globalSize := range []int64{0, 1, 3, 10, 99, 1000, 1001} {
		for numRanks := 1; numRanks <= 9; numRanks++ {
			ranges := Ranges(globalSize, numRanks)
			require.Len(t, ranges, numRanks)
			var expectedStart int64
			minLen, maxLen := globalSize, int64(0)
			for _, r := range ranges {
				require.Equal(t, expectedStart, r[0], "gap or overlap for size %d ranks %d", globalSize, numRanks)
				require.LessOrEqual(t, r[0], r[1])
				length := r[1] - r[0]
				if length < minLen {
					minLen = length
				}
				if length > maxLen {
					maxLen = length
				}
				expectedStart = r[1]
			}
			require.Equal(t, globalSize, expectedStart)
			require.LessOrEqual(t, maxLen-minLen, int64(1))
		}
	}
}

func TestRangeFloorDivision(t *testing.T) {
	start, stop := Range(10, 1, 4)
	require.Equal(t, int64(2), start)
	require.Equal(t, int64(5), stop)
	require.Equal(t, int64(3), Size(10, 1, 4))
}

func TestOwner(t *testing.T) {
	const globalSize = 103
	for numRanks := 1; numRanks <= 7; numRanks++ {
		for row := int64(0); row < globalSize; row++ {
			rank, err := Owner(row, globalSize, numRanks)
			require.NoError(t, err)
			start, stop := Range(globalSize, rank, numRanks)
			require.True(t, row >= start && row < stop)
		}
	}
	_, err := Owner(globalSize, globalSize, 3)
	require.Error(t, err)
}

func TestRangePanicsOnBadRank(t *testing.T) {
	require.Panics(t, func() { Range(10, 4, 4) })
	require.Panics(t, func() { Range(10, 0, 0) })
}
