// Package partition divides a global row range among cooperating ranks.
// Every rank computes the same boundaries independently, so no communication
// is needed to agree on them.
package partition

import "fmt"

// Range returns the contiguous [start, stop) row range owned by rank when globalSize
// rows are split across numRanks ranks. Ranges are ordered by rank, tile
// [0, globalSize) exactly, and differ in length by at most one row.
func Range(globalSize int64, rank int, numRanks int) (start int64, stop int64) {
	if numRanks <= 0 {
		panic(fmt.Errorf("number of ranks must be positive, got %d", numRanks))
	}
	if rank < 0 || rank >= numRanks {
		panic(fmt.Errorf("rank %d is outside [0, %d)", rank, numRanks))
	}
	start = int64(rank) * globalSize / int64(numRanks)
	stop = int64(rank+1) * globalSize / int64(numRanks)
	return
}

// Size returns the number of rows owned by rank
func Size(globalSize int64, rank int, numRanks int) int64 {
	start, stop := Range(globalSize, rank, numRanks)
	return stop - start
}

// Ranges returns the [start, stop) pairs of every rank, in rank order
func Ranges(globalSize int64, numRanks int) [][2]int64 {
	result := make([][2]int64, numRanks)
	for rank := 0; rank < numRanks; rank++ {
		start, stop := Range(globalSize, rank, numRanks)
		result[rank] = [2]int64{start, stop}
	}
	return result
}

// Owner returns the rank which owns a particular global row
func Owner(row int64, globalSize int64, numRanks int) (int, error) {
	if row < 0 || row >= globalSize {
		return -1, fmt.Errorf("row %d is outside [0, %d)", row, globalSize)
	}
	// the floor-division boundaries put row r on a rank near r*numRanks/globalSize;
	// step to the exact owner from there
	rank := int(row * int64(numRanks) / globalSize)
	for {
		start, stop := Range(globalSize, rank, numRanks)
		switch {
		case row < start:
			rank--
		case row >= stop:
			rank++
		default:
			return rank, nil
		}
	}
}
