package comm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// SumInt64 adds an integer across all ranks
func SumInt64(ctx context.Context, c Comm, v int64) (int64, error) {
	all, err := GatherInt64(ctx, c, v)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, x := range all {
		total += x
	}
	return total, nil
}

// GatherInt64 collects one integer from every rank, in rank order
func GatherInt64(ctx context.Context, c Comm, v int64) ([]int64, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	parts, err := c.AllGather(ctx, buf)
	if err != nil {
		return nil, err
	}
	result := make([]int64, len(parts))
	for i, p := range parts {
		if len(p) != 8 {
			return nil, fmt.Errorf("rank %d contributed %d bytes, expected 8", i, len(p))
		}
		result[i] = int64(binary.LittleEndian.Uint64(p))
	}
	return result, nil
}

// BroadcastInt64 distributes root's integer to every rank
func BroadcastInt64(ctx context.Context, c Comm, root int, v int64) (int64, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	out, err := c.Broadcast(ctx, root, buf)
	if err != nil {
		return 0, err
	}
	if len(out) != 8 {
		return 0, fmt.Errorf("broadcast delivered %d bytes, expected 8", len(out))
	}
	return int64(binary.LittleEndian.Uint64(out)), nil
}

// SumFloat64s adds equal-length vectors element-wise across all ranks
func SumFloat64s(ctx context.Context, c Comm, values []float64) ([]float64, error) {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	parts, err := c.AllGather(ctx, buf)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(values))
	for rank, p := range parts {
		if len(p) != len(buf) {
			return nil, fmt.Errorf("rank %d contributed %d values, expected %d", rank, len(p)/8, len(values))
		}
		for i := range result {
			result[i] += math.Float64frombits(binary.LittleEndian.Uint64(p[8*i:]))
		}
	}
	return result, nil
}
