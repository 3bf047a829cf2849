package comm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runGroup runs fn concurrently on every rank of a local group
func runGroup(t *testing.T, n int, fn func(c Comm) error) {
	group := NewLocalGroup(n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, c := range group {
		wg.Add(1)
		go func(i int, c Comm) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, c)
	}
	wg.Wait()
	for i, err := range errs {
		require.Nil(t, err, "rank %d", i)
	}
}

func TestBroadcast(t *testing.T) {
	runGroup(t, 4, func(c Comm) error {
		data := []byte(fmt.Sprintf("from %d", c.Rank()))
		out, err := c.Broadcast(context.Background(), 2, data)
		if err != nil {
			return err
		}
		if string(out) != "from 2" {
			return fmt.Errorf("rank %d received %q", c.Rank(), out)
		}
		return nil
	})
}

func TestAllGatherManyRounds(t *testing.T) {
	runGroup(t, 3, func(c Comm) error {
		for round := 0; round < 20; round++ {
			all, err := c.AllGather(context.Background(), []byte{byte(c.Rank()), byte(round)})
			if err != nil {
				return err
			}
			for r, p := range all {
				if p[0] != byte(r) || p[1] != byte(round) {
					return fmt.Errorf("round %d: rank %d delivered %v", round, r, p)
				}
			}
			if err := c.Barrier(context.Background()); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestReductions(t *testing.T) {
	runGroup(t, 4, func(c Comm) error {
		ctx := context.Background()
		total, err := SumInt64(ctx, c, int64(c.Rank()+1))
		if err != nil {
			return err
		}
		if total != 10 {
			return fmt.Errorf("sum was %d", total)
		}
		v, err := BroadcastInt64(ctx, c, 0, int64(100+c.Rank()))
		if err != nil {
			return err
		}
		if v != 100 {
			return fmt.Errorf("broadcast was %d", v)
		}
		sums, err := SumFloat64s(ctx, c, []float64{1, float64(c.Rank())})
		if err != nil {
			return err
		}
		if sums[0] != 4 || sums[1] != 6 {
			return fmt.Errorf("sums were %v", sums)
		}
		return nil
	})
}

func TestSelf(t *testing.T) {
	c := Self()
	require.Equal(t, 0, c.Rank())
	require.Equal(t, 1, c.Size())
	out, err := c.Broadcast(context.Background(), 0, []byte("x"))
	require.Nil(t, err)
	require.Equal(t, []byte("x"), out)
	_, err = c.Broadcast(context.Background(), 1, nil)
	require.NotNil(t, err)
}

func TestContributeTimeout(t *testing.T) {
	group := NewLocalGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// rank 1 never arrives
	err := group[0].Barrier(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExchangeRejectsDuplicates(t *testing.T) {
	e := NewExchange(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() { _, _ = e.Contribute(ctx, 1, 0, []byte("a")) }()
	require.Eventually(t, func() bool {
		e.lock.Lock()
		defer e.lock.Unlock()
		r, ok := e.rounds[1]
		return ok && r.arrived == 1
	}, time.Second, time.Millisecond)
	_, err := e.Contribute(context.Background(), 1, 0, []byte("b"))
	require.NotNil(t, err)
	_, err = e.Contribute(context.Background(), 1, 5, nil)
	require.NotNil(t, err)
}
