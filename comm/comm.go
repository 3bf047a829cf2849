// Package comm provides the collective communication primitives used to keep
// the ranks of a distributed catalog consistent: broadcast, all-gather and
// barrier. Every collective is a numbered round in which each rank contributes
// one payload and receives the payloads of all ranks.
package comm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Comm is a communicator over a fixed set of ranks. All ranks must call the
// same collectives in the same order.
type Comm interface {
	Rank() int // Rank returns the position of this process within the communicator
	Size() int // Size returns the number of ranks
	// Broadcast distributes root's data to every rank. data is ignored on non-root ranks.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)
	// AllGather returns the data contributed by every rank, in rank order
	AllGather(ctx context.Context, data []byte) ([][]byte, error)
	// Barrier blocks until every rank has reached it
	Barrier(ctx context.Context) error
}

// Contributor submits a rank's payload for a numbered round and returns the payloads of all ranks
type Contributor interface {
	Contribute(ctx context.Context, seq uint64, rank int, data []byte) ([][]byte, error)
}

// round collects the payloads of a single collective
type round struct {
	data      [][]byte
	arrived   int
	retrieved int
	done      chan struct{}
}

// Exchange is an in-memory Contributor shared by every rank of a group
type Exchange struct {
	size   int
	lock   sync.Mutex
	rounds map[uint64]*round
}

// NewExchange creates an Exchange for a group of the given size
func NewExchange(size int) *Exchange {
	return &Exchange{size: size, rounds: make(map[uint64]*round)}
}

// Size returns the number of ranks participating in this Exchange
func (e *Exchange) Size() int {
	return e.size
}

func (e *Exchange) getRound(seq uint64) *round {
	r, ok := e.rounds[seq]
	if !ok {
		r = &round{data: make([][]byte, e.size), done: make(chan struct{})}
		e.rounds[seq] = r
	}
	return r
}

// Contribute submits data for round seq, blocking until every rank has contributed
func (e *Exchange) Contribute(ctx context.Context, seq uint64, rank int, data []byte) ([][]byte, error) {
	if rank < 0 || rank >= e.size {
		return nil, fmt.Errorf("rank %d out of range for %d ranks", rank, e.size)
	}
	e.lock.Lock()
	r := e.getRound(seq)
	if r.data[rank] != nil {
		e.lock.Unlock()
		return nil, fmt.Errorf("rank %d contributed twice to round %d", rank, seq)
	}
	if data == nil {
		data = []byte{}
	}
	r.data[rank] = data
	r.arrived++
	if r.arrived == e.size {
		close(r.done)
	}
	e.lock.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	r.retrieved++
	if r.retrieved == e.size {
		delete(e.rounds, seq)
	}
	result := make([][]byte, e.size)
	copy(result, r.data)
	return result, nil
}

// Collective implements Comm for one rank on top of a Contributor
type Collective struct {
	rank int
	size int
	seq  uint64
	c    Contributor
}

// NewCollective creates the Comm of one rank within a group
func NewCollective(rank, size int, c Contributor) *Collective {
	return &Collective{rank: rank, size: size, c: c}
}

// Rank returns the position of this process within the communicator
func (c *Collective) Rank() int { return c.rank }

// Size returns the number of ranks
func (c *Collective) Size() int { return c.size }

func (c *Collective) next() uint64 {
	return atomic.AddUint64(&c.seq, 1)
}

// Broadcast distributes root's data to every rank
func (c *Collective) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if root < 0 || root >= c.size {
		return nil, fmt.Errorf("broadcast root %d out of range for %d ranks", root, c.size)
	}
	if c.rank != root {
		data = nil
	}
	all, err := c.c.Contribute(ctx, c.next(), c.rank, data)
	if err != nil {
		return nil, fmt.Errorf("broadcast from rank %d: %w", root, err)
	}
	return all[root], nil
}

// AllGather returns the data contributed by every rank, in rank order
func (c *Collective) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	all, err := c.c.Contribute(ctx, c.next(), c.rank, data)
	if err != nil {
		return nil, fmt.Errorf("allgather: %w", err)
	}
	return all, nil
}

// Barrier blocks until every rank has reached it
func (c *Collective) Barrier(ctx context.Context) error {
	if _, err := c.c.Contribute(ctx, c.next(), c.rank, nil); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}

// Self returns a communicator consisting of a single rank
func Self() Comm {
	return NewCollective(0, 1, NewExchange(1))
}

// NewLocalGroup creates n communicators which exchange data in memory, one per
// rank, for running several ranks as goroutines of one process
func NewLocalGroup(n int) []Comm {
	exchange := NewExchange(n)
	group := make([]Comm, n)
	for i := range group {
		group[i] = NewCollective(i, n, exchange)
	}
	return group
}
