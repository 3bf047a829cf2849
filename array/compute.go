package array

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/pkg/locker"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"
)

// DefaultChunkSize is the number of rows evaluated per task when none is configured
const DefaultChunkSize = 1 << 16

// DefaultConcurrency is the number of chunks evaluated simultaneously when none is configured
const DefaultConcurrency = 4

// Observer receives notifications about the progress of a computation
type Observer interface {
	RowsFetched(n int)                        // RowsFetched is called whenever a source leaf reads n rows
	RowsGenerated(n int)                      // RowsGenerated is called whenever a procedural leaf produces n rows
	ChunkComputed(d time.Duration, err error) // ChunkComputed is called after every chunk
}

type nopObserver struct{}

func (nopObserver) RowsFetched(int)                    {}
func (nopObserver) RowsGenerated(int)                  {}
func (nopObserver) ChunkComputed(time.Duration, error) {}

// ComputeOptions configures a computation
type ComputeOptions struct {
	ChunkSize   int      // ChunkSize is the number of rows per task
	Concurrency int      // Concurrency bounds the number of tasks evaluated simultaneously
	Observer    Observer // Observer, if non-nil, is notified of progress
}

func ensureDefaultComputeOptions(opts *ComputeOptions) *ComputeOptions {
	result := ComputeOptions{}
	if opts != nil {
		result = *opts
	}
	if result.ChunkSize <= 0 {
		result.ChunkSize = DefaultChunkSize
	}
	if result.Concurrency <= 0 {
		result.Concurrency = DefaultConcurrency
	}
	if result.Observer == nil {
		result.Observer = nopObserver{}
	}
	return &result
}

// evaluator carries the state of a single computation
type evaluator struct {
	observer Observer
	memoLock sync.Mutex
	memo     map[string]*Buffer
	locks    *locker.Locker
}

func newEvaluator(opts *ComputeOptions) *evaluator {
	return &evaluator{
		observer: opts.Observer,
		memo:     make(map[string]*Buffer),
		locks:    locker.New(),
	}
}

func (ev *evaluator) eval(ctx context.Context, a Array, rows Rows) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.eval(ctx, ev, rows)
}

// memoized computes the full output of a non-distributive node at most once per computation
func (ev *evaluator) memoized(ctx context.Context, id string, compute func() (*Buffer, error)) (*Buffer, error) {
	ev.locks.Lock(id)
	defer ev.locks.Unlock(id)
	ev.memoLock.Lock()
	buf, ok := ev.memo[id]
	ev.memoLock.Unlock()
	if ok {
		return buf, nil
	}
	buf, err := compute()
	if err != nil {
		return nil, err
	}
	ev.memoLock.Lock()
	ev.memo[id] = buf
	ev.memoLock.Unlock()
	return buf, nil
}

func (ev *evaluator) observeFetch(n int)     { ev.observer.RowsFetched(n) }
func (ev *evaluator) observeGenerated(n int) { ev.observer.RowsGenerated(n) }

// Compute materializes every row of an Array
func Compute(ctx context.Context, a Array, opts *ComputeOptions) (*Buffer, error) {
	results, err := ComputeAll(ctx, []Array{a}, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ComputeRows materializes the given rows of an Array
func ComputeRows(ctx context.Context, a Array, rows Rows, opts *ComputeOptions) (*Buffer, error) {
	if err := rows.Validate(a.Len()); err != nil {
		return nil, err
	}
	return Compute(ctx, Select(a, rows), opts)
}

// ComputeAll materializes several Arrays in one computation, such that shared
// non-distributive intermediates are only evaluated once. Rows are evaluated in
// chunks of ChunkSize, at most Concurrency at a time. Errors from all failed
// chunks are aggregated into a *multierror.Error.
func ComputeAll(ctx context.Context, arrays []Array, opts *ComputeOptions) ([]*Buffer, error) {
	opts = ensureDefaultComputeOptions(opts)
	ev := newEvaluator(opts)
	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	chunks := make([][]*Buffer, len(arrays))
	var wg sync.WaitGroup
	var errLock sync.Mutex
	var multierr *multierror.Error
	appendErr := func(err error) {
		errLock.Lock()
		defer errLock.Unlock()
		multierr = multierror.Append(multierr, err)
	}
	for i, a := range arrays {
		n := (a.Len() + opts.ChunkSize - 1) / opts.ChunkSize
		chunks[i] = make([]*Buffer, n)
		for c := 0; c < n; c++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				appendErr(err)
				break
			}
			wg.Add(1)
			go func(i, c int, a Array) {
				defer wg.Done()
				defer sem.Release(1)
				start := c * opts.ChunkSize
				stop := start + opts.ChunkSize
				if stop > a.Len() {
					stop = a.Len()
				}
				began := time.Now()
				buf, err := ev.eval(ctx, a, RowRange(start, stop))
				opts.Observer.ChunkComputed(time.Since(began), err)
				if err != nil {
					appendErr(err)
					return
				}
				chunks[i][c] = buf
			}(i, c, a)
		}
	}
	wg.Wait()
	if err := multierr.ErrorOrNil(); err != nil {
		return nil, err
	}
	results := make([]*Buffer, len(arrays))
	for i, a := range arrays {
		if len(chunks[i]) == 0 {
			results[i] = NewBuffer(a.DType(), a.Width(), 0)
			continue
		}
		buf, err := Concatenate(chunks[i]...)
		if err != nil {
			return nil, err
		}
		buf.dtype = a.DType()
		results[i] = buf
	}
	return results, nil
}

// Explain renders the expression tree of an Array, one node per line
func Explain(a Array) string {
	var res strings.Builder
	explain(&res, a, 0)
	return res.String()
}

func explain(res *strings.Builder, a Array, depth int) {
	fmt.Fprintf(res, "%s%s len=%d width=%d dtype=%s", strings.Repeat("  ", depth), a.Name(), a.Len(), a.Width(), a.DType())
	if s, ok := a.(*selectArray); ok {
		fmt.Fprintf(res, " rows=%s", s.rows)
	}
	if !a.Distributive() {
		fmt.Fprint(res, " (window)")
	}
	fmt.Fprintln(res)
	for _, in := range a.Inputs() {
		explain(res, in, depth+1)
	}
}

// Walk visits every node of an expression tree depth-first, stopping early if fn returns false
func Walk(a Array, fn func(Array) bool) {
	if !fn(a) {
		return
	}
	for _, in := range a.Inputs() {
		Walk(in, fn)
	}
}
