// Package testing provides helpers for running code on several cooperating
// ranks inside a single test process.
package testing

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-sif/catalog/cluster"
	"github.com/go-sif/catalog/comm"
	"github.com/go-sif/catalog/internal/util"
	"github.com/hashicorp/go-multierror"
)

// RankFunc is a test body executed once per rank
type RankFunc func(c comm.Comm) error

// runAll executes fn once per communicator, concurrently, recovering panics into errors
func runAll(comms []comm.Comm, fn RankFunc) error {
	var lock sync.Mutex
	var errs *multierror.Error
	var wg sync.WaitGroup
	for _, c := range comms {
		wg.Add(1)
		go func(c comm.Comm) {
			defer wg.Done()
			err := func() (err error) {
				// handle panics
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("rank %d panicked: %v\n%s", c.Rank(), r, util.GetTrace())
					}
				}()
				return fn(c)
			}()
			if err != nil {
				lock.Lock()
				errs = multierror.Append(errs, fmt.Errorf("rank %d: %w", c.Rank(), err))
				lock.Unlock()
			}
		}(c)
	}
	wg.Wait()
	if errs != nil {
		errs.ErrorFormat = util.FormatMultiError
	}
	return errs.ErrorOrNil()
}

// RunLocal runs fn on numRanks in-process ranks, returning the errors of every rank combined
func RunLocal(numRanks int, fn RankFunc) error {
	return runAll(comm.NewLocalGroup(numRanks), fn)
}

// RunRanks runs fn on every rank count in ranks, failing t if any rank fails
func RunRanks(t *testing.T, ranks []int, fn RankFunc) {
	t.Helper()
	for _, n := range ranks {
		t.Run(fmt.Sprintf("ranks=%d", n), func(t *testing.T) {
			if err := RunLocal(n, fn); err != nil {
				t.Fatal(err)
			}
		})
	}
}

// LocalRunCluster starts a coordinator and numRanks-1 workers on localhost and runs fn on all of them
func LocalRunCluster(ctx context.Context, numRanks int, fn RankFunc) error {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	opts := &cluster.NodeOptions{
		NumRanks:        numRanks,
		Host:            "127.0.0.1",
		Port:            port,
		CoordinatorHost: "127.0.0.1",
		CoordinatorPort: port,
		JoinTimeout:     5 * time.Second,
		RPCTimeout:      5 * time.Second,
	}
	coordinator, err := cluster.CreateNodeInRole(ctx, cluster.Coordinator, opts)
	if err != nil {
		return err
	}
	defer coordinator.GracefulStop()

	nodes := make([]cluster.Node, numRanks)
	nodes[0] = coordinator
	var errs *multierror.Error
	for rank := 1; rank < numRanks; rank++ {
		wopts := cluster.CloneNodeOptions(opts)
		wopts.Rank = rank
		worker, err := cluster.CreateNodeInRole(ctx, cluster.Worker, wopts)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		defer worker.GracefulStop()
		nodes[rank] = worker
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	if err := coordinator.WaitForWorkers(ctx); err != nil {
		return err
	}
	comms := make([]comm.Comm, numRanks)
	for i, n := range nodes {
		comms[i] = n
	}
	return runAll(comms, fn)
}
