package cluster

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-sif/catalog/comm"
	"google.golang.org/grpc"
)

// coordinator is rank 0: it hosts the exchange service and contributes to it directly
type coordinator struct {
	*comm.Collective
	opts          *NodeOptions
	server        *grpc.Server
	listener      net.Listener
	clusterServer *clusterServer
	lifecycleLock sync.Mutex
	serveErr      chan error
}

func createCoordinator(opts *NodeOptions) (*coordinator, error) {
	// default certain options if not supplied
	if err := ensureDefaultNodeOptionsValues(opts); err != nil {
		return nil, err
	}
	exchange := comm.NewExchange(opts.NumRanks)
	res := &coordinator{
		Collective:    comm.NewCollective(0, opts.NumRanks, exchange),
		opts:          opts,
		clusterServer: createClusterServer(exchange, opts.Logger),
		serveErr:      make(chan error, 1),
	}
	lis, err := net.Listen("tcp", opts.connectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	res.listener = lis
	res.server = grpc.NewServer()
	res.server.RegisterService(&clusterServiceDesc, res.clusterServer)
	opts.Logger.Info().Str("address", lis.Addr().String()).Int("ranks", opts.NumRanks).Msg("starting coordinator")
	go func() {
		res.serveErr <- res.server.Serve(lis)
	}()
	return res, nil
}

// Addr returns the address the coordinator is serving on
func (c *coordinator) Addr() net.Addr {
	return c.listener.Addr()
}

// IsCoordinator returns true for coordinators
func (c *coordinator) IsCoordinator() bool {
	return true
}

// WaitForWorkers blocks until every worker rank has joined
func (c *coordinator) WaitForWorkers(ctx context.Context) error {
	for c.clusterServer.NumberOfWorkers() < c.opts.NumRanks-1 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d workers: %w", c.opts.NumRanks-1, ctx.Err())
		case err := <-c.serveErr:
			return fmt.Errorf("coordinator stopped serving: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// GracefulStop the coordinator, waiting for in-flight rounds to finish
func (c *coordinator) GracefulStop() error {
	c.lifecycleLock.Lock()
	defer c.lifecycleLock.Unlock()
	if c.server != nil {
		c.server.GracefulStop()
		c.server = nil
	}
	return nil
}

// Stop the coordinator immediately
func (c *coordinator) Stop() error {
	c.lifecycleLock.Lock()
	defer c.lifecycleLock.Unlock()
	if c.server != nil {
		c.server.Stop()
		c.server = nil
	}
	return nil
}
