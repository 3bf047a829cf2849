package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/go-sif/catalog/comm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// worker is a rank > 0, contributing to the coordinator's exchange over gRPC
type worker struct {
	*comm.Collective
	opts          *NodeOptions
	conn          *grpc.ClientConn
	lifecycleLock sync.Mutex
}

func createWorker(ctx context.Context, opts *NodeOptions) (*worker, error) {
	// default certain options if not supplied
	if err := ensureDefaultNodeOptionsValues(opts); err != nil {
		return nil, err
	}
	conn, err := grpc.Dial(opts.coordinatorConnectionString(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("fail to dial: %v", err)
	}
	w := &worker{opts: opts, conn: conn}
	if err := w.register(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	w.Collective = comm.NewCollective(opts.Rank, opts.NumRanks, &exchangeClient{conn: conn, size: opts.NumRanks})
	return w, nil
}

// register joins the coordinator, retrying with exponential backoff until JoinTimeout elapses
func (w *worker) register(ctx context.Context) error {
	joinCtx, cancel := context.WithTimeout(ctx, w.opts.JoinTimeout)
	defer cancel()
	attempt := 0
	join := func() error {
		attempt++
		rpcCtx, rpcCancel := context.WithTimeout(joinCtx, w.opts.RPCTimeout)
		defer rpcCancel()
		res := new(wrapperspb.Int32Value)
		err := w.conn.Invoke(rpcCtx, joinMethod, wrapperspb.Int32(int32(w.opts.Rank)), res)
		if err != nil {
			switch status.Code(err) {
			case codes.InvalidArgument, codes.AlreadyExists:
				return backoff.Permanent(err)
			}
			w.opts.Logger.Debug().Err(err).Int("attempt", attempt).Msg("coordinator not reachable yet")
			return err
		}
		if int(res.GetValue()) != w.opts.NumRanks {
			return backoff.Permanent(fmt.Errorf("coordinator expects %d ranks, this worker was configured for %d", res.GetValue(), w.opts.NumRanks))
		}
		return nil
	}
	if err := backoff.Retry(join, backoff.WithContext(backoff.NewExponentialBackOff(), joinCtx)); err != nil {
		return fmt.Errorf("unable to join coordinator at %s: %w", w.opts.coordinatorConnectionString(), err)
	}
	w.opts.Logger.Info().Str("coordinator", w.opts.coordinatorConnectionString()).Msg("joined cluster")
	return nil
}

// IsCoordinator returns true for coordinators
func (w *worker) IsCoordinator() bool {
	return false
}

// WaitForWorkers returns immediately for workers, which have joined by the time they are created
func (w *worker) WaitForWorkers(ctx context.Context) error {
	return nil
}

// GracefulStop the worker, closing its connection to the coordinator
func (w *worker) GracefulStop() error {
	return w.Stop()
}

// Stop the worker immediately
func (w *worker) Stop() error {
	w.lifecycleLock.Lock()
	defer w.lifecycleLock.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
