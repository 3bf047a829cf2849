// Package cluster connects the ranks of a distributed catalog running as
// separate processes. Rank 0 acts as the coordinator: it hosts a gRPC exchange
// service through which every collective round is routed. All other ranks are
// workers which dial the coordinator.
package cluster

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sif/catalog/comm"
	"github.com/go-sif/catalog/logging"
	"github.com/rs/zerolog"
)

// NodeRole describes the intended role of a Node
type NodeRole = string

const (
	// Coordinator indicates that a node hosts the exchange service (always rank 0)
	Coordinator NodeRole = "coordinator"
	// Worker indicates that a node connects to the coordinator
	Worker NodeRole = "worker"
)

// Node is a member of a catalog cluster. Nodes are communicators, and present
// methods to control their lifecycle.
type Node interface {
	comm.Comm
	IsCoordinator() bool
	// WaitForWorkers blocks until every rank has joined the cluster
	WaitForWorkers(ctx context.Context) error
	GracefulStop() error
	Stop() error
}

// NodeOptions are options for a Node, configuring elements of a catalog cluster
type NodeOptions struct {
	Rank            int            `validate:"gte=0,ltfield=NumRanks"` // the rank of this Node; rank 0 is the coordinator
	NumRanks        int            `validate:"gte=1"`                  // [REQUIRED] the number of ranks in the cluster
	Host            string         // hostname for the coordinator to bind to
	Port            int            `validate:"gte=0,lte=65535"` // port for the coordinator to bind to (defaults to CoordinatorPort)
	CoordinatorHost string         // hostname of the coordinator, dialed by workers
	CoordinatorPort int            `validate:"gte=0,lte=65535"` // port of the coordinator, dialed by workers
	JoinTimeout     time.Duration  // how long a worker should keep retrying to join the coordinator
	RPCTimeout      time.Duration  // timeout for joining RPCs
	Logger          zerolog.Logger // logger for cluster lifecycle events
}

// CloneNodeOptions makes a copy of a NodeOptions
func CloneNodeOptions(opts *NodeOptions) *NodeOptions {
	clone := *opts
	return &clone
}

func ensureDefaultNodeOptionsValues(opts *NodeOptions) error {
	if len(opts.Host) == 0 {
		opts.Host = "0.0.0.0"
	}
	if len(opts.CoordinatorHost) == 0 {
		opts.CoordinatorHost = "127.0.0.1"
	}
	if opts.CoordinatorPort == 0 {
		opts.CoordinatorPort = 1643
	}
	if opts.Port == 0 {
		opts.Port = opts.CoordinatorPort
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = 30 * time.Second
	}
	if opts.RPCTimeout == 0 {
		opts.RPCTimeout = 5 * time.Second
	}
	if err := validator.New().Struct(opts); err != nil {
		return fmt.Errorf("invalid NodeOptions: %w", err)
	}
	opts.Logger = logging.ForRank(opts.Logger, opts.Rank, opts.NumRanks)
	return nil
}

// connectionString returns the address the coordinator binds to
func (o *NodeOptions) connectionString() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// coordinatorConnectionString returns the address workers dial
func (o *NodeOptions) coordinatorConnectionString() string {
	return fmt.Sprintf("%s:%d", o.CoordinatorHost, o.CoordinatorPort)
}

// CreateNodeInRole creates a Node in a specific role. Coordinators must be rank 0,
// and workers must not be.
func CreateNodeInRole(ctx context.Context, role NodeRole, opts *NodeOptions) (Node, error) {
	switch role {
	case Coordinator:
		if opts.Rank != 0 {
			return nil, fmt.Errorf("coordinator must be rank 0, not rank %d", opts.Rank)
		}
		return createCoordinator(opts)
	case Worker:
		if opts.Rank == 0 {
			return nil, fmt.Errorf("rank 0 is always the coordinator")
		}
		return createWorker(ctx, opts)
	default:
		return nil, fmt.Errorf("%s is an unknown NodeRole", role)
	}
}

// CreateNode creates a Node, deriving rank and size from the environment
// variables CATALOG_RANK and CATALOG_NUM_RANKS when they are set, and the role
// from the rank
func CreateNode(ctx context.Context, opts *NodeOptions) (Node, error) {
	if v := os.Getenv("CATALOG_RANK"); len(v) > 0 {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("$CATALOG_RANK=%q is not an integer", v)
		}
		opts.Rank = rank
	}
	if v := os.Getenv("CATALOG_NUM_RANKS"); len(v) > 0 {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("$CATALOG_NUM_RANKS=%q is not an integer", v)
		}
		opts.NumRanks = size
	}
	if opts.Rank == 0 {
		return CreateNodeInRole(ctx, Coordinator, opts)
	}
	return CreateNodeInRole(ctx, Worker, opts)
}
