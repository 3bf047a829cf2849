package cluster

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-sif/catalog/comm"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName    = "catalog.cluster.ClusterService"
	joinMethod     = "/" + serviceName + "/Join"
	exchangeMethod = "/" + serviceName + "/Exchange"
	rankHeader     = "catalog-rank"
	seqHeader      = "catalog-seq"
)

// clusterService is implemented by the coordinator
type clusterService interface {
	// Join registers a worker rank, returning the number of ranks
	Join(ctx context.Context, req *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error)
	// Exchange contributes a payload to a collective round, streaming back the payloads of every rank
	Exchange(req *wrapperspb.BytesValue, stream grpc.ServerStream) error
}

func joinHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(clusterService).Join(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: joinMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(clusterService).Join(ctx, req.(*wrapperspb.Int32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(clusterService).Exchange(in, stream)
}

var clusterServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*clusterService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: joinHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Exchange", Handler: exchangeHandler, ServerStreams: true},
	},
	Metadata: "catalog/cluster.proto",
}

type clusterServer struct {
	exchange *comm.Exchange
	logger   zerolog.Logger
	lock     sync.Mutex
	joined   map[int32]bool
}

// createClusterServer creates a new cluster server routing rounds through an Exchange
func createClusterServer(exchange *comm.Exchange, logger zerolog.Logger) *clusterServer {
	return &clusterServer{exchange: exchange, logger: logger, joined: make(map[int32]bool)}
}

// Join registers new workers with the cluster
func (s *clusterServer) Join(ctx context.Context, req *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error) {
	rank := req.GetValue()
	if rank <= 0 || int(rank) >= s.exchange.Size() {
		return nil, status.Errorf(codes.InvalidArgument, "rank %d out of range for %d ranks", rank, s.exchange.Size())
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.joined[rank] {
		return nil, status.Errorf(codes.AlreadyExists, "rank %d is already registered", rank)
	}
	s.joined[rank] = true
	s.logger.Info().Int32("worker", rank).Int("joined", len(s.joined)).Msg("registered worker")
	return wrapperspb.Int32(int32(s.exchange.Size())), nil
}

// NumberOfWorkers returns the current worker count
func (s *clusterServer) NumberOfWorkers() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.joined)
}

// Exchange routes one rank's contribution to a collective round
func (s *clusterServer) Exchange(req *wrapperspb.BytesValue, stream grpc.ServerStream) error {
	md, ok := metadata.FromIncomingContext(stream.Context())
	if !ok {
		return status.Error(codes.InvalidArgument, "missing exchange metadata")
	}
	rank, err := headerInt(md, rankHeader)
	if err != nil {
		return err
	}
	seq, err := headerInt(md, seqHeader)
	if err != nil {
		return err
	}
	all, err := s.exchange.Contribute(stream.Context(), uint64(seq), int(rank), req.GetValue())
	if err != nil {
		return status.Error(codes.Aborted, err.Error())
	}
	for _, data := range all {
		if err := stream.SendMsg(wrapperspb.Bytes(data)); err != nil {
			return err
		}
	}
	return nil
}

func headerInt(md metadata.MD, key string) (int64, error) {
	values := md.Get(key)
	if len(values) != 1 {
		return 0, status.Errorf(codes.InvalidArgument, "expected one %s header, got %d", key, len(values))
	}
	v, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "malformed %s header: %v", key, err)
	}
	return v, nil
}

// exchangeClient contributes to the coordinator's Exchange over a gRPC connection
type exchangeClient struct {
	conn *grpc.ClientConn
	size int
}

// Contribute submits data for round seq, streaming back the payloads of all ranks
func (c *exchangeClient) Contribute(ctx context.Context, seq uint64, rank int, data []byte) ([][]byte, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		rankHeader, strconv.Itoa(rank),
		seqHeader, strconv.FormatUint(seq, 10),
	)
	stream, err := c.conn.NewStream(ctx, &clusterServiceDesc.Streams[0], exchangeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.Bytes(data)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	result := make([][]byte, 0, c.size)
	for i := 0; i < c.size; i++ {
		msg := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(msg); err != nil {
			return nil, fmt.Errorf("receiving payload of rank %d: %w", i, err)
		}
		result = append(result, msg.GetValue())
	}
	return result, nil
}
