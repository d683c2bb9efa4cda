package node

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"lamportsim/internal/message"
)

// InboxServer implements InboxService on top of a Node.
type InboxServer struct {
	node *Node
}

// NewInboxServer creates an inbox for n.
func NewInboxServer(n *Node) *InboxServer {
	return &InboxServer{node: n}
}

// Deliver decodes the payload and enqueues it on the node.
func (s *InboxServer) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	err := s.node.Receive(req.GetValue())
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.Is(err, message.ErrMalformed), errors.Is(err, ErrMisdirected):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrNodeStopped):
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}
}

// GRPCServer serves a node's inbox on a TCP listener.
type GRPCServer struct {
	node       *Node
	lis        net.Listener
	grpcServer *grpc.Server
}

// Listen binds addr and prepares a gRPC server for n.
func Listen(n *Node, addr string) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &GRPCServer{
		node:       n,
		lis:        lis,
		grpcServer: grpc.NewServer(),
	}
	RegisterInboxServer(s.grpcServer, NewInboxServer(n))
	return s, nil
}

// Addr returns the bound address.
func (s *GRPCServer) Addr() string {
	return s.lis.Addr().String()
}

// Serve blocks until Stop is called.
func (s *GRPCServer) Serve() error {
	s.node.logger.Info("serving inbox", "addr", s.Addr())
	if err := s.grpcServer.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server. It also releases the listener when
// Serve was never called.
func (s *GRPCServer) Stop() {
	s.grpcServer.GracefulStop()
	_ = s.lis.Close()
}
