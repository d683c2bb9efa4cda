package node

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// InboxServiceName is the fully qualified gRPC service name.
	InboxServiceName = "lamportsim.Inbox"

	deliverMethod = "/" + InboxServiceName + "/Deliver"
)

// InboxService accepts encoded messages from peers. The request carries the
// protobuf encoding of a message.Message; the reply is an acknowledgement of
// receipt only.
type InboxService interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func inboxDeliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InboxService).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InboxService).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// InboxServiceDesc describes the Inbox service for grpc.Server registration.
var InboxServiceDesc = grpc.ServiceDesc{
	ServiceName: InboxServiceName,
	HandlerType: (*InboxService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    inboxDeliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lamportsim/inbox.proto",
}

// RegisterInboxServer registers srv on s.
func RegisterInboxServer(s grpc.ServiceRegistrar, srv InboxService) {
	s.RegisterService(&InboxServiceDesc, srv)
}
