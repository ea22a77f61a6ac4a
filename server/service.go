package server

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fastsync.v1.Coordinator"

// CoordinatorServer is implemented by the coordinating server.
type CoordinatorServer interface {
	// Hello reports the server's backend and segment. Clients treat a
	// mismatch as fatal.
	Hello(context.Context, *HelloRequest) (*HelloReply, error)
	// Create allocates a new object, or returns the existing object when
	// the name is already in use with the same kind.
	Create(context.Context, *CreateRequest) (*CreateReply, error)
	// Open resolves an existing named object.
	Open(context.Context, *OpenRequest) (*OpenReply, error)
	// GetDescriptor describes an object by handle.
	GetDescriptor(context.Context, *DescriptorRequest) (*DescriptorReply, error)
	// Close drops one server reference to the object.
	Close(context.Context, *CloseRequest) (*Empty, error)
	RegisterWait(context.Context, *RegisterWaitRequest) (*Empty, error)
	UnregisterWait(context.Context, *UnregisterWaitRequest) (*Empty, error)
	Wake(context.Context, *WakeRequest) (*Empty, error)
}

// ServiceDesc describes the Coordinator service, for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Hello", Handler: unaryHandler("Hello", CoordinatorServer.Hello)},
		{MethodName: "Create", Handler: unaryHandler("Create", CoordinatorServer.Create)},
		{MethodName: "Open", Handler: unaryHandler("Open", CoordinatorServer.Open)},
		{MethodName: "GetDescriptor", Handler: unaryHandler("GetDescriptor", CoordinatorServer.GetDescriptor)},
		{MethodName: "Close", Handler: unaryHandler("Close", CoordinatorServer.Close)},
		{MethodName: "RegisterWait", Handler: unaryHandler("RegisterWait", CoordinatorServer.RegisterWait)},
		{MethodName: "UnregisterWait", Handler: unaryHandler("UnregisterWait", CoordinatorServer.UnregisterWait)},
		{MethodName: "Wake", Handler: unaryHandler("Wake", CoordinatorServer.Wake)},
	},
	Metadata: "fastsync/v1/coordinator.proto",
}

// RegisterCoordinatorServer registers srv with s.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string { return "/" + ServiceName + "/" + method }

func unaryHandler[Req, Resp any](method string, call func(CoordinatorServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod(method)}
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			out, err := call(srv.(CoordinatorServer), ctx, in)
			return out, ToStatus(err)
		}
		info := *info
		info.Server = srv
		handler := func(ctx context.Context, req any) (any, error) {
			out, err := call(srv.(CoordinatorServer), ctx, req.(*Req))
			return out, ToStatus(err)
		}
		return interceptor(ctx, in, &info, handler)
	}
}
