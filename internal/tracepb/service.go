package tracepb

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "walktrace.WalkTrace"

// WalkTraceServer is the server side of the walk-trace service.
type WalkTraceServer interface {
	// Capture walks the image in the request and returns the capture.
	Capture(ctx context.Context, req *CaptureRequest) (*CaptureResponse, error)
	// Recent returns the newest retained captures, newest first.
	Recent(ctx context.Context, req *RecentRequest) (*RecentResponse, error)
}

// RegisterWalkTraceServer registers srv on s.
func RegisterWalkTraceServer(s grpc.ServiceRegistrar, srv WalkTraceServer) {
	s.RegisterService(&walkTraceServiceDesc, srv)
}

var walkTraceServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WalkTraceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Capture",
			Handler:    captureHandler,
		},
		{
			MethodName: "Recent",
			Handler:    recentHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "walktrace",
}

func captureHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(CaptureRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WalkTraceServer).Capture(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/Capture",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WalkTraceServer).Capture(ctx, req.(*CaptureRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func recentHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(RecentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WalkTraceServer).Recent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/Recent",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WalkTraceServer).Recent(ctx, req.(*RecentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// WalkTraceClient is the client side of the walk-trace service.
type WalkTraceClient interface {
	Capture(ctx context.Context, req *CaptureRequest, opts ...grpc.CallOption) (*CaptureResponse, error)
	Recent(ctx context.Context, req *RecentRequest, opts ...grpc.CallOption) (*RecentResponse, error)
}

type walkTraceClient struct {
	cc grpc.ClientConnInterface
}

// NewWalkTraceClient wraps cc. Calls negotiate the hand-maintained codec
// via the content subtype.
func NewWalkTraceClient(cc grpc.ClientConnInterface) WalkTraceClient {
	return &walkTraceClient{cc: cc}
}

func (c *walkTraceClient) Capture(
	ctx context.Context,
	req *CaptureRequest,
	opts ...grpc.CallOption,
) (*CaptureResponse, error) {
	out := new(CaptureResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Capture", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *walkTraceClient) Recent(
	ctx context.Context,
	req *RecentRequest,
	opts ...grpc.CallOption,
) (*RecentResponse, error) {
	out := new(RecentResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Recent", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
