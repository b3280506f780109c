package wsman

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName = "wsman.WorkspaceManager"

	methodGetWorkspaces   = "/" + serviceName + "/GetWorkspaces"
	methodSubscribe       = "/" + serviceName + "/Subscribe"
	methodDescribeCluster = "/" + serviceName + "/DescribeCluster"
)

// WorkspaceManagerClient is the raw RPC client of a workspace cluster.
type WorkspaceManagerClient interface {
	GetWorkspaces(ctx context.Context, in *GetWorkspacesRequest, opts ...grpc.CallOption) (*GetWorkspacesResponse, error)
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (WorkspaceManager_SubscribeClient, error)
	DescribeCluster(ctx context.Context, in *DescribeClusterRequest, opts ...grpc.CallOption) (*DescribeClusterResponse, error)
}

type WorkspaceManager_SubscribeClient interface {
	Recv() (*SubscribeResponse, error)
	grpc.ClientStream
}

type workspaceManagerClient struct {
	cc grpc.ClientConnInterface
}

func NewWorkspaceManagerClient(cc grpc.ClientConnInterface) WorkspaceManagerClient {
	return &workspaceManagerClient{cc: cc}
}

func (c *workspaceManagerClient) GetWorkspaces(ctx context.Context, in *GetWorkspacesRequest, opts ...grpc.CallOption) (*GetWorkspacesResponse, error) {
	out := new(GetWorkspacesResponse)
	if err := c.cc.Invoke(ctx, methodGetWorkspaces, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workspaceManagerClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (WorkspaceManager_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &WorkspaceManager_ServiceDesc.Streams[0], methodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &workspaceManagerSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type workspaceManagerSubscribeClient struct {
	grpc.ClientStream
}

func (x *workspaceManagerSubscribeClient) Recv() (*SubscribeResponse, error) {
	m := new(SubscribeResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *workspaceManagerClient) DescribeCluster(ctx context.Context, in *DescribeClusterRequest, opts ...grpc.CallOption) (*DescribeClusterResponse, error) {
	out := new(DescribeClusterResponse)
	if err := c.cc.Invoke(ctx, methodDescribeCluster, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WorkspaceManagerServer is implemented by workspace clusters. The bridge only
// ships it for in-process fakes and simulators.
type WorkspaceManagerServer interface {
	GetWorkspaces(context.Context, *GetWorkspacesRequest) (*GetWorkspacesResponse, error)
	Subscribe(*SubscribeRequest, WorkspaceManager_SubscribeServer) error
	DescribeCluster(context.Context, *DescribeClusterRequest) (*DescribeClusterResponse, error)
}

type UnimplementedWorkspaceManagerServer struct{}

func (UnimplementedWorkspaceManagerServer) GetWorkspaces(context.Context, *GetWorkspacesRequest) (*GetWorkspacesResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetWorkspaces not implemented")
}

func (UnimplementedWorkspaceManagerServer) Subscribe(*SubscribeRequest, WorkspaceManager_SubscribeServer) error {
	return status.Errorf(codes.Unimplemented, "method Subscribe not implemented")
}

func (UnimplementedWorkspaceManagerServer) DescribeCluster(context.Context, *DescribeClusterRequest) (*DescribeClusterResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DescribeCluster not implemented")
}

type WorkspaceManager_SubscribeServer interface {
	Send(*SubscribeResponse) error
	grpc.ServerStream
}

type workspaceManagerSubscribeServer struct {
	grpc.ServerStream
}

func (x *workspaceManagerSubscribeServer) Send(m *SubscribeResponse) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterWorkspaceManagerServer(s grpc.ServiceRegistrar, srv WorkspaceManagerServer) {
	s.RegisterService(&WorkspaceManager_ServiceDesc, srv)
}

func _WorkspaceManager_GetWorkspaces_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetWorkspacesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkspaceManagerServer).GetWorkspaces(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetWorkspaces}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkspaceManagerServer).GetWorkspaces(ctx, req.(*GetWorkspacesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkspaceManager_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(WorkspaceManagerServer).Subscribe(m, &workspaceManagerSubscribeServer{stream})
}

func _WorkspaceManager_DescribeCluster_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DescribeClusterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkspaceManagerServer).DescribeCluster(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDescribeCluster}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkspaceManagerServer).DescribeCluster(ctx, req.(*DescribeClusterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var WorkspaceManager_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WorkspaceManagerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetWorkspaces", Handler: _WorkspaceManager_GetWorkspaces_Handler},
		{MethodName: "DescribeCluster", Handler: _WorkspaceManager_DescribeCluster_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _WorkspaceManager_Subscribe_Handler, ServerStreams: true},
	},
	Metadata: "wsman/workspace_manager",
}
