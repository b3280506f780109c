package admission

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/rpcjson"
)

const (
	serviceName = "admission.ClusterService"

	methodRegister   = "/" + serviceName + "/Register"
	methodUpdate     = "/" + serviceName + "/Update"
	methodDeregister = "/" + serviceName + "/Deregister"
	methodList       = "/" + serviceName + "/List"
)

// ClusterServiceServer is the RPC surface served by the daemon.
type ClusterServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Update(context.Context, *UpdateRequest) (*UpdateResponse, error)
	Deregister(context.Context, *DeregisterRequest) (*DeregisterResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
}

// grpcServer turns core.AppError results into gRPC statuses.
type grpcServer struct {
	svc ClusterServiceServer
}

func (s grpcServer) Register(ctx context.Context, in *RegisterRequest) (*RegisterResponse, error) {
	out, err := s.svc.Register(ctx, in)
	return out, toStatus(err)
}

func (s grpcServer) Update(ctx context.Context, in *UpdateRequest) (*UpdateResponse, error) {
	out, err := s.svc.Update(ctx, in)
	return out, toStatus(err)
}

func (s grpcServer) Deregister(ctx context.Context, in *DeregisterRequest) (*DeregisterResponse, error) {
	out, err := s.svc.Deregister(ctx, in)
	return out, toStatus(err)
}

func (s grpcServer) List(ctx context.Context, in *ListRequest) (*ListResponse, error) {
	out, err := s.svc.List(ctx, in)
	return out, toStatus(err)
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr := core.AsAppError(err)
	return status.Error(appErr.Code.GRPCCode(), appErr.Message)
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return core.NewAppError(core.CodeFromGRPC(st.Code()), st.Message())
}

// RegisterClusterServiceServer serves svc on s.
func RegisterClusterServiceServer(s grpc.ServiceRegistrar, svc ClusterServiceServer) {
	s.RegisterService(&ClusterService_ServiceDesc, grpcServer{svc: svc})
}

func unaryHandler[Req any, Resp any](method string, call func(ClusterServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClusterServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ClusterServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ClusterService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ClusterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(methodRegister, ClusterServiceServer.Register)},
		{MethodName: "Update", Handler: unaryHandler(methodUpdate, ClusterServiceServer.Update)},
		{MethodName: "Deregister", Handler: unaryHandler(methodDeregister, ClusterServiceServer.Deregister)},
		{MethodName: "List", Handler: unaryHandler(methodList, ClusterServiceServer.List)},
	},
	Metadata: "admission/cluster_service",
}

// Client calls a remote admission service. Errors are returned as core.AppError.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the admission service at addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpcjson.DialOption(),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial admission service %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest) (*RegisterResponse, error) {
	out := new(RegisterResponse)
	if err := c.conn.Invoke(ctx, methodRegister, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, in *UpdateRequest) (*UpdateResponse, error) {
	out := new(UpdateResponse)
	if err := c.conn.Invoke(ctx, methodUpdate, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) Deregister(ctx context.Context, in *DeregisterRequest) (*DeregisterResponse, error) {
	out := new(DeregisterResponse)
	if err := c.conn.Invoke(ctx, methodDeregister, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.conn.Invoke(ctx, methodList, &ListRequest{}, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}
