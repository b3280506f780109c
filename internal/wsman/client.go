package wsman

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/rpcjson"
)

// Client is what the bridge needs from a workspace cluster.
type Client interface {
	GetWorkspaces(ctx context.Context) ([]*WorkspaceStatus, error)
	Subscribe(ctx context.Context) (StatusStream, error)
	DescribeCluster(ctx context.Context) (*DescribeClusterResponse, error)
}

// StatusStream yields status updates until the stream ends or errors.
type StatusStream interface {
	Recv() (*WorkspaceStatus, error)
}

// ClientProvider hands out a client for one cluster. It is invoked on every
// (re)connection.
type ClientProvider func(ctx context.Context) (Client, error)

// Dialer creates clients for registered clusters.
type Dialer interface {
	Dial(cluster core.WorkspaceCluster) (*GRPCClient, error)
}

type GRPCClient struct {
	conn   *grpc.ClientConn
	client WorkspaceManagerClient
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(cluster core.WorkspaceCluster) (*GRPCClient, error)

func (f DialerFunc) Dial(cluster core.WorkspaceCluster) (*GRPCClient, error) {
	return f(cluster)
}

// TLSDialer dials clusters with the TLS material stored on their record.
var TLSDialer = DialerFunc(func(cluster core.WorkspaceCluster) (*GRPCClient, error) {
	return New(cluster.URL, cluster.TLS)
})

func New(addr string, tlsCfg core.TLSConfig, opts ...grpc.DialOption) (*GRPCClient, error) {
	creds, err := transportCredentials(tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("tls config for %s: %w", addr, err)
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		rpcjson.DialOption(),
	}, opts...)
	conn, err := grpc.NewClient(target(addr), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial workspace cluster %s: %w", addr, err)
	}
	return NewFromConn(conn), nil
}

// NewFromConn wraps an existing connection. The connection must negotiate
// the rpcjson codec.
func NewFromConn(conn *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{conn: conn, client: NewWorkspaceManagerClient(conn)}
}

func (c *GRPCClient) GetWorkspaces(ctx context.Context) ([]*WorkspaceStatus, error) {
	resp, err := c.client.GetWorkspaces(ctx, &GetWorkspacesRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Status, nil
}

func (c *GRPCClient) Subscribe(ctx context.Context) (StatusStream, error) {
	stream, err := c.client.Subscribe(ctx, &SubscribeRequest{})
	if err != nil {
		return nil, err
	}
	return subscribeStream{stream}, nil
}

func (c *GRPCClient) DescribeCluster(ctx context.Context) (*DescribeClusterResponse, error) {
	return c.client.DescribeCluster(ctx, &DescribeClusterRequest{})
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

type subscribeStream struct {
	stream WorkspaceManager_SubscribeClient
}

func (s subscribeStream) Recv() (*WorkspaceStatus, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return nil, err
		}
		if resp.Status != nil {
			return resp.Status, nil
		}
	}
}

// target strips URL schemes that grpc-go does not resolve.
func target(addr string) string {
	for _, prefix := range []string{"https://", "http://", "grpc://"} {
		if strings.HasPrefix(addr, prefix) {
			return strings.TrimPrefix(addr, prefix)
		}
	}
	return addr
}

func transportCredentials(cfg core.TLSConfig) (credentials.TransportCredentials, error) {
	if cfg.IsZero() {
		return insecure.NewCredentials(), nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CA != "" {
		ca, err := decodePEM(cfg.CA)
		if err != nil {
			return nil, fmt.Errorf("decode ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, errors.New("ca contains no certificates")
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.Crt != "" || cfg.Key != "" {
		crt, err := decodePEM(cfg.Crt)
		if err != nil {
			return nil, fmt.Errorf("decode crt: %w", err)
		}
		key, err := decodePEM(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		pair, err := tls.X509KeyPair(crt, key)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}
	return credentials.NewTLS(tlsConfig), nil
}

// decodePEM accepts base64-encoded PEM (the registration format) and raw PEM.
func decodePEM(s string) ([]byte, error) {
	if strings.Contains(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
