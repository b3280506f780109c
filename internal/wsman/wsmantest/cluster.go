// Package wsmantest provides an in-memory workspace cluster for tests.
package wsmantest

import (
	"context"
	"io"
	"net"
	"sort"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/gitpod-io/gitpod-sub012/internal/rpcjson"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

// Cluster is a fake workspace manager. It serves over gRPC (Serve) or
// in-process (Client).
type Cluster struct {
	wsman.UnimplementedWorkspaceManagerServer

	mu          sync.Mutex
	workspaces  map[string]*wsman.WorkspaceStatus
	subscribers map[chan *wsman.WorkspaceStatus]struct{}
	classes     []*wsman.WorkspaceClass
	preferred   string
	listErr     error
	describeErr error
	listCalls   int
}

func NewCluster() *Cluster {
	return &Cluster{
		workspaces:  make(map[string]*wsman.WorkspaceStatus),
		subscribers: make(map[chan *wsman.WorkspaceStatus]struct{}),
	}
}

// SetWorkspaces replaces the set of workspaces the cluster reports.
func (c *Cluster) SetWorkspaces(statuses ...*wsman.WorkspaceStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workspaces = make(map[string]*wsman.WorkspaceStatus, len(statuses))
	for _, s := range statuses {
		c.workspaces[s.ID] = s
	}
}

func (c *Cluster) SetClasses(preferred string, classes ...*wsman.WorkspaceClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferred = preferred
	c.classes = classes
}

func (c *Cluster) SetListError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

func (c *Cluster) SetDescribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.describeErr = err
}

// ListCalls counts GetWorkspaces invocations.
func (c *Cluster) ListCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listCalls
}

// Subscribers returns the number of open status streams.
func (c *Cluster) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// Push records s and fans it out to every open stream.
func (c *Cluster) Push(s *wsman.WorkspaceStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workspaces[s.ID] = s
	for ch := range c.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// CloseStreams ends every open status stream, forcing subscribers to reconnect.
func (c *Cluster) CloseStreams() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, ch)
	}
}

func (c *Cluster) list() ([]*wsman.WorkspaceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]*wsman.WorkspaceStatus, 0, len(c.workspaces))
	for _, s := range c.workspaces {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Cluster) describe() (*wsman.DescribeClusterResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.describeErr != nil {
		return nil, c.describeErr
	}
	return &wsman.DescribeClusterResponse{
		WorkspaceClasses:        c.classes,
		PreferredWorkspaceClass: c.preferred,
	}, nil
}

func (c *Cluster) subscribe() chan *wsman.WorkspaceStatus {
	ch := make(chan *wsman.WorkspaceStatus, 64)
	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()
	return ch
}

func (c *Cluster) unsubscribe(ch chan *wsman.WorkspaceStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[ch]; ok {
		delete(c.subscribers, ch)
		close(ch)
	}
}

// GetWorkspaces implements wsman.WorkspaceManagerServer.
func (c *Cluster) GetWorkspaces(ctx context.Context, _ *wsman.GetWorkspacesRequest) (*wsman.GetWorkspacesResponse, error) {
	statuses, err := c.list()
	if err != nil {
		return nil, err
	}
	return &wsman.GetWorkspacesResponse{Status: statuses}, nil
}

// Subscribe implements wsman.WorkspaceManagerServer.
func (c *Cluster) Subscribe(_ *wsman.SubscribeRequest, stream wsman.WorkspaceManager_SubscribeServer) error {
	ch := c.subscribe()
	defer c.unsubscribe(ch)
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(&wsman.SubscribeResponse{Status: s}); err != nil {
				return err
			}
		}
	}
}

// DescribeCluster implements wsman.WorkspaceManagerServer.
func (c *Cluster) DescribeCluster(ctx context.Context, _ *wsman.DescribeClusterRequest) (*wsman.DescribeClusterResponse, error) {
	return c.describe()
}

// Serve exposes the cluster over an in-memory gRPC listener and returns a
// connected client. Everything is torn down with the test.
func (c *Cluster) Serve(t testing.TB) *wsman.GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	wsman.RegisterWorkspaceManagerServer(srv, c)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpcjson.DialOption(),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	client := wsman.NewFromConn(conn)
	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
	})
	return client
}

// Client returns an in-process wsman.Client backed by the cluster.
func (c *Cluster) Client() wsman.Client {
	return inProcClient{c}
}

// Provider returns a ClientProvider that always hands out the in-process client.
func (c *Cluster) Provider() wsman.ClientProvider {
	return func(context.Context) (wsman.Client, error) { return c.Client(), nil }
}

type inProcClient struct {
	c *Cluster
}

func (p inProcClient) GetWorkspaces(ctx context.Context) ([]*wsman.WorkspaceStatus, error) {
	return p.c.list()
}

func (p inProcClient) Subscribe(ctx context.Context) (wsman.StatusStream, error) {
	ch := p.c.subscribe()
	go func() {
		<-ctx.Done()
		p.c.unsubscribe(ch)
	}()
	return inProcStream{ctx: ctx, ch: ch}, nil
}

func (p inProcClient) DescribeCluster(ctx context.Context) (*wsman.DescribeClusterResponse, error) {
	return p.c.describe()
}

type inProcStream struct {
	ctx context.Context
	ch  chan *wsman.WorkspaceStatus
}

func (s inProcStream) Recv() (*wsman.WorkspaceStatus, error) {
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case st, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return st, nil
	}
}
