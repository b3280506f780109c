package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/analytics"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/instance"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/prebuild"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/subscriber"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

// Cluster is the running bridge of one workspace cluster: its status
// subscription, the reconciler fed by it and the cluster's timeout sweep.
type Cluster struct {
	cluster    core.WorkspaceCluster
	client     wsman.Client
	closer     func() error
	reconciler *Reconciler
	subscriber *subscriber.Subscriber
	controller *instance.Controller
	log        *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Name returns the name of the bridged cluster.
func (c *Cluster) Name() string { return c.cluster.Name }

// Info returns the cluster record the bridge was started with.
func (c *Cluster) Info() core.WorkspaceCluster { return c.cluster.Clone() }

// Client returns the cluster's workspace manager client.
func (c *Cluster) Client() wsman.Client { return c.client }

// Start launches the subscription and the timeout sweep. It does not block.
func (c *Cluster) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	provider := func(context.Context) (wsman.Client, error) { return c.client, nil }

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		_ = c.subscriber.Subscribe(ctx, c.reconciler.HandleSnapshot, c.reconciler.HandleUpdate)
	}()
	go func() {
		defer c.wg.Done()
		c.controller.Start(ctx, c.cluster.Name, provider)
	}()
	c.log.Info("bridge started", zap.String("url", c.cluster.URL))
}

// Stop cancels the subscription and the sweep, drops queued updates, waits
// for in-flight work and closes the connection.
func (c *Cluster) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.reconciler.Stop()
	c.wg.Wait()
	if c.closer != nil {
		if err := c.closer(); err != nil {
			c.log.Warn("closing cluster connection", zap.Error(err))
		}
	}
	c.log.Info("bridge stopped")
}

// Factory builds a fresh, independently stoppable bridge per cluster.
type Factory func(cluster core.WorkspaceCluster) (*Cluster, error)

type Deps struct {
	Store      store.InstanceStore
	Prebuilds  *prebuild.Updater
	Lifecycle  *instance.Lifecycle
	Analytics  analytics.Writer
	Dialer     wsman.Dialer
	Controller instance.Config
	RetryDelay time.Duration
	Log        *zap.Logger
}

func NewFactory(d Deps) Factory {
	return func(cluster core.WorkspaceCluster) (*Cluster, error) {
		client, err := d.Dialer.Dial(cluster)
		if err != nil {
			return nil, err
		}
		return newCluster(cluster, client, client.Close, d), nil
	}
}

// NewFactoryWithClient builds bridges over clients supplied by newClient
// instead of dialing. It is the injection point for in-process clients such
// as wsmantest clusters and simulators; the caller owns the client lifetime.
func NewFactoryWithClient(d Deps, newClient func(cluster core.WorkspaceCluster) (wsman.Client, error)) Factory {
	return func(cluster core.WorkspaceCluster) (*Cluster, error) {
		client, err := newClient(cluster)
		if err != nil {
			return nil, err
		}
		return newCluster(cluster, client, nil, d), nil
	}
}

func newCluster(cluster core.WorkspaceCluster, client wsman.Client, closer func() error, d Deps) *Cluster {
	log := observability.ClusterLogger(d.Log, cluster.Name)
	return &Cluster{
		cluster:    cluster.Clone(),
		client:     client,
		closer:     closer,
		reconciler: NewReconciler(cluster.Name, d.Store, d.Prebuilds, d.Lifecycle, d.Analytics, log),
		subscriber: subscriber.New(cluster.Name, func(context.Context) (wsman.Client, error) { return client, nil }, d.RetryDelay, log),
		controller: instance.NewController(d.Controller, d.Store, d.Lifecycle, log),
		log:        log,
	}
}
