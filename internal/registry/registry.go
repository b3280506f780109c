// Package registry keeps exactly one bridge running per workspace cluster
// this installation governs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/bridge"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/workqueue"
)

const (
	outcomeOK      = "ok"
	outcomePartial = "partial"
	outcomeError   = "error"
)

type Config struct {
	// Installation is the application cluster whose workspace clusters we govern.
	Installation           string
	ReconcileInterval      time.Duration
	ClassDiscoveryInterval time.Duration
	DescribeTimeout        time.Duration
}

type entry struct {
	bridge      *bridge.Cluster
	fingerprint string
	static      bool
}

// Controller reconciles the set of running bridges with the cluster records.
type Controller struct {
	cfg      Config
	clusters store.ClusterStore
	static   []core.WorkspaceCluster
	factory  bridge.Factory
	queue    *workqueue.Serial
	log      *zap.Logger

	// bridges run under base, not under the context of whoever triggered the reconcile
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	bridges  map[string]*entry
	gauged   map[string]bool
	stopOnce sync.Once
}

func New(cfg Config, clusters store.ClusterStore, static []core.WorkspaceCluster, factory bridge.Factory, log *zap.Logger) *Controller {
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		clusters: clusters,
		static:   static,
		factory:  factory,
		queue:    workqueue.NewSerial(),
		log:      log.Named("registry"),
		base:     base,
		cancel:   cancel,
		bridges:  make(map[string]*entry),
		gauged:   make(map[string]bool),
	}
}

// Start reconciles immediately and then every ReconcileInterval until ctx is
// done. Workspace classes are refreshed every ClassDiscoveryInterval when set.
func (c *Controller) Start(ctx context.Context) {
	c.log.Info("cluster registry started",
		zap.String("installation", c.cfg.Installation),
		zap.Duration("interval", c.cfg.ReconcileInterval),
		zap.Int("staticClusters", len(c.static)))

	if err := c.RunReconcileNow(ctx); err != nil && !errors.Is(err, workqueue.ErrClosed) {
		c.log.Error("initial reconcile failed", zap.Error(err))
	}

	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	var discover <-chan time.Time
	if c.cfg.ClassDiscoveryInterval > 0 {
		t := time.NewTicker(c.cfg.ClassDiscoveryInterval)
		defer t.Stop()
		discover = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info("cluster registry stopping")
			return
		case <-ticker.C:
			if err := c.RunReconcileNow(ctx); err != nil && !errors.Is(err, workqueue.ErrClosed) {
				c.log.Error("reconcile failed", zap.Error(err))
			}
		case <-discover:
			if err := c.RefreshClasses(ctx); err != nil && !errors.Is(err, workqueue.ErrClosed) {
				c.log.Warn("workspace class discovery failed", zap.Error(err))
			}
		}
	}
}

// RunReconcileNow reconciles once, after any reconcile already queued.
func (c *Controller) RunReconcileNow(ctx context.Context) error {
	return c.queue.Do(ctx, c.reconcile)
}

// RefreshClasses asks every database-backed cluster for its workspace
// classes and stores them when they changed.
func (c *Controller) RefreshClasses(ctx context.Context) error {
	return c.queue.Do(ctx, c.refreshClasses)
}

// Stop lets an in-flight reconcile finish, rejects new ones and stops every bridge.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.queue.Close()
		c.cancel()

		c.mu.Lock()
		bridges := c.bridges
		c.bridges = make(map[string]*entry)
		c.mu.Unlock()

		for name, e := range bridges {
			e.bridge.Stop()
			c.log.Info("bridge removed", zap.String("cluster", name), zap.String("reason", "shutdown"))
		}
		observability.ActiveBridges.Set(0)
	})
}

// Bridges returns the names of the clusters with a running bridge.
func (c *Controller) Bridges() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.bridges))
	for name := range c.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cluster returns the record the named bridge was started with.
func (c *Controller) Cluster(name string) (core.WorkspaceCluster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.bridges[name]
	if !ok {
		return core.WorkspaceCluster{}, false
	}
	return e.bridge.Info(), true
}

// Static returns the statically configured clusters.
func (c *Controller) Static() []core.WorkspaceCluster {
	out := make([]core.WorkspaceCluster, 0, len(c.static))
	for _, s := range c.static {
		out = append(out, s.Clone())
	}
	return out
}

type desiredCluster struct {
	cluster core.WorkspaceCluster
	static  bool
}

func (c *Controller) reconcile(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "reconcileBridges")
	defer span.End()

	all, err := c.clusters.FindClusters(ctx, store.ClusterFilter{ApplicationCluster: c.cfg.Installation})
	if err != nil {
		observability.ReconcileTotal.WithLabelValues(outcomeError).Inc()
		return fmt.Errorf("find clusters: %w", err)
	}

	desired := make(map[string]desiredCluster, len(all)+len(c.static))
	for _, s := range c.static {
		if s.State == core.ClusterAvailable {
			desired[s.Name] = desiredCluster{cluster: s, static: true}
		}
	}
	for _, cl := range all {
		if cl.State == core.ClusterAvailable && cl.Govern {
			desired[cl.Name] = desiredCluster{cluster: cl}
		} else if d, ok := desired[cl.Name]; ok && d.static {
			// a database record shadows the static entry of the same name
			delete(desired, cl.Name)
		}
	}
	c.updateGauges(all)

	c.mu.Lock()
	defer c.mu.Unlock()

	for name, e := range c.bridges {
		d, ok := desired[name]
		switch {
		case !ok:
			c.removeLocked(name, e, "cluster no longer available")
		case d.cluster.ConnectionFingerprint() != e.fingerprint:
			c.removeLocked(name, e, "connection changed")
		}
	}

	outcome := outcomeOK
	for name, d := range desired {
		if _, ok := c.bridges[name]; ok {
			continue
		}
		b, err := c.factory(d.cluster)
		if err != nil {
			outcome = outcomePartial
			c.log.Error("cannot create bridge", zap.String("cluster", name), zap.Error(err))
			continue
		}
		b.Start(c.base)
		c.bridges[name] = &entry{bridge: b, fingerprint: d.cluster.ConnectionFingerprint(), static: d.static}
		c.log.Info("bridge added", zap.String("cluster", name), zap.String("url", d.cluster.URL), zap.Bool("static", d.static))
	}

	observability.ActiveBridges.Set(float64(len(c.bridges)))
	observability.ReconcileTotal.WithLabelValues(outcome).Inc()
	return nil
}

func (c *Controller) removeLocked(name string, e *entry, reason string) {
	e.bridge.Stop()
	delete(c.bridges, name)
	c.log.Info("bridge removed", zap.String("cluster", name), zap.String("reason", reason))
}

func (c *Controller) updateGauges(clusters []core.WorkspaceCluster) {
	seen := make(map[string]bool, len(clusters))
	for _, cl := range append(c.Static(), clusters...) {
		seen[cl.Name] = true
		observability.ClusterScore.WithLabelValues(cl.Name).Set(float64(cl.Score))
		observability.ClusterMaxScore.WithLabelValues(cl.Name).Set(float64(cl.MaxScore))
		cordoned := 0.0
		if cl.State == core.ClusterCordoned {
			cordoned = 1
		}
		observability.ClusterCordoned.WithLabelValues(cl.Name).Set(cordoned)
	}
	for name := range c.gauged {
		if !seen[name] {
			observability.ClusterScore.DeleteLabelValues(name)
			observability.ClusterMaxScore.DeleteLabelValues(name)
			observability.ClusterCordoned.DeleteLabelValues(name)
		}
	}
	c.gauged = seen
}

func (c *Controller) refreshClasses(ctx context.Context) error {
	c.mu.Lock()
	targets := make([]*bridge.Cluster, 0, len(c.bridges))
	for _, e := range c.bridges {
		if !e.static {
			targets = append(targets, e.bridge)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, b := range targets {
		if err := c.refreshClusterClasses(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) refreshClusterClasses(ctx context.Context, b *bridge.Cluster) error {
	describeCtx := ctx
	if c.cfg.DescribeTimeout > 0 {
		var cancel context.CancelFunc
		describeCtx, cancel = context.WithTimeout(ctx, c.cfg.DescribeTimeout)
		defer cancel()
	}
	resp, err := b.Client().DescribeCluster(describeCtx)
	if err != nil {
		return fmt.Errorf("describe cluster: %w", err)
	}

	cl, err := c.clusters.FindClusterByName(ctx, b.Name())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	classes := resp.Classes()
	if sameClasses(classes, cl.AvailableWorkspaceClasses) && resp.PreferredWorkspaceClass == cl.PreferredWorkspaceClass {
		return nil
	}
	err = c.clusters.UpdateClusterClasses(ctx, cl.Name, classes, resp.PreferredWorkspaceClass)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update classes: %w", err)
	}
	c.log.Info("workspace classes updated",
		zap.String("cluster", cl.Name),
		zap.Int("classes", len(classes)),
		zap.String("preferred", resp.PreferredWorkspaceClass))
	return nil
}

func sameClasses(a, b []core.WorkspaceClass) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
