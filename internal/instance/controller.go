package instance

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

type Timeouts struct {
	PendingPhase   time.Duration
	StoppingPhase  time.Duration
	PreparingPhase time.Duration
	BuildingPhase  time.Duration
	UnknownPhase   time.Duration
}

type Config struct {
	Interval      time.Duration
	MaxDisconnect time.Duration
	Timeouts      Timeouts
}

const sweepConcurrency = 16

// Controller sweeps non-stopped instances and force-stops the ones that
// timed out or that their cluster no longer reports.
type Controller struct {
	cfg       Config
	instances store.InstanceStore
	lifecycle *Lifecycle
	log       *zap.Logger
	now       func() time.Time
}

func NewController(cfg Config, instances store.InstanceStore, lifecycle *Lifecycle, log *zap.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		instances: instances,
		lifecycle: lifecycle,
		log:       log.Named("instance-controller"),
		now:       time.Now,
	}
}

// Start sweeps the instances of one workspace cluster every interval until ctx is done.
func (c *Controller) Start(ctx context.Context, cluster string, provider wsman.ClientProvider) {
	log := observability.ClusterLogger(c.log, cluster)
	log.Info("instance controller started", zap.Duration("interval", c.cfg.Interval))

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	var disconnectStarted time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("instance controller stopping")
			return
		case <-ticker.C:
			c.runIteration(ctx, cluster, provider, &disconnectStarted)
		}
	}
}

// runIteration performs one sweep. disconnectStarted tracks since when the
// cluster has been unreachable; the zero value means it is reachable.
func (c *Controller) runIteration(ctx context.Context, cluster string, provider wsman.ClientProvider, disconnectStarted *time.Time) {
	ctx, span := observability.StartSpan(ctx, "controlInstances", attribute.String("cluster", cluster))
	defer span.End()
	log := observability.ClusterLogger(c.log, cluster)

	running, err := c.instances.FindRunningInstances(ctx, cluster)
	if err != nil {
		log.Error("cannot load non-stopped instances", zap.Error(err))
		return
	}

	if err := c.controlClusterManagedInstances(ctx, cluster, running, provider); err != nil {
		now := c.now()
		switch {
		case disconnectStarted.IsZero():
			*disconnectStarted = now
		case now.Sub(*disconnectStarted) > c.cfg.MaxDisconnect:
			log.Warn("error while controlling workspace cluster's workspaces", zap.Error(err),
				zap.Duration("disconnectedFor", now.Sub(*disconnectStarted)))
		}
	} else {
		*disconnectStarted = time.Time{}
	}

	c.ControlAppClusterInstances(ctx, cluster, running)
}

// controlClusterManagedInstances stops instances the cluster does not report
// any more. It fails only if the cluster cannot be queried.
func (c *Controller) controlClusterManagedInstances(ctx context.Context, cluster string, running []core.RunningInstance, provider wsman.ClientProvider) error {
	client, err := provider(ctx)
	if err != nil {
		return err
	}
	remote, err := client.GetWorkspaces(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(remote))
	for _, s := range remote {
		known[s.ID] = struct{}{}
	}

	now := c.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, ri := range running {
		if _, ok := known[ri.Instance.ID]; ok {
			continue
		}
		if !c.lostByCluster(ri.Instance, now) {
			continue
		}
		g.Go(func() error {
			log := observability.InstanceLogger(c.log, ri.Instance.ID, ri.Workspace.ID, ri.Workspace.OwnerID)
			log.Info("instance is present in the database but unknown to its cluster, marking as stopped",
				zap.String("cluster", cluster), zap.String("phase", string(ri.Instance.Status.Phase)))
			if err := c.lifecycle.MarkStopped(gctx, ri, now); err != nil {
				log.Warn("cannot mark instance as stopped", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) lostByCluster(inst *core.WorkspaceInstance, now time.Time) bool {
	switch inst.Status.Phase {
	case core.PhaseRunning:
		return true
	case core.PhasePending:
		return now.Sub(inst.CreationTime) > c.cfg.Timeouts.PendingPhase
	case core.PhaseStopping:
		return inst.StoppingTime != nil && now.Sub(*inst.StoppingTime) > c.cfg.Timeouts.StoppingPhase
	}
	return false
}

// ControlAppClusterInstances stops instances stuck in a phase that precedes
// cluster ownership, independent of any cluster's reachability.
func (c *Controller) ControlAppClusterInstances(ctx context.Context, scope string, running []core.RunningInstance) {
	ctx, span := observability.StartSpan(ctx, "controlAppClusterManagedInstances", attribute.String("scope", scope))
	defer span.End()

	now := c.now()
	var g errgroup.Group
	g.SetLimit(sweepConcurrency)
	for _, ri := range running {
		if !c.timedOut(ri.Instance, now) {
			continue
		}
		g.Go(func() error {
			log := observability.InstanceLogger(c.log, ri.Instance.ID, ri.Workspace.ID, ri.Workspace.OwnerID)
			log.Info("instance timed out, marking as stopped",
				zap.String("phase", string(ri.Instance.Status.Phase)), zap.Time("creationTime", ri.Instance.CreationTime))
			if err := c.lifecycle.MarkStopped(ctx, ri, now); err != nil {
				log.Warn("cannot mark instance as stopped", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) timedOut(inst *core.WorkspaceInstance, now time.Time) bool {
	var limit time.Duration
	switch inst.Status.Phase {
	case core.PhasePreparing:
		limit = c.cfg.Timeouts.PreparingPhase
	case core.PhaseBuilding:
		limit = c.cfg.Timeouts.BuildingPhase
	case core.PhaseUnknown:
		limit = c.cfg.Timeouts.UnknownPhase
	default:
		return false
	}
	return !now.Before(inst.CreationTime.Add(limit))
}

// RunAppCluster sweeps the instances still owned by the application cluster
// itself (region == installation) every interval until ctx is done.
func (c *Controller) RunAppCluster(ctx context.Context, installation string) {
	if installation == "" {
		c.log.Warn("no installation configured, app cluster sweep disabled")
		return
	}
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAppClusterIteration(ctx, installation)
		}
	}
}

func (c *Controller) runAppClusterIteration(ctx context.Context, installation string) {
	running, err := c.instances.FindRunningInstances(ctx, installation)
	if err != nil {
		c.log.Error("cannot load app cluster instances", zap.String("installation", installation), zap.Error(err))
		return
	}
	c.ControlAppClusterInstances(ctx, installation, running)
}
