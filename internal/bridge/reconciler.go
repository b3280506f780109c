// Package bridge applies the status stream of one workspace cluster to the
// instance records of this installation.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/analytics"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/instance"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/prebuild"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/workqueue"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeStale   = "stale"
	outcomeUnknown = "unknown"
	outcomeInvalid = "invalid"
	outcomeIgnored = "ignored"
)

// Reconciler turns status updates into instance mutations. Updates of one
// instance are applied strictly in arrival order, updates of different
// instances concurrently.
type Reconciler struct {
	cluster   string
	instances store.InstanceStore
	prebuilds *prebuild.Updater
	lifecycle *instance.Lifecycle
	analytics analytics.Writer
	queue     *workqueue.Keyed
	log       *zap.Logger
	now       func() time.Time
}

func NewReconciler(
	cluster string,
	instances store.InstanceStore,
	prebuilds *prebuild.Updater,
	lifecycle *instance.Lifecycle,
	aw analytics.Writer,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		cluster:   cluster,
		instances: instances,
		prebuilds: prebuilds,
		lifecycle: lifecycle,
		analytics: aw,
		queue:     workqueue.NewKeyed(log),
		log:       log,
		now:       time.Now,
	}
}

func (r *Reconciler) HandleSnapshot(ctx context.Context, statuses []*wsman.WorkspaceStatus) {
	for _, s := range statuses {
		r.HandleUpdate(ctx, s)
	}
}

// HandleUpdate queues status behind earlier updates of the same instance.
func (r *Reconciler) HandleUpdate(_ context.Context, status *wsman.WorkspaceStatus) {
	if status == nil || status.ID == "" {
		r.log.Warn("dropping status update without instance id")
		return
	}
	r.queue.Enqueue(status.ID, func(ctx context.Context) {
		_ = r.handleStatusUpdate(ctx, status)
	})
}

// Stop drops queued updates and waits for the ones in flight.
func (r *Reconciler) Stop() {
	r.queue.Stop()
}

func (r *Reconciler) handleStatusUpdate(ctx context.Context, status *wsman.WorkspaceStatus) error {
	start := time.Now()
	observability.StatusUpdatesStarted.WithLabelValues(r.cluster).Inc()

	outcome, err := r.applyStatus(ctx, status)
	if err != nil {
		outcome = outcomeError
		log := r.log.With(zap.String("instanceId", status.ID))
		if status.Metadata != nil {
			log = observability.InstanceLogger(r.log, status.ID, status.Metadata.MetaID, status.Metadata.Owner)
		}
		log.Error("cannot handle status update", zap.Uint64("statusVersion", status.StatusVersion), zap.Error(err))
	}

	observability.StatusUpdatesCompleted.WithLabelValues(r.cluster, outcome).Inc()
	observability.StatusUpdateDuration.WithLabelValues(r.cluster).Observe(time.Since(start).Seconds())
	return err
}

func (r *Reconciler) applyStatus(ctx context.Context, status *wsman.WorkspaceStatus) (string, error) {
	if status.Spec == nil || status.Metadata == nil || status.Conditions == nil {
		r.log.Warn("received invalid status update", zap.String("instanceId", status.ID))
		return outcomeInvalid, nil
	}
	if status.Spec.Type == wsman.TypeGhost {
		return outcomeIgnored, nil
	}

	ownerID := status.Metadata.Owner
	workspaceID := status.Metadata.MetaID
	log := observability.InstanceLogger(r.log, status.ID, workspaceID, ownerID)

	ctx, span := observability.StartSpan(ctx, "handleStatusUpdate",
		attribute.String("cluster", r.cluster),
		attribute.String("instanceId", status.ID),
		attribute.String("workspaceId", workspaceID),
		attribute.Int64("statusVersion", int64(status.StatusVersion)),
		attribute.String("phase", status.Phase.String()))
	defer span.End()

	inst, err := r.instances.FindInstanceByID(ctx, status.ID)
	if errors.Is(err, store.ErrNotFound) {
		observability.StatusUpdatesTotal.WithLabelValues(r.cluster, "false").Inc()
		log.Debug("status update for an instance not owned by this installation")
		return outcomeUnknown, nil
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("find instance: %w", err)
	}
	observability.StatusUpdatesTotal.WithLabelValues(r.cluster, "true").Inc()

	if status.StatusVersion <= inst.StatusVersion {
		observability.StaleStatusUpdates.WithLabelValues("instance").Inc()
		log.Debug("stale status update",
			zap.Uint64("statusVersion", status.StatusVersion),
			zap.Uint64("storedVersion", inst.StatusVersion))
		return outcomeStale, nil
	}

	wasStopped := inst.Status.Phase == core.PhaseStopped
	r.applyFields(inst, status, log)
	r.applyPhase(ctx, inst, status, ownerID, log)

	if status.Spec.Type == wsman.TypePrebuild {
		if err := r.prebuilds.UpdatePrebuild(ctx, status); err != nil {
			log.Error("cannot update prebuild", zap.Error(err))
		}
	}

	if err := r.instances.StoreInstance(ctx, inst); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("store instance: %w", err)
	}

	if !wasStopped && inst.Status.Phase == core.PhaseStopped {
		if err := r.lifecycle.OnStopped(ctx, ownerID, inst); err != nil {
			log.Error("stopped instance cleanup failed", zap.Error(err))
		}
	}
	r.lifecycle.PublishInstanceUpdate(ctx, ownerID, inst)
	return outcomeOK, nil
}

func (r *Reconciler) applyFields(inst *core.WorkspaceInstance, status *wsman.WorkspaceStatus, log *zap.Logger) {
	now := r.now()
	inst.StatusVersion = status.StatusVersion
	inst.Status.Message = status.Message
	inst.Status.Timeout = status.Spec.Timeout
	if status.Spec.URL != "" {
		inst.IDEURL = status.Spec.URL
	}
	if status.Spec.ExposedPorts != nil {
		inst.Status.ExposedPorts = mapPorts(status.Spec.ExposedPorts)
	}
	if status.Auth != nil {
		inst.Status.OwnerToken = status.Auth.OwnerToken
	}
	if rt := status.Runtime; rt != nil {
		inst.Status.NodeName = firstNonEmpty(inst.Status.NodeName, rt.NodeName)
		inst.Status.PodName = firstNonEmpty(inst.Status.PodName, rt.PodName)
		inst.Status.NodeIP = firstNonEmpty(inst.Status.NodeIP, rt.NodeIP)
	}

	c := status.Conditions
	cond := &inst.Status.Conditions
	switch {
	case c.Failed != "":
		cond.Failed = c.Failed
	case cond.Failed != "":
		observability.ConsistencyViolations.WithLabelValues("failed_cleared").Inc()
		log.Error("status update would clear the failed condition, keeping it",
			zap.String("failed", cond.Failed), zap.Uint64("statusVersion", status.StatusVersion))
	}
	cond.Timeout = c.Timeout
	cond.HeadlessTaskFailed = c.HeadlessTaskFailed
	cond.PullingImages = c.PullingImages.Bool()
	cond.Deployed = c.Deployed.Bool()
	cond.StoppedByRequest = c.StoppedByRequest.Bool()

	if c.FirstUserActivity != nil {
		activity := c.FirstUserActivity.AsTime()
		if cond.FirstUserActivity == nil && inst.StartedTime != nil {
			observability.FirstUserActivitySeconds.Observe(activity.Sub(*inst.StartedTime).Seconds())
		}
		cond.FirstUserActivity = &activity
	}

	if cond.Deployed != nil && *cond.Deployed && inst.DeployedTime == nil {
		inst.DeployedTime = core.TimePtr(now)
	}
}

func (r *Reconciler) applyPhase(ctx context.Context, inst *core.WorkspaceInstance, status *wsman.WorkspaceStatus, ownerID string, log *zap.Logger) {
	now := r.now()
	switch status.Phase {
	case wsman.PhasePending:
		inst.Status.Phase = core.PhasePending
	case wsman.PhaseCreating:
		inst.Status.Phase = core.PhaseCreating
	case wsman.PhaseInitializing:
		inst.Status.Phase = core.PhaseInitializing
	case wsman.PhaseRunning:
		if inst.StoppingTime != nil || inst.StoppedTime != nil {
			acceptRunningAfterStop(inst, log)
		}
		if inst.StartedTime == nil {
			inst.StartedTime = core.TimePtr(now)
			observability.WorkspaceStartupSeconds.WithLabelValues(workspaceType(status.Spec.Type)).
				Observe(now.Sub(inst.CreationTime).Seconds())
			r.analytics.Track(ctx, analytics.Event{
				UserID:    ownerID,
				Event:     analytics.EventWorkspaceRunning,
				MessageID: "bridge-wsrunning-" + inst.ID,
				Properties: map[string]interface{}{
					"instanceId":  inst.ID,
					"workspaceId": inst.WorkspaceID,
					"region":      inst.Region,
				},
			})
		}
		inst.Status.Phase = core.PhaseRunning
	case wsman.PhaseInterrupted:
		inst.Status.Phase = core.PhaseInterrupted
	case wsman.PhaseStopping:
		if inst.StoppingTime == nil {
			inst.StoppingTime = core.TimePtr(now)
		}
		inst.Status.Phase = core.PhaseStopping
	case wsman.PhaseStopped:
		if inst.StoppingTime == nil {
			inst.StoppingTime = core.TimePtr(now)
		}
		if inst.StoppedTime == nil {
			inst.StoppedTime = core.TimePtr(now)
		}
		inst.Status.Phase = core.PhaseStopped
	default:
		inst.Status.Phase = core.PhaseUnknown
	}
}

// acceptRunningAfterStop decides what happens when a cluster reports running
// for an instance that already began stopping. The cluster wins: the stop
// timestamps are cleared and the update is applied.
func acceptRunningAfterStop(inst *core.WorkspaceInstance, log *zap.Logger) {
	observability.ConsistencyViolations.WithLabelValues("running_after_stop").Inc()
	log.Error("instance reported running after it began stopping, accepting the cluster's view",
		zap.String("phase", string(inst.Status.Phase)),
		zap.Timep("stoppingTime", inst.StoppingTime),
		zap.Timep("stoppedTime", inst.StoppedTime))
	inst.StoppingTime = nil
	inst.StoppedTime = nil
}

func mapPorts(ports []*wsman.PortSpec) []core.InstancePort {
	out := make([]core.InstancePort, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		port := core.InstancePort{Port: p.Port, TargetPort: p.Target, URL: p.URL}
		switch p.Visibility {
		case wsman.PortVisibilityPublic:
			port.Visibility = core.PortVisibilityPublic
		default:
			port.Visibility = core.PortVisibilityPrivate
		}
		out = append(out, port)
	}
	return out
}

func workspaceType(t wsman.WorkspaceType) string {
	switch t {
	case wsman.TypePrebuild:
		return string(core.WorkspaceTypePrebuild)
	case wsman.TypeProbe:
		return string(core.WorkspaceTypeProbe)
	case wsman.TypeImageBuild:
		return string(core.WorkspaceTypeImageBuild)
	default:
		return string(core.WorkspaceTypeRegular)
	}
}

func firstNonEmpty(current, next string) string {
	if current != "" {
		return current
	}
	return next
}
