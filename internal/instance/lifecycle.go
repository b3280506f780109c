// Package instance owns the terminal transitions of workspace instances and
// the sweeps that force-stop instances the clusters lost track of.
package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/analytics"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/prebuild"
	"github.com/gitpod-io/gitpod-sub012/internal/publisher"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
)

// Lifecycle runs the side effects shared by the stream path and the sweeps.
type Lifecycle struct {
	instances store.InstanceStore
	tokens    store.TokenStore
	prebuilds *prebuild.Updater
	pub       publisher.Publisher
	analytics analytics.Writer
	log       *zap.Logger
}

func NewLifecycle(
	instances store.InstanceStore,
	tokens store.TokenStore,
	prebuilds *prebuild.Updater,
	pub publisher.Publisher,
	aw analytics.Writer,
	log *zap.Logger,
) *Lifecycle {
	return &Lifecycle{
		instances: instances,
		tokens:    tokens,
		prebuilds: prebuilds,
		pub:       pub,
		analytics: aw,
		log:       log,
	}
}

// StoppedMessage is the status message of an instance the bridge force-stopped.
func StoppedMessage(previous core.InstancePhase) string {
	return fmt.Sprintf("Stopped by ws-manager-bridge. Previously in phase %s", previous)
}

// MarkStopped force-transitions an instance to stopped. It re-reads the
// instance first and does nothing if it stopped, or if its status version or
// phase moved on since info was read.
func (l *Lifecycle) MarkStopped(ctx context.Context, info core.RunningInstance, now time.Time) error {
	ctx, span := observability.StartSpan(ctx, "markWorkspaceInstanceAsStopped",
		attribute.String("instanceId", info.Instance.ID),
		attribute.String("workspaceId", info.Workspace.ID))
	defer span.End()

	inst, err := l.instances.FindInstanceByID(ctx, info.Instance.ID)
	if err != nil {
		return fmt.Errorf("reload instance %s: %w", info.Instance.ID, err)
	}
	if inst.Status.Phase == core.PhaseStopped {
		return nil
	}
	if inst.StatusVersion != info.Instance.StatusVersion || inst.Status.Phase != info.Instance.Status.Phase {
		l.log.Debug("instance changed since the sweep read it, not stopping",
			zap.String("instanceId", inst.ID),
			zap.String("phase", string(inst.Status.Phase)),
			zap.Uint64("statusVersion", inst.StatusVersion))
		return nil
	}

	previous := inst.Status.Phase
	if inst.StoppingTime == nil {
		inst.StoppingTime = core.TimePtr(now)
	}
	if inst.StoppedTime == nil {
		inst.StoppedTime = core.TimePtr(now)
	}
	inst.Status.Message = StoppedMessage(previous)
	inst.Status.Phase = core.PhaseStopped
	observability.InstancesMarkedStopped.WithLabelValues(string(previous)).Inc()

	if err := l.instances.StoreInstance(ctx, inst); err != nil {
		return fmt.Errorf("store instance %s: %w", inst.ID, err)
	}

	var errs []error
	if err := l.OnStopped(ctx, info.Workspace.OwnerID, inst); err != nil {
		errs = append(errs, err)
	}
	l.PublishInstanceUpdate(ctx, info.Workspace.OwnerID, inst)
	if err := l.prebuilds.StopPrebuildInstance(ctx, info.Workspace, inst); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OnStopped cleans up after an instance reached stopped. Call it only after
// the stopped instance is persisted.
func (l *Lifecycle) OnStopped(ctx context.Context, ownerID string, inst *core.WorkspaceInstance) error {
	ctx, span := observability.StartSpan(ctx, "onInstanceStopped", attribute.String("instanceId", inst.ID))
	defer span.End()

	if _, err := l.tokens.DeleteTokensNamedLike(ctx, ownerID, inst.ID+"-%"); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete tokens of %s: %w", inst.ID, err)
	}

	props := map[string]interface{}{
		"instanceId":  inst.ID,
		"workspaceId": inst.WorkspaceID,
		"region":      inst.Region,
	}
	if inst.StartedTime != nil && inst.StoppingTime != nil {
		props["runningSeconds"] = inst.StoppingTime.Sub(*inst.StartedTime).Seconds()
	}
	l.analytics.Track(ctx, analytics.Event{
		UserID:     ownerID,
		Event:      analytics.EventWorkspaceStopped,
		MessageID:  "bridge-wsstopped-" + inst.ID,
		Properties: props,
	})
	return nil
}

// PublishInstanceUpdate notifies listeners. Failures are logged and counted.
func (l *Lifecycle) PublishInstanceUpdate(ctx context.Context, ownerID string, inst *core.WorkspaceInstance) {
	err := l.pub.PublishInstanceUpdate(ctx, publisher.InstanceUpdate{
		OwnerID:     ownerID,
		InstanceID:  inst.ID,
		WorkspaceID: inst.WorkspaceID,
	})
	if err != nil {
		observability.PublishFailures.WithLabelValues("instance").Inc()
		observability.InstanceLogger(l.log, inst.ID, inst.WorkspaceID, ownerID).
			Warn("cannot publish instance update", zap.Error(err))
	}
}
