package prebuild

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/publisher"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

// StoppedBySystemError is recorded on prebuilds whose instance the bridge force-stopped.
const StoppedBySystemError = "Prebuild was stopped by the system."

// Updater applies mapped transitions to prebuild records.
type Updater struct {
	prebuilds store.PrebuildStore
	pub       publisher.Publisher
	log       *zap.Logger
}

func NewUpdater(prebuilds store.PrebuildStore, pub publisher.Publisher, log *zap.Logger) *Updater {
	return &Updater{prebuilds: prebuilds, pub: pub, log: log.Named("prebuild")}
}

// UpdatePrebuild applies the transition implied by status to the prebuild
// built by the status' workspace.
func (u *Updater) UpdatePrebuild(ctx context.Context, status *wsman.WorkspaceStatus) error {
	workspaceID := status.Metadata.MetaID
	log := u.log.With(zap.String("workspaceId", workspaceID), zap.String("instanceId", status.ID))

	pb, err := u.prebuilds.FindPrebuildByWorkspaceID(ctx, workspaceID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("no prebuild found for prebuild workspace")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find prebuild: %w", err)
	}

	if status.StatusVersion <= pb.StatusVersion {
		if pb.StatusVersion > 0 {
			observability.StaleStatusUpdates.WithLabelValues("prebuild").Inc()
		}
		log.Debug("stale prebuild status update",
			zap.Uint64("statusVersion", status.StatusVersion),
			zap.Uint64("storedVersion", pb.StatusVersion))
		return nil
	}
	if pb.State.IsTerminal() {
		log.Debug("prebuild already terminal", zap.String("state", string(pb.State)))
		return nil
	}

	update, ok := MapStatus(status)
	if !ok {
		return nil
	}
	pb.StatusVersion = status.StatusVersion
	pb.State = update.State
	pb.Error = update.Error
	if update.Snapshot != "" {
		pb.Snapshot = update.Snapshot
	}
	if err := u.prebuilds.StorePrebuild(ctx, pb); err != nil {
		return fmt.Errorf("store prebuild %s: %w", pb.ID, err)
	}
	log.Info("prebuild updated", zap.String("prebuildId", pb.ID), zap.String("event", string(update.Event)))

	u.publish(ctx, pb, workspaceID, log)
	return nil
}

// StopPrebuildInstance aborts the prebuild of a force-stopped instance.
func (u *Updater) StopPrebuildInstance(ctx context.Context, ws core.Workspace, instance *core.WorkspaceInstance) error {
	if ws.Type != core.WorkspaceTypePrebuild {
		return nil
	}
	log := u.log.With(zap.String("workspaceId", ws.ID), zap.String("instanceId", instance.ID))

	pb, err := u.prebuilds.FindPrebuildByWorkspaceID(ctx, ws.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find prebuild: %w", err)
	}
	if pb.State.IsTerminal() {
		return nil
	}

	pb.State = core.PrebuildAborted
	pb.Error = StoppedBySystemError
	if err := u.prebuilds.StorePrebuild(ctx, pb); err != nil {
		return fmt.Errorf("store prebuild %s: %w", pb.ID, err)
	}
	log.Info("prebuild aborted", zap.String("prebuildId", pb.ID))

	u.publish(ctx, pb, ws.ID, log)
	return nil
}

func (u *Updater) publish(ctx context.Context, pb *core.PrebuiltWorkspace, workspaceID string, log *zap.Logger) {
	info, err := u.prebuilds.FindPrebuildInfo(ctx, pb.ID)
	if err != nil {
		log.Warn("cannot load prebuild info", zap.String("prebuildId", pb.ID), zap.Error(err))
		info = nil
	}
	err = u.pub.PublishPrebuildUpdate(ctx, publisher.PrebuildUpdate{
		ProjectID:   pb.ProjectID,
		PrebuildID:  pb.ID,
		WorkspaceID: workspaceID,
		State:       pb.State,
		Error:       pb.Error,
		Info:        info,
	})
	if err != nil {
		observability.PublishFailures.WithLabelValues("prebuild").Inc()
		log.Warn("cannot publish prebuild update", zap.String("prebuildId", pb.ID), zap.Error(err))
	}
}
