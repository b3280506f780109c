package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
)

// InstanceResponse is a workspace instance without its owner token.
type InstanceResponse struct {
	ID            string                  `json:"id"`
	WorkspaceID   string                  `json:"workspace_id"`
	Region        string                  `json:"region"`
	Phase         core.InstancePhase      `json:"phase"`
	StatusVersion uint64                  `json:"status_version"`
	IDEURL        string                  `json:"ide_url,omitempty"`
	Message       string                  `json:"message,omitempty"`
	Conditions    core.InstanceConditions `json:"conditions"`
	ExposedPorts  []core.InstancePort     `json:"exposed_ports,omitempty"`
	NodeName      string                  `json:"node_name,omitempty"`
	PodName       string                  `json:"pod_name,omitempty"`
	CreationTime  string                  `json:"creation_time"`
	DeployedTime  string                  `json:"deployed_time,omitempty"`
	StartedTime   string                  `json:"started_time,omitempty"`
	StoppingTime  string                  `json:"stopping_time,omitempty"`
	StoppedTime   string                  `json:"stopped_time,omitempty"`
}

// GetInstance gets a single workspace instance by id.
func (a *API) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inst, err := a.instances.FindInstanceByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, core.NewAppError(core.ErrNotFound, "instance not found"))
		return
	}
	if err != nil {
		a.log.Error("get instance failed", zap.String("instanceId", id), zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to get instance"))
		return
	}

	WriteJSON(w, http.StatusOK, instanceToResponse(inst))
}

func instanceToResponse(inst *core.WorkspaceInstance) InstanceResponse {
	return InstanceResponse{
		ID:            inst.ID,
		WorkspaceID:   inst.WorkspaceID,
		Region:        inst.Region,
		Phase:         inst.Status.Phase,
		StatusVersion: inst.StatusVersion,
		IDEURL:        inst.IDEURL,
		Message:       inst.Status.Message,
		Conditions:    inst.Status.Conditions,
		ExposedPorts:  inst.Status.ExposedPorts,
		NodeName:      inst.Status.NodeName,
		PodName:       inst.Status.PodName,
		CreationTime:  inst.CreationTime.Format(time.RFC3339),
		DeployedTime:  formatTime(inst.DeployedTime),
		StartedTime:   formatTime(inst.StartedTime),
		StoppingTime:  formatTime(inst.StoppingTime),
		StoppedTime:   formatTime(inst.StoppedTime),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
