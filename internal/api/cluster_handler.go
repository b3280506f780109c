package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/admission"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

type BridgeResponse struct {
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Region   string            `json:"region,omitempty"`
	State    core.ClusterState `json:"state"`
	Score    int32             `json:"score"`
	MaxScore int32             `json:"max_score"`
}

// ListClusters lists every registered cluster plus the static ones.
func (a *API) ListClusters(w http.ResponseWriter, r *http.Request) {
	resp, err := a.clusters.List(r.Context(), &admission.ListRequest{})
	if err != nil {
		appErr := core.AsAppError(err)
		if appErr.Code == core.ErrInternal {
			a.log.Error("list clusters failed", zap.Error(err))
			appErr = core.NewAppError(core.ErrInternal, "failed to list clusters")
		}
		WriteError(w, appErr)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": resp.Status,
	})
}

// ListBridges lists the clusters with a running bridge.
func (a *API) ListBridges(w http.ResponseWriter, r *http.Request) {
	names := a.bridges.Bridges()
	resp := make([]BridgeResponse, 0, len(names))
	for _, name := range names {
		c, ok := a.bridges.Cluster(name)
		if !ok {
			// removed between the two calls
			continue
		}
		resp = append(resp, BridgeResponse{
			Name:     c.Name,
			URL:      c.URL,
			Region:   c.Region,
			State:    c.State,
			Score:    c.Score,
			MaxScore: c.MaxScore,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"bridges": resp,
	})
}
