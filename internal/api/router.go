// Package api serves the read-only admin HTTP surface of the bridge.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/admission"
	"github.com/gitpod-io/gitpod-sub012/internal/api/middleware"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
)

// ClusterLister lists registered and static clusters.
type ClusterLister interface {
	List(ctx context.Context, req *admission.ListRequest) (*admission.ListResponse, error)
}

// BridgeLister reports the clusters that currently have a running bridge.
type BridgeLister interface {
	Bridges() []string
	Cluster(name string) (core.WorkspaceCluster, bool)
}

// Pinger checks a dependency the daemon cannot work without.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	clusters  ClusterLister
	bridges   BridgeLister
	instances store.InstanceStore
	db        Pinger
	log       *zap.Logger
}

// NewAPI wires the handlers. db may be nil when running on the in-memory store.
func NewAPI(clusters ClusterLister, bridges BridgeLister, instances store.InstanceStore, db Pinger, log *zap.Logger) *API {
	return &API{
		clusters:  clusters,
		bridges:   bridges,
		instances: instances,
		db:        db,
		log:       log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger)
	r.Use(chiMiddleware.AllowContentType("application/json"))

	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/clusters", a.ListClusters)
		r.Get("/bridges", a.ListBridges)
		r.Get("/instances/{id}", a.GetInstance)
	})

	return r
}
