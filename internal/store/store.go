// Package store persists clusters, workspace instances, prebuilds and tokens.
package store

import (
	"context"
	"errors"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

var ErrNotFound = errors.New("store: not found")

type InstanceStore interface {
	FindInstanceByID(ctx context.Context, id string) (*core.WorkspaceInstance, error)
	// FindRunningInstances returns every non-stopped instance in region.
	// An empty region matches all regions.
	FindRunningInstances(ctx context.Context, region string) ([]core.RunningInstance, error)
	CountRunningInstances(ctx context.Context, region string) (int, error)
	StoreInstance(ctx context.Context, instance *core.WorkspaceInstance) error
	StoreWorkspace(ctx context.Context, ws core.Workspace) error
}

// ClusterFilter narrows FindClusters. Zero fields do not filter.
type ClusterFilter struct {
	State              core.ClusterState
	Govern             *bool
	ApplicationCluster string
	URL                string
}

type ClusterStore interface {
	FindClusterByName(ctx context.Context, name string) (*core.WorkspaceCluster, error)
	FindClusters(ctx context.Context, filter ClusterFilter) ([]core.WorkspaceCluster, error)
	// SaveCluster inserts or replaces the cluster with the same name.
	SaveCluster(ctx context.Context, cluster core.WorkspaceCluster) error
	DeleteClusterByName(ctx context.Context, name string) error
	// UpdateClusterClasses writes only the workspace class columns of name.
	UpdateClusterClasses(ctx context.Context, name string, classes []core.WorkspaceClass, preferred string) error
}

type PrebuildStore interface {
	FindPrebuildByWorkspaceID(ctx context.Context, workspaceID string) (*core.PrebuiltWorkspace, error)
	StorePrebuild(ctx context.Context, pb *core.PrebuiltWorkspace) error
	FindPrebuildInfo(ctx context.Context, prebuildID string) (*core.PrebuildInfo, error)
}

// Token is an API token owned by a user. Tokens minted for a workspace
// instance are named "<instanceID>-<purpose>".
type Token struct {
	Hash   string
	UserID string
	Name   string
}

type TokenStore interface {
	StoreToken(ctx context.Context, token Token) error
	// DeleteTokensNamedLike removes the user's tokens whose name matches the
	// SQL LIKE pattern and returns how many were removed.
	DeleteTokensNamedLike(ctx context.Context, userID, pattern string) (int64, error)
}

// Store is the full persistence surface of the bridge.
type Store interface {
	InstanceStore
	ClusterStore
	PrebuildStore
	TokenStore
}

func matchesFilter(c core.WorkspaceCluster, f ClusterFilter) bool {
	if f.State != "" && c.State != f.State {
		return false
	}
	if f.Govern != nil && c.Govern != *f.Govern {
		return false
	}
	if f.ApplicationCluster != "" && c.ApplicationCluster != f.ApplicationCluster {
		return false
	}
	if f.URL != "" && c.URL != f.URL {
		return false
	}
	return true
}
