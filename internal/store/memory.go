package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu         sync.RWMutex
	clusters   map[string]core.WorkspaceCluster
	workspaces map[string]core.Workspace
	instances  map[string]*core.WorkspaceInstance
	prebuilds  map[string]*core.PrebuiltWorkspace
	tokens     map[string]Token
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		clusters:   make(map[string]core.WorkspaceCluster),
		workspaces: make(map[string]core.Workspace),
		instances:  make(map[string]*core.WorkspaceInstance),
		prebuilds:  make(map[string]*core.PrebuiltWorkspace),
		tokens:     make(map[string]Token),
	}
}

func (m *Memory) FindInstanceByID(ctx context.Context, id string) (*core.WorkspaceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

func (m *Memory) FindRunningInstances(ctx context.Context, region string) ([]core.RunningInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.RunningInstance
	for _, inst := range m.instances {
		if inst.Status.Phase == core.PhaseStopped {
			continue
		}
		if region != "" && inst.Region != region {
			continue
		}
		ws, ok := m.workspaces[inst.WorkspaceID]
		if !ok {
			continue
		}
		out = append(out, core.RunningInstance{Workspace: ws, Instance: inst.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance.ID < out[j].Instance.ID })
	return out, nil
}

func (m *Memory) CountRunningInstances(ctx context.Context, region string) (int, error) {
	running, err := m.FindRunningInstances(ctx, region)
	return len(running), err
}

func (m *Memory) StoreInstance(ctx context.Context, instance *core.WorkspaceInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[instance.WorkspaceID]; !ok {
		return fmt.Errorf("store instance %s: unknown workspace %s", instance.ID, instance.WorkspaceID)
	}
	m.instances[instance.ID] = instance.Clone()
	return nil
}

func (m *Memory) StoreWorkspace(ctx context.Context, ws core.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[ws.ID] = ws
	return nil
}

func (m *Memory) FindClusterByName(ctx context.Context, name string) (*core.WorkspaceCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := c.Clone()
	return &out, nil
}

func (m *Memory) FindClusters(ctx context.Context, filter ClusterFilter) ([]core.WorkspaceCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.WorkspaceCluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		if matchesFilter(c, filter) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveCluster(ctx context.Context, cluster core.WorkspaceCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, existing := range m.clusters {
		if name != cluster.Name && existing.URL == cluster.URL {
			return fmt.Errorf("save cluster %s: url %s already used by %s", cluster.Name, cluster.URL, name)
		}
	}
	m.clusters[cluster.Name] = cluster.Clone()
	return nil
}

func (m *Memory) UpdateClusterClasses(ctx context.Context, name string, classes []core.WorkspaceClass, preferred string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[name]
	if !ok {
		return ErrNotFound
	}
	c.AvailableWorkspaceClasses = append([]core.WorkspaceClass(nil), classes...)
	c.PreferredWorkspaceClass = preferred
	m.clusters[name] = c
	return nil
}

func (m *Memory) DeleteClusterByName(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clusters, name)
	return nil
}

func (m *Memory) FindPrebuildByWorkspaceID(ctx context.Context, workspaceID string) (*core.PrebuiltWorkspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pb := range m.prebuilds {
		if pb.BuildWorkspaceID == workspaceID {
			out := *pb
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) StorePrebuild(ctx context.Context, pb *core.PrebuiltWorkspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *pb
	m.prebuilds[pb.ID] = &out
	return nil
}

func (m *Memory) FindPrebuildInfo(ctx context.Context, prebuildID string) (*core.PrebuildInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pb, ok := m.prebuilds[prebuildID]
	if !ok {
		return nil, ErrNotFound
	}
	return &core.PrebuildInfo{
		ID:               pb.ID,
		ProjectID:        pb.ProjectID,
		Branch:           pb.Branch,
		BuildWorkspaceID: pb.BuildWorkspaceID,
		StartedAt:        pb.CreationTime,
	}, nil
}

func (m *Memory) StoreToken(ctx context.Context, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Hash] = token
	return nil
}

func (m *Memory) DeleteTokensNamedLike(ctx context.Context, userID, pattern string) (int64, error) {
	re, err := likePattern(pattern)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, tok := range m.tokens {
		if tok.UserID == userID && re.MatchString(tok.Name) {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}

// Tokens returns the stored tokens of userID sorted by name.
func (m *Memory) Tokens(userID string) []Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Token
	for _, tok := range m.tokens {
		if tok.UserID == userID {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// likePattern compiles a SQL LIKE pattern (% and _ wildcards).
func likePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
