// Package clusters reads statically configured workspace clusters.
//
// Static clusters are bridged like registered ones but never live in the
// database, so admission cannot update or deregister them.
package clusters

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

type File struct {
	Clusters []core.WorkspaceCluster `yaml:"clusters"`
}

// Load reads the static cluster file at path. An empty path yields no clusters.
func Load(path string) ([]core.WorkspaceCluster, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static clusters: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a static cluster file. Clusters default to
// available and governed.
func Parse(b []byte) ([]core.WorkspaceCluster, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse static clusters: %w", err)
	}

	names := make(map[string]bool, len(f.Clusters))
	urls := make(map[string]bool, len(f.Clusters))
	out := make([]core.WorkspaceCluster, 0, len(f.Clusters))
	for i, c := range f.Clusters {
		if c.Name == "" || c.URL == "" {
			return nil, fmt.Errorf("static cluster #%d: name and url are required", i)
		}
		if names[c.Name] {
			return nil, fmt.Errorf("static cluster %s: duplicate name", c.Name)
		}
		if urls[c.URL] {
			return nil, fmt.Errorf("static cluster %s: duplicate url %s", c.Name, c.URL)
		}
		names[c.Name] = true
		urls[c.URL] = true

		switch c.State {
		case "":
			c.State = core.ClusterAvailable
		case core.ClusterAvailable, core.ClusterCordoned, core.ClusterDraining:
		default:
			return nil, fmt.Errorf("static cluster %s: unknown state %q", c.Name, c.State)
		}
		for _, ac := range c.AdmissionConstraints {
			if err := ac.Validate(); err != nil {
				return nil, fmt.Errorf("static cluster %s: %w", c.Name, err)
			}
		}
		if c.MaxScore == 0 {
			c.MaxScore = 100
		}
		c.Govern = true
		out = append(out, c)
	}
	return out, nil
}
