package core

import "time"

type PrebuildState string

const (
	PrebuildQueued    PrebuildState = "queued"
	PrebuildBuilding  PrebuildState = "building"
	PrebuildAborted   PrebuildState = "aborted"
	PrebuildTimeout   PrebuildState = "timeout"
	PrebuildFailed    PrebuildState = "failed"
	PrebuildAvailable PrebuildState = "available"
)

// IsTerminal returns true if the prebuild reached a final state.
func (s PrebuildState) IsTerminal() bool {
	switch s {
	case PrebuildAborted, PrebuildTimeout, PrebuildFailed, PrebuildAvailable:
		return true
	}
	return false
}

type PrebuiltWorkspace struct {
	ID               string        `json:"id"`
	ProjectID        string        `json:"projectId"`
	Branch           string        `json:"branch,omitempty"`
	BuildWorkspaceID string        `json:"buildWorkspaceId"`
	State            PrebuildState `json:"state"`
	Error            string        `json:"error,omitempty"`
	Snapshot         string        `json:"snapshot,omitempty"`
	StatusVersion    uint64        `json:"statusVersion"`
	CreationTime     time.Time     `json:"creationTime"`
}

// PrebuildInfo is the read model published alongside prebuild updates.
type PrebuildInfo struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	Branch           string    `json:"branch,omitempty"`
	BuildWorkspaceID string    `json:"buildWorkspaceId"`
	StartedAt        time.Time `json:"startedAt"`
}
