// Package wsman is the client surface of a workspace cluster's manager:
// workspace status listing, the status stream and cluster description.
//
// Beware of the ID mapping: a "workspace" to the manager is a workspace
// instance to the rest of the system. WorkspaceStatus.ID is the instance ID,
// WorkspaceMetadata.MetaID is the workspace ID.
package wsman

import "google.golang.org/protobuf/types/known/timestamppb"

type WorkspacePhase int32

const (
	PhaseUnknown      WorkspacePhase = 0
	PhasePending      WorkspacePhase = 1
	PhaseCreating     WorkspacePhase = 2
	PhaseInitializing WorkspacePhase = 3
	PhaseRunning      WorkspacePhase = 4
	PhaseInterrupted  WorkspacePhase = 7
	PhaseStopping     WorkspacePhase = 5
	PhaseStopped      WorkspacePhase = 6
)

func (p WorkspacePhase) String() string {
	switch p {
	case PhasePending:
		return "PENDING"
	case PhaseCreating:
		return "CREATING"
	case PhaseInitializing:
		return "INITIALIZING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseInterrupted:
		return "INTERRUPTED"
	case PhaseStopping:
		return "STOPPING"
	case PhaseStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

type ConditionBool int32

const (
	ConditionEmpty ConditionBool = 0
	ConditionTrue  ConditionBool = 1
	ConditionFalse ConditionBool = 2
)

// Bool maps the tri-state to nil (unset), true or false.
func (b ConditionBool) Bool() *bool {
	switch b {
	case ConditionTrue:
		v := true
		return &v
	case ConditionFalse:
		v := false
		return &v
	default:
		return nil
	}
}

type WorkspaceType int32

const (
	TypeRegular    WorkspaceType = 0
	TypePrebuild   WorkspaceType = 1
	TypeProbe      WorkspaceType = 2
	TypeGhost      WorkspaceType = 3
	TypeImageBuild WorkspaceType = 4
)

type PortVisibility int32

const (
	PortVisibilityUnset   PortVisibility = 0
	PortVisibilityPrivate PortVisibility = 1
	PortVisibilityPublic  PortVisibility = 2
)

type PortSpec struct {
	Port       uint32         `json:"port"`
	Target     uint32         `json:"target,omitempty"`
	Visibility PortVisibility `json:"visibility,omitempty"`
	URL        string         `json:"url,omitempty"`
}

type WorkspaceMetadata struct {
	Owner     string                 `json:"owner"`
	MetaID    string                 `json:"metaId"`
	StartedAt *timestamppb.Timestamp `json:"startedAt,omitempty"`
}

type WorkspaceSpec struct {
	WorkspaceImage string        `json:"workspaceImage,omitempty"`
	URL            string        `json:"url,omitempty"`
	Type           WorkspaceType `json:"type,omitempty"`
	ExposedPorts   []*PortSpec   `json:"exposedPorts,omitempty"`
	Timeout        string        `json:"timeout,omitempty"`
	Class          string        `json:"class,omitempty"`
}

type WorkspaceConditions struct {
	Failed             string                 `json:"failed,omitempty"`
	Timeout            string                 `json:"timeout,omitempty"`
	PullingImages      ConditionBool          `json:"pullingImages,omitempty"`
	Snapshot           string                 `json:"snapshot,omitempty"`
	Deployed           ConditionBool          `json:"deployed,omitempty"`
	FirstUserActivity  *timestamppb.Timestamp `json:"firstUserActivity,omitempty"`
	HeadlessTaskFailed string                 `json:"headlessTaskFailed,omitempty"`
	StoppedByRequest   ConditionBool          `json:"stoppedByRequest,omitempty"`
}

type WorkspaceRuntimeInfo struct {
	NodeName string `json:"nodeName,omitempty"`
	PodName  string `json:"podName,omitempty"`
	NodeIP   string `json:"nodeIp,omitempty"`
}

type WorkspaceAuthentication struct {
	OwnerToken string `json:"ownerToken,omitempty"`
}

type WorkspaceStatus struct {
	ID            string                   `json:"id"`
	StatusVersion uint64                   `json:"statusVersion"`
	Metadata      *WorkspaceMetadata       `json:"metadata,omitempty"`
	Spec          *WorkspaceSpec           `json:"spec,omitempty"`
	Phase         WorkspacePhase           `json:"phase"`
	Conditions    *WorkspaceConditions     `json:"conditions,omitempty"`
	Message       string                   `json:"message,omitempty"`
	Runtime       *WorkspaceRuntimeInfo    `json:"runtime,omitempty"`
	Auth          *WorkspaceAuthentication `json:"auth,omitempty"`
}

type GetWorkspacesRequest struct{}

type GetWorkspacesResponse struct {
	Status []*WorkspaceStatus `json:"status"`
}

type SubscribeRequest struct{}

type SubscribeResponse struct {
	Status *WorkspaceStatus `json:"status,omitempty"`
}

type DescribeClusterRequest struct{}

type WorkspaceClass struct {
	ID               string  `json:"id"`
	DisplayName      string  `json:"displayName,omitempty"`
	Description      string  `json:"description,omitempty"`
	CreditsPerMinute float32 `json:"creditsPerMinute,omitempty"`
}

type DescribeClusterResponse struct {
	WorkspaceClasses        []*WorkspaceClass `json:"workspaceClasses"`
	PreferredWorkspaceClass string            `json:"preferredWorkspaceClass,omitempty"`
}
