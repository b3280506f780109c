package core

import "time"

type InstancePhase string

const (
	PhasePreparing    InstancePhase = "preparing"
	PhaseBuilding     InstancePhase = "building"
	PhasePending      InstancePhase = "pending"
	PhaseCreating     InstancePhase = "creating"
	PhaseInitializing InstancePhase = "initializing"
	PhaseRunning      InstancePhase = "running"
	PhaseInterrupted  InstancePhase = "interrupted"
	PhaseStopping     InstancePhase = "stopping"
	PhaseStopped      InstancePhase = "stopped"
	PhaseUnknown      InstancePhase = "unknown"
)

// IsAppClusterManaged reports phases that exist before a workspace cluster owns the instance.
func (p InstancePhase) IsAppClusterManaged() bool {
	switch p {
	case PhasePreparing, PhaseBuilding, PhaseUnknown:
		return true
	}
	return false
}

type WorkspaceType string

const (
	WorkspaceTypeRegular    WorkspaceType = "regular"
	WorkspaceTypePrebuild   WorkspaceType = "prebuild"
	WorkspaceTypeProbe      WorkspaceType = "probe"
	WorkspaceTypeImageBuild WorkspaceType = "imagebuild"
)

type PortVisibility string

const (
	PortVisibilityPrivate PortVisibility = "private"
	PortVisibilityPublic  PortVisibility = "public"
)

type InstancePort struct {
	Port       uint32         `json:"port"`
	TargetPort uint32         `json:"targetPort,omitempty"`
	Visibility PortVisibility `json:"visibility,omitempty"`
	URL        string         `json:"url,omitempty"`
}

// InstanceConditions mirrors the conditions reported by a workspace cluster.
// Tri-state conditions are nil while unset.
type InstanceConditions struct {
	Failed             string     `json:"failed,omitempty"`
	Timeout            string     `json:"timeout,omitempty"`
	HeadlessTaskFailed string     `json:"headlessTaskFailed,omitempty"`
	PullingImages      *bool      `json:"pullingImages,omitempty"`
	Deployed           *bool      `json:"deployed,omitempty"`
	StoppedByRequest   *bool      `json:"stoppedByRequest,omitempty"`
	FirstUserActivity  *time.Time `json:"firstUserActivity,omitempty"`
}

type InstanceStatus struct {
	Phase        InstancePhase      `json:"phase"`
	Conditions   InstanceConditions `json:"conditions"`
	ExposedPorts []InstancePort     `json:"exposedPorts,omitempty"`
	Message      string             `json:"message,omitempty"`
	OwnerToken   string             `json:"ownerToken,omitempty"`
	Timeout      string             `json:"timeout,omitempty"`
	NodeName     string             `json:"nodeName,omitempty"`
	PodName      string             `json:"podName,omitempty"`
	NodeIP       string             `json:"nodeIp,omitempty"`
}

type WorkspaceInstance struct {
	ID            string         `json:"id"`
	WorkspaceID   string         `json:"workspaceId"`
	Region        string         `json:"region"`
	StatusVersion uint64         `json:"statusVersion"`
	IDEURL        string         `json:"ideUrl,omitempty"`
	CreationTime  time.Time      `json:"creationTime"`
	DeployedTime  *time.Time     `json:"deployedTime,omitempty"`
	StartedTime   *time.Time     `json:"startedTime,omitempty"`
	StoppingTime  *time.Time     `json:"stoppingTime,omitempty"`
	StoppedTime   *time.Time     `json:"stoppedTime,omitempty"`
	Status        InstanceStatus `json:"status"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (i *WorkspaceInstance) Clone() *WorkspaceInstance {
	if i == nil {
		return nil
	}
	out := *i
	out.DeployedTime = cloneTime(i.DeployedTime)
	out.StartedTime = cloneTime(i.StartedTime)
	out.StoppingTime = cloneTime(i.StoppingTime)
	out.StoppedTime = cloneTime(i.StoppedTime)
	out.Status.ExposedPorts = append([]InstancePort(nil), i.Status.ExposedPorts...)
	c := &out.Status.Conditions
	c.PullingImages = cloneBool(i.Status.Conditions.PullingImages)
	c.Deployed = cloneBool(i.Status.Conditions.Deployed)
	c.StoppedByRequest = cloneBool(i.Status.Conditions.StoppedByRequest)
	c.FirstUserActivity = cloneTime(i.Status.Conditions.FirstUserActivity)
	return &out
}

type Workspace struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"ownerId"`
	Type      WorkspaceType `json:"type"`
	ProjectID string        `json:"projectId,omitempty"`
}

// RunningInstance pairs a non-stopped instance with its workspace.
type RunningInstance struct {
	Workspace Workspace
	Instance  *WorkspaceInstance
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// TimePtr is a convenience for optional timestamps.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// BoolPtr is a convenience for tri-state conditions.
func BoolPtr(b bool) *bool {
	return &b
}
