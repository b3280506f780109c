// Package admission lets workspace clusters register with this installation
// and lets operators tune their scheduling score, cordon them or remove them.
package admission

import "github.com/gitpod-io/gitpod-sub012/internal/core"

type Preferability int32

const (
	PreferabilityNone         Preferability = 0
	PreferabilityPrefer       Preferability = 1
	PreferabilityDontSchedule Preferability = 2
)

// Score maps a preferability to the initial scheduling score.
func (p Preferability) Score() (int32, bool) {
	switch p {
	case PreferabilityPrefer:
		return 100, true
	case PreferabilityNone:
		return 50, true
	case PreferabilityDontSchedule:
		return 0, true
	}
	return 0, false
}

type RegistrationHints struct {
	Preferability Preferability `json:"preferability,omitempty"`
	Cordoned      bool          `json:"cordoned,omitempty"`
	Govern        bool          `json:"govern,omitempty"`
}

type RegisterRequest struct {
	Name                 string                     `json:"name"`
	URL                  string                     `json:"url"`
	Region               string                     `json:"region,omitempty"`
	TLS                  *core.TLSConfig            `json:"tls,omitempty"`
	Hints                *RegistrationHints         `json:"hints,omitempty"`
	AdmissionConstraints []core.AdmissionConstraint `json:"admissionConstraints,omitempty"`
}

type RegisterResponse struct{}

// ConstraintDelta adds or removes a single admission constraint.
type ConstraintDelta struct {
	Add        bool                     `json:"add"`
	Constraint core.AdmissionConstraint `json:"constraint"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	Name                string           `json:"name"`
	Score               *int32           `json:"score,omitempty"`
	MaxScore            *int32           `json:"maxScore,omitempty"`
	Cordoned            *bool            `json:"cordoned,omitempty"`
	AdmissionConstraint *ConstraintDelta `json:"admissionConstraint,omitempty"`
}

type UpdateResponse struct{}

type DeregisterRequest struct {
	Name  string `json:"name"`
	Force bool   `json:"force,omitempty"`
}

type DeregisterResponse struct{}

type ListRequest struct{}

type ClusterStatus struct {
	Name                 string                     `json:"name"`
	URL                  string                     `json:"url"`
	Region               string                     `json:"region,omitempty"`
	State                core.ClusterState          `json:"state"`
	Score                int32                      `json:"score"`
	MaxScore             int32                      `json:"maxScore"`
	Governed             bool                       `json:"governed"`
	AdmissionConstraints []core.AdmissionConstraint `json:"admissionConstraints,omitempty"`
	WorkspaceClasses     []core.WorkspaceClass      `json:"workspaceClasses,omitempty"`
	PreferredClass       string                     `json:"preferredClass,omitempty"`
	// Static clusters come from configuration and cannot be changed here.
	Static bool `json:"static,omitempty"`
}

type ListResponse struct {
	Status []ClusterStatus `json:"status"`
}

func statusOf(c core.WorkspaceCluster, static bool) ClusterStatus {
	return ClusterStatus{
		Name:                 c.Name,
		URL:                  c.URL,
		Region:               c.Region,
		State:                c.State,
		Score:                c.Score,
		MaxScore:             c.MaxScore,
		Governed:             c.Govern,
		AdmissionConstraints: c.AdmissionConstraints,
		WorkspaceClasses:     c.AvailableWorkspaceClasses,
		PreferredClass:       c.PreferredWorkspaceClass,
		Static:               static,
	}
}
