package core

type ClusterState string

const (
	ClusterAvailable ClusterState = "available"
	ClusterCordoned  ClusterState = "cordoned"
	ClusterDraining  ClusterState = "draining"
)

// CordonedState maps the cordoned flag of a registration or update request.
func CordonedState(cordoned bool) ClusterState {
	if cordoned {
		return ClusterCordoned
	}
	return ClusterAvailable
}

// TLSConfig holds base64-encoded PEM material, exactly as supplied by the client.
type TLSConfig struct {
	CA  string `json:"ca,omitempty" yaml:"ca"`
	Crt string `json:"crt,omitempty" yaml:"crt"`
	Key string `json:"key,omitempty" yaml:"key"`
}

func (t TLSConfig) IsZero() bool {
	return t.CA == "" && t.Crt == "" && t.Key == ""
}

type ConstraintType string

const (
	ConstraintHasFeaturePreview ConstraintType = "has-feature-preview"
	ConstraintHasPermission     ConstraintType = "has-permission"
	ConstraintHasClass          ConstraintType = "has-class"
)

type AdmissionConstraint struct {
	Type  ConstraintType `json:"type" yaml:"type"`
	Value string         `json:"value,omitempty" yaml:"value"`
}

// Validate checks that the constraint type is known and carries a value where one is needed.
func (c AdmissionConstraint) Validate() error {
	switch c.Type {
	case ConstraintHasFeaturePreview:
		return nil
	case ConstraintHasPermission, ConstraintHasClass:
		if c.Value == "" {
			return NewAppError(ErrInvalidArgument, "admission constraint "+string(c.Type)+" requires a value")
		}
		return nil
	default:
		return NewAppError(ErrInvalidArgument, "unknown admission constraint type "+string(c.Type))
	}
}

type WorkspaceClass struct {
	ID               string  `json:"id" yaml:"id"`
	DisplayName      string  `json:"displayName,omitempty" yaml:"displayName"`
	Description      string  `json:"description,omitempty" yaml:"description"`
	CreditsPerMinute float32 `json:"creditsPerMinute,omitempty" yaml:"creditsPerMinute"`
}

type WorkspaceCluster struct {
	Name                      string                `json:"name" yaml:"name"`
	URL                       string                `json:"url" yaml:"url"`
	TLS                       TLSConfig             `json:"tls" yaml:"tls"`
	Region                    string                `json:"region" yaml:"region"`
	State                     ClusterState          `json:"state" yaml:"state"`
	Score                     int32                 `json:"score" yaml:"score"`
	MaxScore                  int32                 `json:"maxScore" yaml:"maxScore"`
	Govern                    bool                  `json:"govern" yaml:"govern"`
	ApplicationCluster        string                `json:"applicationCluster" yaml:"applicationCluster"`
	AdmissionConstraints      []AdmissionConstraint `json:"admissionConstraints,omitempty" yaml:"admissionConstraints"`
	AvailableWorkspaceClasses []WorkspaceClass      `json:"availableWorkspaceClasses,omitempty" yaml:"availableWorkspaceClasses"`
	PreferredWorkspaceClass   string                `json:"preferredWorkspaceClass,omitempty" yaml:"preferredWorkspaceClass"`
}

// HasConstraint reports whether an identical constraint is already attached.
func (c *WorkspaceCluster) HasConstraint(ac AdmissionConstraint) bool {
	for _, existing := range c.AdmissionConstraints {
		if existing == ac {
			return true
		}
	}
	return false
}

// AddConstraint attaches ac unless it is already present.
func (c *WorkspaceCluster) AddConstraint(ac AdmissionConstraint) {
	if c.HasConstraint(ac) {
		return
	}
	c.AdmissionConstraints = append(c.AdmissionConstraints, ac)
}

// RemoveConstraint drops every constraint matching ac by type and value.
func (c *WorkspaceCluster) RemoveConstraint(ac AdmissionConstraint) {
	kept := c.AdmissionConstraints[:0]
	for _, existing := range c.AdmissionConstraints {
		if existing != ac {
			kept = append(kept, existing)
		}
	}
	c.AdmissionConstraints = kept
}

// ConnectionFingerprint changes whenever the way we dial the cluster changes.
func (c *WorkspaceCluster) ConnectionFingerprint() string {
	return Fingerprint(map[string]interface{}{
		"url": c.URL,
		"tls": c.TLS,
	})
}

// Clone returns a deep copy.
func (c WorkspaceCluster) Clone() WorkspaceCluster {
	out := c
	out.AdmissionConstraints = append([]AdmissionConstraint(nil), c.AdmissionConstraints...)
	out.AvailableWorkspaceClasses = append([]WorkspaceClass(nil), c.AvailableWorkspaceClasses...)
	return out
}
