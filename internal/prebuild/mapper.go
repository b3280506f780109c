// Package prebuild derives prebuild state from the status of the headless
// workspace instance that builds it.
package prebuild

import (
	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

type EventType string

const (
	EventTimeout   EventType = "prebuild_timeout"
	EventFailed    EventType = "prebuild_failed"
	EventAborted   EventType = "prebuild_aborted"
	EventAvailable EventType = "prebuild_available"
	EventBuilding  EventType = "prebuild_building"
)

// CancelledError is recorded on prebuilds stopped by an explicit request.
const CancelledError = "Cancelled"

type Update struct {
	State    core.PrebuildState
	Error    string
	Snapshot string
	Event    EventType
}

// MapStatus maps a workspace status to the prebuild transition it implies.
// It returns false while the outcome is not yet known.
//
// Only a stopping status is trusted for the outcome. When several conditions
// are set, timeout wins over failed, failed over a cancellation, and a
// cancellation over a failed headless task.
func MapStatus(status *wsman.WorkspaceStatus) (Update, bool) {
	switch status.Phase {
	case wsman.PhaseStopping:
		return mapStopping(status)
	case wsman.PhaseStopped:
		return Update{}, false
	default:
		return Update{State: core.PrebuildBuilding, Event: EventBuilding}, true
	}
}

func mapStopping(status *wsman.WorkspaceStatus) (Update, bool) {
	c := status.Conditions
	if c == nil {
		return Update{}, false
	}
	switch {
	case c.Timeout != "":
		return Update{State: core.PrebuildTimeout, Error: c.Timeout, Event: EventTimeout}, true
	case c.Failed != "":
		return Update{State: core.PrebuildFailed, Error: c.Failed, Event: EventFailed}, true
	case c.StoppedByRequest == wsman.ConditionTrue:
		return Update{State: core.PrebuildAborted, Error: CancelledError, Event: EventAborted}, true
	case c.HeadlessTaskFailed != "":
		return Update{State: core.PrebuildAvailable, Snapshot: c.Snapshot, Error: c.HeadlessTaskFailed, Event: EventAvailable}, true
	case c.Snapshot != "":
		return Update{State: core.PrebuildAvailable, Snapshot: c.Snapshot, Event: EventAvailable}, true
	}
	return Update{}, false
}
