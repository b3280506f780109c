package prebuild

import (
	"testing"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

func stopping(c wsman.WorkspaceConditions) *wsman.WorkspaceStatus {
	return &wsman.WorkspaceStatus{ID: "i1", Phase: wsman.PhaseStopping, Conditions: &c}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name   string
		status *wsman.WorkspaceStatus
		want   Update
		ok     bool
	}{
		{
			name:   "timeout beats failed",
			status: stopping(wsman.WorkspaceConditions{Timeout: "deadline exceeded", Failed: "oom"}),
			want:   Update{State: core.PrebuildTimeout, Error: "deadline exceeded", Event: EventTimeout},
			ok:     true,
		},
		{
			name:   "failed beats cancellation",
			status: stopping(wsman.WorkspaceConditions{Failed: "oom", StoppedByRequest: wsman.ConditionTrue}),
			want:   Update{State: core.PrebuildFailed, Error: "oom", Event: EventFailed},
			ok:     true,
		},
		{
			name:   "cancellation beats headless failure",
			status: stopping(wsman.WorkspaceConditions{StoppedByRequest: wsman.ConditionTrue, HeadlessTaskFailed: "exit 1"}),
			want:   Update{State: core.PrebuildAborted, Error: CancelledError, Event: EventAborted},
			ok:     true,
		},
		{
			name:   "headless failure is still available",
			status: stopping(wsman.WorkspaceConditions{HeadlessTaskFailed: "exit 1", Snapshot: "snap-1"}),
			want:   Update{State: core.PrebuildAvailable, Snapshot: "snap-1", Error: "exit 1", Event: EventAvailable},
			ok:     true,
		},
		{
			name:   "snapshot",
			status: stopping(wsman.WorkspaceConditions{Snapshot: "snap-1"}),
			want:   Update{State: core.PrebuildAvailable, Snapshot: "snap-1", Event: EventAvailable},
			ok:     true,
		},
		{
			name:   "stopped by request false is ignored",
			status: stopping(wsman.WorkspaceConditions{StoppedByRequest: wsman.ConditionFalse}),
		},
		{
			name:   "stopping without outcome",
			status: stopping(wsman.WorkspaceConditions{}),
		},
		{
			name:   "stopped is a no-op",
			status: &wsman.WorkspaceStatus{Phase: wsman.PhaseStopped, Conditions: &wsman.WorkspaceConditions{Snapshot: "snap-1"}},
		},
		{
			name:   "running is building",
			status: &wsman.WorkspaceStatus{Phase: wsman.PhaseRunning, Conditions: &wsman.WorkspaceConditions{}},
			want:   Update{State: core.PrebuildBuilding, Event: EventBuilding},
			ok:     true,
		},
		{
			name:   "pending is building",
			status: &wsman.WorkspaceStatus{Phase: wsman.PhasePending},
			want:   Update{State: core.PrebuildBuilding, Event: EventBuilding},
			ok:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MapStatus(tt.status)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("MapStatus() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
			again, _ := MapStatus(tt.status)
			if again != got {
				t.Fatalf("MapStatus is not deterministic: %+v vs %+v", again, got)
			}
		})
	}
}
