package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/gitpod-io/gitpod-sub012/internal/analytics"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/instance"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/prebuild"
	"github.com/gitpod-io/gitpod-sub012/internal/publisher"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

var (
	created = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now     = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	store      *store.Memory
	pub        *publisher.Recorder
	analytics  *analytics.Recorder
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	pub := &publisher.Recorder{}
	rec := &analytics.Recorder{}
	log := zap.NewNop()
	updater := prebuild.NewUpdater(mem, pub, log)
	lifecycle := instance.NewLifecycle(mem, mem, updater, pub, rec, log)
	r := NewReconciler("eu01", mem, updater, lifecycle, rec, log)
	r.now = func() time.Time { return now }
	t.Cleanup(r.Stop)
	return &fixture{store: mem, pub: pub, analytics: rec, reconciler: r}
}

func (f *fixture) seed(t *testing.T, wsType core.WorkspaceType, inst core.WorkspaceInstance) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.StoreWorkspace(ctx, core.Workspace{ID: inst.WorkspaceID, OwnerID: "u1", Type: wsType, ProjectID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.StoreInstance(ctx, &inst); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) get(t *testing.T, id string) *core.WorkspaceInstance {
	t.Helper()
	inst, err := f.store.FindInstanceByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func (f *fixture) apply(t *testing.T, s *wsman.WorkspaceStatus) {
	t.Helper()
	if err := f.reconciler.handleStatusUpdate(context.Background(), s); err != nil {
		t.Fatalf("handleStatusUpdate: %v", err)
	}
}

func status(version uint64, phase wsman.WorkspacePhase, c wsman.WorkspaceConditions) *wsman.WorkspaceStatus {
	return &wsman.WorkspaceStatus{
		ID:            "i1",
		StatusVersion: version,
		Metadata:      &wsman.WorkspaceMetadata{Owner: "u1", MetaID: "ws1"},
		Spec:          &wsman.WorkspaceSpec{URL: "https://ws1.example.com", Type: wsman.TypeRegular},
		Phase:         phase,
		Conditions:    &c,
	}
}

func runningInstance(version uint64) core.WorkspaceInstance {
	return core.WorkspaceInstance{
		ID:            "i1",
		WorkspaceID:   "ws1",
		Region:        "eu01",
		StatusVersion: version,
		CreationTime:  created,
		StartedTime:   core.TimePtr(created.Add(time.Minute)),
		Status:        core.InstanceStatus{Phase: core.PhaseRunning},
	}
}

func TestPrebuildScenario(t *testing.T) {
	f := newFixture(t)
	f.seed(t, core.WorkspaceTypePrebuild, runningInstance(5))
	_ = f.store.StorePrebuild(context.Background(), &core.PrebuiltWorkspace{
		ID: "pb1", ProjectID: "p1", BuildWorkspaceID: "ws1", State: core.PrebuildBuilding, CreationTime: created,
	})

	s := status(6, wsman.PhaseStopping, wsman.WorkspaceConditions{})
	s.Spec.Type = wsman.TypePrebuild
	f.apply(t, s)

	inst := f.get(t, "i1")
	if inst.Status.Phase != core.PhaseStopping || inst.StatusVersion != 6 {
		t.Fatalf("after v6: phase=%s version=%d", inst.Status.Phase, inst.StatusVersion)
	}
	if inst.StoppingTime == nil || !inst.StoppingTime.Equal(now) {
		t.Fatalf("stoppingTime = %v", inst.StoppingTime)
	}

	s = status(7, wsman.PhaseStopping, wsman.WorkspaceConditions{Snapshot: "snap-1"})
	s.Spec.Type = wsman.TypePrebuild
	f.apply(t, s)

	pb, _ := f.store.FindPrebuildByWorkspaceID(context.Background(), "ws1")
	if pb.State != core.PrebuildAvailable || pb.Snapshot != "snap-1" || pb.Error != "" {
		t.Fatalf("prebuild = %+v", pb)
	}
	if len(f.pub.Instances()) != 2 {
		t.Errorf("instance updates = %d, want 2", len(f.pub.Instances()))
	}
}

func TestStaleUpdatesAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t, core.WorkspaceTypeRegular, runningInstance(5))

	f.apply(t, status(8, wsman.PhaseStopping, wsman.WorkspaceConditions{Timeout: "idle"}))
	after := f.get(t, "i1")

	stale := testutil.ToFloat64(observability.StaleStatusUpdates.WithLabelValues("instance"))
	f.apply(t, status(7, wsman.PhaseRunning, wsman.WorkspaceConditions{}))
	f.apply(t, status(8, wsman.PhaseRunning, wsman.WorkspaceConditions{}))

	got := f.get(t, "i1")
	if got.Status.Phase != after.Status.Phase || got.StatusVersion != 8 || got.Status.Conditions.Timeout != "idle" {
		t.Fatalf("stale update mutated state: %+v", got)
	}
	if n := testutil.ToFloat64(observability.StaleStatusUpdates.WithLabelValues("instance")); n != stale+2 {
		t.Errorf("stale counter = %v, want %v", n, stale+2)
	}
	if len(f.pub.Instances()) != 1 {
		t.Errorf("stale updates were published")
	}
}

func TestFailedConditionIsNeverCleared(t *testing.T) {
	f := newFixture(t)
	f.seed(t, core.WorkspaceTypeRegular, runningInstance(1))

	f.apply(t, status(2, wsman.PhaseRunning, wsman.WorkspaceConditions{Failed: "image pull failed"}))
	f.apply(t, status(3, wsman.PhaseStopping, wsman.WorkspaceConditions{}))

	got := f.get(t, "i1")
	if got.Status.Conditions.Failed != "image pull failed" {
		t.Fatalf("failed = %q", got.Status.Conditions.Failed)
	}
	if got.Status.Phase != core.PhaseStopping {
		t.Errorf("the rest of the update must still apply, phase = %s", got.Status.Phase)
	}

	f.apply(t, status(4, wsman.PhaseStopping, wsman.WorkspaceConditions{Failed: "oom"}))
	if got := f.get(t, "i1").Status.Conditions.Failed; got != "oom" {
		t.Errorf("newer failure not recorded: %q", got)
	}
}

func TestStoppedRunsSideEffectsOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, core.WorkspaceTypeRegular, runningInstance(1))
	ctx := context.Background()
	_ = f.store.StoreToken(ctx, store.Token{Hash: "a", UserID: "u1", Name: "i1-supervisor"})
	_ = f.store.StoreToken(ctx, store.Token{Hash: "b", UserID: "u1", Name: "other"})

	f.apply(t, status(2, wsman.PhaseStopped, wsman.WorkspaceConditions{}))
	f.apply(t, status(3, wsman.PhaseStopped, wsman.WorkspaceConditions{}))

	inst := f.get(t, "i1")
	if inst.StoppedTime == nil || inst.StoppingTime == nil {
		t.Fatalf("stop timestamps not set: %+v", inst)
	}
	tokens := f.store.Tokens("u1")
	if len(tokens) != 1 || tokens[0].Name != "other" {
		t.Errorf("tokens = %+v", tokens)
	}
	var stopped int
	for _, ev := range f.analytics.Events() {
		if ev.Event == analytics.EventWorkspaceStopped {
			stopped++
			if ev.MessageID != "bridge-wsstopped-i1" {
				t.Errorf("message id = %q", ev.MessageID)
			}
		}
	}
	if stopped != 1 {
		t.Errorf("workspace_stopped tracked %d times, want 1", stopped)
	}
}

func TestRunningAfterStopIsAccepted(t *testing.T) {
	f := newFixture(t)
	inst := runningInstance(3)
	inst.Status.Phase = core.PhaseStopped
	inst.StoppingTime = core.TimePtr(created)
	inst.StoppedTime = core.TimePtr(created)
	f.seed(t, core.WorkspaceTypeRegular, inst)

	f.apply(t, status(4, wsman.PhaseRunning, wsman.WorkspaceConditions{}))

	got := f.get(t, "i1")
	if got.Status.Phase != core.PhaseRunning || got.StoppedTime != nil || got.StoppingTime != nil {
		t.Fatalf("got %+v", got)
	}
}

func TestFirstRunning(t *testing.T) {
	f := newFixture(t)
	inst := runningInstance(1)
	inst.StartedTime = nil
	inst.Status.Phase = core.PhaseInitializing
	f.seed(t, core.WorkspaceTypeRegular, inst)

	s := status(2, wsman.PhaseRunning, wsman.WorkspaceConditions{Deployed: wsman.ConditionTrue})
	s.Runtime = &wsman.WorkspaceRuntimeInfo{NodeName: "node-a", PodName: "ws-i1", NodeIP: "10.0.0.1"}
	s.Auth = &wsman.WorkspaceAuthentication{OwnerToken: "secret"}
	s.Spec.ExposedPorts = []*wsman.PortSpec{{Port: 3000, Visibility: wsman.PortVisibilityPublic, URL: "https://3000-ws1"}}
	f.apply(t, s)

	s = status(3, wsman.PhaseRunning, wsman.WorkspaceConditions{
		Deployed:          wsman.ConditionTrue,
		FirstUserActivity: timestamppb.New(now.Add(time.Minute)),
	})
	s.Runtime = &wsman.WorkspaceRuntimeInfo{NodeName: "node-b"}
	f.apply(t, s)

	got := f.get(t, "i1")
	if got.StartedTime == nil || !got.StartedTime.Equal(now) {
		t.Errorf("startedTime = %v", got.StartedTime)
	}
	if got.DeployedTime == nil || !got.DeployedTime.Equal(now) {
		t.Errorf("deployedTime = %v", got.DeployedTime)
	}
	if got.Status.NodeName != "node-a" || got.Status.NodeIP != "10.0.0.1" {
		t.Errorf("runtime info not first-wins: %+v", got.Status)
	}
	if got.Status.OwnerToken != "secret" || got.IDEURL != "https://ws1.example.com" {
		t.Errorf("status = %+v", got.Status)
	}
	if len(got.Status.ExposedPorts) != 1 || got.Status.ExposedPorts[0].Visibility != core.PortVisibilityPublic {
		t.Errorf("ports = %+v", got.Status.ExposedPorts)
	}
	if got.Status.Conditions.FirstUserActivity == nil {
		t.Error("first user activity not recorded")
	}

	var running int
	for _, ev := range f.analytics.Events() {
		if ev.Event == analytics.EventWorkspaceRunning && ev.MessageID == "bridge-wsrunning-i1" {
			running++
		}
	}
	if running != 1 {
		t.Errorf("workspace_running tracked %d times, want 1", running)
	}
}

func TestUnknownInvalidAndGhostUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unknown := testutil.ToFloat64(observability.StatusUpdatesTotal.WithLabelValues("eu01", "false"))
	if err := f.reconciler.handleStatusUpdate(ctx, status(1, wsman.PhaseRunning, wsman.WorkspaceConditions{})); err != nil {
		t.Fatal(err)
	}
	if n := testutil.ToFloat64(observability.StatusUpdatesTotal.WithLabelValues("eu01", "false")); n != unknown+1 {
		t.Errorf("unknown counter = %v, want %v", n, unknown+1)
	}

	invalid := testutil.ToFloat64(observability.StatusUpdatesCompleted.WithLabelValues("eu01", outcomeInvalid))
	if err := f.reconciler.handleStatusUpdate(ctx, &wsman.WorkspaceStatus{ID: "i1", StatusVersion: 2}); err != nil {
		t.Fatal(err)
	}
	if n := testutil.ToFloat64(observability.StatusUpdatesCompleted.WithLabelValues("eu01", outcomeInvalid)); n != invalid+1 {
		t.Errorf("invalid counter = %v, want %v", n, invalid+1)
	}

	f.seed(t, core.WorkspaceTypeRegular, runningInstance(1))
	ghost := status(5, wsman.PhaseStopped, wsman.WorkspaceConditions{})
	ghost.Spec.Type = wsman.TypeGhost
	f.apply(t, ghost)
	if got := f.get(t, "i1"); got.StatusVersion != 1 || got.Status.Phase != core.PhaseRunning {
		t.Errorf("ghost update applied: %+v", got)
	}
}

func TestPerInstanceOrdering(t *testing.T) {
	f := newFixture(t)
	f.seed(t, core.WorkspaceTypeRegular, runningInstance(0))
	other := runningInstance(0)
	other.ID = "i2"
	other.WorkspaceID = "ws2"
	f.seed(t, core.WorkspaceTypeRegular, other)

	ctx := context.Background()
	for v := uint64(1); v <= 50; v++ {
		s := status(v, wsman.PhaseRunning, wsman.WorkspaceConditions{})
		s.Message = "step"
		if v == 50 {
			s.Phase = wsman.PhaseStopping
			s.Message = "last"
		}
		f.reconciler.HandleUpdate(ctx, s)

		s2 := status(v, wsman.PhaseRunning, wsman.WorkspaceConditions{})
		s2.ID = "i2"
		s2.Metadata.MetaID = "ws2"
		f.reconciler.HandleUpdate(ctx, s2)
	}
	f.reconciler.HandleUpdate(ctx, &wsman.WorkspaceStatus{})

	deadline := time.Now().Add(3 * time.Second)
	for {
		i1 := f.get(t, "i1")
		i2 := f.get(t, "i2")
		if i1.StatusVersion == 50 && i2.StatusVersion == 50 {
			if i1.Status.Phase != core.PhaseStopping || i1.Status.Message != "last" {
				t.Fatalf("i1 = %+v", i1)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("updates not applied in time: i1=%d i2=%d", i1.StatusVersion, i2.StatusVersion)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// every update was applied; none was considered stale
	if n := len(f.pub.Instances()); n != 100 {
		t.Errorf("published %d updates, want 100", n)
	}
}
