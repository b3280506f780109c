package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReconciler) RunReconcileNow(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeReconciler) waitCalls(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		f.mu.Lock()
		calls := f.calls
		f.mu.Unlock()
		if calls >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("reconcile triggered %d times, want %d", calls, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fixture struct {
	svc        *Service
	store      *store.Memory
	reconciler *fakeReconciler
	probeErr   error
}

func newFixture(t *testing.T, static ...core.WorkspaceCluster) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), reconciler: &fakeReconciler{}}
	probe := func(ctx context.Context, c core.WorkspaceCluster) (*wsman.DescribeClusterResponse, error) {
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		return &wsman.DescribeClusterResponse{
			WorkspaceClasses:        []*wsman.WorkspaceClass{{ID: "g1-standard", DisplayName: "Standard"}},
			PreferredWorkspaceClass: "g1-standard",
		}, nil
	}
	f.svc = NewService(Config{Installation: "app1", ProbeTimeout: time.Second},
		f.store, f.store, static, probe, f.reconciler, zap.NewNop())
	t.Cleanup(f.svc.Close)
	return f
}

func registerReq(name, url string) *RegisterRequest {
	return &RegisterRequest{
		Name:   name,
		URL:    url,
		Region: "europe",
		TLS:    &core.TLSConfig{CA: "Y2E=", Crt: "Y3J0", Key: "a2V5"},
	}
}

func wantCode(t *testing.T, err error, code core.ErrorCode) {
	t.Helper()
	if !core.IsCode(err, code) {
		t.Fatalf("err = %v, want code %s", err, code)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := registerReq("eu01", "dns:///eu01:8080")
	req.Hints = &RegistrationHints{Preferability: PreferabilityPrefer, Govern: true}
	req.AdmissionConstraints = []core.AdmissionConstraint{{Type: core.ConstraintHasFeaturePreview}}

	if _, err := f.svc.Register(ctx, req); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c, err := f.store.FindClusterByName(ctx, "eu01")
	if err != nil {
		t.Fatal(err)
	}
	if c.Score != 100 || c.MaxScore != 100 || c.State != core.ClusterAvailable || !c.Govern {
		t.Errorf("cluster = %+v", c)
	}
	if c.ApplicationCluster != "app1" || c.Region != "europe" || c.TLS.Key != "a2V5" {
		t.Errorf("cluster = %+v", c)
	}
	if len(c.AvailableWorkspaceClasses) != 1 || c.PreferredWorkspaceClass != "g1-standard" {
		t.Errorf("classes = %+v preferred=%q", c.AvailableWorkspaceClasses, c.PreferredWorkspaceClass)
	}
	if len(c.AdmissionConstraints) != 1 {
		t.Errorf("constraints = %+v", c.AdmissionConstraints)
	}
	f.reconciler.waitCalls(t, 1)
}

func TestRegisterDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := registerReq("eu01", "dns:///eu01:8080")
	req.Hints = &RegistrationHints{Preferability: PreferabilityDontSchedule, Cordoned: true}
	if _, err := f.svc.Register(ctx, req); err != nil {
		t.Fatal(err)
	}
	c, _ := f.store.FindClusterByName(ctx, "eu01")
	if c.Score != 0 || c.State != core.ClusterCordoned || c.Govern {
		t.Errorf("cluster = %+v", c)
	}

	if _, err := f.svc.Register(ctx, registerReq("eu02", "dns:///eu02:8080")); err != nil {
		t.Fatal(err)
	}
	c, _ = f.store.FindClusterByName(ctx, "eu02")
	if c.Score != 50 || c.State != core.ClusterAvailable {
		t.Errorf("cluster without hints = %+v", c)
	}
}

func TestRegisterUniqueness(t *testing.T) {
	static := core.WorkspaceCluster{Name: "static", URL: "dns:///static:8080", State: core.ClusterAvailable}
	f := newFixture(t, static)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, registerReq("eu01", "dns:///eu01:8080")); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Register(ctx, registerReq("eu01", "dns:///other:8080"))
	wantCode(t, err, core.ErrAlreadyExists)
	_, err = f.svc.Register(ctx, registerReq("eu02", "dns:///eu01:8080"))
	wantCode(t, err, core.ErrAlreadyExists)
	_, err = f.svc.Register(ctx, registerReq("static", "dns:///new:8080"))
	wantCode(t, err, core.ErrAlreadyExists)
	_, err = f.svc.Register(ctx, registerReq("new", "dns:///static:8080"))
	wantCode(t, err, core.ErrAlreadyExists)

	all, _ := f.store.FindClusters(ctx, store.ClusterFilter{})
	if len(all) != 1 {
		t.Errorf("clusters = %d, want 1", len(all))
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noTLS := registerReq("eu01", "dns:///eu01:8080")
	noTLS.TLS = nil
	badPref := registerReq("eu01", "dns:///eu01:8080")
	badPref.Hints = &RegistrationHints{Preferability: 7}
	badConstraint := registerReq("eu01", "dns:///eu01:8080")
	badConstraint.AdmissionConstraints = []core.AdmissionConstraint{{Type: core.ConstraintHasPermission}}

	for name, req := range map[string]*RegisterRequest{
		"no name":        registerReq("", "dns:///eu01:8080"),
		"no url":         registerReq("eu01", ""),
		"no tls":         noTLS,
		"preferability":  badPref,
		"bad constraint": badConstraint,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, req)
			wantCode(t, err, core.ErrInvalidArgument)
		})
	}
}

func TestRegisterUnreachable(t *testing.T) {
	f := newFixture(t)
	f.probeErr = errors.New("connection refused")
	before := testutil.ToFloat64(observability.AdmissionRequestsTotal.WithLabelValues("Register", "FailedPrecondition"))

	_, err := f.svc.Register(context.Background(), registerReq("eu01", "dns:///eu01:8080"))
	wantCode(t, err, core.ErrFailedPrecondition)

	if _, err := f.store.FindClusterByName(context.Background(), "eu01"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unreachable cluster was persisted")
	}
	if n := testutil.ToFloat64(observability.AdmissionRequestsTotal.WithLabelValues("Register", "FailedPrecondition")); n != before+1 {
		t.Errorf("admission counter = %v, want %v", n, before+1)
	}
}

func int32p(v int32) *int32 { return &v }
func boolp(v bool) *bool    { return &v }

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, registerReq("eu01", "dns:///eu01:8080")); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Update(ctx, &UpdateRequest{Name: "eu01", Score: int32p(20), MaxScore: int32p(40), Cordoned: boolp(true)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	c, _ := f.store.FindClusterByName(ctx, "eu01")
	if c.Score != 20 || c.MaxScore != 40 || c.State != core.ClusterCordoned {
		t.Fatalf("cluster = %+v", c)
	}

	// unset fields stay untouched
	if _, err := f.svc.Update(ctx, &UpdateRequest{Name: "eu01", Cordoned: boolp(false)}); err != nil {
		t.Fatal(err)
	}
	c, _ = f.store.FindClusterByName(ctx, "eu01")
	if c.Score != 20 || c.MaxScore != 40 || c.State != core.ClusterAvailable {
		t.Fatalf("cluster = %+v", c)
	}

	add := &UpdateRequest{Name: "eu01", AdmissionConstraint: &ConstraintDelta{
		Add: true, Constraint: core.AdmissionConstraint{Type: core.ConstraintHasClass, Value: "g1-large"},
	}}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Update(ctx, add); err != nil {
			t.Fatal(err)
		}
	}
	c, _ = f.store.FindClusterByName(ctx, "eu01")
	if len(c.AdmissionConstraints) != 1 {
		t.Fatalf("adding a constraint twice: %+v", c.AdmissionConstraints)
	}

	remove := &UpdateRequest{Name: "eu01", AdmissionConstraint: &ConstraintDelta{
		Constraint: core.AdmissionConstraint{Type: core.ConstraintHasClass, Value: "g1-large"},
	}}
	if _, err := f.svc.Update(ctx, remove); err != nil {
		t.Fatal(err)
	}
	c, _ = f.store.FindClusterByName(ctx, "eu01")
	if len(c.AdmissionConstraints) != 0 {
		t.Fatalf("constraint not removed: %+v", c.AdmissionConstraints)
	}
	f.reconciler.waitCalls(t, 6)
}

func TestUpdateErrors(t *testing.T) {
	static := core.WorkspaceCluster{Name: "static", URL: "dns:///static:8080", State: core.ClusterAvailable}
	f := newFixture(t, static)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, registerReq("eu01", "dns:///eu01:8080")); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Update(ctx, &UpdateRequest{Name: "missing", Score: int32p(1)})
	wantCode(t, err, core.ErrNotFound)
	_, err = f.svc.Update(ctx, &UpdateRequest{Name: "static", Score: int32p(1)})
	wantCode(t, err, core.ErrFailedPrecondition)
	_, err = f.svc.Update(ctx, &UpdateRequest{Name: "eu01", Score: int32p(-1)})
	wantCode(t, err, core.ErrInvalidArgument)
	_, err = f.svc.Update(ctx, &UpdateRequest{Name: "eu01", Score: int32p(101)})
	wantCode(t, err, core.ErrInvalidArgument)
	_, err = f.svc.Update(ctx, &UpdateRequest{Name: "eu01", AdmissionConstraint: &ConstraintDelta{
		Add: true, Constraint: core.AdmissionConstraint{Type: "has-nothing"},
	}})
	wantCode(t, err, core.ErrInvalidArgument)

	c, _ := f.store.FindClusterByName(ctx, "eu01")
	if c.Score != 50 {
		t.Errorf("rejected update was persisted: %+v", c)
	}
}

func TestDeregisterGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, registerReq("eu01", "dns:///eu01:8080")); err != nil {
		t.Fatal(err)
	}
	_ = f.store.StoreWorkspace(ctx, core.Workspace{ID: "ws1", OwnerID: "u1", Type: core.WorkspaceTypeRegular})
	for _, id := range []string{"i1", "i2"} {
		inst := &core.WorkspaceInstance{ID: id, WorkspaceID: "ws1", Region: "eu01",
			Status: core.InstanceStatus{Phase: core.PhaseRunning}}
		if err := f.store.StoreInstance(ctx, inst); err != nil {
			t.Fatal(err)
		}
	}

	_, err := f.svc.Deregister(ctx, &DeregisterRequest{Name: "eu01"})
	wantCode(t, err, core.ErrFailedPrecondition)
	if _, err := f.store.FindClusterByName(ctx, "eu01"); err != nil {
		t.Fatalf("cluster removed despite running instances: %v", err)
	}

	if _, err := f.svc.Deregister(ctx, &DeregisterRequest{Name: "eu01", Force: true}); err != nil {
		t.Fatalf("forced Deregister: %v", err)
	}
	if _, err := f.store.FindClusterByName(ctx, "eu01"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cluster still present: %v", err)
	}

	_, err = f.svc.Deregister(ctx, &DeregisterRequest{Name: "eu01"})
	wantCode(t, err, core.ErrNotFound)
}

func TestList(t *testing.T) {
	static := []core.WorkspaceCluster{
		{Name: "static", URL: "dns:///static:8080", State: core.ClusterAvailable},
		{Name: "eu01", URL: "dns:///shadowed:8080", State: core.ClusterAvailable},
	}
	f := newFixture(t, static...)
	ctx := context.Background()
	_ = f.store.SaveCluster(ctx, core.WorkspaceCluster{Name: "eu01", URL: "dns:///eu01:8080", State: core.ClusterCordoned, Score: 5, MaxScore: 10})

	resp, err := f.svc.List(ctx, &ListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Status) != 2 {
		t.Fatalf("status = %+v", resp.Status)
	}
	if s := resp.Status[0]; s.Name != "eu01" || s.Static || s.State != core.ClusterCordoned || s.Score != 5 {
		t.Errorf("eu01 = %+v", s)
	}
	if s := resp.Status[1]; s.Name != "static" || !s.Static {
		t.Errorf("static = %+v", s)
	}
}

func TestClosedService(t *testing.T) {
	f := newFixture(t)
	f.svc.Close()
	_, err := f.svc.List(context.Background(), &ListRequest{})
	wantCode(t, err, core.ErrUnavailable)
}
