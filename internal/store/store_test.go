package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bridge"),
		postgres.WithUsername("bridge"),
		postgres.WithPassword("bridge_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	pool, err := NewPool(ctx, connStr, 4)
	if err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("failed to run migrations: %s", err)
	}
	// a second run is a no-op
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("re-running migrations: %s", err)
	}

	exerciseStore(t, NewPostgres(pool))
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("clusters", func(t *testing.T) {
		govern := true
		c := core.WorkspaceCluster{
			Name:               "eu01",
			URL:                "https://ws-eu01.example.com",
			TLS:                core.TLSConfig{CA: "Y2E=", Crt: "Y3J0", Key: "a2V5"},
			Region:             "europe",
			State:              core.ClusterAvailable,
			Score:              100,
			MaxScore:           100,
			Govern:             true,
			ApplicationCluster: "app-eu",
			AdmissionConstraints: []core.AdmissionConstraint{
				{Type: core.ConstraintHasPermission, Value: "admin"},
			},
			AvailableWorkspaceClasses: []core.WorkspaceClass{{ID: "default", DisplayName: "Default"}},
			PreferredWorkspaceClass:   "default",
		}
		if err := s.SaveCluster(ctx, c); err != nil {
			t.Fatalf("SaveCluster: %v", err)
		}
		if err := s.SaveCluster(ctx, core.WorkspaceCluster{
			Name: "us01", URL: "https://ws-us01.example.com", State: core.ClusterCordoned,
			ApplicationCluster: "app-eu",
		}); err != nil {
			t.Fatalf("SaveCluster us01: %v", err)
		}

		got, err := s.FindClusterByName(ctx, "eu01")
		if err != nil {
			t.Fatalf("FindClusterByName: %v", err)
		}
		if got.TLS != c.TLS || got.Score != 100 || got.PreferredWorkspaceClass != "default" {
			t.Errorf("unexpected cluster: %+v", got)
		}
		if len(got.AdmissionConstraints) != 1 || got.AdmissionConstraints[0].Value != "admin" {
			t.Errorf("constraints = %+v", got.AdmissionConstraints)
		}

		avail, err := s.FindClusters(ctx, ClusterFilter{State: core.ClusterAvailable, Govern: &govern, ApplicationCluster: "app-eu"})
		if err != nil {
			t.Fatalf("FindClusters: %v", err)
		}
		if len(avail) != 1 || avail[0].Name != "eu01" {
			t.Errorf("available clusters = %+v", avail)
		}

		byURL, err := s.FindClusters(ctx, ClusterFilter{URL: "https://ws-us01.example.com"})
		if err != nil || len(byURL) != 1 || byURL[0].Name != "us01" {
			t.Errorf("by url = %+v, %v", byURL, err)
		}

		c.State = core.ClusterCordoned
		if err := s.SaveCluster(ctx, c); err != nil {
			t.Fatalf("SaveCluster update: %v", err)
		}
		got, _ = s.FindClusterByName(ctx, "eu01")
		if got.State != core.ClusterCordoned {
			t.Errorf("state = %s, want cordoned", got.State)
		}

		classes := []core.WorkspaceClass{{ID: "g1-large", DisplayName: "Large"}}
		if err := s.UpdateClusterClasses(ctx, "eu01", classes, "g1-large"); err != nil {
			t.Fatalf("UpdateClusterClasses: %v", err)
		}
		got, _ = s.FindClusterByName(ctx, "eu01")
		if got.State != core.ClusterCordoned || got.PreferredWorkspaceClass != "g1-large" ||
			len(got.AvailableWorkspaceClasses) != 1 || got.AvailableWorkspaceClasses[0].ID != "g1-large" {
			t.Errorf("after class update: %+v", got)
		}
		if err := s.UpdateClusterClasses(ctx, "nope", classes, ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateClusterClasses missing: err = %v, want ErrNotFound", err)
		}

		if err := s.DeleteClusterByName(ctx, "us01"); err != nil {
			t.Fatalf("DeleteClusterByName: %v", err)
		}
		if _, err := s.FindClusterByName(ctx, "us01"); !errors.Is(err, ErrNotFound) {
			t.Errorf("deleted cluster: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("instances", func(t *testing.T) {
		if err := s.StoreWorkspace(ctx, core.Workspace{ID: "ws1", OwnerID: "u1", Type: core.WorkspaceTypePrebuild, ProjectID: "p1"}); err != nil {
			t.Fatalf("StoreWorkspace: %v", err)
		}
		inst := &core.WorkspaceInstance{
			ID:            "i1",
			WorkspaceID:   "ws1",
			Region:        "eu01",
			StatusVersion: 3,
			CreationTime:  created,
			StartedTime:   core.TimePtr(created.Add(time.Minute)),
			Status: core.InstanceStatus{
				Phase:      core.PhaseRunning,
				Conditions: core.InstanceConditions{Deployed: core.BoolPtr(true), Failed: "oom"},
				ExposedPorts: []core.InstancePort{
					{Port: 3000, Visibility: core.PortVisibilityPublic, URL: "https://3000-ws1.example.com"},
				},
			},
		}
		if err := s.StoreInstance(ctx, inst); err != nil {
			t.Fatalf("StoreInstance: %v", err)
		}
		stopped := &core.WorkspaceInstance{
			ID: "i0", WorkspaceID: "ws1", Region: "eu01", CreationTime: created,
			StoppedTime: core.TimePtr(created), Status: core.InstanceStatus{Phase: core.PhaseStopped},
		}
		if err := s.StoreInstance(ctx, stopped); err != nil {
			t.Fatalf("StoreInstance stopped: %v", err)
		}

		got, err := s.FindInstanceByID(ctx, "i1")
		if err != nil {
			t.Fatalf("FindInstanceByID: %v", err)
		}
		if got.StatusVersion != 3 || got.Status.Conditions.Failed != "oom" || !got.CreationTime.Equal(created) {
			t.Errorf("unexpected instance: %+v", got)
		}
		if d := got.Status.Conditions.Deployed; d == nil || !*d {
			t.Errorf("deployed = %v", d)
		}
		if len(got.Status.ExposedPorts) != 1 || got.Status.ExposedPorts[0].Port != 3000 {
			t.Errorf("ports = %+v", got.Status.ExposedPorts)
		}

		running, err := s.FindRunningInstances(ctx, "eu01")
		if err != nil {
			t.Fatalf("FindRunningInstances: %v", err)
		}
		if len(running) != 1 || running[0].Instance.ID != "i1" || running[0].Workspace.OwnerID != "u1" {
			t.Fatalf("running = %+v", running)
		}
		if running[0].Workspace.Type != core.WorkspaceTypePrebuild {
			t.Errorf("workspace type = %s", running[0].Workspace.Type)
		}
		if n, err := s.CountRunningInstances(ctx, "us01"); err != nil || n != 0 {
			t.Errorf("count us01 = %d, %v", n, err)
		}
		if n, err := s.CountRunningInstances(ctx, ""); err != nil || n != 1 {
			t.Errorf("count all = %d, %v", n, err)
		}

		if _, err := s.FindInstanceByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing instance: err = %v", err)
		}
	})

	t.Run("prebuilds", func(t *testing.T) {
		pb := &core.PrebuiltWorkspace{
			ID: "pb1", ProjectID: "p1", Branch: "main", BuildWorkspaceID: "ws1",
			State: core.PrebuildQueued, CreationTime: created,
		}
		if err := s.StorePrebuild(ctx, pb); err != nil {
			t.Fatalf("StorePrebuild: %v", err)
		}
		pb.State = core.PrebuildAvailable
		pb.Snapshot = "snap-1"
		pb.StatusVersion = 9
		if err := s.StorePrebuild(ctx, pb); err != nil {
			t.Fatalf("StorePrebuild update: %v", err)
		}

		got, err := s.FindPrebuildByWorkspaceID(ctx, "ws1")
		if err != nil {
			t.Fatalf("FindPrebuildByWorkspaceID: %v", err)
		}
		if got.State != core.PrebuildAvailable || got.Snapshot != "snap-1" || got.StatusVersion != 9 {
			t.Errorf("prebuild = %+v", got)
		}

		info, err := s.FindPrebuildInfo(ctx, "pb1")
		if err != nil {
			t.Fatalf("FindPrebuildInfo: %v", err)
		}
		if info.ProjectID != "p1" || info.Branch != "main" || !info.StartedAt.Equal(created) {
			t.Errorf("info = %+v", info)
		}
		if _, err := s.FindPrebuildByWorkspaceID(ctx, "ws-none"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing prebuild: err = %v", err)
		}
	})

	t.Run("tokens", func(t *testing.T) {
		for _, tok := range []Token{
			{Hash: "h1", UserID: "u1", Name: "i1-supervisor"},
			{Hash: "h2", UserID: "u1", Name: "i1-ide"},
			{Hash: "h3", UserID: "u1", Name: "i10-ide"},
			{Hash: "h4", UserID: "u2", Name: "i1-ide"},
		} {
			if err := s.StoreToken(ctx, tok); err != nil {
				t.Fatalf("StoreToken: %v", err)
			}
		}
		n, err := s.DeleteTokensNamedLike(ctx, "u1", "i1-%")
		if err != nil {
			t.Fatalf("DeleteTokensNamedLike: %v", err)
		}
		if n != 2 {
			t.Errorf("deleted %d tokens, want 2", n)
		}
		if n, _ := s.DeleteTokensNamedLike(ctx, "u2", "i1-%"); n != 1 {
			t.Errorf("u2 deleted %d, want 1", n)
		}
	})
}

func TestLikePattern(t *testing.T) {
	re, err := likePattern("a.b_%")
	if err != nil {
		t.Fatal(err)
	}
	for s, want := range map[string]bool{
		"a.bc":     true,
		"a.bcdef":  true,
		"axbc":     false,
		"a.b":      false,
		"za.bcdef": false,
	} {
		if got := re.MatchString(s); got != want {
			t.Errorf("match(%q) = %v, want %v", s, got, want)
		}
	}
}
