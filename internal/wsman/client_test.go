package wsman_test

import (
	"context"
	"io"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman/wsmantest"
)

func running(id string, version uint64) *wsman.WorkspaceStatus {
	return &wsman.WorkspaceStatus{
		ID:            id,
		StatusVersion: version,
		Metadata: &wsman.WorkspaceMetadata{
			Owner:     "u1",
			MetaID:    "ws-" + id,
			StartedAt: timestamppb.New(time.Unix(1700000000, 0)),
		},
		Spec:       &wsman.WorkspaceSpec{URL: "https://" + id + ".example.com", Type: wsman.TypeRegular},
		Phase:      wsman.PhaseRunning,
		Conditions: &wsman.WorkspaceConditions{Deployed: wsman.ConditionTrue},
	}
}

func TestGRPCClientGetWorkspaces(t *testing.T) {
	cluster := wsmantest.NewCluster()
	cluster.SetWorkspaces(running("i2", 4), running("i1", 3))
	client := cluster.Serve(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.GetWorkspaces(ctx)
	if err != nil {
		t.Fatalf("GetWorkspaces: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "i1" || got[0].StatusVersion != 3 {
		t.Errorf("first = %+v", got[0])
	}
	if got[0].Metadata.MetaID != "ws-i1" {
		t.Errorf("meta id = %q", got[0].Metadata.MetaID)
	}
	if !got[0].Metadata.StartedAt.AsTime().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("startedAt = %v", got[0].Metadata.StartedAt.AsTime())
	}
	if b := got[0].Conditions.Deployed.Bool(); b == nil || !*b {
		t.Errorf("deployed = %v", b)
	}
}

func TestGRPCClientSubscribe(t *testing.T) {
	cluster := wsmantest.NewCluster()
	client := cluster.Serve(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// the server registers the subscriber asynchronously
	deadline := time.Now().Add(3 * time.Second)
	for cluster.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cluster.Push(running("i1", 7))
	got, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.ID != "i1" || got.StatusVersion != 7 || got.Phase != wsman.PhaseRunning {
		t.Errorf("got %+v", got)
	}

	cluster.CloseStreams()
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("after close: err = %v, want io.EOF", err)
	}
}

func TestGRPCClientDescribeCluster(t *testing.T) {
	cluster := wsmantest.NewCluster()
	cluster.SetClasses("default",
		&wsman.WorkspaceClass{ID: "default", DisplayName: "Standard", CreditsPerMinute: 0.5},
		&wsman.WorkspaceClass{ID: "large", DisplayName: "Large"},
	)
	client := cluster.Serve(t)

	resp, err := client.DescribeCluster(context.Background())
	if err != nil {
		t.Fatalf("DescribeCluster: %v", err)
	}
	if resp.PreferredWorkspaceClass != "default" {
		t.Errorf("preferred = %q", resp.PreferredWorkspaceClass)
	}
	if len(resp.WorkspaceClasses) != 2 || resp.WorkspaceClasses[0].CreditsPerMinute != 0.5 {
		t.Errorf("classes = %+v", resp.WorkspaceClasses)
	}
}

func TestGRPCClientPropagatesStatus(t *testing.T) {
	cluster := wsmantest.NewCluster()
	cluster.SetListError(status.Error(codes.Unavailable, "cluster down"))
	client := cluster.Serve(t)

	_, err := client.GetWorkspaces(context.Background())
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable", status.Code(err))
	}
}

func TestConditionBool(t *testing.T) {
	if wsman.ConditionEmpty.Bool() != nil {
		t.Error("empty should map to nil")
	}
	if b := wsman.ConditionFalse.Bool(); b == nil || *b {
		t.Error("false should map to false")
	}
	if wsman.PhaseStopping.String() != "STOPPING" || wsman.WorkspacePhase(42).String() != "UNKNOWN" {
		t.Error("unexpected phase names")
	}
}
