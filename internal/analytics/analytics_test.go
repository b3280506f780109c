package analytics

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogWriter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := New("log", zap.New(core))
	w.Track(context.Background(), Event{
		UserID:     "u1",
		Event:      EventWorkspaceStopped,
		MessageID:  "bridge-wsstopped-i1",
		Properties: map[string]interface{}{"instanceId": "i1"},
	})

	entries := logs.FilterField(zap.String("messageId", "bridge-wsstopped-i1")).All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["event"] != EventWorkspaceStopped {
		t.Errorf("event = %v", entries[0].ContextMap()["event"])
	}
}

func TestNewDefaultsToNoop(t *testing.T) {
	if _, ok := New("", zap.NewNop()).(NoopWriter); !ok {
		t.Fatal("expected NoopWriter")
	}
}
