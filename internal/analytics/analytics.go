// Package analytics records product analytics events emitted by the bridge.
package analytics

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	EventWorkspaceRunning = "workspace_running"
	EventWorkspaceStopped = "workspace_stopped"
)

// Event is a single tracked event. MessageID deduplicates retried deliveries.
type Event struct {
	UserID     string
	Event      string
	MessageID  string
	Properties map[string]interface{}
}

type Writer interface {
	Track(ctx context.Context, ev Event)
}

// LogWriter emits events as structured log lines.
type LogWriter struct {
	log *zap.Logger
}

func NewLogWriter(log *zap.Logger) *LogWriter {
	return &LogWriter{log: log.Named("analytics")}
}

func (w *LogWriter) Track(_ context.Context, ev Event) {
	w.log.Info("track",
		zap.String("event", ev.Event),
		zap.String("userId", ev.UserID),
		zap.String("messageId", ev.MessageID),
		zap.Any("properties", ev.Properties),
	)
}

type NoopWriter struct{}

func (NoopWriter) Track(context.Context, Event) {}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Track(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// New returns the writer for kind ("log" or "none").
func New(kind string, log *zap.Logger) Writer {
	if kind == "log" {
		return NewLogWriter(log)
	}
	return NoopWriter{}
}
