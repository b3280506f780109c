// Package publisher fans instance and prebuild changes out to the rest of
// the installation.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

// InstanceUpdate tells listeners to re-read an instance.
type InstanceUpdate struct {
	OwnerID     string `json:"ownerId"`
	InstanceID  string `json:"instanceId"`
	WorkspaceID string `json:"workspaceId"`
}

type PrebuildUpdate struct {
	ProjectID   string             `json:"projectId"`
	PrebuildID  string             `json:"prebuildId"`
	WorkspaceID string             `json:"workspaceId"`
	State       core.PrebuildState `json:"state"`
	Error       string             `json:"error,omitempty"`
	Info        *core.PrebuildInfo `json:"info,omitempty"`
}

type Publisher interface {
	PublishInstanceUpdate(ctx context.Context, u InstanceUpdate) error
	PublishPrebuildUpdate(ctx context.Context, u PrebuildUpdate) error
	Close() error
}

// Config selects and configures the publisher implementation.
type Config struct {
	Kind          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
}

func New(cfg Config, log *zap.Logger) (Publisher, error) {
	switch cfg.Kind {
	case "", "log":
		return NewLog(log), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "nats":
		return NewNATS(cfg.NATSURL, log)
	default:
		return nil, fmt.Errorf("unknown publisher %q", cfg.Kind)
	}
}

// Log writes notifications to the log only.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("publisher")}
}

func (l *Log) PublishInstanceUpdate(_ context.Context, u InstanceUpdate) error {
	l.log.Debug("instance update",
		zap.String("instanceId", u.InstanceID),
		zap.String("workspaceId", u.WorkspaceID),
		zap.String("userId", u.OwnerID))
	return nil
}

func (l *Log) PublishPrebuildUpdate(_ context.Context, u PrebuildUpdate) error {
	l.log.Debug("prebuild update",
		zap.String("prebuildId", u.PrebuildID),
		zap.String("projectId", u.ProjectID),
		zap.String("state", string(u.State)))
	return nil
}

func (l *Log) Close() error { return nil }

// Recorder keeps published notifications in memory.
type Recorder struct {
	mu        sync.Mutex
	instances []InstanceUpdate
	prebuilds []PrebuildUpdate
	Err       error
}

func (r *Recorder) PublishInstanceUpdate(_ context.Context, u InstanceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.instances = append(r.instances, u)
	return nil
}

func (r *Recorder) PublishPrebuildUpdate(_ context.Context, u PrebuildUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.prebuilds = append(r.prebuilds, u)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Instances() []InstanceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InstanceUpdate(nil), r.instances...)
}

func (r *Recorder) Prebuilds() []PrebuildUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PrebuildUpdate(nil), r.prebuilds...)
}

func encode(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return payload, nil
}
