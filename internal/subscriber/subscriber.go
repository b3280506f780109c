// Package subscriber keeps a status subscription to one workspace cluster alive.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

type (
	SnapshotFunc func(ctx context.Context, statuses []*wsman.WorkspaceStatus)
	UpdateFunc   func(ctx context.Context, status *wsman.WorkspaceStatus)
)

type Subscriber struct {
	cluster  string
	provider wsman.ClientProvider
	retry    time.Duration
	log      *zap.Logger
}

func New(cluster string, provider wsman.ClientProvider, retry time.Duration, log *zap.Logger) *Subscriber {
	return &Subscriber{
		cluster:  cluster,
		provider: provider,
		retry:    retry,
		log:      log.Named("subscriber"),
	}
}

// Subscribe delivers a full snapshot on every (re)connection and the
// incremental updates after it. It reconnects forever and returns only once
// ctx is done.
func (s *Subscriber) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onUpdate UpdateFunc) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(s.retry), ctx)
	for {
		err := s.session(ctx, onSnapshot, onUpdate)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.log.Warn("status stream failed", zap.Error(err))
		} else {
			s.log.Info("status stream ended")
		}

		observability.StreamReconnects.WithLabelValues(s.cluster).Inc()
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) session(ctx context.Context, onSnapshot SnapshotFunc, onUpdate UpdateFunc) error {
	client, err := s.provider(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	statuses, err := client.GetWorkspaces(ctx)
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	onSnapshot(ctx, statuses)

	stream, err := client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("status stream established", zap.Int("workspaces", len(statuses)))
	for {
		status, err := stream.Recv()
		if err != nil {
			return err
		}
		onUpdate(ctx, status)
	}
}
