package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSInstanceSubject is the subject carrying instance updates of one user.
func NATSInstanceSubject(ownerID string) string {
	return "instances." + ownerID
}

func NATSPrebuildSubject(projectID string) string {
	return "prebuilds." + projectID
}

type NATS struct {
	nc *nats.Conn
}

func NewNATS(url string, log *zap.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("ws-manager-bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATS{nc: nc}, nil
}

func (n *NATS) publish(subject string, v interface{}) error {
	if n.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := encode(v)
	if err != nil {
		return err
	}
	return n.nc.Publish(subject, payload)
}

func (n *NATS) PublishInstanceUpdate(_ context.Context, u InstanceUpdate) error {
	if err := n.publish(NATSInstanceSubject(u.OwnerID), u); err != nil {
		return fmt.Errorf("publish instance %s: %w", u.InstanceID, err)
	}
	return nil
}

func (n *NATS) PublishPrebuildUpdate(_ context.Context, u PrebuildUpdate) error {
	if err := n.publish(NATSPrebuildSubject(u.ProjectID), u); err != nil {
		return fmt.Errorf("publish prebuild %s: %w", u.PrebuildID, err)
	}
	return nil
}

func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}
