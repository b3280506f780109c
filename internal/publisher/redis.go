package publisher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	RedisInstancesChannel      = "chan:instances"
	redisPrebuildChannelPrefix = "chan:prebuilds:"
)

// RedisPrebuildChannel is the channel carrying prebuild updates of one project.
func RedisPrebuildChannel(projectID string) string {
	return redisPrebuildChannelPrefix + projectID
}

type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis publisher: empty address")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Redis{client: client}, nil
}

func (r *Redis) PublishInstanceUpdate(ctx context.Context, u InstanceUpdate) error {
	payload, err := encode(u)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, RedisInstancesChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish instance %s: %w", u.InstanceID, err)
	}
	return nil
}

func (r *Redis) PublishPrebuildUpdate(ctx context.Context, u PrebuildUpdate) error {
	payload, err := encode(u)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, RedisPrebuildChannel(u.ProjectID), payload).Err(); err != nil {
		return fmt.Errorf("publish prebuild %s: %w", u.PrebuildID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
