// This package publishes presence transitions to a redis channel so other
// services (push gateways, web frontends) can observe them. Publishing is
// best-effort and optional; an unconfigured publisher discards events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/mercuryim/mercury/config"
	"go.uber.org/zap"
)

const statusChannel = "user_status"

type statusEvent struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type Publisher struct {
	log    *zap.SugaredLogger
	client *redis.Client
}

func NewPublisher(c *config.Config) (*Publisher, error) {
	log := c.Logger("pubsub/publisher")
	if c.RedisURL == "" {
		log.Debugf("redis not configured, presence events are local only")
		return &Publisher{log: log}, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("pubsub: error parsing redis url: %w", err)
	}
	return &Publisher{log: log, client: redis.NewClient(opts)}, nil
}

// PublishPresence announces an online/offline transition. Errors are logged,
// never propagated; presence delivery must not depend on redis health.
func (p *Publisher) PublishPresence(ctx context.Context, userID string, online bool) {
	if p.client == nil {
		return
	}
	status := "offline"
	if online {
		status = "online"
	}
	data, err := json.Marshal(statusEvent{UserID: userID, Status: status})
	if err != nil {
		p.log.Warnf("error encoding status event: %v", err)
		return
	}
	if err := p.client.Publish(ctx, statusChannel, data).Err(); err != nil {
		p.log.Warnf("error publishing status for %s: %v", userID, err)
	}
}

func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
