// Package notify publishes job and queue status changes to subscribers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "reelforge:events:"

const (
	TypeJob   = "job"
	TypeQueue = "queue"
)

type Event struct {
	Type    string    `json:"type"`
	ID      string    `json:"id"`
	OwnerID string    `json:"owner_id"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier delivers events on a best-effort basis. Failures are logged and
// never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Channel returns the pub/sub channel carrying events for ownerID.
func Channel(ownerID string) string {
	return channelPrefix + ownerID
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisNotifier struct {
	client publisher
	logger *zap.Logger
}

func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger.Named("notify")}
}

func (n *RedisNotifier) Notify(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		n.logger.Warn("Failed to encode event", zap.String("id", e.ID), zap.Error(err))
		return
	}

	if err := n.client.Publish(ctx, Channel(e.OwnerID), body).Err(); err != nil {
		n.logger.Warn("Failed to publish event",
			zap.String("type", e.Type), zap.String("id", e.ID), zap.Error(err))
		return
	}
	n.logger.Debug("Event published", zap.String("type", e.Type), zap.String("id", e.ID), zap.String("status", e.Status))
}
