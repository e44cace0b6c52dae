package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/models"
)

// RedisChangeFeed distributes participant events over a Redis pub/sub channel
// so every API instance keeps its live directory current.
type RedisChangeFeed struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisChangeFeed constructs a feed bound to channel.
func NewRedisChangeFeed(client *redis.Client, channel string, logger *zap.Logger) *RedisChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisChangeFeed{client: client, channel: channel, logger: logger}
}

// Publish sends the event to every subscriber of the channel.
func (f *RedisChangeFeed) Publish(ctx context.Context, event models.ParticipantEvent) error {
	if f.client == nil {
		return fmt.Errorf("redis publish %s: client not configured", f.channel)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal participant event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", f.channel, err)
	}
	return nil
}

// Subscribe streams decoded events until ctx is cancelled. The subscription
// is confirmed before returning so no event published afterwards is missed.
func (f *RedisChangeFeed) Subscribe(ctx context.Context) (<-chan models.ParticipantEvent, error) {
	if f.client == nil {
		return nil, fmt.Errorf("redis subscribe %s: client not configured", f.channel)
	}
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", f.channel, err)
	}

	out := make(chan models.ParticipantEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close() //nolint:errcheck
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event models.ParticipantEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					f.logger.Warn("discarding malformed participant event", zap.String("channel", f.channel), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
