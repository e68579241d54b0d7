package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRelay fans events out to hub instances sharing a Redis pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "relay").Str("channel", channel).Logger(),
	}
}

// Publish sends msg to every subscribed instance, including this one.
func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Attach subscribes to the channel and delivers foreign events to h until ctx
// is done. It returns once the subscription is confirmed.
func (r *RedisRelay) Attach(ctx context.Context, h *Hub) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	h.UseRelay(r)

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg RelayMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.logger.Warn().Err(err).Msg("ignoring malformed relay message")
					continue
				}
				h.DeliverRemote(msg)
			}
		}
	}()

	r.logger.Info().Str("instance_id", h.InstanceID()).Msg("relay attached")
	return nil
}
