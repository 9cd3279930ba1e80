// Package notify delivers change notifications after workflow writes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FlowtrackAPI/internal/config"
	"FlowtrackAPI/internal/logger"
)

// Sink receives the business keys touched by a write.
type Sink interface {
	Publish(ctx context.Context, topic string, keys []string) error
	Close() error
}

// Event is the JSON payload of every published notification.
type Event struct {
	Topic string    `json:"topic"`
	Keys  []string  `json:"keys"`
	TS    time.Time `json:"ts"`
}

func encode(topic string, keys []string) ([]byte, error) {
	data, err := json.Marshal(Event{Topic: topic, Keys: keys, TS: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	return data, nil
}

// Noop drops every notification.
type Noop struct{}

func (Noop) Publish(context.Context, string, []string) error { return nil }
func (Noop) Close() error                                    { return nil }

// New builds the sink selected by cfg.Backend.
func New(cfg config.NotifyConfig) (Sink, error) {
	switch cfg.Backend {
	case "", "none":
		return Noop{}, nil
	case "redis":
		return NewRedisSink(cfg.RedisAddr, cfg.Prefix), nil
	case "nats":
		return NewNATSSink(cfg.NATSURL, cfg.Prefix)
	}
	return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
}

// PublishAll sends one event per non-empty topic and only logs failures:
// a write that has committed is never reported as failed.
func PublishAll(ctx context.Context, sink Sink, events map[string][]string) {
	for topic, keys := range events {
		if len(keys) == 0 {
			continue
		}
		if err := sink.Publish(ctx, topic, keys); err != nil {
			logger.WarnCtx(ctx, "notify_failed", map[string]any{
				"topic": topic,
				"keys":  len(keys),
				"error": err.Error(),
			})
		}
	}
}
