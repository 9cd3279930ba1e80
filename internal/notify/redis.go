package notify

import (
	"context"

	"FlowtrackAPI/internal/logger"

	"github.com/redis/go-redis/v9"
)

// redisPublisher is the part of *redis.Client the sink uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink publishes to the Redis channel <prefix><topic>.
type RedisSink struct {
	rdb    redisPublisher
	prefix string
}

// NewRedisSink принимает адрес явно (а не через os.Getenv)
func NewRedisSink(addr, prefix string) *RedisSink {
	if addr == "" {
		addr = "localhost:6379"
		logger.Warn("redis_default_addr", nil)
	}
	return &RedisSink{rdb: redis.NewClient(&redis.Options{Addr: addr}), prefix: prefix}
}

func (s *RedisSink) Publish(ctx context.Context, topic string, keys []string) error {
	data, err := encode(topic, keys)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.prefix+topic, data).Err()
}

func (s *RedisSink) Close() error { return s.rdb.Close() }
