package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes to the NATS subject <prefix><topic>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(url, prefix string, opts ...nats.Option) (*NATSSink, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: nc, prefix: prefix}, nil
}

func (s *NATSSink) Publish(ctx context.Context, topic string, keys []string) error {
	data, err := encode(topic, keys)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.prefix+topic, data)
}

func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
