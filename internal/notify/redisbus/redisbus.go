// Package redisbus carries room frames between processes over Redis pub/sub.
// Each room namespace is used directly as the channel name.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/example/robin/internal/notify"
)

// Connect parses url, opens a client and verifies it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redisbus: redis url is not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisbus: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisbus: ping: %w", err)
	}
	return client, nil
}

// Publisher implements notify.Broadcaster by publishing to Redis.
type Publisher struct {
	client *redis.Client
}

var _ notify.Broadcaster = (*Publisher)(nil)

// NewPublisher wraps client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Broadcast publishes frame on the namespace channel.
func (p *Publisher) Broadcast(ctx context.Context, namespace string, frame []byte) error {
	if err := p.client.Publish(ctx, namespace, frame).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", namespace, err)
	}
	return nil
}

// Subscriber relays every frame published under a namespace prefix to a sink.
type Subscriber struct {
	client  *redis.Client
	pattern string
	sink    notify.Broadcaster
	logger  *slog.Logger
}

// NewSubscriber listens on every namespace below prefix.
func NewSubscriber(client *redis.Client, prefix string, sink notify.Broadcaster, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:  client,
		pattern: notify.NormalizePrefix(prefix) + "/*",
		sink:    sink,
		logger:  logger.With("component", "redisbus", "pattern", notify.NormalizePrefix(prefix)+"/*"),
	}
}

// Run subscribes and forwards messages until ctx is cancelled. ready, when
// non-nil, is closed once the subscription is confirmed by the server.
func (s *Subscriber) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := s.client.PSubscribe(ctx, s.pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redisbus: subscribe %s: %w", s.pattern, err)
	}
	if ready != nil {
		close(ready)
	}
	s.logger.InfoContext(ctx, "subscribed to room namespaces")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redisbus: subscription closed")
			}
			if err := s.sink.Broadcast(ctx, msg.Channel, []byte(msg.Payload)); err != nil {
				s.logger.WarnContext(ctx, "failed to relay frame", "namespace", msg.Channel, "error", err)
			}
		}
	}
}
