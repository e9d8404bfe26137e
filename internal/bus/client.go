// Package bus launches the coordination bus and exposes the narrow client
// interface the rest of the coordinator depends on.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSubscribeAck is returned when the bus's first control frame on a fresh
// subscription does not validate: wrong kind, wrong channel, or (checked by
// callers that care) an unexpected subscriber count.
type ErrSubscribeAck struct {
	Channel string
	Got     string
}

func (e *ErrSubscribeAck) Error() string {
	return fmt.Sprintf("unexpected subscribe acknowledgement for channel %s: %s", e.Channel, e.Got)
}

// Client is the subset of bus operations the coordinator depends on. A
// *redis.Client, wrapped by NewRedisClient, satisfies it; tests substitute
// a fake that never dials a real server.
type Client interface {
	// Set stores an already-encoded value at key with no expiration.
	Set(ctx context.Context, key string, value []byte) error
	// Publish publishes payload on channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe opens a subscription to channel and blocks until the bus
	// acknowledges it, returning a handle to receive further messages; the
	// handle's Ack reports the acknowledged subscriber count.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription receives messages published on the channel it was opened
// for.
type Subscription interface {
	// Ack is the subscriber count the bus reported when the subscription
	// was acknowledged.
	Ack() int
	// Receive blocks for the next published message's payload.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type redisClient struct {
	rdb *redis.Client
}

// NewRedisClient dials addr (host:port) and returns a Client backed by
// go-redis, tagging the connection with clientName for log correlation on
// the bus side.
func NewRedisClient(addr, clientName string) Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:       addr,
		ClientName: clientName,
	})
	return &redisClient{rdb: rdb}
}

func (c *redisClient) Set(ctx context.Context, key string, value []byte) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

func (c *redisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

func (c *redisClient) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, channel)

	msg, err := pubsub.Receive(ctx)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	sub, ok := msg.(*redis.Subscription)
	if !ok || sub.Kind != "subscribe" || sub.Channel != channel {
		pubsub.Close()
		return nil, &ErrSubscribeAck{Channel: channel, Got: fmt.Sprintf("%#v", msg)}
	}

	return &redisSubscription{pubsub: pubsub, ack: sub.Count}, nil
}

func (c *redisClient) Close() error {
	return c.rdb.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ack    int
}

func (s *redisSubscription) Ack() int { return s.ack }

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

// DialTimeout is the per-attempt timeout used while polling for bus
// readiness; short enough that a single stuck attempt does not eat much of
// the overall MaxWaitSeconds budget.
const DialTimeout = 5 * time.Second
