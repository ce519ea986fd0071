package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const channelPrefix = "maitred:changes:"

// RedisBus shares change events between service instances over Redis pub/sub
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus wraps a connected client
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

func channelFor(restaurantID uint) string {
	return fmt.Sprintf("%s%d", channelPrefix, restaurantID)
}

// Publish sends the event on the restaurant channel
func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(e.RestaurantID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe listens on the restaurant channel plus the broadcast channel, or
// on every channel when the filter has no restaurant.
func (b *RedisBus) Subscribe(ctx context.Context, f Filter) (<-chan Event, error) {
	var pubsub *redis.PubSub
	if f.RestaurantID == 0 {
		pubsub = b.client.PSubscribe(ctx, channelPrefix+"*")
	} else {
		pubsub = b.client.Subscribe(ctx, channelFor(f.RestaurantID), channelFor(0))
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to change events: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.logger.Warn("dropping malformed change event",
						zap.String("channel", msg.Channel),
						zap.Error(err))
					continue
				}
				if !f.Match(e) {
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying client
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
