package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const notificationsExchange = "maitred_notifications"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes one message per role on a topic exchange with
// routing key "staff.<role>".
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  publisher
	exchange string
	logger   *zap.Logger
}

// AMQPOptions configures the broker connection
type AMQPOptions struct {
	URL      string
	Exchange string
}

// DialAMQP connects to the broker and declares the notification exchange
func DialAMQP(opts AMQPOptions, logger *zap.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	exchange := opts.Exchange
	if exchange == "" {
		exchange = notificationsExchange
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	n := newAMQPNotifier(ch, exchange, logger)
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch publisher, exchange string, logger *zap.Logger) *AMQPNotifier {
	return &AMQPNotifier{channel: ch, exchange: exchange, logger: logger}
}

// Notify implements Notifier
func (a *AMQPNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, role := range n.Roles {
		key := "staff." + string(role)
		err := a.channel.PublishWithContext(ctx,
			a.exchange, // exchange
			key,        // routing key
			false,      // mandatory
			false,      // immediate
			amqp.Publishing{
				DeliveryMode: amqp.Persistent,
				ContentType:  "application/json",
				Body:         body,
				Timestamp:    time.Now(),
			})
		if err != nil {
			return fmt.Errorf("failed to publish notification to %s: %w", key, err)
		}
		a.logger.Debug("notification published", zap.String("routing_key", key), zap.String("title", n.Title))
	}
	return nil
}

// Close closes the broker connection
func (a *AMQPNotifier) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
