// Package notify delivers staff notifications. Delivery is fire-and-forget:
// callers never fail because a notification could not be sent.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"maitred/internal/models"
)

// Priority ranks how loudly a notification is surfaced
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is one message for one or more staff roles
type Notification struct {
	RestaurantID uint               `json:"restaurantId"`
	ActorID      uint               `json:"actorId"`
	Title        string             `json:"title"`
	Message      string             `json:"message"`
	Priority     Priority           `json:"priority"`
	Roles        []models.StaffRole `json:"roles"`
	SentAt       time.Time          `json:"sentAt"`
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	roles := make([]string, len(n.Roles))
	for i, r := range n.Roles {
		roles[i] = string(r)
	}
	l.logger.Info("staff notification",
		zap.Uint("restaurant_id", n.RestaurantID),
		zap.Uint("actor_id", n.ActorID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.String("priority", string(n.Priority)),
		zap.Strings("roles", roles))
	return nil
}

// Async sends through the wrapped notifier on its own goroutine and logs
// failures.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *zap.Logger
}

func NewAsync(next Notifier, timeout time.Duration, logger *zap.Logger) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{next: next, timeout: timeout, logger: logger}
}

// Send queues the notification and returns immediately
func (a *Async) Send(n Notification) {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, n); err != nil {
			a.logger.Warn("failed to deliver notification",
				zap.String("title", n.Title),
				zap.Uint("restaurant_id", n.RestaurantID),
				zap.Error(err))
		}
	}()
}

// Sender is the fire-and-forget side used by the engine
type Sender interface {
	Send(n Notification)
}
