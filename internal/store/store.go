// Package store is the persistence contract of the engine and its gorm
// implementation. Every call runs under a per-call deadline; reads are
// retried a bounded number of times, writes fail fast.
package store

import (
	"context"
	"errors"
	"time"

	"maitred/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record changed concurrently")
	ErrTimeout  = errors.New("store call timed out")
)

// Fields is a partial update keyed by column name
type Fields map[string]interface{}

// Policy bounds every store call
type Policy struct {
	Timeout     time.Duration
	ReadRetries int
	Backoff     time.Duration
}

// DefaultPolicy returns the policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     5 * time.Second,
		ReadRetries: 2,
		Backoff:     100 * time.Millisecond,
	}
}

// Store is everything the engine reads and writes
type Store interface {
	MenuItem(ctx context.Context, id uint) (*models.MenuItem, error)
	MenuItems(ctx context.Context, restaurantID uint) ([]models.MenuItem, error)

	Order(ctx context.Context, id uint) (*models.Order, error)
	OpenOrderForSession(ctx context.Context, sessionID uint) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, id uint, f Fields) error

	OrderItem(ctx context.Context, id uint) (*models.OrderItem, error)
	OrderItems(ctx context.Context, orderID uint) ([]models.OrderItem, error)
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	UpdateOrderItem(ctx context.Context, id uint, f Fields) error
	DeleteOrderItem(ctx context.Context, id uint) error

	KitchenTask(ctx context.Context, id uint) (*models.KitchenTask, error)
	TasksForItem(ctx context.Context, itemID uint) ([]models.KitchenTask, error)
	ActiveTasks(ctx context.Context, restaurantID uint, role models.StaffRole) ([]models.KitchenTask, error)
	CreateTasks(ctx context.Context, tasks []models.KitchenTask) error
	UpdateTask(ctx context.Context, id uint, f Fields) error
	TouchTasksForItem(ctx context.Context, itemID uint) error
	DeleteTask(ctx context.Context, id uint) error
	DeleteTasksForItem(ctx context.Context, itemID uint) error

	Table(ctx context.Context, id uint) (*models.RestaurantTable, error)
	Tables(ctx context.Context, restaurantID uint) ([]models.RestaurantTable, error)
	SetTableStatus(ctx context.Context, id uint, from []models.TableStatus, to models.TableStatus) error

	TableSession(ctx context.Context, id uint) (*models.TableSession, error)
	ActiveSessionForTable(ctx context.Context, tableID uint) (*models.TableSession, error)
	CreateTableSession(ctx context.Context, session *models.TableSession) error
	UpdateTableSession(ctx context.Context, id uint, f Fields) error

	CreatePayment(ctx context.Context, p *models.Payment) error
	Payments(ctx context.Context, orderID uint) ([]models.Payment, error)

	// Transaction runs fn against a store bound to one database transaction.
	// Change events raised inside are published after commit. The whole
	// transaction runs under one per-call deadline.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// AfterCommit defers fn until the enclosing transaction commits and drops
	// it on rollback. Outside a transaction fn runs immediately.
	AfterCommit(fn func())
}
