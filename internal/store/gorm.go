package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"maitred/internal/models"
	"maitred/internal/realtime"
)

const (
	pendingEventsKey = "maitred:pending_events"
	storeKey         = "maitred:store"
)

// GormStore implements Store on jinzhu/gorm
type GormStore struct {
	db        *gorm.DB
	policy    Policy
	logger    *zap.Logger
	publisher realtime.Publisher

	inTx        bool
	txCtx       context.Context
	afterCommit *[]func()
}

// NewGormStore wraps db and publishes change events to publisher. A nil
// publisher disables change events.
func NewGormStore(db *gorm.DB, policy Policy, publisher realtime.Publisher, logger *zap.Logger) *GormStore {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy().Timeout
	}
	if policy.ReadRetries < 0 {
		policy.ReadRetries = 0
	}
	registerCallbacks(db)
	s := &GormStore{policy: policy, logger: logger, publisher: publisher}
	s.db = db.Set(storeKey, s)
	return s
}

// registerCallbacks installs the change-event callbacks once per database.
// The store that issued a statement is looked up on its scope.
func registerCallbacks(db *gorm.DB) {
	cb := db.Callback()
	if cb.Create().Get("maitred:publish_insert") != nil {
		return
	}
	cb.Create().After("gorm:commit_or_rollback_transaction").
		Register("maitred:publish_insert", changeCallback(realtime.KindInsert))
	cb.Update().After("gorm:commit_or_rollback_transaction").
		Register("maitred:publish_update", changeCallback(realtime.KindUpdate))
	cb.Delete().After("gorm:commit_or_rollback_transaction").
		Register("maitred:publish_delete", changeCallback(realtime.KindDelete))
}

func changeCallback(kind realtime.Kind) func(*gorm.Scope) {
	return func(scope *gorm.Scope) {
		if scope.HasError() {
			return
		}
		v, ok := scope.Get(storeKey)
		if !ok {
			return
		}
		s, ok := v.(*GormStore)
		if !ok {
			return
		}
		e := realtime.Event{Table: scope.TableName(), Kind: kind, At: time.Now()}
		if f, ok := scope.FieldByName("RestaurantID"); ok && !f.IsBlank {
			if id, ok := f.Field.Interface().(uint); ok {
				e.RestaurantID = id
			}
		}
		if v, ok := scope.Get(pendingEventsKey); ok {
			if pending, ok := v.(*[]realtime.Event); ok {
				*pending = append(*pending, e)
				return
			}
		}
		s.publish(e)
	}
}

func (s *GormStore) publish(e realtime.Event) {
	if s.publisher == nil {
		return
	}
	go func() {
		if err := s.publisher.Publish(context.Background(), e); err != nil {
			s.logger.Warn("failed to publish change event",
				zap.String("table", e.Table),
				zap.String("kind", string(e.Kind)),
				zap.Error(err))
		}
	}()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return ErrNotFound
	}
	return err
}

func retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrConflict) &&
		!errors.Is(err, context.Canceled)
}

// read runs an idempotent query with retries
func (s *GormStore) read(ctx context.Context, fn func(db *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt <= s.policy.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.policy.Backoff):
			}
			s.logger.Debug("retrying store read", zap.Int("attempt", attempt), zap.Error(err))
		}
		err = s.call(ctx, fn)
		if !retryable(err) {
			return err
		}
	}
	return err
}

// write runs a mutation once
func (s *GormStore) write(ctx context.Context, fn func(db *gorm.DB) error) error {
	return s.call(ctx, fn)
}

func (s *GormStore) call(ctx context.Context, fn func(db *gorm.DB) error) error {
	if s.inTx {
		// the transaction deadline covers every statement inside it
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.txCtx.Err() != nil {
			return ErrTimeout
		}
		return mapErr(fn(s.db))
	}

	cctx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- mapErr(fn(s.db))
	}()
	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
}

// AfterCommit implements Store
func (s *GormStore) AfterCommit(fn func()) {
	if s.inTx {
		*s.afterCommit = append(*s.afterCommit, fn)
		return
	}
	fn()
}

// Transaction implements Store. The whole transaction, commit included, runs
// under one policy deadline; once it passes the transaction is rolled back
// and ErrTimeout returned.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tctx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()

	var (
		pending []realtime.Event
		hooks   []func()
	)
	done := make(chan error, 1)
	go func() {
		done <- s.runTx(tctx, &pending, &hooks, fn)
	}()

	var err error
	select {
	case err = <-done:
	case <-tctx.Done():
		// a commit that finished at the deadline still counts
		select {
		case err = <-done:
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("transaction timed out", zap.Duration("timeout", s.policy.Timeout))
			return ErrTimeout
		}
	}
	if err != nil {
		return err
	}

	for _, e := range pending {
		s.publish(e)
	}
	for _, h := range hooks {
		h()
	}
	return nil
}

func (s *GormStore) runTx(tctx context.Context, pending *[]realtime.Event, hooks *[]func(), fn func(tx Store) error) error {
	tx := s.db.Set(pendingEventsKey, pending).BeginTx(tctx, nil)
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	txStore := &GormStore{
		db:          tx,
		policy:      s.policy,
		logger:      s.logger,
		publisher:   s.publisher,
		inTx:        true,
		txCtx:       tctx,
		afterCommit: hooks,
	}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if tctx.Err() != nil {
		tx.Rollback()
		return ErrTimeout
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func byID(id uint) models.Model {
	return models.Model{ID: id}
}

func updated(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Menu

func (s *GormStore) MenuItem(ctx context.Context, id uint) (*models.MenuItem, error) {
	var item models.MenuItem
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Preload("ModifierGroups").Preload("ModifierGroups.Modifiers").First(&item, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) MenuItems(ctx context.Context, restaurantID uint) ([]models.MenuItem, error) {
	var items []models.MenuItem
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Preload("ModifierGroups").Preload("ModifierGroups.Modifiers").
			Where("restaurant_id = ?", restaurantID).Order("course, name").Find(&items).Error
	})
	return items, err
}

// Orders

func (s *GormStore) Order(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := s.read(ctx, func(db *gorm.DB) error { return db.First(&order, id).Error }); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *GormStore) OpenOrderForSession(ctx context.Context, sessionID uint) (*models.Order, error) {
	var order models.Order
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where("session_id = ? AND status <> ?", sessionID, models.OrderStatusServed).
			Order("id desc").First(&order).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *GormStore) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.write(ctx, func(db *gorm.DB) error { return db.Create(order).Error })
}

func (s *GormStore) UpdateOrder(ctx context.Context, id uint, f Fields) error {
	return s.write(ctx, func(db *gorm.DB) error {
		return updated(db.Model(&models.Order{Model: byID(id)}).Updates(map[string]interface{}(f)))
	})
}

// Order items

func (s *GormStore) OrderItem(ctx context.Context, id uint) (*models.OrderItem, error) {
	var item models.OrderItem
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Preload("Modifiers").First(&item, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) OrderItems(ctx context.Context, orderID uint) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Preload("Modifiers").Where("order_id = ?", orderID).Order("id").Find(&items).Error
	})
	return items, err
}

// CreateOrderItem stores the line together with its modifier snapshot
func (s *GormStore) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	return s.write(ctx, func(db *gorm.DB) error { return db.Create(item).Error })
}

func (s *GormStore) UpdateOrderItem(ctx context.Context, id uint, f Fields) error {
	return s.write(ctx, func(db *gorm.DB) error {
		return updated(db.Model(&models.OrderItem{Model: byID(id)}).Updates(map[string]interface{}(f)))
	})
}

// DeleteOrderItem soft deletes the line and its modifiers
func (s *GormStore) DeleteOrderItem(ctx context.Context, id uint) error {
	return s.write(ctx, func(db *gorm.DB) error {
		if err := db.Where("order_item_id = ?", id).Delete(&models.OrderItemModifier{}).Error; err != nil {
			return err
		}
		return updated(db.Delete(&models.OrderItem{Model: byID(id)}))
	})
}

// Kitchen tasks

func (s *GormStore) KitchenTask(ctx context.Context, id uint) (*models.KitchenTask, error) {
	var task models.KitchenTask
	if err := s.read(ctx, func(db *gorm.DB) error { return db.First(&task, id).Error }); err != nil {
		return nil, err
	}
	return &task, nil
}

// TasksForItem returns the live tasks of a line, oldest first
func (s *GormStore) TasksForItem(ctx context.Context, itemID uint) ([]models.KitchenTask, error) {
	var tasks []models.KitchenTask
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where("order_item_id = ?", itemID).Order("id").Find(&tasks).Error
	})
	return tasks, err
}

// ActiveTasks returns tasks still on a station display. An empty role
// selects every station.
func (s *GormStore) ActiveTasks(ctx context.Context, restaurantID uint, role models.StaffRole) ([]models.KitchenTask, error) {
	var tasks []models.KitchenTask
	err := s.read(ctx, func(db *gorm.DB) error {
		q := db.Where("restaurant_id = ? AND status IN (?)", restaurantID, []models.TaskStatus{
			models.TaskStatusPending,
			models.TaskStatusPreparing,
			models.TaskStatusReady,
		})
		if role != "" {
			q = q.Where("role = ?", role)
		}
		return q.Order("created_at, id").Find(&tasks).Error
	})
	return tasks, err
}

func (s *GormStore) CreateTasks(ctx context.Context, tasks []models.KitchenTask) error {
	for i := range tasks {
		if err := models.ValidateKitchenTask(&tasks[i]); err != nil {
			return err
		}
	}
	return s.write(ctx, func(db *gorm.DB) error {
		for i := range tasks {
			if err := db.Create(&tasks[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) UpdateTask(ctx context.Context, id uint, f Fields) error {
	return s.write(ctx, func(db *gorm.DB) error {
		return updated(db.Model(&models.KitchenTask{Model: byID(id)}).Updates(map[string]interface{}(f)))
	})
}

// TouchTasksForItem bumps updated_at so displays re-read the line details
func (s *GormStore) TouchTasksForItem(ctx context.Context, itemID uint) error {
	return s.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.KitchenTask{}).Where("order_item_id = ?", itemID).
			Update("updated_at", time.Now()).Error
	})
}

func (s *GormStore) DeleteTask(ctx context.Context, id uint) error {
	return s.write(ctx, func(db *gorm.DB) error {
		return updated(db.Delete(&models.KitchenTask{Model: byID(id)}))
	})
}

func (s *GormStore) DeleteTasksForItem(ctx context.Context, itemID uint) error {
	return s.write(ctx, func(db *gorm.DB) error {
		return db.Where("order_item_id = ?", itemID).Delete(&models.KitchenTask{}).Error
	})
}

// Floor

func (s *GormStore) Table(ctx context.Context, id uint) (*models.RestaurantTable, error) {
	var table models.RestaurantTable
	if err := s.read(ctx, func(db *gorm.DB) error { return db.First(&table, id).Error }); err != nil {
		return nil, err
	}
	return &table, nil
}

func (s *GormStore) Tables(ctx context.Context, restaurantID uint) ([]models.RestaurantTable, error) {
	var tables []models.RestaurantTable
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where("restaurant_id = ?", restaurantID).Order("label").Find(&tables).Error
	})
	return tables, err
}

// SetTableStatus moves the table to status `to` only while it is in one of
// `from`. A table in any other state yields ErrConflict.
func (s *GormStore) SetTableStatus(ctx context.Context, id uint, from []models.TableStatus, to models.TableStatus) error {
	return s.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.RestaurantTable{Model: byID(id)}).
			Where("status IN (?)", from).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var count int
		if err := db.Model(&models.RestaurantTable{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	})
}

func (s *GormStore) TableSession(ctx context.Context, id uint) (*models.TableSession, error) {
	var session models.TableSession
	if err := s.read(ctx, func(db *gorm.DB) error { return db.First(&session, id).Error }); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *GormStore) ActiveSessionForTable(ctx context.Context, tableID uint) (*models.TableSession, error) {
	var session models.TableSession
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where("table_id = ? AND status IN (?)", tableID, []models.SessionStatus{
			models.SessionStatusOpen,
			models.SessionStatusBilled,
		}).Order("id desc").First(&session).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *GormStore) CreateTableSession(ctx context.Context, session *models.TableSession) error {
	return s.write(ctx, func(db *gorm.DB) error { return db.Create(session).Error })
}

func (s *GormStore) UpdateTableSession(ctx context.Context, id uint, f Fields) error {
	return s.write(ctx, func(db *gorm.DB) error {
		return updated(db.Model(&models.TableSession{Model: byID(id)}).Updates(map[string]interface{}(f)))
	})
}

// Payments

func (s *GormStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	return s.write(ctx, func(db *gorm.DB) error { return db.Create(p).Error })
}

func (s *GormStore) Payments(ctx context.Context, orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where("order_id = ?", orderID).Order("id").Find(&payments).Error
	})
	return payments, err
}
