package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maitred/internal/database"
	"maitred/internal/models"
	"maitred/internal/realtime"
)

func setupStore(t *testing.T, bus realtime.Publisher) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := database.Open(database.Options{DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	policy := DefaultPolicy()
	policy.Backoff = time.Millisecond
	return NewGormStore(db, policy, bus, zap.NewNop()), db
}

func TestOrderItemLifecycle(t *testing.T) {
	s, _ := setupStore(t, nil)
	ctx := context.Background()

	order := &models.Order{SessionID: 1, RestaurantID: 1, Status: models.OrderStatusPending, OpenedAt: time.Now()}
	require.NoError(t, s.CreateOrder(ctx, order))

	item := &models.OrderItem{
		OrderID:       order.ID,
		MenuItemID:    2,
		Name:          "Ribeye",
		Quantity:      1,
		Type:          models.ItemTypeFood,
		Course:        models.CourseMain,
		Status:        models.ItemStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Modifiers: []models.OrderItemModifier{
			{ModifierID: 5, Name: "Fries", PriceAdjustment: decimal.RequireFromString("4.00")},
		},
	}
	item.SetUnitPrice(decimal.RequireFromString("38.00"))
	require.NoError(t, s.CreateOrderItem(ctx, item))
	require.NotZero(t, item.ID)

	require.NoError(t, s.UpdateOrderItem(ctx, item.ID, Fields{
		"quantity":  2,
		"sum_price": decimal.RequireFromString("76.00"),
	}))

	items, err := s.OrderItems(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, decimal.RequireFromString("76").Equal(items[0].SumPrice))
	require.Len(t, items[0].Modifiers, 1)
	assert.Equal(t, "Fries", items[0].Modifiers[0].Name)

	require.NoError(t, s.DeleteOrderItem(ctx, item.ID))
	_, err = s.OrderItem(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteOrderItem(ctx, item.ID), ErrNotFound)
}

func TestTasksSoftDelete(t *testing.T) {
	s, db := setupStore(t, nil)
	ctx := context.Background()

	tasks := []models.KitchenTask{
		{OrderID: 1, OrderItemID: 9, RestaurantID: 1, Role: models.RoleKitchen, Status: models.TaskStatusPending},
		{OrderID: 1, OrderItemID: 9, RestaurantID: 1, Role: models.RoleKitchen, Status: models.TaskStatusPending},
		{OrderID: 1, OrderItemID: 10, RestaurantID: 1, Role: models.RoleBar, Status: models.TaskStatusPending},
	}
	require.NoError(t, s.CreateTasks(ctx, tasks))
	assert.NotZero(t, tasks[1].ID)

	require.NoError(t, s.DeleteTask(ctx, tasks[1].ID))
	live, err := s.TasksForItem(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	var all int
	require.NoError(t, db.Unscoped().Model(&models.KitchenTask{}).Where("order_item_id = ?", 9).Count(&all).Error)
	assert.Equal(t, 2, all)

	bar, err := s.ActiveTasks(ctx, 1, models.RoleBar)
	require.NoError(t, err)
	require.Len(t, bar, 1)
	assert.Equal(t, uint(10), bar[0].OrderItemID)

	everything, err := s.ActiveTasks(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, everything, 2)

	require.NoError(t, s.DeleteTasksForItem(ctx, 9))
	live, err = s.TasksForItem(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestCreateTasksValidates(t *testing.T) {
	s, _ := setupStore(t, nil)
	err := s.CreateTasks(context.Background(), []models.KitchenTask{{OrderID: 1, Status: models.TaskStatusPending}})
	assert.Error(t, err)
}

func TestSetTableStatusGuard(t *testing.T) {
	s, _ := setupStore(t, nil)
	ctx := context.Background()

	require.NoError(t, database.Seed(s.db, 1))
	tables, err := s.Tables(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, tables)
	id := tables[0].ID

	require.NoError(t, s.SetTableStatus(ctx, id,
		[]models.TableStatus{models.TableStatusAvailable}, models.TableStatusReserved))

	err = s.SetTableStatus(ctx, id, []models.TableStatus{models.TableStatusAvailable}, models.TableStatusOccupied)
	assert.ErrorIs(t, err, ErrConflict)

	err = s.SetTableStatus(ctx, 999, []models.TableStatus{models.TableStatusAvailable}, models.TableStatusOccupied)
	assert.ErrorIs(t, err, ErrNotFound)

	table, err := s.Table(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusReserved, table.Status)
}

func TestTransactionRollsBack(t *testing.T) {
	s, _ := setupStore(t, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx Store) error {
		session := &models.TableSession{TableID: 1, RestaurantID: 1, Status: models.SessionStatusOpen, OpenedAt: time.Now()}
		if err := tx.CreateTableSession(ctx, session); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.ActiveSessionForTable(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChangeEventsPublishedAfterCommit(t *testing.T) {
	bus := realtime.NewLocalBus()
	defer bus.Close()
	s, _ := setupStore(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx, realtime.Filter{Tables: []string{"table_sessions"}})
	require.NoError(t, err)

	require.NoError(t, s.Transaction(ctx, func(tx Store) error {
		return tx.CreateTableSession(ctx, &models.TableSession{
			TableID:      3,
			RestaurantID: 4,
			Status:       models.SessionStatusOpen,
			OpenedAt:     time.Now(),
		})
	}))

	select {
	case e := <-events:
		assert.Equal(t, realtime.KindInsert, e.Kind)
		assert.Equal(t, uint(4), e.RestaurantID)
	case <-time.After(time.Second):
		t.Fatal("no change event after commit")
	}
}

func TestCallTimesOut(t *testing.T) {
	s, _ := setupStore(t, nil)
	s.policy.Timeout = 20 * time.Millisecond

	err := s.call(context.Background(), func(db *gorm.DB) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReadRetriesButWritesDoNot(t *testing.T) {
	s, _ := setupStore(t, nil)
	ctx := context.Background()
	flaky := errors.New("connection reset")

	attempts := 0
	err := s.read(ctx, func(db *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return flaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = s.write(ctx, func(db *gorm.DB) error {
		attempts++
		return flaky
	})
	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = s.read(ctx, func(db *gorm.DB) error {
		attempts++
		return gorm.ErrRecordNotFound
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, attempts)
}

func TestAfterCommitRunsOnlyOnCommit(t *testing.T) {
	s, _ := setupStore(t, nil)
	ctx := context.Background()

	var ran []string
	s.AfterCommit(func() { ran = append(ran, "direct") })
	assert.Equal(t, []string{"direct"}, ran)

	err := s.Transaction(ctx, func(tx Store) error {
		tx.AfterCommit(func() { ran = append(ran, "rolled back") })
		return errors.New("boom")
	})
	require.Error(t, err)

	require.NoError(t, s.Transaction(ctx, func(tx Store) error {
		tx.AfterCommit(func() { ran = append(ran, "committed") })
		assert.Equal(t, []string{"direct"}, ran)
		return nil
	}))
	assert.Equal(t, []string{"direct", "committed"}, ran)
}

func TestTransactionTimesOut(t *testing.T) {
	// a timed out transaction loses its connection, so an in-memory
	// database would not survive it
	db, err := database.Open(database.Options{DSN: filepath.Join(t.TempDir(), "maitred.db")})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	s := NewGormStore(db, Policy{Timeout: 30 * time.Millisecond, Backoff: time.Millisecond}, nil, zap.NewNop())
	ctx := context.Background()

	release := make(chan struct{})
	inner := make(chan error, 1)
	hooked := false

	err = s.Transaction(ctx, func(tx Store) error {
		<-release
		err := tx.CreateTableSession(ctx, &models.TableSession{
			TableID:      7,
			RestaurantID: 1,
			Status:       models.SessionStatusOpen,
			OpenedAt:     time.Now(),
		})
		tx.AfterCommit(func() { hooked = true })
		inner <- err
		return err
	})
	assert.ErrorIs(t, err, ErrTimeout)

	close(release)
	select {
	case err := <-inner:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("transaction body never resumed")
	}

	s.policy.Timeout = DefaultPolicy().Timeout
	_, err = s.ActiveSessionForTable(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, hooked)
}

type countingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *countingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestStoresShareOneDatabase(t *testing.T) {
	first, db := setupStore(t, nil)
	pub := &countingPublisher{}
	second := NewGormStore(db, DefaultPolicy(), pub, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, second.CreateTableSession(ctx, &models.TableSession{
		TableID: 2, RestaurantID: 1, Status: models.SessionStatusOpen, OpenedAt: time.Now(),
	}))
	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, first.CreateTableSession(ctx, &models.TableSession{
		TableID: 3, RestaurantID: 1, Status: models.SessionStatusOpen, OpenedAt: time.Now(),
	}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, pub.count())
}
