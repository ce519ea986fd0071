package ordering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maitred/internal/database"
	"maitred/internal/kitchen"
	"maitred/internal/models"
	"maitred/internal/realtime"
	"maitred/internal/store"
)

// Seeded menu of restaurant 1
const (
	burrata  = 1
	ribeye   = 2
	tiramisu = 3
	negroni  = 4

	donenessGroup = 1
	medium        = 2
	sidesGroup    = 2
	fries         = 4
)

type fixture struct {
	store   store.Store
	manager *Manager
	session *Session
}

func setup(t *testing.T, policy Policy) *fixture {
	t.Helper()
	db, err := database.Open(database.Options{DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.Seed(db, 1))
	t.Cleanup(func() { db.Close() })

	st := store.NewGormStore(db, store.DefaultPolicy(), nil, zap.NewNop())
	return build(t, st, policy)
}

func build(t *testing.T, st store.Store, policy Policy) *fixture {
	t.Helper()
	ctx := context.Background()
	ts := &models.TableSession{TableID: 1, RestaurantID: 1, WaiterID: 7, Status: models.SessionStatusOpen, OpenedAt: time.Now()}
	require.NoError(t, st.CreateTableSession(ctx, ts))

	k := kitchen.NewDispatcher(st, nil, nil, zap.NewNop(), kitchen.Options{})
	m := NewManager(st, k, nil, zap.NewNop(), policy)
	s, err := m.Open(ctx, ts.ID)
	require.NoError(t, err)
	return &fixture{store: st, manager: m, session: s}
}

func (f *fixture) tasks(t *testing.T, itemID uint) []models.KitchenTask {
	t.Helper()
	tasks, err := f.store.TasksForItem(context.Background(), itemID)
	require.NoError(t, err)
	return tasks
}

// assertInvariants checks the aggregates and the task count of every line
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	st := f.session.Snapshot()
	total, remaining := decimal.Zero, decimal.Zero
	qty := 0
	for _, it := range st.Items {
		assert.True(t, it.SumPrice.Equal(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))), "sum of %s", it.Name)
		if it.IsCancelled() {
			continue
		}
		total = total.Add(it.SumPrice)
		qty += it.Quantity
		if !it.IsPaid() {
			remaining = remaining.Add(it.SumPrice)
		}
		if it.IsStarted && it.Preparable() {
			assert.Len(t, f.tasks(t, it.ID), it.Quantity, "tasks of %s", it.Name)
		} else {
			assert.Empty(t, f.tasks(t, it.ID), "held %s has tasks", it.Name)
		}
	}
	assert.Equal(t, total.Round(2).String(), st.Totals.Total.String())
	assert.Equal(t, remaining.Round(2).String(), st.Totals.Remaining.String())
	assert.Equal(t, qty, st.Totals.Quantity)
}

func TestAddMergesPlainLines(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()

	first, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	second, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Quantity)
	assert.Equal(t, "25.00", second.SumPrice.StringFixed(2))
	assert.True(t, second.IsStarted)
	assert.Len(t, f.tasks(t, second.ID), 2)
	f.assertInvariants(t)
}

func TestAddWithModifiersCreatesNewLine(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()
	sel := models.Selection{donenessGroup: {medium}, sidesGroup: {fries}}

	a, err := f.manager.AddOrIncrementItem(ctx, f.session, ribeye, sel)
	require.NoError(t, err)
	b, err := f.manager.AddOrIncrementItem(ctx, f.session, ribeye, sel)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "38.00", a.UnitPrice.StringFixed(2))
	assert.Len(t, a.Modifiers, 2)
	assert.Equal(t, "76.00", f.session.Snapshot().Totals.Total.StringFixed(2))
	f.assertInvariants(t)
}

func TestAddRejectsInvalidSelection(t *testing.T) {
	f := setup(t, DefaultPolicy())

	_, err := f.manager.AddOrIncrementItem(context.Background(), f.session, ribeye, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	var serr *models.SelectionError
	assert.ErrorAs(t, err, &serr)
	assert.Empty(t, f.session.Snapshot().Items)
}

func TestAddWithoutSessionContext(t *testing.T) {
	f := setup(t, DefaultPolicy())

	_, err := f.manager.AddOrIncrementItem(context.Background(), &Session{}, burrata, nil)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = f.manager.AddOrIncrementItem(context.Background(), nil, burrata, nil)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestCourseGating(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()

	starter, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	drink, err := f.manager.AddOrIncrementItem(ctx, f.session, negroni, nil)
	require.NoError(t, err)
	dessert, err := f.manager.AddOrIncrementItem(ctx, f.session, tiramisu, nil)
	require.NoError(t, err)

	assert.True(t, starter.IsStarted)
	assert.True(t, drink.IsStarted)
	assert.False(t, dessert.IsStarted)
	assert.Equal(t, models.CourseDrinks, drink.Course)
	f.assertInvariants(t)

	fired, err := f.manager.FireCourse(ctx, f.session, models.CourseDessert)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	st := f.session.Snapshot()
	for _, it := range st.Items {
		assert.True(t, it.IsStarted, it.Name)
	}
	f.assertInvariants(t)

	// another dessert merges into the fired line
	more, err := f.manager.AddOrIncrementItem(ctx, f.session, tiramisu, nil)
	require.NoError(t, err)
	assert.True(t, more.IsStarted)
	assert.Len(t, f.tasks(t, more.ID), 2)

	fired, err = f.manager.FireCourse(ctx, f.session, models.CourseDessert)
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestLowestCourseAutoFires(t *testing.T) {
	f := setup(t, DefaultPolicy())
	dessert, err := f.manager.AddOrIncrementItem(context.Background(), f.session, tiramisu, nil)
	require.NoError(t, err)
	assert.True(t, dessert.IsStarted)

	g := setup(t, Policy{AutoFireLowestCourse: false})
	dessert, err = g.manager.AddOrIncrementItem(context.Background(), g.session, tiramisu, nil)
	require.NoError(t, err)
	assert.False(t, dessert.IsStarted)
	g.assertInvariants(t)
}

func TestShouldRelease(t *testing.T) {
	policy := DefaultPolicy()
	main := models.OrderItem{Type: models.ItemTypeFood, Course: models.CourseMain, TempID: "new"}
	starter := models.OrderItem{Model: models.Model{ID: 1}, Type: models.ItemTypeFood, Course: models.CourseStarter, IsStarted: true, Status: models.ItemStatusPreparing}
	servedStarter := starter
	servedStarter.Status = models.ItemStatusServed
	startedMain := models.OrderItem{Model: models.Model{ID: 2}, Type: models.ItemTypeFood, Course: models.CourseMain, IsStarted: true}
	drink := models.OrderItem{Model: models.Model{ID: 3}, Type: models.ItemTypeDrink, Course: models.CourseDrinks}

	assert.False(t, ShouldRelease([]models.OrderItem{starter}, main, policy))
	assert.True(t, ShouldRelease([]models.OrderItem{servedStarter}, main, policy))
	assert.True(t, ShouldRelease([]models.OrderItem{starter, startedMain}, main, policy))
	assert.True(t, ShouldRelease([]models.OrderItem{drink}, main, policy))
	assert.False(t, ShouldRelease([]models.OrderItem{drink}, main, Policy{}))
	assert.True(t, ShouldRelease(nil, drink, Policy{}))
}

func TestChangeQuantity(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()

	line, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	key := line.Key()

	line, err = f.manager.ChangeQuantity(ctx, f.session, key, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, line.Quantity)
	f.assertInvariants(t)

	line, err = f.manager.ChangeQuantity(ctx, f.session, key, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
	f.assertInvariants(t)

	_, err = f.manager.ChangeQuantity(ctx, f.session, key, -2)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.manager.ChangeQuantity(ctx, f.session, "missing", 1)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestDecreaseRejectedWhenEveryUnitStarted(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()
	k := kitchen.NewDispatcher(f.store, nil, nil, zap.NewNop(), kitchen.Options{})

	line, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	line, err = f.manager.ChangeQuantity(ctx, f.session, line.Key(), 1)
	require.NoError(t, err)
	for _, task := range f.tasks(t, line.ID) {
		_, err := k.ApplyTransition(ctx, task.ID, models.TaskStatusPreparing, 9)
		require.NoError(t, err)
	}
	require.NoError(t, f.manager.Refresh(ctx, f.session))
	before := f.session.Snapshot()

	_, err = f.manager.ChangeQuantity(ctx, f.session, line.Key(), -1)
	assert.ErrorIs(t, err, kitchen.ErrNoPendingTask)
	assert.Equal(t, before, f.session.Snapshot())
	assert.Len(t, f.tasks(t, line.ID), 2)
}

func TestRemoveItem(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()
	k := kitchen.NewDispatcher(f.store, nil, nil, zap.NewNop(), kitchen.Options{})

	held, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	require.NoError(t, f.manager.RemoveItem(ctx, f.session, held.Key()))
	assert.Empty(t, f.session.Snapshot().Items)
	assert.Empty(t, f.tasks(t, held.ID))

	started, err := f.manager.AddOrIncrementItem(ctx, f.session, negroni, nil)
	require.NoError(t, err)
	_, err = k.ApplyTransition(ctx, f.tasks(t, started.ID)[0].ID, models.TaskStatusPreparing, 9)
	require.NoError(t, err)
	require.NoError(t, f.manager.Refresh(ctx, f.session))

	err = f.manager.RemoveItem(ctx, f.session, started.Key())
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Len(t, f.session.Snapshot().Items, 1)
}

func TestAnnotateNoteStopsMerging(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()

	line, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	line, err = f.manager.AnnotateNote(ctx, f.session, line.Key(), "  no basil ")
	require.NoError(t, err)
	assert.Equal(t, "no basil", line.Note)

	other, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	assert.NotEqual(t, line.ID, other.ID)
	f.assertInvariants(t)
}

// failingStore fails the chosen write inside transactions
type failingStore struct {
	store.Store
	failCreate bool
	failTasks  bool
}

var errWrite = errors.New("write failed")

func (f *failingStore) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	return f.Store.Transaction(ctx, func(tx store.Store) error {
		return fn(&failingStore{Store: tx, failCreate: f.failCreate, failTasks: f.failTasks})
	})
}

func (f *failingStore) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if f.failCreate {
		return errWrite
	}
	return f.Store.CreateOrderItem(ctx, item)
}

func (f *failingStore) CreateTasks(ctx context.Context, tasks []models.KitchenTask) error {
	if f.failTasks {
		return errWrite
	}
	return f.Store.CreateTasks(ctx, tasks)
}

func TestFailedWriteRestoresSession(t *testing.T) {
	base := setup(t, DefaultPolicy())
	ctx := context.Background()
	_, err := base.manager.AddOrIncrementItem(ctx, base.session, tiramisu, nil)
	require.NoError(t, err)

	fs := &failingStore{Store: base.store}
	f := build(t, fs, DefaultPolicy())
	_, err = f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)
	before := f.session.Snapshot()

	fs.failCreate = true
	_, err = f.manager.AddOrIncrementItem(ctx, f.session, negroni, nil)
	assert.ErrorIs(t, err, errWrite)
	assert.Equal(t, before, f.session.Snapshot())

	fs.failCreate = false
	fs.failTasks = true
	_, err = f.manager.AddOrIncrementItem(ctx, f.session, negroni, nil)
	assert.ErrorIs(t, err, errWrite)
	assert.Equal(t, before, f.session.Snapshot())

	// the item insert was rolled back with its tasks
	items, err := base.store.OrderItems(ctx, f.session.Order.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = f.manager.ChangeQuantity(ctx, f.session, before.Items[0].Key(), 1)
	assert.ErrorIs(t, err, errWrite)
	assert.Equal(t, before, f.session.Snapshot())
}

func TestOpenReusesSessions(t *testing.T) {
	f := setup(t, DefaultPolicy())
	again, err := f.manager.Open(context.Background(), f.session.TableSessionID)
	require.NoError(t, err)
	assert.Same(t, f.session, again)

	_, err = f.manager.Open(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestLineDeletedElsewhereIsDropped(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()

	line, err := f.manager.AddOrIncrementItem(ctx, f.session, tiramisu, nil)
	require.NoError(t, err)
	require.Len(t, f.session.Snapshot().Items, 1)

	// another terminal removes the line
	require.NoError(t, f.store.DeleteOrderItem(ctx, line.ID))

	_, err = f.manager.ChangeQuantity(ctx, f.session, line.Key(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	st := f.session.Snapshot()
	assert.Empty(t, st.Items)
	assert.True(t, st.Totals.Total.IsZero())
	assert.Equal(t, 0, st.Totals.Quantity)
}

func TestSessionClosedElsewhereIsDetached(t *testing.T) {
	f := setup(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateTableSession(ctx, f.session.TableSessionID, store.Fields{
		"status": models.SessionStatusClosed,
	}))
	require.NoError(t, f.manager.RefreshRestaurant(ctx, realtime.Scope{RestaurantID: 1}))

	_, err = f.manager.AddOrIncrementItem(ctx, f.session, burrata, nil)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Len(t, f.session.Snapshot().Items, 1)

	_, err = f.manager.Open(ctx, f.session.TableSessionID)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}
