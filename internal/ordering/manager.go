// Package ordering keeps the in-memory order of each table consistent with
// the store. Every change is applied optimistically, persisted in one
// transaction and rolled back locally when the write fails.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"maitred/internal/kitchen"
	"maitred/internal/models"
	"maitred/internal/monitoring"
	"maitred/internal/realtime"
	"maitred/internal/store"
)

// Manager owns the order sessions of this process
type Manager struct {
	store    store.Store
	kitchen  *kitchen.Dispatcher
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	policy   Policy
	sessions *registry
}

// NewManager creates a manager. metrics may be nil.
func NewManager(st store.Store, k *kitchen.Dispatcher, metrics *monitoring.Metrics, logger *zap.Logger, policy Policy) *Manager {
	return &Manager{
		store:    st,
		kitchen:  k,
		metrics:  metrics,
		logger:   logger,
		policy:   policy,
		sessions: newRegistry(),
	}
}

// Open returns the session of an active table session, loading it from the
// store the first time. An order is created if the session has none.
func (m *Manager) Open(ctx context.Context, tableSessionID uint) (*Session, error) {
	if s, ok := m.sessions.get(tableSessionID); ok {
		return s, nil
	}

	ts, err := m.store.TableSession(ctx, tableSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, err
	}
	if !ts.IsActive() {
		return nil, ErrNoActiveSession
	}
	table, err := m.store.Table(ctx, ts.TableID)
	if err != nil {
		return nil, err
	}

	order, err := m.store.OpenOrderForSession(ctx, ts.ID)
	if errors.Is(err, store.ErrNotFound) {
		order = &models.Order{
			SessionID:    ts.ID,
			RestaurantID: ts.RestaurantID,
			Status:       models.OrderStatusPending,
			OpenedAt:     ts.OpenedAt,
		}
		err = m.store.CreateOrder(ctx, order)
	}
	if err != nil {
		return nil, err
	}

	s := &Session{
		RestaurantID:   ts.RestaurantID,
		TableSessionID: ts.ID,
		TableID:        ts.TableID,
		TableLabel:     table.Label,
		WaiterID:       ts.WaiterID,
		Order:          order,
		Tip:            order.Tip,
	}
	if err := m.refresh(ctx, s); err != nil {
		return nil, err
	}

	s, n := m.sessions.put(s)
	m.metrics.OpenSessions(n)
	return s, nil
}

// Held returns how many order sessions are in memory
func (m *Manager) Held() int {
	return m.sessions.len()
}

// Forget drops a session from memory once its table session closes
func (m *Manager) Forget(tableSessionID uint) {
	m.metrics.OpenSessions(m.sessions.remove(tableSessionID))
}

// Refresh re-reads the order and its lines from the store. A session whose
// table session was closed elsewhere is detached and reports
// ErrNoActiveSession.
func (m *Manager) Refresh(ctx context.Context, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.refresh(ctx, s)
}

func (m *Manager) refresh(ctx context.Context, s *Session) error {
	if s.Order == nil || s.Order.ID == 0 {
		return ErrNoActiveSession
	}
	ts, err := m.store.TableSession(ctx, s.TableSessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.detached = true
		return ErrNoActiveSession
	}
	if err != nil {
		return err
	}
	if !ts.IsActive() {
		s.detached = true
		return ErrNoActiveSession
	}
	order, err := m.store.Order(ctx, s.Order.ID)
	if err != nil {
		return err
	}
	items, err := m.store.OrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	s.Order = order
	s.Items = items
	s.RecomputeTotals()
	return nil
}

// RefreshRestaurant re-reads every held session of a restaurant. It is the
// refetch step of the realtime reconciler.
func (m *Manager) RefreshRestaurant(ctx context.Context, scope realtime.Scope) error {
	var firstErr error
	for _, s := range m.sessions.forRestaurant(scope.RestaurantID) {
		err := m.Refresh(ctx, s)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrNoActiveSession) {
			m.logger.Info("dropping stale order session", zap.Uint("session_id", s.TableSessionID))
			m.Forget(s.TableSessionID)
			continue
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ResetClientState clears the tender and tip held for the next payment
func (m *Manager) ResetClientState(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tender = Tender{}
	s.Tip = decimal.Zero
}

// RecomputeTotals recalculates the aggregates of the session
func (m *Manager) RecomputeTotals(s *Session) Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecomputeTotals()
	return s.Totals
}

// AddOrIncrementItem adds one unit of a menu item. A plain pending line of
// the same item and course absorbs the unit; anything else becomes a new
// line priced at the menu price plus its modifier adjustments.
func (m *Manager) AddOrIncrementItem(ctx context.Context, s *Session, menuItemID uint, sel models.Selection) (*models.OrderItem, error) {
	if s == nil {
		return nil, ErrNoActiveSession
	}
	if sel == nil {
		sel = models.Selection{}
	}

	mi, err := m.store.MenuItem(ctx, menuItemID)
	if err != nil {
		return nil, err
	}
	if !mi.Available {
		return nil, invalid("%s is not available", mi.Name)
	}
	if err := sel.Validate(mi); err != nil {
		return nil, &ValidationError{Reason: "invalid modifier selection", Err: err}
	}
	mods, adjustment, err := sel.Resolve(mi)
	if err != nil {
		return nil, &ValidationError{Reason: "invalid modifier selection", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready() {
		return nil, ErrNoActiveSession
	}
	if mi.RestaurantID != s.RestaurantID {
		return nil, invalid("%s is not on this restaurant's menu", mi.Name)
	}

	course := mi.EffectiveCourse()
	if sel.Empty() {
		if line := mergeTarget(s.Items, mi.ID, course); line != nil {
			key := line.Key()
			err := m.incrementLine(ctx, s, key, 1)
			if err != nil {
				return nil, err
			}
			m.metrics.ItemsOrdered(string(mi.Type), 1)
			return m.lineCopy(s, key), nil
		}
	}

	line := models.OrderItem{
		TempID:        uuid.NewString(),
		OrderID:       s.Order.ID,
		MenuItemID:    mi.ID,
		Name:          mi.Name,
		Quantity:      1,
		Type:          mi.Type,
		Course:        course,
		Status:        models.ItemStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Modifiers:     mods,
	}
	line.SetUnitPrice(mi.Price.Add(adjustment))
	line.IsStarted = ShouldRelease(s.Items, line, m.policy)

	var id uint
	err = m.withOptimisticUpdate(ctx, s, Mutation{
		Op: "add_item",
		Local: func(s *Session) error {
			s.Items = append(s.Items, line.Clone())
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *Session) error {
			created := line.Clone()
			if err := tx.CreateOrderItem(ctx, &created); err != nil {
				return err
			}
			if local := s.Item(line.TempID); local != nil {
				local.ID = created.ID
			}
			id = created.ID
			if created.IsStarted {
				return m.kitchen.With(tx).ReleaseItem(ctx, s.Ref(), &created)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	m.metrics.ItemsOrdered(string(mi.Type), 1)
	m.logger.Debug("item added",
		zap.Uint("order_id", s.Order.ID),
		zap.Uint("item_id", id),
		zap.Bool("released", line.IsStarted))
	for i := range s.Items {
		if s.Items[i].ID == id {
			c := s.Items[i].Clone()
			return &c, nil
		}
	}
	return nil, nil
}

func mergeTarget(items []models.OrderItem, menuItemID uint, course int) *models.OrderItem {
	for i := range items {
		it := &items[i]
		if it.MenuItemID != menuItemID || it.Course != course {
			continue
		}
		if it.Status != models.ItemStatusPending || it.IsPaid() || !it.Plain() || !it.Persisted() {
			continue
		}
		return it
	}
	return nil
}

func (m *Manager) lineCopy(s *Session, key string) *models.OrderItem {
	if it := s.Item(key); it != nil {
		c := it.Clone()
		return &c
	}
	return nil
}

// ChangeQuantity moves a line's quantity by delta. Released lines gain a
// task per added unit and lose their newest pending task per removed unit.
func (m *Manager) ChangeQuantity(ctx context.Context, s *Session, key string, delta int) (*models.OrderItem, error) {
	if s == nil {
		return nil, ErrNoActiveSession
	}
	if delta == 0 {
		return nil, invalid("quantity change must not be zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready() {
		return nil, ErrNoActiveSession
	}
	if err := m.incrementLine(ctx, s, key, delta); err != nil {
		return nil, err
	}
	return m.lineCopy(s, key), nil
}

func (m *Manager) incrementLine(ctx context.Context, s *Session, key string, delta int) error {
	line := s.Item(key)
	if line == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	switch {
	case !line.Persisted():
		return invalid("%s is still being saved", line.Name)
	case line.IsCancelled():
		return invalid("%s was voided", line.Name)
	case line.IsPaid():
		return invalid("%s is already paid", line.Name)
	case line.Quantity+delta < 1:
		return invalid("quantity must be at least 1")
	}

	op := "increase_quantity"
	if delta < 0 {
		op = "decrease_quantity"
	}
	return m.withOptimisticUpdate(ctx, s, Mutation{
		Op: op,
		Local: func(s *Session) error {
			it := s.Item(key)
			it.SetQuantity(it.Quantity + delta)
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *Session) error {
			it := s.Item(key)
			if err := tx.UpdateOrderItem(ctx, it.ID, store.Fields{
				"quantity":  it.Quantity,
				"sum_price": it.SumPrice,
			}); err != nil {
				return err
			}
			if !it.IsStarted {
				return nil
			}
			k := m.kitchen.With(tx)
			if delta > 0 {
				return k.AddUnits(ctx, s.Ref(), it, delta)
			}
			for i := 0; i < -delta; i++ {
				if err := k.RetractOneUnit(ctx, it.ID); err != nil {
					if errors.Is(err, kitchen.ErrNoPendingTask) {
						return &ValidationError{Reason: it.Name + " is already being prepared", Err: err}
					}
					return err
				}
			}
			return nil
		},
	})
}

// RemoveItem deletes a line no station has started
func (m *Manager) RemoveItem(ctx context.Context, s *Session, key string) error {
	if s == nil {
		return ErrNoActiveSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready() {
		return ErrNoActiveSession
	}

	line := s.Item(key)
	if line == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	if !line.Persisted() {
		return invalid("%s is still being saved", line.Name)
	}
	if line.Status != models.ItemStatusPending || line.IsPaid() {
		return invalid("%s can no longer be removed", line.Name)
	}
	started, err := m.kitchen.HasStartedTasks(ctx, line.ID)
	if err != nil {
		return err
	}
	if started {
		return invalid("%s is already being prepared", line.Name)
	}

	id := line.ID
	return m.withOptimisticUpdate(ctx, s, Mutation{
		Op: "remove_item",
		Local: func(s *Session) error {
			for i := range s.Items {
				if s.Items[i].Key() == key {
					s.Items = append(s.Items[:i:i], s.Items[i+1:]...)
					break
				}
			}
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *Session) error {
			if err := m.kitchen.With(tx).DeleteAllTasksFor(ctx, id); err != nil {
				return err
			}
			return tx.DeleteOrderItem(ctx, id)
		},
	})
}

// AnnotateNote sets the free-text note of a line
func (m *Manager) AnnotateNote(ctx context.Context, s *Session, key, note string) (*models.OrderItem, error) {
	if s == nil {
		return nil, ErrNoActiveSession
	}
	note = strings.TrimSpace(note)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready() {
		return nil, ErrNoActiveSession
	}
	line := s.Item(key)
	if line == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	if !line.Persisted() {
		return nil, invalid("%s is still being saved", line.Name)
	}

	err := m.withOptimisticUpdate(ctx, s, Mutation{
		Op: "annotate_note",
		Local: func(s *Session) error {
			s.Item(key).Note = note
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *Session) error {
			it := s.Item(key)
			if err := tx.UpdateOrderItem(ctx, it.ID, store.Fields{"note": note}); err != nil {
				return err
			}
			if it.IsStarted {
				return m.kitchen.With(tx).TouchTasksFor(ctx, it.ID)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return m.lineCopy(s, key), nil
}

// FireCourse releases every held line of a course in one pass
func (m *Manager) FireCourse(ctx context.Context, s *Session, course int) (int, error) {
	if s == nil {
		return 0, ErrNoActiveSession
	}
	if course < models.CourseStarter || course > models.CourseDrinks {
		return 0, invalid("course %d does not exist", course)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready() {
		return 0, ErrNoActiveSession
	}
	keys := heldInCourse(s.Items, course)
	if len(keys) == 0 {
		return 0, nil
	}

	err := m.withOptimisticUpdate(ctx, s, Mutation{
		Op: "fire_course",
		Local: func(s *Session) error {
			for _, k := range keys {
				s.Item(k).IsStarted = true
			}
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *Session) error {
			items := make([]*models.OrderItem, 0, len(keys))
			for _, k := range keys {
				it := s.Item(k)
				if err := tx.UpdateOrderItem(ctx, it.ID, store.Fields{"is_started": true}); err != nil {
					return err
				}
				c := it.Clone()
				items = append(items, &c)
			}
			ref := s.Ref()
			ref.Reason = fmt.Sprintf("Course %d fired", course)
			return m.kitchen.With(tx).ReleaseItems(ctx, ref, items)
		},
	})
	if err != nil {
		return 0, err
	}
	m.logger.Info("course fired",
		zap.Uint("order_id", s.Order.ID),
		zap.Int("course", course),
		zap.Int("items", len(keys)))
	return len(keys), nil
}
