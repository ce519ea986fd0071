package ordering

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"maitred/internal/models"
	"maitred/internal/store"
)

// Mutation is one optimistic change. Local edits the in-memory session and
// may reject the change by returning an error. Persist writes it inside a
// single store transaction.
type Mutation struct {
	Op      string
	Local   func(s *Session) error
	Persist func(ctx context.Context, tx store.Store, s *Session) error
}

type snapshot struct {
	items  []models.OrderItem
	totals Totals
	tip    decimal.Decimal
	tender Tender
}

func takeSnapshot(s *Session) snapshot {
	return snapshot{
		items:  cloneItems(s.Items),
		totals: s.Totals,
		tip:    s.Tip,
		tender: s.Tender,
	}
}

func (snap snapshot) restore(s *Session) {
	s.Items = snap.items
	s.Totals = snap.totals
	s.Tip = snap.tip
	s.Tender = snap.tender
}

// withOptimisticUpdate applies the mutation locally, persists it and then
// reconciles with the store. Any failure before the write commits restores
// the session exactly as it was. The caller holds the session lock.
func (m *Manager) withOptimisticUpdate(ctx context.Context, s *Session, mu Mutation) error {
	snap := takeSnapshot(s)

	if mu.Local != nil {
		if err := mu.Local(s); err != nil {
			snap.restore(s)
			return err
		}
	}
	s.RecomputeTotals()

	err := m.store.Transaction(ctx, func(tx store.Store) error {
		if mu.Persist != nil {
			if err := mu.Persist(ctx, tx, s); err != nil {
				return err
			}
		}
		return tx.UpdateOrder(ctx, s.Order.ID, store.Fields{"total": s.Totals.Total})
	})
	if err != nil {
		snap.restore(s)
		m.metrics.Rollback(mu.Op)
		m.logger.Warn("optimistic update rolled back",
			zap.String("op", mu.Op),
			zap.Uint("order_id", s.Order.ID),
			zap.Error(err))
		if errors.Is(err, store.ErrNotFound) {
			// a record the session points at is gone; drop the stale copy
			if rerr := m.refresh(ctx, s); rerr != nil {
				m.logger.Warn("refetch after stale reference failed",
					zap.Uint("order_id", s.Order.ID),
					zap.Error(rerr))
			}
		}
		return err
	}

	if err := m.refresh(ctx, s); err != nil {
		m.logger.Warn("refresh after update failed",
			zap.String("op", mu.Op),
			zap.Uint("order_id", s.Order.ID),
			zap.Error(err))
	}
	return nil
}

// Update runs a mutation on the session under its lock
func (m *Manager) Update(ctx context.Context, s *Session, mu Mutation) error {
	if s == nil {
		return ErrNoActiveSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready() {
		return ErrNoActiveSession
	}
	return m.withOptimisticUpdate(ctx, s, mu)
}
