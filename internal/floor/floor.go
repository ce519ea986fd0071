// Package floor runs the table and table-session lifecycle:
// available, reserved, occupied (session open), billed, closed.
package floor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"maitred/internal/models"
	"maitred/internal/store"
)

var (
	ErrSessionAlreadyOpen = errors.New("table already has an open session")
	ErrSessionClosed      = errors.New("table session is closed")
)

// Service implements the table session state machine
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger, now: time.Now}
}

func (f *Service) move(ctx context.Context, st store.Store, tableID uint, from []models.TableStatus, to models.TableStatus) error {
	if err := st.SetTableStatus(ctx, tableID, from, to); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("table %d cannot become %s: %w", tableID, to, err)
		}
		return err
	}
	f.logger.Info("table status changed", zap.Uint("table_id", tableID), zap.String("status", string(to)))
	return nil
}

// Tables lists the floor of a restaurant
func (f *Service) Tables(ctx context.Context, restaurantID uint) ([]models.RestaurantTable, error) {
	return f.store.Tables(ctx, restaurantID)
}

// Reserve holds an available table
func (f *Service) Reserve(ctx context.Context, tableID uint) error {
	return f.move(ctx, f.store, tableID, []models.TableStatus{models.TableStatusAvailable}, models.TableStatusReserved)
}

// CancelReservation releases a reserved table
func (f *Service) CancelReservation(ctx context.Context, tableID uint) error {
	return f.move(ctx, f.store, tableID, []models.TableStatus{models.TableStatusReserved}, models.TableStatusAvailable)
}

// MarkUnavailable takes an available table out of service
func (f *Service) MarkUnavailable(ctx context.Context, tableID uint) error {
	return f.move(ctx, f.store, tableID, []models.TableStatus{models.TableStatusAvailable}, models.TableStatusUnavailable)
}

// MarkAvailable puts a table back into service
func (f *Service) MarkAvailable(ctx context.Context, tableID uint) error {
	return f.move(ctx, f.store, tableID, []models.TableStatus{models.TableStatusUnavailable}, models.TableStatusAvailable)
}

// Seat opens a session with an empty order on a reserved table or a
// walk-in on an available one. Everything is written in one transaction.
func (f *Service) Seat(ctx context.Context, tableID, waiterID uint) (*models.TableSession, error) {
	var session models.TableSession
	err := f.store.Transaction(ctx, func(tx store.Store) error {
		table, err := tx.Table(ctx, tableID)
		if err != nil {
			return err
		}
		if _, err := tx.ActiveSessionForTable(ctx, tableID); err == nil {
			return ErrSessionAlreadyOpen
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := f.move(ctx, tx, tableID,
			[]models.TableStatus{models.TableStatusAvailable, models.TableStatusReserved},
			models.TableStatusOccupied); err != nil {
			return err
		}

		now := f.now()
		session = models.TableSession{
			TableID:      tableID,
			WaiterID:     waiterID,
			RestaurantID: table.RestaurantID,
			Status:       models.SessionStatusOpen,
			OpenedAt:     now,
		}
		if err := tx.CreateTableSession(ctx, &session); err != nil {
			return err
		}
		return tx.CreateOrder(ctx, &models.Order{
			SessionID:    session.ID,
			RestaurantID: table.RestaurantID,
			Status:       models.OrderStatusPending,
			OpenedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	f.logger.Info("table seated",
		zap.Uint("table_id", tableID),
		zap.Uint("session_id", session.ID),
		zap.Uint("waiter_id", waiterID))
	return &session, nil
}

// PrintBill moves an open session to billed. Printing twice is harmless.
func (f *Service) PrintBill(ctx context.Context, sessionID uint) (*models.TableSession, error) {
	session, err := f.store.TableSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case models.SessionStatusBilled:
		return session, nil
	case models.SessionStatusClosed:
		return nil, ErrSessionClosed
	}
	if err := f.store.UpdateTableSession(ctx, session.ID, store.Fields{"status": models.SessionStatusBilled}); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatusBilled
	return session, nil
}

// Close ends a billed session and frees its table
func (f *Service) Close(ctx context.Context, sessionID uint) error {
	return f.end(ctx, sessionID, []models.SessionStatus{models.SessionStatusBilled})
}

// ForceClose ends a session whatever its bill state and frees its table
func (f *Service) ForceClose(ctx context.Context, sessionID uint) error {
	return f.end(ctx, sessionID, []models.SessionStatus{models.SessionStatusOpen, models.SessionStatusBilled})
}

func (f *Service) end(ctx context.Context, sessionID uint, from []models.SessionStatus) error {
	return f.store.Transaction(ctx, func(tx store.Store) error {
		session, err := tx.TableSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == models.SessionStatusClosed {
			return ErrSessionClosed
		}
		allowed := false
		for _, s := range from {
			if session.Status == s {
				allowed = true
			}
		}
		if !allowed {
			return fmt.Errorf("session %d is %s: %w", sessionID, session.Status, store.ErrConflict)
		}

		closedAt := f.now()
		if err := tx.UpdateTableSession(ctx, session.ID, store.Fields{
			"status":    models.SessionStatusClosed,
			"closed_at": &closedAt,
		}); err != nil {
			return err
		}
		if err := f.move(ctx, tx, session.TableID,
			[]models.TableStatus{models.TableStatusOccupied},
			models.TableStatusAvailable); err != nil {
			return err
		}
		f.logger.Info("table session closed",
			zap.Uint("session_id", session.ID),
			zap.Uint("table_id", session.TableID))
		return nil
	})
}
