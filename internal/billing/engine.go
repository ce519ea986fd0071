// Package billing settles orders: quotes, tender validation, payment
// records, receipts and the final close of the table session.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"maitred/internal/kitchen"
	"maitred/internal/models"
	"maitred/internal/monitoring"
	"maitred/internal/notify"
	"maitred/internal/ordering"
	"maitred/internal/receipt"
	"maitred/internal/store"
)

// SessionCloser ends the table session once its order is paid in full
type SessionCloser interface {
	Close(ctx context.Context, tableSessionID uint) error
}

// Cashier is the staff member taking the payment
type Cashier struct {
	ID   uint
	Name string
}

// Settlement is the outcome of a successful payment
type Settlement struct {
	Quote        Quote           `json:"quote"`
	Due          decimal.Decimal `json:"due"`
	Tendered     decimal.Decimal `json:"tendered"`
	Change       decimal.Decimal `json:"change"`
	Payment      models.Payment  `json:"payment"`
	Receipt      receipt.Receipt `json:"receipt"`
	FullySettled bool            `json:"fully_settled"`
}

// Engine reconciles payments against an order session
type Engine struct {
	orders  *ordering.Manager
	kitchen *kitchen.Dispatcher
	store   store.Store
	closer  SessionCloser
	printer receipt.Printer
	sender  notify.Sender
	metrics *monitoring.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine wires the engine. printer, sender and metrics may be nil.
func NewEngine(orders *ordering.Manager, k *kitchen.Dispatcher, st store.Store, closer SessionCloser,
	printer receipt.Printer, sender notify.Sender, metrics *monitoring.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		orders:  orders,
		kitchen: k,
		store:   st,
		closer:  closer,
		printer: printer,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

func (e *Engine) send(n notify.Notification) {
	if e.sender != nil {
		e.sender.Send(n)
	}
}

// splitRound is the progress of an equal split still being collected
type splitRound struct {
	collected decimal.Decimal
	shares    int
}

// openSplit sums split payments made since lines were last marked paid
func openSplit(payments []models.Payment) splitRound {
	round := splitRound{collected: decimal.Zero}
	for _, p := range payments {
		if len(p.ItemIDs) > 0 {
			round = splitRound{collected: decimal.Zero}
			continue
		}
		if Mode(p.Mode) == ModeSplit {
			round.collected = round.collected.Add(p.Due)
			round.shares++
		}
	}
	return round
}

// Settle takes a payment for the scope. The tender must cover the amount
// due; nothing changes otherwise. Lines covered by the payment are marked
// paid, and once every line is paid the order is served and the table
// session closed.
func (e *Engine) Settle(ctx context.Context, s *ordering.Session, tender ordering.Tender, scope Scope, cashier Cashier) (*Settlement, error) {
	if s == nil {
		return nil, ordering.ErrNoActiveSession
	}
	if tender.Cash.IsNegative() || tender.Card.IsNegative() {
		return nil, &ordering.ValidationError{Reason: "tender must not be negative"}
	}
	snap := s.Snapshot()

	ts, err := e.store.TableSession(ctx, snap.TableSessionID)
	if err != nil {
		return nil, err
	}
	if ts.Status != models.SessionStatusBilled {
		return nil, ErrBillNotPrinted
	}

	round := splitRound{collected: decimal.Zero}
	if scope.Mode == ModeSplit {
		payments, err := e.store.Payments(ctx, snap.Order.ID)
		if err != nil {
			return nil, err
		}
		round = openSplit(payments)
	}

	now := e.now()
	var (
		result Settlement
		marked []string
	)
	err = e.orders.Update(ctx, s, ordering.Mutation{
		Op: "settle",
		Local: func(s *ordering.Session) error {
			q, err := QuoteFor(ordering.State{Items: s.Items}, scope)
			if err != nil {
				return err
			}
			due := q.Due
			marked = q.ItemKeys
			if q.Mode == ModeSplit {
				left := models.Round2(sum(unpaid(s.Items))).Sub(round.collected)
				if round.shares+1 >= q.Guests || due.GreaterThan(left) {
					due = left
				} else {
					marked = nil
				}
			}
			if len(marked) == 0 && !due.IsPositive() {
				return ErrNothingToPay
			}

			tendered := models.Round2(tender.Sum())
			if tendered.LessThan(models.Round2(due)) {
				return &InsufficientPaymentError{Due: models.Round2(due), Tendered: tendered}
			}

			for _, k := range marked {
				it := s.Item(k)
				it.PaymentStatus = models.PaymentStatusCompleted
				paidAt := now
				it.PaidAt = &paidAt
			}
			s.Tender = tender
			result = Settlement{
				Quote:    q,
				Due:      models.Round2(due),
				Tendered: tendered,
				Change:   tendered.Sub(models.Round2(due)),
			}
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *ordering.Session) error {
			ids := models.StringSlice{}
			for _, k := range marked {
				it := s.Item(k)
				if err := tx.UpdateOrderItem(ctx, it.ID, store.Fields{
					"payment_status": models.PaymentStatusCompleted,
					"paid_at":        it.PaidAt,
				}); err != nil {
					return fmt.Errorf("failed to mark %s paid: %w", it.Name, err)
				}
				ids = append(ids, it.Key())
			}
			p := models.Payment{
				OrderID:   s.Order.ID,
				Mode:      string(result.Quote.Mode),
				Due:       result.Due,
				Cash:      tender.Cash,
				Card:      tender.Card,
				Change:    result.Change,
				ItemIDs:   ids,
				CashierID: cashier.ID,
			}
			if err := tx.CreatePayment(ctx, &p); err != nil {
				return err
			}
			result.Payment = p
			return nil
		},
	})
	if err != nil {
		var short *InsufficientPaymentError
		if errors.As(err, &short) {
			e.metrics.Settlement(string(scope.Mode), "rejected", 0)
		}
		return nil, err
	}

	amount, _ := result.Due.Float64()
	e.metrics.Settlement(string(result.Quote.Mode), "ok", amount)
	e.logger.Info("payment settled",
		zap.Uint("order_id", snap.Order.ID),
		zap.String("mode", string(result.Quote.Mode)),
		zap.String("due", result.Due.StringFixed(2)),
		zap.String("change", result.Change.StringFixed(2)),
		zap.Uint("cashier_id", cashier.ID))

	result.Receipt = e.printReceipt(ctx, s, marked, result, cashier)
	result.FullySettled = e.finishIfSettled(ctx, s)
	return &result, nil
}

func (e *Engine) printReceipt(ctx context.Context, s *ordering.Session, marked []string, result Settlement, cashier Cashier) receipt.Receipt {
	st := s.Snapshot()
	wanted := make(map[string]bool, len(marked))
	for _, k := range marked {
		wanted[k] = true
	}
	var lines []models.OrderItem
	for _, it := range st.Items {
		if (len(marked) == 0 && it.Billable()) || wanted[it.Key()] {
			lines = append(lines, it)
		}
	}

	r := receipt.Build(st.Order.ID, cashier.Name, st.TableLabel, lines,
		result.Payment.Cash, result.Payment.Card, result.Change)
	r.TotalAmount = result.Due

	if e.printer != nil {
		if err := e.printer.Print(ctx, r); err != nil {
			e.logger.Warn("failed to print receipt", zap.Uint("order_id", st.Order.ID), zap.Error(err))
		}
	}
	return r
}

// finishIfSettled serves the order and closes the table session once no
// line is left to pay.
func (e *Engine) finishIfSettled(ctx context.Context, s *ordering.Session) bool {
	st := s.Snapshot()
	for _, it := range st.Items {
		if it.Billable() {
			return false
		}
	}

	err := e.orders.Update(ctx, s, ordering.Mutation{
		Op: "close_order",
		Persist: func(ctx context.Context, tx store.Store, s *ordering.Session) error {
			return tx.UpdateOrder(ctx, s.Order.ID, store.Fields{
				"status": models.OrderStatusServed,
				"tip":    models.Round2(s.Tip),
			})
		},
	})
	if err != nil {
		e.logger.Error("failed to close settled order", zap.Uint("order_id", st.Order.ID), zap.Error(err))
		return false
	}

	if err := e.closer.Close(ctx, st.TableSessionID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Error("failed to close table session",
				zap.Uint("session_id", st.TableSessionID),
				zap.Error(err))
			return false
		}
		e.logger.Info("table session already gone, refreshing",
			zap.Uint("session_id", st.TableSessionID))
		if err := e.orders.Refresh(ctx, s); err != nil {
			e.logger.Warn("refresh after stale close failed", zap.Error(err))
		}
	}

	e.orders.ResetClientState(s)
	e.orders.Forget(st.TableSessionID)
	return true
}

func (e *Engine) lineForUpdate(st ordering.State, key string) (models.OrderItem, error) {
	for _, it := range st.Items {
		if it.Key() == key {
			return it, nil
		}
	}
	return models.OrderItem{}, fmt.Errorf("%w: %s", ordering.ErrItemNotFound, key)
}

// Void cancels a line. Its tasks are withdrawn from the stations.
func (e *Engine) Void(ctx context.Context, s *ordering.Session, key, reason string, actorID uint) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	if s == nil {
		return ordering.ErrNoActiveSession
	}
	line, err := e.lineForUpdate(s.Snapshot(), key)
	if err != nil {
		return err
	}
	if line.IsCancelled() {
		return &ordering.ValidationError{Reason: line.Name + " is already voided"}
	}
	if line.IsPaid() {
		return &ordering.ValidationError{Reason: line.Name + " is already paid"}
	}

	err = e.orders.Update(ctx, s, ordering.Mutation{
		Op: "void_item",
		Local: func(s *ordering.Session) error {
			it := s.Item(key)
			if it == nil {
				return fmt.Errorf("%w: %s", ordering.ErrItemNotFound, key)
			}
			it.Status = models.ItemStatusCancelled
			it.VoidReason = reason
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *ordering.Session) error {
			it := s.Item(key)
			if err := tx.UpdateOrderItem(ctx, it.ID, store.Fields{
				"status":      models.ItemStatusCancelled,
				"void_reason": reason,
			}); err != nil {
				return err
			}
			return e.kitchen.With(tx).DeleteAllTasksFor(ctx, it.ID)
		},
	})
	if err != nil {
		return err
	}

	roles := []models.StaffRole{models.RoleManager}
	if line.IsStarted {
		roles = append(roles, models.RoleFor(line.Type))
	}
	e.send(notify.Notification{
		RestaurantID: s.Snapshot().RestaurantID,
		ActorID:      actorID,
		Title:        "Item voided",
		Message:      fmt.Sprintf("%dx %s: %s", line.Quantity, line.Name, reason),
		Priority:     notify.PriorityHigh,
		Roles:        roles,
	})
	return nil
}

// Comp gives a line away: it stays on the order at no charge
func (e *Engine) Comp(ctx context.Context, s *ordering.Session, key, reason string, actorID uint) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	if s == nil {
		return ordering.ErrNoActiveSession
	}
	line, err := e.lineForUpdate(s.Snapshot(), key)
	if err != nil {
		return err
	}
	if !line.Billable() {
		return &ordering.ValidationError{Reason: line.Name + " cannot be comped"}
	}

	note := "[COMP] " + reason
	if line.Note != "" {
		note += "; " + line.Note
	}
	err = e.orders.Update(ctx, s, ordering.Mutation{
		Op: "comp_item",
		Local: func(s *ordering.Session) error {
			it := s.Item(key)
			if it == nil {
				return fmt.Errorf("%w: %s", ordering.ErrItemNotFound, key)
			}
			it.SetUnitPrice(decimal.Zero)
			it.Note = note
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *ordering.Session) error {
			it := s.Item(key)
			if err := tx.UpdateOrderItem(ctx, it.ID, store.Fields{
				"unit_price": it.UnitPrice,
				"sum_price":  it.SumPrice,
				"note":       note,
			}); err != nil {
				return err
			}
			if it.IsStarted {
				return e.kitchen.With(tx).TouchTasksFor(ctx, it.ID)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	e.send(notify.Notification{
		RestaurantID: s.Snapshot().RestaurantID,
		ActorID:      actorID,
		Title:        "Item comped",
		Message:      fmt.Sprintf("%dx %s: %s", line.Quantity, line.Name, reason),
		Priority:     notify.PriorityNormal,
		Roles:        []models.StaffRole{models.RoleManager},
	})
	return nil
}

// SetTip records the tip applied when the order closes
func (e *Engine) SetTip(ctx context.Context, s *ordering.Session, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &ordering.ValidationError{Reason: "tip must not be negative"}
	}
	amount = models.Round2(amount)
	return e.orders.Update(ctx, s, ordering.Mutation{
		Op: "set_tip",
		Local: func(s *ordering.Session) error {
			s.Tip = amount
			return nil
		},
		Persist: func(ctx context.Context, tx store.Store, s *ordering.Session) error {
			return tx.UpdateOrder(ctx, s.Order.ID, store.Fields{"tip": amount})
		},
	})
}
