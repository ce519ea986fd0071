package ordering

import (
	"sync"

	"github.com/shopspring/decimal"

	"maitred/internal/kitchen"
	"maitred/internal/models"
)

// Totals are the money and unit aggregates of an order
type Totals struct {
	Total     decimal.Decimal `json:"total"`
	Quantity  int             `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Tender is the payment a cashier is entering
type Tender struct {
	Cash decimal.Decimal `json:"cash"`
	Card decimal.Decimal `json:"card"`
}

// Sum returns cash plus card
func (t Tender) Sum() decimal.Decimal {
	return t.Cash.Add(t.Card)
}

// Session is the working state of one table's order. All mutation goes
// through Manager, which serializes it on the session lock.
type Session struct {
	mu sync.Mutex

	RestaurantID   uint
	TableSessionID uint
	TableID        uint
	TableLabel     string
	WaiterID       uint
	StaffName      string

	Order  *models.Order
	Items  []models.OrderItem
	Totals Totals
	Tip    decimal.Decimal
	Tender Tender

	// detached is set once the table session is no longer active
	detached bool
}

// State is a copy of a session safe to read without the lock
type State struct {
	RestaurantID   uint               `json:"restaurant_id"`
	TableSessionID uint               `json:"table_session_id"`
	TableLabel     string             `json:"table_label"`
	Order          models.Order       `json:"order"`
	Items          []models.OrderItem `json:"items"`
	Totals         Totals             `json:"totals"`
	Tip            decimal.Decimal    `json:"tip"`
	Tender         Tender             `json:"tender"`
}

// Snapshot copies the session under its lock
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	st := State{
		RestaurantID:   s.RestaurantID,
		TableSessionID: s.TableSessionID,
		TableLabel:     s.TableLabel,
		Items:          cloneItems(s.Items),
		Totals:         s.Totals,
		Tip:            s.Tip,
		Tender:         s.Tender,
	}
	if s.Order != nil {
		st.Order = *s.Order
		st.Order.Items = nil
	}
	return st
}

// RecomputeTotals derives the aggregates from the lines. Cancelled lines
// never count; settled lines count toward the total but not the remainder.
func (s *Session) RecomputeTotals() {
	total := decimal.Zero
	remaining := decimal.Zero
	qty := 0
	for i := range s.Items {
		it := &s.Items[i]
		if it.IsCancelled() {
			continue
		}
		total = total.Add(it.SumPrice)
		qty += it.Quantity
		if !it.IsPaid() {
			remaining = remaining.Add(it.SumPrice)
		}
	}
	s.Totals = Totals{
		Total:     models.Round2(total),
		Quantity:  qty,
		Remaining: models.Round2(remaining),
	}
}

// Item returns the line with the given key. The caller must hold the lock.
func (s *Session) Item(key string) *models.OrderItem {
	for i := range s.Items {
		if s.Items[i].Key() == key {
			return &s.Items[i]
		}
	}
	return nil
}

// Ref is the dispatch context of the session
func (s *Session) Ref() kitchen.Ref {
	return kitchen.Ref{
		RestaurantID: s.RestaurantID,
		ActorID:      s.WaiterID,
		TableLabel:   s.TableLabel,
	}
}

func (s *Session) ready() bool {
	return s != nil && !s.detached && s.RestaurantID != 0 && s.TableSessionID != 0 && s.Order != nil && s.Order.ID != 0
}

func cloneItems(items []models.OrderItem) []models.OrderItem {
	if items == nil {
		return nil
	}
	out := make([]models.OrderItem, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// registry holds the sessions this process is serving
type registry struct {
	mu       sync.Mutex
	sessions map[uint]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[uint]*Session)}
}

func (r *registry) get(id uint) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// put keeps the first session stored for an id and returns it
func (r *registry) put(s *Session) (*Session, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.TableSessionID]; ok {
		return existing, len(r.sessions)
	}
	r.sessions[s.TableSessionID] = s
	return s, len(r.sessions)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *registry) remove(id uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return len(r.sessions)
}

func (r *registry) forRestaurant(restaurantID uint) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if restaurantID == 0 || s.RestaurantID == restaurantID {
			out = append(out, s)
		}
	}
	return out
}
