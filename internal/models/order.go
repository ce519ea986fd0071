package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents the open tab of one table session
type Order struct {
	Model
	SessionID    uint            `gorm:"index" json:"session_id"`
	RestaurantID uint            `gorm:"index" json:"restaurant_id"`
	Total        decimal.Decimal `gorm:"type:varchar(32)" json:"total"`
	Tip          decimal.Decimal `gorm:"type:varchar(32)" json:"tip"`
	Status       OrderStatus     `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	Items        []OrderItem     `gorm:"foreignkey:OrderID" json:"items,omitempty"`
}

// OrderStatus represents the possible states of an order
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusServed  OrderStatus = "served"
)

// OrderItem represents one ordered line
type OrderItem struct {
	Model
	TempID        string              `gorm:"-" json:"temp_id,omitempty"`
	OrderID       uint                `gorm:"index" json:"order_id"`
	MenuItemID    uint                `json:"menu_item_id"`
	Name          string              `json:"name"`
	Quantity      int                 `json:"quantity"`
	UnitPrice     decimal.Decimal     `gorm:"type:varchar(32)" json:"unit_price"`
	SumPrice      decimal.Decimal     `gorm:"type:varchar(32)" json:"sum_price"`
	Type          ItemType            `json:"type"`
	Course        int                 `json:"course"`
	IsStarted     bool                `json:"is_started"`
	Status        ItemStatus          `json:"status"`
	PaymentStatus PaymentStatus       `json:"payment_status"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	Note          string              `json:"note"`
	VoidReason    string              `json:"void_reason,omitempty"`
	Modifiers     []OrderItemModifier `gorm:"foreignkey:OrderItemID" json:"modifiers"`
}

// OrderItemModifier is a modifier snapshot attached to an ordered line
type OrderItemModifier struct {
	Model
	OrderItemID     uint            `gorm:"index" json:"order_item_id"`
	ModifierID      uint            `json:"modifier_id"`
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `gorm:"type:varchar(32)" json:"price_adjustment"`
}

// ItemStatus represents the preparation state of an ordered line
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusPreparing ItemStatus = "preparing"
	ItemStatusReady     ItemStatus = "ready"
	ItemStatusServed    ItemStatus = "served"
	ItemStatusCancelled ItemStatus = "cancelled"
)

// PaymentStatus represents the settlement state of an ordered line
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Key identifies the line locally: the server id once persisted, the
// temporary client id before that.
func (oi *OrderItem) Key() string {
	if oi.ID != 0 {
		return uintKey(oi.ID)
	}
	return oi.TempID
}

// Persisted reports whether the store has assigned an id
func (oi *OrderItem) Persisted() bool {
	return oi.ID != 0
}

// IsCancelled reports whether the line was voided
func (oi *OrderItem) IsCancelled() bool {
	return oi.Status == ItemStatusCancelled
}

// IsPaid reports whether the line has been settled
func (oi *OrderItem) IsPaid() bool {
	return oi.PaymentStatus == PaymentStatusCompleted
}

// Billable reports whether the line still counts toward the amount due
func (oi *OrderItem) Billable() bool {
	return !oi.IsCancelled() && !oi.IsPaid()
}

// Plain reports whether the line carries neither note nor modifiers
func (oi *OrderItem) Plain() bool {
	return oi.Note == "" && len(oi.Modifiers) == 0
}

// Preparable reports whether the line produces kitchen or bar tasks
func (oi *OrderItem) Preparable() bool {
	return oi.Type == ItemTypeFood || oi.Type == ItemTypeDrink
}

// SetQuantity updates the quantity and keeps the line total consistent
func (oi *OrderItem) SetQuantity(qty int) {
	oi.Quantity = qty
	oi.SumPrice = oi.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

// SetUnitPrice updates the unit price and keeps the line total consistent
func (oi *OrderItem) SetUnitPrice(price decimal.Decimal) {
	oi.UnitPrice = price
	oi.SumPrice = price.Mul(decimal.NewFromInt(int64(oi.Quantity)))
}

// Clone returns a deep copy of the line
func (oi OrderItem) Clone() OrderItem {
	c := oi
	if oi.PaidAt != nil {
		t := *oi.PaidAt
		c.PaidAt = &t
	}
	if oi.DeletedAt != nil {
		t := *oi.DeletedAt
		c.DeletedAt = &t
	}
	if oi.Modifiers != nil {
		c.Modifiers = make([]OrderItemModifier, len(oi.Modifiers))
		copy(c.Modifiers, oi.Modifiers)
	}
	return c
}

// Payment records one successful settlement against an order
type Payment struct {
	Model
	OrderID   uint            `gorm:"index" json:"order_id"`
	Mode      string          `json:"mode"`
	Due       decimal.Decimal `gorm:"type:varchar(32)" json:"due"`
	Cash      decimal.Decimal `gorm:"type:varchar(32)" json:"cash"`
	Card      decimal.Decimal `gorm:"type:varchar(32)" json:"card"`
	Change    decimal.Decimal `gorm:"type:varchar(32)" json:"change"`
	ItemIDs   StringSlice     `gorm:"type:text" json:"item_ids"`
	CashierID uint            `json:"cashier_id"`
}
