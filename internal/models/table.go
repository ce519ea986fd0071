package models

import "time"

// RestaurantTable represents a physical table on the floor
type RestaurantTable struct {
	Model
	RestaurantID uint        `gorm:"index" json:"restaurant_id"`
	Label        string      `json:"label"`
	Seats        int         `json:"seats"`
	Status       TableStatus `json:"status"`
}

// TableStatus represents the floor state of a table
type TableStatus string

const (
	TableStatusAvailable   TableStatus = "available"
	TableStatusReserved    TableStatus = "reserved"
	TableStatusOccupied    TableStatus = "occupied"
	TableStatusUnavailable TableStatus = "unavailable"
)

// TableSession binds a table to a waiter for one service window
type TableSession struct {
	Model
	TableID      uint          `gorm:"index" json:"table_id"`
	WaiterID     uint          `json:"waiter_id"`
	RestaurantID uint          `gorm:"index" json:"restaurant_id"`
	Status       SessionStatus `json:"status"`
	OpenedAt     time.Time     `json:"opened_at"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
}

// SessionStatus represents the lifecycle state of a table session
type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "open"
	SessionStatusBilled SessionStatus = "billed"
	SessionStatusClosed SessionStatus = "close"
)

// IsActive reports whether the session still holds its table
func (s *TableSession) IsActive() bool {
	return s.Status == SessionStatusOpen || s.Status == SessionStatusBilled
}
