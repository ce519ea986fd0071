package models

import (
	"fmt"
	"time"
)

// KitchenTask represents one unit of preparation work for one ordered line
type KitchenTask struct {
	Model
	OrderID         uint       `gorm:"index" json:"order_id"`
	OrderItemID     uint       `gorm:"index" json:"order_item_id"`
	MenuItemID      uint       `json:"menu_item_id"`
	RestaurantID    uint       `gorm:"index" json:"restaurant_id"`
	Name            string     `json:"name"`
	Note            string     `json:"note,omitempty"`
	Role            StaffRole  `json:"role"`
	Status          TaskStatus `json:"status"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	PreparedBy      uint       `json:"prepared_by,omitempty"`
}

// TaskStatus represents the status of a preparation task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusPreparing TaskStatus = "preparing"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusServed    TaskStatus = "served"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// StaffRole names a group of staff that receives work or notifications
type StaffRole string

const (
	RoleWaiter  StaffRole = "waiter"
	RoleKitchen StaffRole = "kitchen"
	RoleBar     StaffRole = "bar"
	RoleCashier StaffRole = "cashier"
	RoleManager StaffRole = "manager"
)

// RoleFor returns the station that prepares an item type
func RoleFor(t ItemType) StaffRole {
	if t == ItemTypeDrink {
		return RoleBar
	}
	return RoleKitchen
}

// ValidateKitchenTask validates a preparation task before it is stored
func ValidateKitchenTask(task *KitchenTask) error {
	if task.OrderItemID == 0 {
		return fmt.Errorf("kitchen task order item is required")
	}
	if task.OrderID == 0 {
		return fmt.Errorf("kitchen task order is required")
	}
	if !IsTaskStatusValid(string(task.Status)) {
		return fmt.Errorf("kitchen task status %q is not valid", task.Status)
	}
	return nil
}

// IsTaskStatusValid checks if a preparation status is valid
func IsTaskStatusValid(status string) bool {
	validStatuses := map[TaskStatus]bool{
		TaskStatusPending:   true,
		TaskStatusPreparing: true,
		TaskStatusReady:     true,
		TaskStatusServed:    true,
		TaskStatusCancelled: true,
	}
	return validStatuses[TaskStatus(status)]
}

// rank orders statuses along the preparation line
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusPreparing:
		return 1
	case TaskStatusReady:
		return 2
	case TaskStatusServed:
		return 3
	}
	return -1
}

// IsPending reports whether no station has acted on the task yet
func (t *KitchenTask) IsPending() bool {
	return t.Status == TaskStatusPending
}

// IsActive reports whether the task still shows on a station display
func (t *KitchenTask) IsActive() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusPreparing || t.Status == TaskStatusReady
}

// RollupItemStatus derives the line status from its task statuses: the line
// is as far along as its slowest unit.
func RollupItemStatus(tasks []KitchenTask) ItemStatus {
	if len(tasks) == 0 {
		return ItemStatusPending
	}
	lowest, counted := 3, 0
	anyStarted := false
	for _, t := range tasks {
		r := t.Status.rank()
		if r < 0 {
			continue
		}
		counted++
		if r < lowest {
			lowest = r
		}
		if r > 0 {
			anyStarted = true
		}
	}
	switch {
	case counted == 0:
		return ItemStatusPending
	case lowest >= 3:
		return ItemStatusServed
	case lowest == 2:
		return ItemStatusReady
	case anyStarted:
		return ItemStatusPreparing
	}
	return ItemStatusPending
}
