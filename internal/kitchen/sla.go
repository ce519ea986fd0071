package kitchen

import (
	"context"
	"time"

	"maitred/internal/models"
)

// SLAState is how a task stands against its preparation target
type SLAState string

const (
	SLAOnTime       SLAState = "on_time"
	SLANearDeadline SLAState = "near_deadline"
	SLAOverdue      SLAState = "overdue"
)

const nearDeadlineWindow = 2 * time.Minute

// Classify measures elapsed time since the last status change. A task
// without a target is always on time.
func Classify(task models.KitchenTask, target time.Duration, now time.Time) SLAState {
	if target <= 0 {
		return SLAOnTime
	}
	elapsed := now.Sub(task.StatusChangedAt)
	switch {
	case elapsed >= target:
		return SLAOverdue
	case target-elapsed <= nearDeadlineWindow:
		return SLANearDeadline
	}
	return SLAOnTime
}

// BoardEntry is one task on a station display
type BoardEntry struct {
	Task    models.KitchenTask `json:"task"`
	Target  time.Duration      `json:"target"`
	Elapsed time.Duration      `json:"elapsed"`
	State   SLAState           `json:"state"`
}

// Board lists the active tasks of a station, oldest first. An empty role
// lists every station.
func (d *Dispatcher) Board(ctx context.Context, restaurantID uint, role models.StaffRole) ([]BoardEntry, error) {
	tasks, err := d.store.ActiveTasks(ctx, restaurantID, role)
	if err != nil {
		return nil, err
	}
	menu, err := d.store.MenuItems(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	targets := make(map[uint]time.Duration, len(menu))
	for _, mi := range menu {
		targets[mi.ID] = mi.PrepTime
	}

	now := d.now()
	counts := make(map[models.StaffRole]map[SLAState]int)
	entries := make([]BoardEntry, 0, len(tasks))
	for _, t := range tasks {
		target := targets[t.MenuItemID]
		state := Classify(t, target, now)
		entries = append(entries, BoardEntry{
			Task:    t,
			Target:  target,
			Elapsed: now.Sub(t.StatusChangedAt),
			State:   state,
		})
		if counts[t.Role] == nil {
			counts[t.Role] = make(map[SLAState]int)
		}
		counts[t.Role][state]++
	}
	for r, byState := range counts {
		for _, s := range []SLAState{SLAOnTime, SLANearDeadline, SLAOverdue} {
			d.metrics.TaskSLA(string(r), string(s), byState[s])
		}
	}
	return entries, nil
}
