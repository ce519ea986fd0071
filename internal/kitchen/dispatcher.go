// Package kitchen turns released order lines into preparation tasks, one per
// unit, and moves those tasks through the station workflow.
package kitchen

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"maitred/internal/models"
	"maitred/internal/monitoring"
	"maitred/internal/notify"
	"maitred/internal/store"
)

const DefaultConfirmWindow = 5 * time.Second

// Ref carries the context a dispatch acts in
type Ref struct {
	RestaurantID uint
	ActorID      uint
	TableLabel   string
	// Reason titles the release notification
	Reason string
}

// Options tunes the dispatcher
type Options struct {
	ConfirmWindow time.Duration
}

// Dispatcher owns every write to kitchen tasks
type Dispatcher struct {
	store   store.Store
	sender  notify.Sender
	metrics *monitoring.Metrics
	logger  *zap.Logger
	opts    Options
	now     func() time.Time

	proposals *proposalSet
}

// NewDispatcher creates a dispatcher. sender and metrics may be nil.
func NewDispatcher(st store.Store, sender notify.Sender, metrics *monitoring.Metrics, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.ConfirmWindow <= 0 {
		opts.ConfirmWindow = DefaultConfirmWindow
	}
	return &Dispatcher{
		store:     st,
		sender:    sender,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		proposals: &proposalSet{m: make(map[string]*Proposal)},
	}
}

// With returns a dispatcher writing through st, typically a transaction
func (d *Dispatcher) With(st store.Store) *Dispatcher {
	c := *d
	c.store = st
	return &c
}

// send delivers n once the store the dispatcher writes through commits.
// Stations never hear about tasks a rollback removed.
func (d *Dispatcher) send(n notify.Notification) {
	if d.sender == nil {
		return
	}
	d.store.AfterCommit(func() { d.sender.Send(n) })
}

func (d *Dispatcher) newTasks(item *models.OrderItem, restaurantID uint, n int) []models.KitchenTask {
	now := d.now()
	tasks := make([]models.KitchenTask, n)
	for i := range tasks {
		tasks[i] = models.KitchenTask{
			OrderID:         item.OrderID,
			OrderItemID:     item.ID,
			MenuItemID:      item.MenuItemID,
			RestaurantID:    restaurantID,
			Name:            item.Name,
			Note:            item.Note,
			Role:            models.RoleFor(item.Type),
			Status:          models.TaskStatusPending,
			StatusChangedAt: now,
		}
	}
	return tasks
}

// ReleaseItem creates one pending task per unit of the line
func (d *Dispatcher) ReleaseItem(ctx context.Context, ref Ref, item *models.OrderItem) error {
	return d.ReleaseItems(ctx, ref, []*models.OrderItem{item})
}

// ReleaseItems creates the tasks of several lines as one release event.
// Each station involved receives a single notification.
func (d *Dispatcher) ReleaseItems(ctx context.Context, ref Ref, items []*models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	var tasks []models.KitchenTask
	perRole := make(map[models.StaffRole][]string)
	for _, item := range items {
		if !item.Preparable() {
			return fmt.Errorf("%w: %s", ErrUnsupportedItemType, item.Type)
		}
		if !item.Persisted() {
			return fmt.Errorf("release %s: %w", item.Name, store.ErrNotFound)
		}
		if _, err := d.store.OrderItem(ctx, item.ID); err != nil {
			return fmt.Errorf("release item %d: %w", item.ID, err)
		}
		tasks = append(tasks, d.newTasks(item, ref.RestaurantID, item.Quantity)...)
		role := models.RoleFor(item.Type)
		perRole[role] = append(perRole[role], fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}

	if err := d.store.CreateTasks(ctx, tasks); err != nil {
		return fmt.Errorf("failed to create preparation tasks: %w", err)
	}

	title := ref.Reason
	if title == "" {
		title = "New order"
	}
	for role, lines := range perRole {
		n := countUnits(tasks, role)
		d.store.AfterCommit(func() { d.metrics.TasksCreated(string(role), n) })
		d.send(notify.Notification{
			RestaurantID: ref.RestaurantID,
			ActorID:      ref.ActorID,
			Title:        title,
			Message:      tablePrefix(ref) + strings.Join(lines, ", "),
			Priority:     notify.PriorityNormal,
			Roles:        []models.StaffRole{role},
		})
	}
	d.logger.Debug("items released",
		zap.Int("items", len(items)),
		zap.Int("tasks", len(tasks)),
		zap.Uint("restaurant_id", ref.RestaurantID))
	return nil
}

func countUnits(tasks []models.KitchenTask, role models.StaffRole) int {
	n := 0
	for _, t := range tasks {
		if t.Role == role {
			n++
		}
	}
	return n
}

func tablePrefix(ref Ref) string {
	if ref.TableLabel == "" {
		return ""
	}
	return ref.TableLabel + ": "
}

// AddUnits creates n more pending tasks for an already released line
func (d *Dispatcher) AddUnits(ctx context.Context, ref Ref, item *models.OrderItem, n int) error {
	if n <= 0 {
		return nil
	}
	if !item.Preparable() {
		return fmt.Errorf("%w: %s", ErrUnsupportedItemType, item.Type)
	}
	tasks := d.newTasks(item, ref.RestaurantID, n)
	if err := d.store.CreateTasks(ctx, tasks); err != nil {
		return fmt.Errorf("failed to add preparation tasks: %w", err)
	}
	role := models.RoleFor(item.Type)
	d.store.AfterCommit(func() { d.metrics.TasksCreated(string(role), n) })
	d.send(notify.Notification{
		RestaurantID: ref.RestaurantID,
		ActorID:      ref.ActorID,
		Title:        "Quantity increased",
		Message:      fmt.Sprintf("%s+%d %s", tablePrefix(ref), n, item.Name),
		Priority:     notify.PriorityNormal,
		Roles:        []models.StaffRole{role},
	})
	return nil
}

// RetractOneUnit deletes the newest pending task of the line. Started tasks
// are never retracted.
func (d *Dispatcher) RetractOneUnit(ctx context.Context, itemID uint) error {
	tasks, err := d.store.TasksForItem(ctx, itemID)
	if err != nil {
		return err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
	for _, t := range tasks {
		if t.IsPending() {
			return d.store.DeleteTask(ctx, t.ID)
		}
	}
	return ErrNoPendingTask
}

// DeleteAllTasksFor removes every task of the line
func (d *Dispatcher) DeleteAllTasksFor(ctx context.Context, itemID uint) error {
	return d.store.DeleteTasksForItem(ctx, itemID)
}

// TouchTasksFor makes displays re-read the line
func (d *Dispatcher) TouchTasksFor(ctx context.Context, itemID uint) error {
	return d.store.TouchTasksForItem(ctx, itemID)
}

// HasStartedTasks reports whether any station has acted on the line
func (d *Dispatcher) HasStartedTasks(ctx context.Context, itemID uint) (bool, error) {
	tasks, err := d.store.TasksForItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if !t.IsPending() {
			return true, nil
		}
	}
	return false, nil
}

type proposalSet struct {
	mu sync.Mutex
	m  map[string]*Proposal
}

func (s *proposalSet) add(p *Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[p.ID] = p
}

func (s *proposalSet) get(id string) (*Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	return p, ok
}

func (s *proposalSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}
