package kitchen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maitred/internal/models"
	"maitred/internal/notify"
	"maitred/internal/store"
)

// allowedTransitions maps a task status to the statuses it may move to
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending:   {models.TaskStatusPreparing},
	models.TaskStatusPreparing: {models.TaskStatusReady},
	models.TaskStatusReady:     {models.TaskStatusServed},
}

// NextStatus returns the status a task moves to from current
func NextStatus(current models.TaskStatus) (models.TaskStatus, bool) {
	allowed := allowedTransitions[current]
	if len(allowed) == 0 {
		return "", false
	}
	return allowed[0], true
}

func validateTransition(current, next models.TaskStatus) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: cannot move a %s task", ErrInvalidTransition, current)
	}
	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
}

// ApplyTransition moves a task to next and rolls the line status up from
// its tasks. Every status change goes through here.
func (d *Dispatcher) ApplyTransition(ctx context.Context, taskID uint, next models.TaskStatus, actorID uint) (*models.KitchenTask, error) {
	task, err := d.store.KitchenTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := validateTransition(task.Status, next); err != nil {
		return nil, err
	}

	now := d.now()
	fields := store.Fields{
		"status":            next,
		"status_changed_at": now,
	}
	if next == models.TaskStatusPreparing {
		fields["prepared_by"] = actorID
		task.PreparedBy = actorID
	}
	if err := d.store.UpdateTask(ctx, task.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to update task %d: %w", task.ID, err)
	}

	d.metrics.TaskTransition(string(task.Role), string(task.Status), string(next), now.Sub(task.StatusChangedAt))
	d.logger.Info("task transition",
		zap.Uint("task_id", task.ID),
		zap.Uint("item_id", task.OrderItemID),
		zap.String("from", string(task.Status)),
		zap.String("to", string(next)),
		zap.Uint("actor_id", actorID))

	task.Status = next
	task.StatusChangedAt = now

	if err := d.rollup(ctx, task, actorID); err != nil {
		d.logger.Warn("failed to roll up item status",
			zap.Uint("item_id", task.OrderItemID),
			zap.Error(err))
	}
	return task, nil
}

// rollup derives the line status from its tasks and tells the floor when
// the whole line is ready.
func (d *Dispatcher) rollup(ctx context.Context, task *models.KitchenTask, actorID uint) error {
	item, err := d.store.OrderItem(ctx, task.OrderItemID)
	if err != nil {
		return err
	}
	if item.IsCancelled() {
		return nil
	}
	tasks, err := d.store.TasksForItem(ctx, item.ID)
	if err != nil {
		return err
	}
	status := models.RollupItemStatus(tasks)
	if status == item.Status {
		return nil
	}
	if err := d.store.UpdateOrderItem(ctx, item.ID, store.Fields{"status": status}); err != nil {
		return err
	}
	if status == models.ItemStatusReady {
		d.send(notify.Notification{
			RestaurantID: task.RestaurantID,
			ActorID:      actorID,
			Title:        "Ready to serve",
			Message:      fmt.Sprintf("%dx %s", item.Quantity, item.Name),
			Priority:     notify.PriorityHigh,
			Roles:        []models.StaffRole{models.RoleWaiter},
		})
	}
	return nil
}

// Discard removes a pending task a station will not prepare. The line itself
// is left as it is; when it was its only task the line stays persisted
// without any task behind it.
func (d *Dispatcher) Discard(ctx context.Context, taskID uint, actorID uint) error {
	task, err := d.store.KitchenTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.IsPending() {
		return fmt.Errorf("%w: only pending tasks can be discarded", ErrInvalidTransition)
	}
	item, err := d.store.OrderItem(ctx, task.OrderItemID)
	if err != nil {
		return err
	}
	if err := d.store.DeleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to discard task %d: %w", task.ID, err)
	}
	d.logger.Info("task discarded",
		zap.Uint("task_id", task.ID),
		zap.Uint("item_id", item.ID),
		zap.Uint("actor_id", actorID))

	d.send(notify.Notification{
		RestaurantID: task.RestaurantID,
		ActorID:      actorID,
		Title:        "Item discarded",
		Message:      fmt.Sprintf("one %s was discarded by the %s", item.Name, task.Role),
		Priority:     notify.PriorityHigh,
		Roles:        []models.StaffRole{models.RoleWaiter},
	})
	return nil
}

// Proposal is a task transition waiting for confirmation. It applies when
// confirmed or once its window elapses, unless cancelled first.
type Proposal struct {
	ID       string            `json:"id"`
	TaskID   uint              `json:"task_id"`
	Next     models.TaskStatus `json:"next"`
	ActorID  uint              `json:"actor_id"`
	Deadline time.Time         `json:"deadline"`

	d     *Dispatcher
	once  sync.Once
	timer *time.Timer
	done  chan struct{}
	task  *models.KitchenTask
	err   error
}

// Propose validates the transition and schedules it
func (d *Dispatcher) Propose(ctx context.Context, taskID uint, next models.TaskStatus, actorID uint) (*Proposal, error) {
	task, err := d.store.KitchenTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := validateTransition(task.Status, next); err != nil {
		return nil, err
	}

	p := &Proposal{
		ID:       uuid.NewString(),
		TaskID:   taskID,
		Next:     next,
		ActorID:  actorID,
		Deadline: d.now().Add(d.opts.ConfirmWindow),
		d:        d,
		done:     make(chan struct{}),
	}
	p.timer = time.NewTimer(d.opts.ConfirmWindow)
	d.proposals.add(p)
	go func() {
		select {
		case <-p.timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.ConfirmWindow)
			defer cancel()
			p.apply(ctx)
		case <-p.done:
		}
	}()
	return p, nil
}

// Proposal looks up a pending proposal
func (d *Dispatcher) Proposal(id string) (*Proposal, error) {
	p, ok := d.proposals.get(id)
	if !ok {
		return nil, ErrProposalNotFound
	}
	return p, nil
}

func (p *Proposal) apply(ctx context.Context) {
	p.once.Do(func() {
		p.timer.Stop()
		p.task, p.err = p.d.ApplyTransition(ctx, p.TaskID, p.Next, p.ActorID)
		if p.err != nil && !errors.Is(p.err, context.Canceled) {
			p.d.logger.Warn("proposed transition failed",
				zap.String("proposal_id", p.ID),
				zap.Uint("task_id", p.TaskID),
				zap.Error(p.err))
		}
		p.d.proposals.remove(p.ID)
		close(p.done)
	})
}

// Confirm applies the transition now and returns the updated task
func (p *Proposal) Confirm(ctx context.Context) (*models.KitchenTask, error) {
	p.apply(ctx)
	<-p.done
	return p.task, p.err
}

// Cancel withdraws the proposal. It reports false when the transition had
// already been applied.
func (p *Proposal) Cancel() bool {
	cancelled := false
	p.once.Do(func() {
		p.timer.Stop()
		p.err = ErrProposalCancelled
		cancelled = true
		p.d.proposals.remove(p.ID)
		close(p.done)
	})
	return cancelled
}

// Done is closed once the proposal is applied or cancelled
func (p *Proposal) Done() <-chan struct{} {
	return p.done
}

// Err returns the outcome after Done is closed
func (p *Proposal) Err() error {
	<-p.done
	return p.err
}
