package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Scope names what must be re-fetched. A zero RestaurantID means everything.
type Scope struct {
	RestaurantID uint
}

// RefetchFunc re-reads the state covered by a scope
type RefetchFunc func(ctx context.Context, scope Scope) error

// Reconciler drains invalidations on a single goroutine. Repeated
// invalidations of a scope that is still queued collapse into one re-fetch.
type Reconciler struct {
	refetch RefetchFunc
	logger  *zap.Logger

	mu      sync.Mutex
	order   []Scope
	pending map[Scope]struct{}
	wake    chan struct{}
}

// NewReconciler creates a reconciler calling refetch for every drained scope
func NewReconciler(refetch RefetchFunc, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		refetch: refetch,
		logger:  logger,
		pending: make(map[Scope]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Invalidate queues a re-fetch for the scope
func (r *Reconciler) Invalidate(scope Scope) {
	r.mu.Lock()
	if _, ok := r.pending[scope]; !ok {
		r.pending[scope] = struct{}{}
		r.order = append(r.order, scope)
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued scopes
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Reconciler) drain() []Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := r.order
	r.order = nil
	r.pending = make(map[Scope]struct{})
	return batch
}

// Run processes invalidations until ctx is done
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			for _, scope := range r.drain() {
				if err := r.refetch(ctx, scope); err != nil {
					r.logger.Warn("re-fetch failed",
						zap.Uint("restaurant_id", scope.RestaurantID),
						zap.Error(err))
				}
			}
		}
	}
}

// Follow turns bus events into invalidations of the event's restaurant
func (r *Reconciler) Follow(ctx context.Context, bus Bus, f Filter) error {
	events, err := bus.Subscribe(ctx, f)
	if err != nil {
		return err
	}
	go func() {
		for e := range events {
			r.Invalidate(Scope{RestaurantID: e.RestaurantID})
		}
	}()
	return nil
}
