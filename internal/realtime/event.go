// Package realtime carries change notifications between writers and the
// clients that must re-fetch. Events are level-triggered: they say that
// something changed, never what the new state is.
package realtime

import (
	"context"
	"time"
)

// Kind is the write that produced an event
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindAny    Kind = "*"
)

// Event is a single change notification
type Event struct {
	Table        string    `json:"table"`
	Kind         Kind      `json:"event"`
	RestaurantID uint      `json:"restaurant_id,omitempty"`
	At           time.Time `json:"at"`
}

// Filter selects the events a subscriber receives. Zero values match
// everything; events without a restaurant reach every subscriber.
type Filter struct {
	RestaurantID uint
	Tables       []string
}

// Match reports whether the event passes the filter
func (f Filter) Match(e Event) bool {
	if f.RestaurantID != 0 && e.RestaurantID != 0 && f.RestaurantID != e.RestaurantID {
		return false
	}
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == e.Table {
			return true
		}
	}
	return false
}

// Publisher emits change events
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus is a change subscription. Subscribe returns a channel closed once ctx
// is done.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, f Filter) (<-chan Event, error)
	Close() error
}
