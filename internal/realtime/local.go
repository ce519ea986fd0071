package realtime

import (
	"context"
	"sync"
	"time"
)

const subscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	filter Filter
}

// LocalBus fans events out to subscribers inside one process
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewLocalBus creates an in-process bus
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers the event to every matching subscriber without blocking.
// A subscriber with a full buffer already has a re-fetch pending, so the
// event is dropped for it.
func (b *LocalBus) Publish(_ context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for s := range b.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done
func (b *LocalBus) Subscribe(ctx context.Context, f Filter) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	s := &subscriber{ch: make(chan Event, subscriberBuffer), filter: f}
	b.subs[s] = struct{}{}

	go func() {
		<-ctx.Done()
		b.remove(s)
	}()
	return s.ch, nil
}

func (b *LocalBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Close drops every subscriber
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
