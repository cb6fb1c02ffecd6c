// Package slot provides a single-value hand-off where the latest value wins.
package slot

import (
	"context"
	"sync"
)

// Slot holds at most one unread value. Put never blocks and replaces any
// value that was not yet taken.
type Slot[T any] struct {
	mu     sync.Mutex
	value  T
	fresh  bool
	ready  chan struct{} // Closed when a fresh value is available
	latest T
	seen   bool
}

// New creates an empty slot.
func New[T any]() *Slot[T] {
	return &Slot[T]{ready: make(chan struct{})}
}

// Put stores v, discarding an unread value.
func (s *Slot[T]) Put(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = v
	s.latest = v
	s.seen = true
	if !s.fresh {
		s.fresh = true
		close(s.ready)
	}
}

// Get blocks until a value is available and takes it.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	for {
		s.mu.Lock()
		if s.fresh {
			v := s.value
			var zero T
			s.value = zero
			s.fresh = false
			s.ready = make(chan struct{})
			s.mu.Unlock()
			return v, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Latest returns the most recently put value without taking it.
func (s *Slot[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.seen
}
