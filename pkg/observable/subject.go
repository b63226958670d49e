// Package observable provides a small synchronous publish/subscribe primitive.
// Listeners run on the emitting goroutine, in subscription order.
package observable

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Listener receives emitted values. A returned error is reported back to the
// emitter; it does not stop delivery to later listeners.
type Listener[T any] func(T) error

// Observable is anything listeners can subscribe to.
type Observable[T any] interface {
	Subscribe(Listener[T]) *Subscription
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID string

	once   sync.Once
	cancel func()
}

// Unsubscribe detaches the listener. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type entry[T any] struct {
	id       string
	listener Listener[T]
	active   bool
}

// Subject fans emitted values out to its listeners. The zero value is ready
// to use and Subject is safe for concurrent use.
type Subject[T any] struct {
	mu      sync.RWMutex
	entries []*entry[T]
}

// NewSubject constructs an empty Subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Subscribe registers listener. A nil listener yields a subscription that
// never fires.
func (s *Subject[T]) Subscribe(listener Listener[T]) *Subscription {
	id := uuid.NewString()
	if listener == nil {
		return &Subscription{ID: id}
	}
	e := &entry[T]{id: id, listener: listener, active: true}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	return &Subscription{
		ID:     id,
		cancel: func() { s.remove(e) },
	}
}

func (s *Subject[T]) remove(target *entry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target.active = false
	for i, e := range s.entries {
		if e == target {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// Emit delivers value to every listener registered at call time. Listeners
// removed while the emission is running are skipped. Errors are joined.
func (s *Subject[T]) Emit(value T) error {
	s.mu.RLock()
	snapshot := make([]*entry[T], len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	var errs []error
	for _, e := range snapshot {
		if !s.isActive(e) {
			continue
		}
		if err := e.listener(value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Subject[T]) isActive(e *entry[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.active
}

// Len returns the number of registered listeners.
func (s *Subject[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
