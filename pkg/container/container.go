// Package container provides a versioned, observable SharedState store.
package container

import (
	"sync"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/observable"
)

// Container stores a SharedState and notifies subscribers on every Set.
// Stored state is never handed out directly: Get returns a deep copy and Set
// keeps a deep copy of its argument.
type Container struct {
	mu      sync.RWMutex
	state   querystate.SharedState
	version uint64
	subject observable.Subject[querystate.SharedState]
}

var _ querystate.StateContainer = (*Container)(nil)

// New returns a container seeded with initial.
func New(initial querystate.SharedState) *Container {
	return &Container{state: querystate.CloneState(initial)}
}

// Get returns a copy of the current state.
func (c *Container) Get() querystate.SharedState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return querystate.CloneState(c.state)
}

// Version counts the Set calls since the container was created.
func (c *Container) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Set replaces the state and notifies subscribers. Listener errors are joined
// and returned; the new state is kept regardless.
func (c *Container) Set(state querystate.SharedState) error {
	c.mu.Lock()
	c.state = querystate.CloneState(state)
	c.version++
	emitted := querystate.CloneState(c.state)
	c.mu.Unlock()

	return c.subject.Emit(emitted)
}

// Update applies fn to a copy of the current state and sets the result.
func (c *Container) Update(fn func(querystate.SharedState) querystate.SharedState) error {
	if fn == nil {
		return nil
	}
	return c.Set(fn(c.Get()))
}

// Patch shallow-merges patch over the current state and sets the result.
func (c *Container) Patch(patch querystate.StatePatch) error {
	if patch.Empty() {
		return nil
	}
	return c.Update(patch.Apply)
}

// Subscribe registers listener for state changes. Listeners receive a copy
// they may keep but should treat as read-only.
func (c *Container) Subscribe(listener observable.Listener[querystate.SharedState]) *observable.Subscription {
	return c.subject.Subscribe(listener)
}
