package activity

import (
	"context"
	"slices"
	"strings"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "querystate"

// Config controls activity emission defaults.
type Config struct {
	Enabled bool
	Channel string
	// Verbs restricts emission to the listed verbs. Empty emits every verb.
	Verbs []string
	// OnError receives hook failures.
	OnError func(Event, error)
}

// Emitter stamps the default channel on events and fans them out to hooks.
type Emitter struct {
	hooks   Hooks
	channel string
	verbs   []string
	onError func(Event, error)
}

// NewEmitter returns an emitter over the non-nil hooks. It is disabled when
// cfg.Enabled is false or no hook remains.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	e := &Emitter{
		channel: strings.TrimSpace(cfg.Channel),
		verbs:   slices.Clone(cfg.Verbs),
		onError: cfg.OnError,
	}
	if e.channel == "" {
		e.channel = DefaultChannel
	}
	if cfg.Enabled {
		e.hooks = slices.DeleteFunc(slices.Clone(hooks), func(hook ActivityHook) bool {
			return hook == nil
		})
	}
	return e
}

// Enabled reports whether Emit will reach any hook.
func (e *Emitter) Enabled() bool {
	return e != nil && len(e.hooks) > 0
}

// Channel returns the default channel.
func (e *Emitter) Channel() string {
	if e == nil {
		return DefaultChannel
	}
	return e.channel
}

// Emit forwards event to every hook. Hook failures are passed to
// Config.OnError and returned.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() || !e.emits(strings.TrimSpace(event.Verb)) {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	err := e.hooks.Notify(ctx, event)
	if err != nil && e.onError != nil {
		e.onError(event, err)
	}
	return err
}

func (e *Emitter) emits(verb string) bool {
	return len(e.verbs) == 0 || slices.Contains(e.verbs, verb)
}
