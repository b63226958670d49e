// Package promsink counts bridge sync events with Prometheus collectors.
package promsink

import (
	"context"

	"github.com/goliatone/go-query-state/pkg/activity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "querystate"
	syncSubsystem    = "sync"
)

// Hook increments counters for every activity event it receives.
type Hook struct {
	// EventsTotal counts events by verb and channel.
	EventsTotal *prometheus.CounterVec
	// ErrorsTotal counts events that carried a sync error, by verb.
	ErrorsTotal *prometheus.CounterVec
}

// New registers the sync collectors on reg. A nil registerer falls back to
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Hook {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Hook{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: syncSubsystem,
				Name:      "events_total",
				Help:      "Sync passes performed by query state bridges, by verb and channel",
			},
			[]string{"verb", "channel"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: syncSubsystem,
				Name:      "errors_total",
				Help:      "Sync passes that reported an error, by verb",
			},
			[]string{"verb"},
		),
	}
}

// Notify implements activity.ActivityHook.
func (h *Hook) Notify(_ context.Context, event activity.Event) error {
	if h == nil || h.EventsTotal == nil {
		return nil
	}
	normalized := activity.NormalizeEvent(event)
	if !normalized.Valid() {
		return nil
	}
	h.EventsTotal.WithLabelValues(normalized.Verb, normalized.Channel).Inc()
	if _, failed := normalized.Metadata["error"]; failed && h.ErrorsTotal != nil {
		h.ErrorsTotal.WithLabelValues(normalized.Verb).Inc()
	}
	return nil
}
