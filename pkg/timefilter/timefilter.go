// Package timefilter owns the time range and refresh interval of a query
// state and notifies listeners when either changes.
package timefilter

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/datemath"
	"github.com/goliatone/go-query-state/pkg/observable"
)

// Config holds the defaults a Timefilter starts from and falls back to.
type Config struct {
	TimeDefaults            querystate.TimeRange
	RefreshIntervalDefaults querystate.RefreshInterval
	// MinRefreshInterval is the smallest non-zero refresh value accepted, in
	// milliseconds. Smaller values are raised to it.
	MinRefreshInterval int64
}

// DefaultConfig matches the usual discover defaults: last 15 minutes, paused.
func DefaultConfig() Config {
	return Config{
		TimeDefaults:            querystate.TimeRange{From: "now-15m", To: "now"},
		RefreshIntervalDefaults: querystate.RefreshInterval{Pause: true, Value: 0},
	}
}

// Timefilter implements querystate.TimeService.
type Timefilter struct {
	mu       sync.RWMutex
	cfg      Config
	time     querystate.TimeRange
	interval querystate.RefreshInterval

	timeUpdates    observable.Subject[querystate.TimeRange]
	refreshUpdates observable.Subject[querystate.RefreshInterval]
}

var _ querystate.TimeService = (*Timefilter)(nil)

// New returns a Timefilter initialised to the configured defaults.
func New(cfg Config) *Timefilter {
	tf := &Timefilter{cfg: cfg}
	tf.time = cfg.TimeDefaults
	tf.interval = tf.normalizeInterval(cfg.RefreshIntervalDefaults)
	return tf
}

// GetTime returns the current time range.
func (tf *Timefilter) GetTime() querystate.TimeRange {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	return tf.time
}

// SetTime stores tr and notifies time listeners when it differs from the
// current range.
func (tf *Timefilter) SetTime(tr querystate.TimeRange) error {
	tf.mu.Lock()
	if reflect.DeepEqual(tf.time, tr) {
		tf.mu.Unlock()
		return nil
	}
	tf.time = tr
	tf.mu.Unlock()
	return tf.timeUpdates.Emit(tr)
}

// GetTimeDefaults returns the configured default range.
func (tf *Timefilter) GetTimeDefaults() querystate.TimeRange {
	return tf.cfg.TimeDefaults
}

// GetRefreshInterval returns the current refresh interval.
func (tf *Timefilter) GetRefreshInterval() querystate.RefreshInterval {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	return tf.interval
}

// SetRefreshInterval stores interval and notifies refresh listeners when the
// stored value changes. Negative values become 0 and a 0 value is paused.
func (tf *Timefilter) SetRefreshInterval(interval querystate.RefreshInterval) error {
	next := tf.normalizeInterval(interval)

	tf.mu.Lock()
	if tf.interval == next {
		tf.mu.Unlock()
		return nil
	}
	tf.interval = next
	tf.mu.Unlock()
	return tf.refreshUpdates.Emit(next)
}

// GetRefreshIntervalDefaults returns the configured default interval.
func (tf *Timefilter) GetRefreshIntervalDefaults() querystate.RefreshInterval {
	return tf.cfg.RefreshIntervalDefaults
}

func (tf *Timefilter) normalizeInterval(interval querystate.RefreshInterval) querystate.RefreshInterval {
	if interval.Value < 0 {
		interval.Value = 0
	}
	if interval.Value == 0 {
		interval.Pause = true
		return interval
	}
	if floor := tf.cfg.MinRefreshInterval; floor > 0 && interval.Value < floor {
		interval.Value = floor
	}
	return interval
}

// Bounds is a resolved time range.
type Bounds struct {
	Min time.Time
	Max time.Time
}

// GetBounds resolves the current range against now. The upper bound is
// rounded up.
func (tf *Timefilter) GetBounds(now time.Time) (Bounds, error) {
	return CalculateBounds(tf.GetTime(), now)
}

// CalculateBounds resolves tr against now.
func CalculateBounds(tr querystate.TimeRange, now time.Time) (Bounds, error) {
	lower, err := datemath.Parse(tr.From, datemath.WithNow(now))
	if err != nil {
		return Bounds{}, fmt.Errorf("timefilter: from: %w", err)
	}
	upper, err := datemath.Parse(tr.To, datemath.WithNow(now), datemath.WithRoundUp())
	if err != nil {
		return Bounds{}, fmt.Errorf("timefilter: to: %w", err)
	}
	return Bounds{Min: lower, Max: upper}, nil
}

// SubscribeTime registers listener for time range changes.
func (tf *Timefilter) SubscribeTime(listener observable.Listener[querystate.TimeRange]) *observable.Subscription {
	return tf.timeUpdates.Subscribe(listener)
}

// SubscribeRefreshInterval registers listener for refresh interval changes.
func (tf *Timefilter) SubscribeRefreshInterval(listener observable.Listener[querystate.RefreshInterval]) *observable.Subscription {
	return tf.refreshUpdates.Subscribe(listener)
}
