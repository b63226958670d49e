package querystate

import (
	"strings"

	"github.com/goliatone/go-query-state/pkg/activity"
	"github.com/google/uuid"
)

// Option configures a Bridge.
type Option func(*bridgeConfig)

type bridgeConfig struct {
	id        string
	app       string
	actorID   string
	tenantID  string
	logger    SyncLogger
	emitter   *activity.Emitter
	validTime TimeRangeValidator
}

func applyOptions(opts []Option) bridgeConfig {
	cfg := bridgeConfig{
		logger:    noopSyncLogger{},
		validTime: ValidateTimeRange,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}
	return cfg
}

// WithLogger attaches a sync logger. A nil logger disables logging.
func WithLogger(logger SyncLogger) Option {
	return func(cfg *bridgeConfig) {
		if logger == nil {
			cfg.logger = noopSyncLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithBridgeID sets the identifier reported in logs and activity events.
// Defaults to a random UUID.
func WithBridgeID(id string) Option {
	return func(cfg *bridgeConfig) {
		cfg.id = strings.TrimSpace(id)
	}
}

// WithApp names the application the bridge serves.
func WithApp(app string) Option {
	return func(cfg *bridgeConfig) {
		cfg.app = strings.TrimSpace(app)
	}
}

// WithActor attributes activity events to an actor and tenant.
func WithActor(actorID, tenantID string) Option {
	return func(cfg *bridgeConfig) {
		cfg.actorID = strings.TrimSpace(actorID)
		cfg.tenantID = strings.TrimSpace(tenantID)
	}
}

// WithActivityEmitter reports every sync pass that writes to emitter.
func WithActivityEmitter(emitter *activity.Emitter) Option {
	return func(cfg *bridgeConfig) {
		cfg.emitter = emitter
	}
}

// WithActivityHooks is shorthand for an enabled emitter over hooks.
func WithActivityHooks(hooks activity.Hooks) Option {
	return func(cfg *bridgeConfig) {
		if len(hooks) == 0 {
			cfg.emitter = nil
			return
		}
		cfg.emitter = activity.NewEmitter(hooks, activity.Config{Enabled: true})
	}
}

// WithTimeRangeValidator replaces ValidateTimeRange for container values.
func WithTimeRangeValidator(validator TimeRangeValidator) Option {
	return func(cfg *bridgeConfig) {
		if validator == nil {
			cfg.validTime = ValidateTimeRange
			return
		}
		cfg.validTime = validator
	}
}
