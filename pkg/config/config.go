// Package config loads bridge settings from YAML, TOML or JSON files.
//
// File values are layered over Default, decoded into Config and validated.
// Durations accept Go duration strings ("5s", "1m").
package config

import (
	"log/slog"
	"strings"
	"time"

	querystate "github.com/goliatone/go-query-state"
)

// Config is the decoded configuration of a bridge and its tooling.
type Config struct {
	App             string         `json:"app" validate:"required,excludesall=/"`
	Sync            map[string]any `json:"sync"`
	Time            TimeConfig     `json:"time"`
	RefreshInterval RefreshConfig  `json:"refresh_interval"`
	Query           QueryConfig    `json:"query"`
	Activity        ActivityConfig `json:"activity"`
	Log             LogConfig      `json:"log"`
	Store           StoreConfig    `json:"store"`
	Matcher         MatcherConfig  `json:"matcher"`
}

// TimeConfig holds the default time range.
type TimeConfig struct {
	From string `json:"from" validate:"required,datemath"`
	To   string `json:"to" validate:"required,datemath"`
}

// RefreshConfig holds the default refresh interval.
type RefreshConfig struct {
	Pause    bool          `json:"pause"`
	Interval time.Duration `json:"interval" validate:"gte=0"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	Language string `json:"language" validate:"required"`
}

// ActivityConfig controls sync activity events.
type ActivityConfig struct {
	Enabled bool     `json:"enabled"`
	Channel string   `json:"channel"`
	Verbs   []string `json:"verbs" validate:"dive,oneof=querystate.sync.initial querystate.sync.forward querystate.sync.reverse"`
	Metrics bool     `json:"metrics"`
	Tracing bool     `json:"tracing"`
}

// LogConfig controls the slog handler used by the CLI.
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=auto text json"`
}

// StoreConfig selects the state store backend.
type StoreConfig struct {
	Driver string        `json:"driver" validate:"oneof=memory badger redis"`
	Path   string        `json:"path" validate:"required_if=Driver badger"`
	URL    string        `json:"url" validate:"required_if=Driver redis"`
	Prefix string        `json:"prefix"`
	TTL    time.Duration `json:"ttl" validate:"gte=0"`
}

// MatcherConfig holds document matching defaults.
type MatcherConfig struct {
	TimeField      string        `json:"time_field"`
	ScriptLanguage string        `json:"script_language"`
	ScriptTimeout  time.Duration `json:"script_timeout" validate:"gte=0"`
	CacheSize      int64         `json:"cache_size" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		App: "default",
		Sync: map[string]any{
			querystate.KeyTime:            true,
			querystate.KeyRefreshInterval: true,
			querystate.KeyQuery:           true,
			querystate.KeyFilters:         true,
		},
		Time:            TimeConfig{From: "now-15m", To: "now"},
		RefreshInterval: RefreshConfig{Pause: true},
		Query:           QueryConfig{Language: "kuery"},
		Activity:        ActivityConfig{Channel: "querystate"},
		Log:             LogConfig{Level: "info", Format: "auto"},
		Store:           StoreConfig{Driver: "memory"},
		Matcher:         MatcherConfig{TimeField: "@timestamp", ScriptLanguage: "expr", ScriptTimeout: 250 * time.Millisecond, CacheSize: 1024},
	}
}

// SyncConfig parses the sync section.
func (c Config) SyncConfig() querystate.SyncConfig {
	return querystate.ParseSyncConfig(c.Sync)
}

// TimeDefaults returns the default time range.
func (c Config) TimeDefaults() querystate.TimeRange {
	return querystate.TimeRange{From: c.Time.From, To: c.Time.To}
}

// RefreshIntervalDefaults returns the default refresh interval in
// milliseconds.
func (c Config) RefreshIntervalDefaults() querystate.RefreshInterval {
	return querystate.RefreshInterval{
		Pause: c.RefreshInterval.Pause,
		Value: c.RefreshInterval.Interval.Milliseconds(),
	}
}

// QueryDefaults returns an empty query in the default language.
func (c Config) QueryDefaults() querystate.Query {
	return querystate.Query{Language: c.Query.Language}
}

// SlogLevel maps Log.Level to a slog level. Unknown levels are info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
