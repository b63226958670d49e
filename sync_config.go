package querystate

import (
	"encoding"
	"fmt"
	"strings"
)

// FilterSync selects which filter partition a bridge keeps in sync.
type FilterSync int

const (
	// FilterSyncNone disables filter syncing.
	FilterSyncNone FilterSync = iota
	// FilterSyncAll syncs the unified list (global and app filters).
	FilterSyncAll
	// FilterSyncApp syncs app-scoped filters only.
	FilterSyncApp
	// FilterSyncGlobal syncs global-scoped filters only.
	FilterSyncGlobal
)

func (f FilterSync) String() string {
	switch f {
	case FilterSyncAll:
		return "all"
	case FilterSyncApp:
		return string(FilterStoreApp)
	case FilterSyncGlobal:
		return string(FilterStoreGlobal)
	default:
		return "none"
	}
}

// Enabled reports whether any filters are synced.
func (f FilterSync) Enabled() bool {
	switch f {
	case FilterSyncAll, FilterSyncApp, FilterSyncGlobal:
		return true
	default:
		return false
	}
}

// ParseFilterSync converts loosely typed input into a FilterSync: true (or
// "true"/"all") syncs every filter, "appState"/"app" and "globalState"/"global"
// select a partition, FilterStore values are accepted as-is. Anything else
// disables filter syncing; unknown values are never an error.
func ParseFilterSync(value any) FilterSync {
	switch typed := value.(type) {
	case nil:
		return FilterSyncNone
	case FilterSync:
		if typed.Enabled() {
			return typed
		}
		return FilterSyncNone
	case bool:
		if typed {
			return FilterSyncAll
		}
		return FilterSyncNone
	case FilterStore:
		return ParseFilterSync(string(typed))
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "all":
			return FilterSyncAll
		case "appstate", "app", "app_state":
			return FilterSyncApp
		case "globalstate", "global", "global_state":
			return FilterSyncGlobal
		default:
			return FilterSyncNone
		}
	default:
		return FilterSyncNone
	}
}

var _ encoding.TextUnmarshaler = (*FilterSync)(nil)

// UnmarshalText lets FilterSync be decoded from config files.
func (f *FilterSync) UnmarshalText(text []byte) error {
	*f = ParseFilterSync(string(text))
	return nil
}

// MarshalText renders the FilterSync in its config-file form.
func (f FilterSync) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// SyncConfig selects which keys a bridge keeps in sync. It is read once when
// the bridge is connected.
type SyncConfig struct {
	Time            bool
	RefreshInterval bool
	Query           bool
	Filters         FilterSync
}

// ParseSyncConfig builds a SyncConfig from loosely typed input, as found in
// decoded YAML, TOML or JSON. Unknown keys and unrecognised values are ignored
// and leave the key disabled.
func ParseSyncConfig(raw map[string]any) SyncConfig {
	cfg := SyncConfig{
		Time:            truthy(raw[KeyTime]),
		RefreshInterval: truthy(lookupAny(raw, KeyRefreshInterval, "refresh_interval")),
		Query:           truthy(raw[KeyQuery]),
		Filters:         ParseFilterSync(raw[KeyFilters]),
	}
	return cfg
}

// Keys returns the change flags the configuration listens to.
func (c SyncConfig) Keys() []string {
	var keys []string
	if c.Time {
		keys = append(keys, KeyTime)
	}
	if c.Query {
		keys = append(keys, KeyQuery)
	}
	if c.RefreshInterval {
		keys = append(keys, KeyRefreshInterval)
	}
	switch c.Filters {
	case FilterSyncAll:
		keys = append(keys, KeyFilters)
	case FilterSyncApp:
		keys = append(keys, KeyAppFilters)
	case FilterSyncGlobal:
		keys = append(keys, KeyGlobalFilters)
	}
	return keys
}

// Matches reports whether changes touch any key the configuration syncs.
func (c SyncConfig) Matches(changes ChangeSet) bool {
	if c.Time && changes.Time {
		return true
	}
	if c.Query && changes.Query {
		return true
	}
	if c.RefreshInterval && changes.RefreshInterval {
		return true
	}
	switch c.Filters {
	case FilterSyncAll:
		return changes.Filters
	case FilterSyncApp:
		return changes.AppFilters
	case FilterSyncGlobal:
		return changes.GlobalFilters
	}
	return false
}

func (c SyncConfig) String() string {
	return fmt.Sprintf("time=%t refreshInterval=%t query=%t filters=%s", c.Time, c.RefreshInterval, c.Query, c.Filters)
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return strings.EqualFold(strings.TrimSpace(typed), "true")
	default:
		return false
	}
}

func lookupAny(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := raw[key]; ok {
			return value
		}
	}
	return nil
}
