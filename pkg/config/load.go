package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/internal/hydrate"
	"github.com/goliatone/go-query-state/layering"
	"github.com/goliatone/go-query-state/pkg/datemath"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a config file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

var (
	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("config: unsupported format")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("config: invalid configuration")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("datemath", func(fl validator.FieldLevel) bool {
		return datemath.IsValid(fl.Field().String())
	})
	return v
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
}

// Load reads path and returns the layered, validated configuration.
func Load(path string) (Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(hydrate.Context{Source: path, Format: string(format)}, data, format)
}

// Parse decodes data in format over the defaults.
func Parse(data []byte, format Format) (Config, error) {
	return parse(hydrate.Context{Format: string(format)}, data, format)
}

func parse(ctx hydrate.Context, data []byte, format Format) (Config, error) {
	raw, err := unmarshal(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", ctx.Format, err)
	}
	return Decode(ctx, raw)
}

func unmarshal(data []byte, format Format) (map[string]any, error) {
	raw := map[string]any{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	case FormatTOML:
		err = toml.Unmarshal(data, &raw)
	case FormatJSON:
		if len(strings.TrimSpace(string(data))) > 0 {
			err = json.Unmarshal(data, &raw)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Decode layers raw over the defaults, decodes and validates it.
func Decode(ctx hydrate.Context, raw map[string]any) (Config, error) {
	defaults, err := defaultMap()
	if err != nil {
		return Config{}, err
	}
	raw = normalize(raw)
	merged := layering.MergeLayers(raw, defaults)
	// A sync section replaces the defaults instead of extending them.
	if sync, ok := raw["sync"]; ok {
		merged["sync"] = sync
	}

	decoder := hydrate.NewDecoder[Config](
		hydrate.WithDisallowUnknownFields[Config](),
		hydrate.WithDecodeHook[Config](intToDurationHook()),
		hydrate.WithPreHook[Config](aliasKeys),
		hydrate.WithPostHook[Config](validateConfig),
	)
	return decoder.Decode(ctx, merged)
}

// defaultMap renders Default in the same loose form files decode to.
func defaultMap() (map[string]any, error) {
	var out map[string]any
	defaults := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "json",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(defaults); err != nil {
		return nil, fmt.Errorf("config: encode defaults: %w", err)
	}
	return normalize(out), nil
}

// normalize converts nested map[any]any and struct-derived maps into
// map[string]any so layering merges them key by key.
func normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return normalize(typed)
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fmt.Sprint(k)] = normalizeValue(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = normalizeValue(v)
		}
		return out
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
		}
		return out
	}
	return value
}

// aliasKeys accepts camelCase spellings of snake_case sections.
func aliasKeys(_ hydrate.Context, payload map[string]any) (map[string]any, error) {
	if value, ok := payload[querystate.KeyRefreshInterval]; ok {
		delete(payload, querystate.KeyRefreshInterval)
		if existing, ok := payload["refresh_interval"].(map[string]any); ok {
			if override, ok := value.(map[string]any); ok {
				payload["refresh_interval"] = layering.MergeLayers(override, existing)
				return payload, nil
			}
		}
		payload["refresh_interval"] = value
	}
	return payload, nil
}

// intToDurationHook reads bare numbers as milliseconds.
func intToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(durationZero) {
			return data, nil
		}
		switch typed := data.(type) {
		case int:
			return msDuration(int64(typed)), nil
		case int64:
			return msDuration(typed), nil
		case uint64:
			return msDuration(int64(typed)), nil
		case float64:
			return msDuration(int64(typed)), nil
		}
		return data, nil
	}
}

var durationZero time.Duration

var syncKeys = map[string]bool{
	querystate.KeyTime:            true,
	querystate.KeyRefreshInterval: true,
	"refresh_interval":            true,
	querystate.KeyQuery:           true,
	querystate.KeyFilters:         true,
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func validateConfig(_ hydrate.Context, cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	var unknown []string
	for key := range cfg.Sync {
		if !syncKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown sync keys %s", ErrInvalid, strings.Join(unknown, ", "))
	}
	return nil
}
