// Package datemath resolves date-math expressions such as "now-15m",
// "now/d" or "2024-03-01T00:00:00Z||+1M/M" into absolute times.
package datemath

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
)

// ErrInvalidExpression is returned for anything that is not a valid date-math
// expression.
var ErrInvalidExpression = errors.New("datemath: invalid expression")

// Unit is a date-math time unit.
type Unit string

const (
	UnitYear        Unit = "y"
	UnitMonth       Unit = "M"
	UnitWeek        Unit = "w"
	UnitDay         Unit = "d"
	UnitHour        Unit = "h"
	UnitHourAlt     Unit = "H"
	UnitMinute      Unit = "m"
	UnitSecond      Unit = "s"
	UnitMillisecond Unit = "ms"
)

// Option configures a Parse call.
type Option func(*parseConfig)

type parseConfig struct {
	roundUp bool
	now     time.Time
}

// WithRoundUp makes "/unit" rounding snap to the end of the unit instead of
// its start. Use it when resolving the upper bound of a range.
func WithRoundUp() Option {
	return func(cfg *parseConfig) {
		cfg.roundUp = true
	}
}

// WithNow pins the anchor used for "now".
func WithNow(now time.Time) Option {
	return func(cfg *parseConfig) {
		cfg.now = now
	}
}

// Parse resolves text into an absolute time.
func Parse(text string, opts ...Option) (time.Time, error) {
	cfg := parseConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.now.IsZero() {
		cfg.now = time.Now()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}

	var (
		anchor time.Time
		math   string
	)
	if strings.HasPrefix(text, "now") {
		anchor = cfg.now
		math = text[len("now"):]
	} else {
		absolute := text
		if idx := strings.Index(text, "||"); idx >= 0 {
			absolute = text[:idx]
			math = text[idx+2:]
		}
		parsed, err := parseAbsolute(absolute)
		if err != nil {
			return time.Time{}, err
		}
		anchor = parsed
	}

	if math == "" {
		return anchor, nil
	}
	return applyMath(anchor, math, cfg.roundUp)
}

// IsValid reports whether text parses as a date-math expression.
func IsValid(text string) bool {
	_, err := Parse(text)
	return err == nil
}

func parseAbsolute(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("%w: missing anchor", ErrInvalidExpression)
	}
	if isDigits(text) {
		millis, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpression, text)
		}
		return time.UnixMilli(millis).UTC(), nil
	}
	if dt, err := strfmt.ParseDateTime(text); err == nil {
		return time.Time(dt), nil
	}
	if day, err := time.Parse(time.DateOnly, text); err == nil {
		return day, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpression, text)
}

func applyMath(anchor time.Time, math string, roundUp bool) (time.Time, error) {
	result := anchor
	i := 0
	for i < len(math) {
		op := math[i]
		i++
		switch op {
		case '/':
			unit, next, err := readUnit(math, i)
			if err != nil {
				return time.Time{}, err
			}
			i = next
			result = round(result, unit, roundUp)
		case '+', '-':
			start := i
			for i < len(math) && math[i] >= '0' && math[i] <= '9' {
				i++
			}
			num := 1
			if i > start {
				parsed, err := strconv.Atoi(math[start:i])
				if err != nil {
					return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpression, math)
				}
				num = parsed
			}
			unit, next, err := readUnit(math, i)
			if err != nil {
				return time.Time{}, err
			}
			i = next
			if op == '-' {
				num = -num
			}
			if !withinRange(unit, num) {
				return time.Time{}, fmt.Errorf("%w: offset %d%s out of range", ErrInvalidExpression, num, unit)
			}
			result = add(result, unit, num)
		default:
			return time.Time{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, op, math)
		}
	}
	return result, nil
}

func readUnit(math string, i int) (Unit, int, error) {
	if i >= len(math) {
		return "", i, fmt.Errorf("%w: missing unit in %q", ErrInvalidExpression, math)
	}
	if strings.HasPrefix(math[i:], string(UnitMillisecond)) {
		return UnitMillisecond, i + 2, nil
	}
	switch unit := Unit(math[i : i+1]); unit {
	case UnitYear, UnitMonth, UnitWeek, UnitDay, UnitHour, UnitHourAlt, UnitMinute, UnitSecond:
		return unit, i + 1, nil
	default:
		return "", i, fmt.Errorf("%w: unknown unit %q", ErrInvalidExpression, unit)
	}
}

// maxOffsetYears caps a single offset. Clock units are further capped by the
// range of time.Duration.
const maxOffsetYears = 10000

var unitDurations = map[Unit]time.Duration{
	UnitHour:        time.Hour,
	UnitHourAlt:     time.Hour,
	UnitMinute:      time.Minute,
	UnitSecond:      time.Second,
	UnitMillisecond: time.Millisecond,
}

func withinRange(unit Unit, n int) bool {
	magnitude := int64(n)
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if d, ok := unitDurations[unit]; ok {
		return magnitude <= int64(math.MaxInt64/d)
	}
	switch unit {
	case UnitYear:
		return magnitude <= maxOffsetYears
	case UnitMonth:
		return magnitude <= maxOffsetYears*12
	case UnitWeek:
		return magnitude <= maxOffsetYears*53
	default:
		return magnitude <= maxOffsetYears*366
	}
}

func add(t time.Time, unit Unit, n int) time.Time {
	switch unit {
	case UnitYear:
		return t.AddDate(n, 0, 0)
	case UnitMonth:
		return t.AddDate(0, n, 0)
	case UnitWeek:
		return t.AddDate(0, 0, 7*n)
	case UnitDay:
		return t.AddDate(0, 0, n)
	case UnitHour, UnitHourAlt:
		return t.Add(time.Duration(n) * time.Hour)
	case UnitMinute:
		return t.Add(time.Duration(n) * time.Minute)
	case UnitSecond:
		return t.Add(time.Duration(n) * time.Second)
	default:
		return t.Add(time.Duration(n) * time.Millisecond)
	}
}

// round snaps t to the start of unit, or to the last millisecond of the unit
// when up is set. Weeks start on Monday.
func round(t time.Time, unit Unit, up bool) time.Time {
	loc := t.Location()
	var start time.Time
	switch unit {
	case UnitYear:
		start = time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	case UnitMonth:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case UnitWeek:
		offset := (int(t.Weekday()) + 6) % 7
		start = time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
	case UnitDay:
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case UnitHour, UnitHourAlt:
		start = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	case UnitMinute:
		start = t.Truncate(time.Minute)
	case UnitSecond:
		start = t.Truncate(time.Second)
	default:
		start = t.Truncate(time.Millisecond)
	}
	if !up {
		return start
	}
	return add(start, unit, 1).Add(-time.Millisecond)
}

func isDigits(text string) bool {
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return text != ""
}
