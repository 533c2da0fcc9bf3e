// Package coerce converts loosely typed JSON values into canonical Go values.
// Every function reports ok=false instead of failing when a value cannot be
// represented; callers treat that as a missing cell.
package coerce

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Float coerces numbers and numeric strings to float64. Non-finite values are missing.
func Float(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int coerces integral numbers and strings to int64. Fractional values are missing.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint32:
		return int64(x), true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := Float(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bool coerces booleans, 0/1 numbers and the usual truthy/falsy strings.
func Bool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "t", "yes", "y", "on", "1":
			return true, true
		case "false", "f", "no", "n", "off", "0":
			return false, true
		}
		return false, false
	}
	f, ok := Float(v)
	if !ok {
		return false, false
	}
	switch f {
	case 1:
		return true, true
	case 0:
		return false, true
	}
	return false, false
}

// Timestamp coerces epoch milliseconds (number or numeric string), ISO-8601
// strings and time.Time values to a UTC time.
func Timestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x.UTC(), true
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, false
		}
		return x.UTC(), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), true
				}
			}
			return time.Time{}, false
		}
	}
	if ms, ok := Int(v); ok {
		return time.UnixMilli(ms).UTC(), true
	}
	f, ok := Float(v)
	if !ok {
		return time.Time{}, false
	}
	whole := math.Floor(f)
	return time.UnixMilli(int64(whole)).Add(time.Duration((f - whole) * float64(time.Millisecond))).UTC(), true
}

// Duration coerces milliseconds (number or numeric string) and Go duration
// strings such as "8h" to a time.Duration.
func Duration(v any) (time.Duration, bool) {
	switch x := v.(type) {
	case time.Duration:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if d, err := time.ParseDuration(s); err == nil {
			return d, true
		}
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return time.Duration(f * float64(time.Millisecond)), true
}

// Millis renders t as epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
