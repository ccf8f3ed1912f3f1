// Package timex provides a time.Duration wrapper that understands the
// lifetime notation used in configuration files and environment variables.
//
// Besides everything time.ParseDuration accepts, a single integer followed by
// one of the unit suffixes s, m, h or d is accepted ("30d", "15m"). Bare
// integers in JSON are treated as nanoseconds.
package timex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDuration is returned for values that cannot be parsed.
var ErrInvalidDuration = errors.New("invalid duration")

// Day is the length of the "d" unit.
const Day = 24 * time.Hour

// Duration is a time.Duration that can be decoded from JSON and text.
type Duration struct {
	time.Duration
}

// ParseDuration parses s as a lifetime. Negative and empty values are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidDuration)
	}

	if d, ok := parseSuffixed(s); ok {
		return d, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidDuration, s)
	}
	return d, nil
}

func parseSuffixed(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = Day
	default:
		return 0, false
	}

	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	if n > int64(1<<63-1)/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// UnmarshalJSON accepts either a string ("30d", "1h30m") or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		if value < 0 {
			return fmt.Errorf("%w: negative value", ErrInvalidDuration)
		}
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("%w: unsupported JSON type %T", ErrInvalidDuration, v)
	}
}

// MarshalJSON writes the duration in Go notation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalText makes Duration usable with env and flag decoders.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
