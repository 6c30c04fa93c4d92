package common

import (
	"fmt"
	"strings"
	"time"
)

// Duration accepts "250ms"/"5m" style strings or bare integers in milliseconds.
type Duration time.Duration

func parseDuration(raw interface{}) (Duration, error) {
	switch v := raw.(type) {
	case int:
		return Duration(time.Duration(v) * time.Millisecond), nil
	case int64:
		return Duration(time.Duration(v) * time.Millisecond), nil
	case float64:
		return Duration(time.Duration(v) * time.Millisecond), nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(d), nil
	default:
		return 0, fmt.Errorf("cannot use %T as a duration", raw)
	}
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration must not be negative: %s", time.Duration(parsed))
	}
	*d = parsed
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := SonicCfg.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return SonicCfg.Marshal(d.String())
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// WithDefault returns def for zero or negative durations.
func (d Duration) WithDefault(def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}
