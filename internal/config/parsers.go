package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Values read by viper keep the concrete types of their source format: YAML
// produces ints and map[interface{}]interface{}, JSON produces float64 and
// map[string]interface{}. The as* helpers coerce either with cast. Strings are
// trimmed first so " 5 " and "5" agree.

// lookupSetting returns the first of keys present in settings, trying each key
// as written and lowercased.
func lookupSetting(settings map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func trimmed(value interface{}) interface{} {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return value
}

func asString(value interface{}) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	return cast.ToIntE(trimmed(value))
}

func asFloat64(value interface{}) (float64, error) {
	return cast.ToFloat64E(trimmed(value))
}

func asBool(value interface{}) (bool, error) {
	value = trimmed(value)
	if value == "" {
		return false, nil
	}
	return cast.ToBoolE(value)
}

// asDuration accepts Go duration strings and bare numbers of seconds,
// fractions included: 0.75 and "0.75" are both 750ms. cast.ToDurationE would
// read bare numbers as nanoseconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := trimmed(value).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		if v == "" {
			return 0, nil
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return seconds(secs), nil
	default:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("unsupported duration type %T", value)
		}
		return seconds(secs), nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// toStringKeyMap normalizes a nested settings table to lowercase string keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	if value == nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	raw, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	out := make(map[string]interface{}, len(raw))
	for key, val := range raw {
		out[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return out, nil
}
