// Package coerce turns loosely typed record values into values a typed target
// column accepts. It is pure: no I/O, no state, same input same output.
package coerce

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"

	"github.com/syncdock/syncdock-server/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Value coerces raw into the shape target expects, or nil when the value has
// no sensible representation there. Rules apply in priority order; the first
// match wins.
func Value(raw any, target model.LogicalType) any {
	if raw == nil {
		return nil
	}

	switch target {
	case model.DateType:
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil
		}
		if idx := strings.IndexByte(s, 'T'); idx >= 0 {
			return s[:idx]
		}
		return s
	case model.TimestampType:
		if truthy(raw) {
			return raw
		}
		return nil
	case model.BooleanType:
		switch v := raw.(type) {
		case bool:
			return v
		case string:
			return v == "true"
		default:
			n, err := cast.ToFloat64E(raw)
			return err == nil && n == 1
		}
	case model.IntegerType:
		if raw == "" {
			return nil
		}
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return nil
		}
		return n
	case model.DoubleType:
		if raw == "" {
			return nil
		}
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil
		}
		return n
	case model.ArrayType:
		if _, ok := raw.([]any); ok {
			return raw
		}
		return nil
	case model.JSONType:
		if !truthy(raw) {
			return nil
		}
		// Strings are taken as already serialized; re-encoding would wrap
		// them in another layer of quotes on every pass.
		if s, ok := raw.(string); ok {
			return s
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return raw
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64(t) != 0
	default:
		return true
	}
}
