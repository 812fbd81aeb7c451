package coerce

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncdock/syncdock-server/internal/model"
)

func TestValue(t *testing.T) {
	testCases := []struct {
		name     string
		raw      any
		target   model.LogicalType
		expected any
	}{
		{"nil is nil for any target", nil, model.TextType, nil},
		{"nil date", nil, model.DateType, nil},

		{"date keeps portion before T", "2024-03-15T10:30:00Z", model.DateType, "2024-03-15"},
		{"date without time passes", "2024-03-15", model.DateType, "2024-03-15"},
		{"empty string date", "", model.DateType, nil},
		{"non string date", 42, model.DateType, nil},

		{"timestamp passes through", "2024-03-15T10:30:00Z", model.TimestampType, "2024-03-15T10:30:00Z"},
		{"falsy timestamp", "", model.TimestampType, nil},
		{"zero timestamp", float64(0), model.TimestampType, nil},

		{"boolean true", true, model.BooleanType, true},
		{"boolean false", false, model.BooleanType, false},
		{"boolean string true", "true", model.BooleanType, true},
		{"boolean string false", "false", model.BooleanType, false},
		{"boolean numeric one", float64(1), model.BooleanType, true},
		{"boolean numeric zero", float64(0), model.BooleanType, false},
		{"boolean other string", "yes", model.BooleanType, false},

		{"integer from float", float64(7), model.IntegerType, int64(7)},
		{"integer from string", "7", model.IntegerType, int64(7)},
		{"integer empty string", "", model.IntegerType, nil},
		{"integer garbage", "seven", model.IntegerType, nil},

		{"double from string", "12.50", model.DoubleType, 12.50},
		{"double empty string", "", model.DoubleType, nil},
		{"double from float", 3.25, model.DoubleType, 3.25},

		{"array passes through", []any{"a", "b"}, model.ArrayType, []any{"a", "b"}},
		{"non array is nil", "a,b", model.ArrayType, nil},
		{"map is not an array", map[string]any{"a": 1}, model.ArrayType, nil},

		{"json serializes objects", map[string]any{"a": float64(1)}, model.JSONType, `{"a":1}`},
		{"json serializes arrays", []any{float64(1)}, model.JSONType, `[1]`},
		{"json keeps strings", `{"a":1}`, model.JSONType, `{"a":1}`},
		{"json falsy", "", model.JSONType, nil},

		{"text passes through", "plain", model.TextType, "plain"},
		{"text keeps numbers", 3.5, model.TextType, 3.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, Value(tc.raw, tc.target))
		})
	}
}

func TestValueIdempotent(t *testing.T) {
	values := []any{
		nil, true, false, "", "true", "2024-03-15T10:30:00Z", "2024-03-15",
		"12.50", "seven", float64(0), float64(1), float64(12.5), int64(3),
		[]any{"a", float64(1)}, map[string]any{"a": float64(1)}, `{"a":1}`,
	}
	targets := []model.LogicalType{
		model.DateType, model.TimestampType, model.BooleanType,
		model.IntegerType, model.DoubleType, model.ArrayType,
		model.JSONType, model.TextType,
	}
	for _, target := range targets {
		for _, value := range values {
			once := Value(value, target)
			require.Equal(t, once, Value(once, target),
				"target %s value %#v", target, value)
		}
	}
}
