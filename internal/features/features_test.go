package features

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorize(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		order   []string
		want    []float64
		missing string
		invalid string
	}{
		{
			name:    "explicit order independent of payload order",
			payload: Payload{"c": 3, "a": 1, "b": 2},
			order:   []string{"a", "b", "c"},
			want:    []float64{1, 2, 3},
		},
		{
			name:    "default order",
			payload: Payload{"dayofweek": 5, "hour": 22, "location": 3, "amount": 120.5, "user_id": 7},
			want:    []float64{7, 120.5, 3, 22, 5},
		},
		{
			name:    "numeric strings and json numbers",
			payload: Payload{"a": " 1.5 ", "b": json.Number("2"), "c": int64(3)},
			order:   []string{"a", "b", "c"},
			want:    []float64{1.5, 2, 3},
		},
		{
			name:    "missing feature",
			payload: Payload{"a": 1},
			order:   []string{"a", "b"},
			missing: "b",
		},
		{
			name:    "non numeric string",
			payload: Payload{"a": "abc"},
			order:   []string{"a"},
			invalid: "a",
		},
		{
			name:    "bool is not a number",
			payload: Payload{"a": true},
			order:   []string{"a"},
			invalid: "a",
		},
		{
			name:    "NaN string rejected",
			payload: Payload{"a": "NaN"},
			order:   []string{"a"},
			invalid: "a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Vectorize(tt.payload, tt.order)
			switch {
			case tt.missing != "":
				var me *MissingFeatureError
				require.True(t, errors.As(err, &me), "want MissingFeatureError, got %v", err)
				assert.Equal(t, tt.missing, me.Name)
			case tt.invalid != "":
				var ie *InvalidFeatureTypeError
				require.True(t, errors.As(err, &ie), "want InvalidFeatureTypeError, got %v", err)
				assert.Equal(t, tt.invalid, ie.Name)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestOrder(t *testing.T) {
	got, isDefault := Order(nil)
	assert.True(t, isDefault)
	assert.Equal(t, DefaultOrder, got)

	got, isDefault = Order([]string{"amount"})
	assert.False(t, isDefault)
	assert.Equal(t, []string{"amount"}, got)
}
