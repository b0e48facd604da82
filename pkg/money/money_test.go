package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{in: 4.99, want: "4.99"},
		{in: int64(3), want: "3"},
		{in: 7, want: "7"},
		{in: "12.99", want: "12.99"},
		{in: " $0.99 ", want: "0.99"},
		{in: json.Number("26.99"), want: "26.99"},
		{in: decimal.RequireFromString("1.5"), want: "1.5"},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, "input %v", tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "input %v got %s", tc.in, got)
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse(nil)
	assert.True(t, errors.Is(err, ErrMissing))

	_, err = Parse("")
	assert.True(t, errors.Is(err, ErrMissing))

	_, err = Parse("free")
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = Parse(math.NaN())
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = Parse(true)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestFloatAndFormat(t *testing.T) {
	sum := decimal.RequireFromString("4.99").Add(decimal.RequireFromString("5.99")).Add(decimal.RequireFromString("12.99"))
	assert.Equal(t, 23.97, Float(sum))
	assert.Equal(t, "23.97", Format(sum))
	assert.Equal(t, "0.00", Format(decimal.Zero))
}
