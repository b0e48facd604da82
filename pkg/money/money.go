// Package money decodes stored prices into exact decimals.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissing is returned when no price value is present.
	ErrMissing = errors.New("price missing")
	// ErrInvalid is returned for values that are not a finite number.
	ErrInvalid = errors.New("price invalid")
)

// Parse decodes a stored price. Numbers and numeric strings are accepted;
// catalog documents written by older seeders carry prices as strings.
func Parse(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, ErrMissing
	case decimal.Decimal:
		return t, nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int32:
		return decimal.NewFromInt32(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalid, t)
		}
		return decimal.NewFromFloat(t), nil
	case float32:
		return Parse(float64(t))
	case json.Number:
		return parseString(t.String())
	case string:
		return parseString(t)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalid, v)
	}
}

func parseString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return decimal.Zero, ErrMissing
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return d, nil
}

// Float converts d to the number stored in documents.
func Float(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// Format renders d with two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
