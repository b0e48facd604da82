package aggregator

import (
	"errors"
	"math"

	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/shopspring/decimal"
)

// Skip reasons reported in logs and metrics.
const (
	SkipNoPrice     = "no_price"
	SkipBadQuantity = "bad_quantity"
)

// Totals is the fold of a cart's line items.
type Totals struct {
	TotalPrice decimal.Decimal
	ItemCount  int64
	// Skipped counts lines left out of the totals, by reason.
	Skipped map[string][]string
}

// Fold sums price times quantity over every line with a usable price.
// Lines without a price, or with a negative or fractional quantity, are
// skipped, as is a line whose quantity would overflow the item count.
func Fold(lines []*docstore.Document) Totals {
	t := Totals{TotalPrice: decimal.Zero, Skipped: map[string][]string{}}
	for _, doc := range lines {
		line, err := cart.DecodeLineItem(doc)
		switch {
		case errors.Is(err, cart.ErrBadQuantity):
			t.Skipped[SkipBadQuantity] = append(t.Skipped[SkipBadQuantity], doc.ID)
			continue
		case err != nil:
			t.Skipped[SkipNoPrice] = append(t.Skipped[SkipNoPrice], doc.ID)
			continue
		case line.Quantity > math.MaxInt64-t.ItemCount:
			t.Skipped[SkipBadQuantity] = append(t.Skipped[SkipBadQuantity], doc.ID)
			continue
		}
		t.TotalPrice = t.TotalPrice.Add(line.Subtotal())
		t.ItemCount += line.Quantity
	}
	return t
}

// Matches reports whether the cart document already holds t.
func (t Totals) Matches(c cart.Cart, doc *docstore.Document) bool {
	if _, ok := doc.Field(cart.FieldTotalPrice); !ok {
		return false
	}
	if _, ok := doc.Field(cart.FieldItemCount); !ok {
		return false
	}
	return c.TotalPrice.Equal(t.TotalPrice) && c.ItemCount == t.ItemCount
}

// SkippedCount is the number of lines left out.
func (t Totals) SkippedCount() int {
	n := 0
	for _, ids := range t.Skipped {
		n += len(ids)
	}
	return n
}
