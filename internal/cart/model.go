package cart

import (
	"errors"
	"fmt"
	"math"

	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/money"
	"github.com/shopspring/decimal"
)

const (
	Collection      = "carts"
	ItemsCollection = "items"

	// LineItemPattern matches every line-item document.
	LineItemPattern = "carts/{cartId}/items/{itemId}"

	FieldOwnerUID   = "ownerUID"
	FieldTotalPrice = "totalPrice"
	FieldItemCount  = "itemCount"
	FieldName       = "name"
	FieldPrice      = "price"
	FieldQuantity   = "quantity"
)

var (
	// ErrNoPrice marks a line item without a usable price.
	ErrNoPrice = errors.New("line item has no price")
	// ErrBadQuantity marks a negative, fractional or non-numeric quantity.
	ErrBadQuantity = errors.New("line item quantity invalid")
)

// Path returns the cart document path.
func Path(cartID string) string {
	return docstore.Join(Collection, cartID)
}

// ItemsPath returns the line-item collection of a cart.
func ItemsPath(cartID string) string {
	return docstore.Join(Collection, cartID, ItemsCollection)
}

// ItemPath returns one line-item document path.
func ItemPath(cartID, itemID string) string {
	return docstore.Join(Collection, cartID, ItemsCollection, itemID)
}

// Cart is the owner's cart with the totals last written by the aggregator.
type Cart struct {
	ID         string          `json:"id"`
	OwnerUID   string          `json:"ownerUID"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	ItemCount  int64           `json:"itemCount"`
	Exists     bool            `json:"exists"`
}

// DecodeCart maps a cart document. Missing derived fields read as zero.
func DecodeCart(doc *docstore.Document) Cart {
	c := Cart{ID: doc.ID, OwnerUID: doc.String(FieldOwnerUID), Exists: doc.Exists}
	if raw, ok := doc.Field(FieldTotalPrice); ok {
		if total, err := money.Parse(raw); err == nil {
			c.TotalPrice = total
		}
	}
	if raw, ok := doc.Field(FieldItemCount); ok {
		if n, err := wholeNumber(raw); err == nil {
			c.ItemCount = n
		}
	}
	return c
}

// LineItem is one entry of a cart's items collection. Quantity is the
// effective quantity, 1 when the stored field is absent or zero.
type LineItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// Subtotal is price times quantity.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(l.Quantity))
}

// DecodeLineItem maps a line-item document. Lines that cannot contribute to
// the cart totals return ErrNoPrice or ErrBadQuantity along with whatever
// fields did decode.
func DecodeLineItem(doc *docstore.Document) (LineItem, error) {
	line := LineItem{ID: doc.ID, Name: doc.String(FieldName), Quantity: 1}

	rawQty, _ := doc.Field(FieldQuantity)
	qty, err := quantity(rawQty)
	if err != nil {
		return line, err
	}
	line.Quantity = qty

	rawPrice, _ := doc.Field(FieldPrice)
	price, err := money.Parse(rawPrice)
	if err != nil {
		return line, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	line.Price = price
	return line, nil
}

func quantity(raw any) (int64, error) {
	if raw == nil {
		return 1, nil
	}
	n, err := wholeNumber(raw)
	if err != nil {
		return 0, err
	}
	switch {
	case n < 0:
		return 0, fmt.Errorf("%w: %d", ErrBadQuantity, n)
	case n == 0:
		return 1, nil
	}
	return n, nil
}

// maxQuantity bounds a single line so that a few lines cannot overflow the
// cart's item count.
const maxQuantity = math.MaxInt64 / 2

func wholeNumber(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		if v > maxQuantity {
			return 0, fmt.Errorf("%w: %d", ErrBadQuantity, v)
		}
		return v, nil
	case int:
		return wholeNumber(int64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || math.Abs(v) > maxQuantity {
			return 0, fmt.Errorf("%w: %v", ErrBadQuantity, v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrBadQuantity, raw)
	}
}
