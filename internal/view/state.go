package view

import (
	"fmt"

	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/pkg/money"
)

// State is one rendering of the storefront page.
type State struct {
	Version  uint64 `json:"version"`
	SignedIn bool   `json:"signedIn"`
	UID      string `json:"uid,omitempty"`
	Header   Header `json:"header"`
	Cards    []Card `json:"cards"`
	Lines    []Line `json:"lines"`
	Alert    string `json:"alert,omitempty"`
}

type Header struct {
	SignIn      string `json:"signIn"`
	Cart        string `json:"cart"`
	CartEnabled bool   `json:"cartEnabled"`
	TotalPrice  string `json:"totalPrice,omitempty"`
	ItemCount   int64  `json:"itemCount"`
}

// Card is a catalog item. AddDisabled is set while the item is in the cart.
type Card struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	AddDisabled bool   `json:"addDisabled"`
}

// Line is one entry of the cart dialog.
type Line struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func newLine(l cart.LineItem) Line {
	return Line{ID: l.ID, Text: fmt.Sprintf("%s - %s", l.Name, money.Format(l.Price))}
}

// Card returns the card for itemID.
func (s State) Card(itemID string) (Card, bool) {
	for _, c := range s.Cards {
		if c.ID == itemID {
			return c, true
		}
	}
	return Card{}, false
}
