package cart

import (
	"context"
	"math"
	"testing"

	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/internal/policy"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/docstore/memstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = &auth.Identity{UID: "alice"}
	bob   = &auth.Identity{UID: "bob"}
)

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "items/lemon", map[string]any{"name": "lemon", "price": 0.99}))
	require.NoError(t, store.Set(ctx, "items/coffee", map[string]any{"name": "Coffee Cup", "price": "12.99"}))
	require.NoError(t, store.Set(ctx, "items/mystery", map[string]any{"name": "Mystery Box"}))

	rules, err := policy.Default()
	require.NoError(t, err)
	items, err := catalog.NewService(store, logger.Nop())
	require.NoError(t, err)
	svc, err := NewService(store, rules, items, logger.Nop())
	require.NoError(t, err)
	return svc, store
}

func TestAddItemCreatesCartAndLine(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	line, err := svc.AddItem(ctx, alice, "coffee", nil)
	require.NoError(t, err)
	assert.Equal(t, "Coffee Cup", line.Name)
	assert.Equal(t, "12.99", line.Price.StringFixed(2))
	assert.Equal(t, int64(1), line.Quantity)

	cartDoc, err := store.Get(ctx, "carts/alice")
	require.NoError(t, err)
	require.True(t, cartDoc.Exists)
	assert.Equal(t, "alice", cartDoc.String(FieldOwnerUID))

	itemDoc, err := store.Get(ctx, "carts/alice/items/coffee")
	require.NoError(t, err)
	assert.Equal(t, 12.99, itemDoc.Data[FieldPrice])
	_, hasQty := itemDoc.Data[FieldQuantity]
	assert.False(t, hasQty)
}

func TestAddItemWithQuantity(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	qty := int64(3)
	line, err := svc.AddItem(ctx, alice, "lemon", &qty)
	require.NoError(t, err)
	assert.Equal(t, "2.97", line.Subtotal().StringFixed(2))

	itemDoc, err := store.Get(ctx, "carts/alice/items/lemon")
	require.NoError(t, err)
	assert.Equal(t, int64(3), itemDoc.Data[FieldQuantity])

	zero := int64(0)
	_, err = svc.AddItem(ctx, alice, "lemon", &zero)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestAddItemKeepsDerivedTotals(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.AddItem(ctx, alice, "lemon", nil)
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, "carts/alice", map[string]any{FieldTotalPrice: 0.99, FieldItemCount: 1}))

	_, err = svc.AddItem(ctx, alice, "coffee", nil)
	require.NoError(t, err)

	c, err := svc.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "0.99", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(1), c.ItemCount)
}

func TestAddItemWithoutCatalogPrice(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.AddItem(ctx, alice, "mystery", nil)
	require.NoError(t, err)
	doc, err := store.Get(ctx, "carts/alice/items/mystery")
	require.NoError(t, err)
	_, hasPrice := doc.Data[FieldPrice]
	assert.False(t, hasPrice)
}

func TestAddItemErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.AddItem(ctx, nil, "lemon", nil)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	_, err = svc.AddItem(ctx, alice, " ", nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.AddItem(ctx, alice, "unknown", nil)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestCartsAreIsolatedPerOwner(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.AddItem(ctx, alice, "lemon", nil)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, bob, "coffee", nil)
	require.NoError(t, err)

	aliceLines, err := svc.ListItems(ctx, alice)
	require.NoError(t, err)
	require.Len(t, aliceLines, 1)
	assert.Equal(t, "lemon", aliceLines[0].ID)

	// bob cannot reach alice's cart through the guarded store
	_, err = svc.Store(bob).Get(ctx, "carts/alice")
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	err = svc.Store(bob).Set(ctx, "carts/alice/items/coffee", map[string]any{"name": "x", "price": 1})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	docs, err := store.List(ctx, "carts/alice/items")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestGetCartMissing(t *testing.T) {
	svc, _ := newTestService(t)
	c, err := svc.GetCart(context.Background(), alice)
	require.NoError(t, err)
	assert.False(t, c.Exists)
	assert.Equal(t, "alice", c.OwnerUID)
	assert.True(t, c.TotalPrice.IsZero())
}

func TestRemoveItem(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.AddItem(ctx, alice, "lemon", nil)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveItem(ctx, alice, "lemon"))

	doc, err := store.Get(ctx, "carts/alice/items/lemon")
	require.NoError(t, err)
	assert.False(t, doc.Exists)

	err = svc.RemoveItem(ctx, nil, "lemon")
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestDecodeLineItem(t *testing.T) {
	doc := func(data map[string]any) *docstore.Document {
		return &docstore.Document{Path: "carts/c/items/i", ID: "i", Exists: true, Data: data}
	}

	line, err := DecodeLineItem(doc(map[string]any{"name": "milk", "price": 5.99}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), line.Quantity)

	line, err = DecodeLineItem(doc(map[string]any{"price": "4.99", "quantity": int64(0)}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), line.Quantity)

	line, err = DecodeLineItem(doc(map[string]any{"price": 2.5, "quantity": float64(4)}))
	require.NoError(t, err)
	assert.Equal(t, "10.00", line.Subtotal().StringFixed(2))

	_, err = DecodeLineItem(doc(map[string]any{"value": 4.99}))
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = DecodeLineItem(doc(map[string]any{"price": 1, "quantity": int64(-1)}))
	assert.ErrorIs(t, err, ErrBadQuantity)

	_, err = DecodeLineItem(doc(map[string]any{"price": 1, "quantity": 1.5}))
	assert.ErrorIs(t, err, ErrBadQuantity)

	_, err = DecodeLineItem(doc(map[string]any{"price": 1, "quantity": "2"}))
	assert.ErrorIs(t, err, ErrBadQuantity)

	_, err = DecodeLineItem(doc(map[string]any{"price": 1, "quantity": int64(math.MaxInt64)}))
	assert.ErrorIs(t, err, ErrBadQuantity)

	line, err = DecodeLineItem(doc(map[string]any{"price": 1, "quantity": 3}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), line.Quantity)

	line, err = DecodeLineItem(doc(map[string]any{"price": 1, "quantity": int64(math.MaxInt64 / 2)}))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64/2), line.Quantity)
}

func TestDecodeCart(t *testing.T) {
	c := DecodeCart(&docstore.Document{ID: "alice", Exists: true, Data: map[string]any{
		"ownerUID": "alice", "totalPrice": 23.97, "itemCount": int64(3),
	}})
	assert.Equal(t, "23.97", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(3), c.ItemCount)
	assert.Equal(t, "alice", c.OwnerUID)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "carts/u1", Path("u1"))
	assert.Equal(t, "carts/u1/items", ItemsPath("u1"))
	assert.Equal(t, "carts/u1/items/i1", ItemPath("u1", "i1"))
	_, ok := docstore.Match(LineItemPattern, ItemPath("u1", "i1"))
	assert.True(t, ok)
}
