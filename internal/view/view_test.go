package view

import (
	"context"
	"testing"
	"time"

	"github.com/firebase/emulators-codelab/internal/aggregator"
	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/internal/policy"
	"github.com/firebase/emulators-codelab/internal/trigger"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/docstore/memstore"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	alice = &auth.Identity{UID: "alice"}
	bob   = &auth.Identity{UID: "bob"}
)

type fixture struct {
	store   *memstore.Store
	carts   *cart.Service
	catalog *catalog.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	rules, err := policy.Default()
	require.NoError(t, err)
	items, err := catalog.NewService(store, logger.Nop())
	require.NoError(t, err)
	carts, err := cart.NewService(store, rules, items, logger.Nop())
	require.NoError(t, err)

	agg, err := aggregator.New(store, config.AggregatorConfig{RecomputeOnDelete: true}, logger.Nop(), nil)
	require.NoError(t, err)
	router := trigger.NewRouter()
	require.NoError(t, agg.Register(router))
	d, err := trigger.NewLocalDispatcher(store, router, config.TriggerConfig{MaxDeliveries: 3, RetryBackoff: time.Millisecond}, logger.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return fixture{store: store, carts: carts, catalog: items}
}

func (f fixture) stock(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "items/lemon", map[string]any{"name": "lemon", "price": 0.99}))
	require.NoError(t, f.store.Set(ctx, "items/coffee", map[string]any{"name": "coffee beans", "price": "12.99"}))
}

func (f fixture) open(t *testing.T, opts ...Option) *View {
	t.Helper()
	v, err := New(context.Background(), f.carts, logger.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func waitReady(t *testing.T, v *View) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	st, err := v.WaitReady(ctx)
	require.NoError(t, err)
	return st
}

func TestSignedOutState(t *testing.T) {
	f := newFixture(t)
	f.stock(t)
	v := f.open(t)

	require.Eventually(t, func() bool { return len(v.State().Cards) == 2 }, waitFor, tick)
	st := waitReady(t, v)
	assert.False(t, st.SignedIn)
	assert.Equal(t, LabelSignIn, st.Header.SignIn)
	assert.Equal(t, LabelNoCart, st.Header.Cart)
	assert.False(t, st.Header.CartEnabled)
	assert.Empty(t, st.Lines)

	card, ok := st.Card("coffee")
	require.True(t, ok)
	assert.Equal(t, "12.99", card.Price)
	assert.False(t, card.AddDisabled)
}

func TestOpenSignedOutIsReadyOnCatalog(t *testing.T) {
	f := newFixture(t)
	f.stock(t)
	v, err := Open(context.Background(), f.carts, nil, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	st := waitReady(t, v)
	assert.False(t, st.SignedIn)
	assert.Len(t, st.Cards, 2)
	assert.Equal(t, LabelNoCart, st.Header.Cart)
}

func TestEmptyCatalogIsSeeded(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, WithSeeder(f.catalog))

	require.Eventually(t, func() bool {
		return len(v.State().Cards) == catalog.DefaultSeedCount
	}, waitFor, tick)
	for _, card := range v.State().Cards {
		assert.NotEmpty(t, card.Name)
		assert.NotEmpty(t, card.Price)
	}
}

func TestAddToCartDisablesCardAndUpdatesHeader(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t)
	v := f.open(t)

	require.NoError(t, v.SetIdentity(ctx, alice))
	st := waitReady(t, v)
	assert.True(t, st.SignedIn)
	assert.Equal(t, LabelSignOut, st.Header.SignIn)
	assert.Equal(t, "Cart (0)", st.Header.Cart)

	cartDoc, err := f.store.Get(ctx, "carts/alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", cartDoc.String(cart.FieldOwnerUID))

	require.NoError(t, v.AddToCart(ctx, "lemon"))
	require.NoError(t, v.AddToCart(ctx, "coffee"))

	require.Eventually(t, func() bool {
		st := v.State()
		return st.Header.ItemCount == 2 && len(st.Lines) == 2
	}, waitFor, tick)

	st = v.State()
	assert.Equal(t, "Cart (2)", st.Header.Cart)
	assert.Equal(t, "13.98", st.Header.TotalPrice)
	assert.Equal(t, []Line{
		{ID: "coffee", Text: "coffee beans - 12.99"},
		{ID: "lemon", Text: "lemon - 0.99"},
	}, st.Lines)
	card, ok := st.Card("lemon")
	require.True(t, ok)
	assert.True(t, card.AddDisabled)
	assert.Empty(t, st.Alert)
}

func TestSwitchingIdentityDropsPreviousSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t)
	v := f.open(t)

	require.NoError(t, v.SetIdentity(ctx, alice))
	waitReady(t, v)
	require.NoError(t, v.AddToCart(ctx, "lemon"))
	require.Eventually(t, func() bool { return len(v.State().Lines) == 1 }, waitFor, tick)

	require.NoError(t, v.SetIdentity(ctx, bob))
	st := waitReady(t, v)
	assert.Equal(t, "bob", st.UID)
	assert.Empty(t, st.Lines)
	card, _ := st.Card("lemon")
	assert.False(t, card.AddDisabled)

	require.NoError(t, f.store.Set(ctx, "carts/alice/items/coffee", map[string]any{"name": "coffee beans", "price": 12.99}))
	assert.Never(t, func() bool { return len(v.State().Lines) > 0 }, 100*time.Millisecond, tick)
}

func TestSignOutClearsCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t)
	v := f.open(t)

	require.NoError(t, v.SetIdentity(ctx, alice))
	waitReady(t, v)
	require.NoError(t, v.AddToCart(ctx, "lemon"))
	require.Eventually(t, func() bool { return len(v.State().Lines) == 1 }, waitFor, tick)

	require.NoError(t, v.SetIdentity(ctx, nil))
	st := waitReady(t, v)
	assert.False(t, st.SignedIn)
	assert.Equal(t, LabelSignIn, st.Header.SignIn)
	assert.Equal(t, LabelNoCart, st.Header.Cart)
	assert.Empty(t, st.Lines)
}

func TestAddToCartFailureRaisesAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t)
	v := f.open(t)
	waitReady(t, v)

	assert.Error(t, v.AddToCart(ctx, "lemon"))
	assert.Equal(t, AlertAddFailed, v.State().Alert)

	v.DismissAlert()
	assert.Empty(t, v.State().Alert)

	require.NoError(t, v.SetIdentity(ctx, alice))
	waitReady(t, v)
	assert.Error(t, v.AddToCart(ctx, "unknown"))
	assert.Equal(t, AlertAddFailed, v.State().Alert)
}

func TestSubscribeAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t)
	v := f.open(t)

	states := make(chan State, 64)
	remove := v.Subscribe(func(st State) {
		select {
		case states <- st:
		default:
		}
	})
	defer remove()

	require.NoError(t, v.SetIdentity(ctx, alice))
	select {
	case st := <-states:
		assert.NotZero(t, st.Version)
	case <-time.After(waitFor):
		t.Fatal("no state delivered")
	}

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	_, err := v.WaitReady(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, v.SetIdentity(ctx, bob), ErrClosed)
}

func TestNewRequiresCartService(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.Error(t, err)
}
