package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/trigger"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/docstore/memstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store      *memstore.Store
	agg        *Aggregator
	dispatcher *trigger.LocalDispatcher
}

func newHarness(t *testing.T, recomputeOnDelete bool, opts ...memstore.Option) harness {
	t.Helper()
	store := memstore.New(opts...)
	agg, err := New(store, config.AggregatorConfig{RecomputeOnDelete: recomputeOnDelete}, logger.Nop(), nil)
	require.NoError(t, err)

	router := trigger.NewRouter()
	require.NoError(t, agg.Register(router))
	d, err := trigger.NewLocalDispatcher(store, router, config.TriggerConfig{MaxDeliveries: 5, RetryBackoff: time.Millisecond}, logger.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return harness{store: store, agg: agg, dispatcher: d}
}

func (h harness) cart(t *testing.T, id string) cart.Cart {
	t.Helper()
	h.dispatcher.Wait()
	doc, err := h.store.Get(context.Background(), cart.Path(id))
	require.NoError(t, err)
	return cart.DecodeCart(doc)
}

func TestRecomputeSumsEveryLine(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	require.NoError(t, h.store.Set(ctx, "carts/alicesCart", map[string]any{"ownerUID": "alice", "total": 0}))
	for name, price := range map[string]float64{"chocolate": 4.99, "coffee beans": 12.99, "milk": 5.99} {
		require.NoError(t, h.store.Set(ctx, cart.ItemPath("alicesCart", name), map[string]any{"name": name, "price": price}))
	}

	c := h.cart(t, "alicesCart")
	assert.Equal(t, "23.97", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(3), c.ItemCount)

	doc, err := h.store.Get(ctx, "carts/alicesCart")
	require.NoError(t, err)
	assert.Equal(t, 23.97, doc.Data[cart.FieldTotalPrice])
	assert.Equal(t, int64(0), doc.Data["total"])
}

func TestSequentialAddsConverge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	require.NoError(t, h.store.Set(ctx, "carts/alice", map[string]any{"ownerUID": "alice", "totalPrice": 0}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/doc1", map[string]any{"name": "nectarine", "price": 2.99}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/doc2", map[string]any{"name": "grapefruit", "price": 6.99}))

	c := h.cart(t, "alice")
	assert.Equal(t, "9.98", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(2), c.ItemCount)
}

func TestQuantityMultipliesPriceAndCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	require.NoError(t, h.store.Set(ctx, "carts/alice", map[string]any{"ownerUID": "alice"}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/a", map[string]any{"price": 2.5, "quantity": 3}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/b", map[string]any{"price": "1.25", "quantity": 0}))

	c := h.cart(t, "alice")
	assert.Equal(t, "8.75", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(4), c.ItemCount)
}

func TestLinesWithoutPriceAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Set(ctx, "carts/alicesCart", map[string]any{"ownerUID": "alice"}))
	for name, value := range map[string]float64{"chocolate": 4.99, "coffee beans": 12.99, "milk": 5.99} {
		require.NoError(t, store.Set(ctx, cart.ItemPath("alicesCart", name), map[string]any{"value": value}))
	}
	require.NoError(t, store.Set(ctx, cart.ItemPath("alicesCart", "lemon"), map[string]any{"name": "lemon", "price": 0.99}))
	require.NoError(t, store.Set(ctx, cart.ItemPath("alicesCart", "odd"), map[string]any{"price": 1, "quantity": -2}))

	agg, err := New(store, config.AggregatorConfig{}, logger.Nop(), nil)
	require.NoError(t, err)
	res, err := agg.Recompute(ctx, "alicesCart")
	require.NoError(t, err)

	assert.Equal(t, metrics.OutcomeUpdated, res.Outcome)
	assert.Equal(t, "0.99", res.Totals.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(1), res.Totals.ItemCount)
	assert.ElementsMatch(t, []string{"chocolate", "coffee beans", "milk"}, res.Totals.Skipped[SkipNoPrice])
	assert.Equal(t, []string{"odd"}, res.Totals.Skipped[SkipBadQuantity])
	assert.Equal(t, 4, res.Totals.SkippedCount())
}

func TestRecomputeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Set(ctx, "carts/alice", map[string]any{"ownerUID": "alice"}))
	require.NoError(t, store.Set(ctx, "carts/alice/items/a", map[string]any{"price": 4.99}))

	agg, err := New(store, config.AggregatorConfig{}, logger.Nop(), nil)
	require.NoError(t, err)

	first, err := agg.Recompute(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeUpdated, first.Outcome)
	before, err := store.Get(ctx, "carts/alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := agg.Recompute(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, metrics.OutcomeUnchanged, again.Outcome)
	}
	after, err := store.Get(ctx, "carts/alice")
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
	assert.True(t, before.UpdateTime.Equal(after.UpdateTime))
}

func TestEmptyCartWritesZeroTotals(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Set(ctx, "carts/alice", map[string]any{"ownerUID": "alice"}))
	agg, err := New(store, config.AggregatorConfig{}, logger.Nop(), nil)
	require.NoError(t, err)

	res, err := agg.Recompute(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeUpdated, res.Outcome)
	doc, err := store.Get(ctx, "carts/alice")
	require.NoError(t, err)
	assert.Equal(t, float64(0), doc.Data[cart.FieldTotalPrice])
	assert.Equal(t, int64(0), doc.Data[cart.FieldItemCount])
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, memstore.WithMaxAttempts(50), memstore.WithBackoff(time.Millisecond))
	require.NoError(t, h.store.Set(ctx, "carts/alice", map[string]any{"ownerUID": "alice"}))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.store.Set(ctx, cart.ItemPath("alice", fmt.Sprintf("item%02d", i)), map[string]any{"price": 1.5}))
		}(i)
	}
	wg.Wait()

	c := h.cart(t, "alice")
	assert.Equal(t, "30.00", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(n), c.ItemCount)
}

func TestDeleteRecomputesWhenEnabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.store.Set(ctx, "carts/alice", map[string]any{"ownerUID": "alice"}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/a", map[string]any{"price": 2.99}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/b", map[string]any{"price": 6.99}))
	assert.Equal(t, int64(2), h.cart(t, "alice").ItemCount)

	require.NoError(t, h.store.Delete(ctx, "carts/alice/items/b"))
	c := h.cart(t, "alice")
	assert.Equal(t, "2.99", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(1), c.ItemCount)
}

func TestDeleteIgnoredWhenDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.store.Set(ctx, "carts/alice", map[string]any{"ownerUID": "alice"}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/a", map[string]any{"price": 2.99}))
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/b", map[string]any{"price": 6.99}))
	assert.Equal(t, "9.98", h.cart(t, "alice").TotalPrice.StringFixed(2))

	require.NoError(t, h.store.Delete(ctx, "carts/alice/items/b"))
	c := h.cart(t, "alice")
	assert.Equal(t, "9.98", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(2), c.ItemCount)

	// the next write folds from the full set again
	require.NoError(t, h.store.Set(ctx, "carts/alice/items/c", map[string]any{"price": 1}))
	c = h.cart(t, "alice")
	assert.Equal(t, "3.99", c.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(2), c.ItemCount)
}

func TestMissingCartIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Set(ctx, "carts/ghost/items/a", map[string]any{"price": 1}))
	agg, err := New(store, config.AggregatorConfig{RecomputeOnDelete: true}, logger.Nop(), nil)
	require.NoError(t, err)

	res, err := agg.Recompute(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeNoCart, res.Outcome)

	doc, err := store.Get(ctx, "carts/ghost")
	require.NoError(t, err)
	assert.False(t, doc.Exists)

	ev := trigger.Event{
		Path:   "carts/ghost/items/a",
		Params: map[string]string{"cartId": "ghost", "itemId": "a"},
		After:  &docstore.Document{Path: "carts/ghost/items/a", Exists: true},
	}
	assert.NoError(t, agg.Handle(ctx, ev))
}

type failingStore struct {
	docstore.Store
	err error
}

func (f failingStore) RunTransaction(context.Context, docstore.TxFunc) error {
	return f.err
}

func TestStoreFailuresAreRetryable(t *testing.T) {
	agg, err := New(failingStore{Store: memstore.New(), err: errors.New("unavailable")}, config.AggregatorConfig{}, logger.Nop(), nil)
	require.NoError(t, err)

	_, err = agg.Recompute(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.IsRetryable(err))

	agg, err = New(failingStore{Store: memstore.New(), err: docstore.ErrAborted}, config.AggregatorConfig{}, logger.Nop(), nil)
	require.NoError(t, err)
	_, err = agg.Recompute(context.Background(), "alice")
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestRecomputeValidatesCartID(t *testing.T) {
	agg, err := New(memstore.New(), config.AggregatorConfig{}, logger.Nop(), nil)
	require.NoError(t, err)

	_, err = agg.Recompute(context.Background(), "")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = agg.Recompute(context.Background(), "a/b")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestFold(t *testing.T) {
	mk := func(id string, data map[string]any) *docstore.Document {
		return &docstore.Document{Path: "carts/c/items/" + id, ID: id, Exists: true, Data: data}
	}
	totals := Fold([]*docstore.Document{
		mk("a", map[string]any{"price": 0.1}),
		mk("b", map[string]any{"price": 0.2}),
		mk("c", map[string]any{"price": nil}),
	})
	assert.Equal(t, "0.3", totals.TotalPrice.String())
	assert.Equal(t, int64(2), totals.ItemCount)
	assert.Equal(t, []string{"c"}, totals.Skipped[SkipNoPrice])

	empty := Fold(nil)
	assert.True(t, empty.TotalPrice.IsZero())
	assert.Equal(t, 0, empty.SkippedCount())
}

func TestFoldCountsZeroPricedLines(t *testing.T) {
	totals := Fold([]*docstore.Document{
		{Path: "carts/c/items/free", ID: "free", Exists: true, Data: map[string]any{"price": 0, "quantity": int64(2)}},
		{Path: "carts/c/items/lemon", ID: "lemon", Exists: true, Data: map[string]any{"price": 0.99}},
	})
	assert.Equal(t, "0.99", totals.TotalPrice.StringFixed(2))
	assert.Equal(t, int64(3), totals.ItemCount)
	assert.Equal(t, 0, totals.SkippedCount())
}

func TestFoldSkipsQuantitiesThatOverflow(t *testing.T) {
	huge := map[string]any{"price": 0.01, "quantity": int64(math.MaxInt64 / 2)}
	totals := Fold([]*docstore.Document{
		{Path: "carts/c/items/a", ID: "a", Exists: true, Data: huge},
		{Path: "carts/c/items/b", ID: "b", Exists: true, Data: huge},
		{Path: "carts/c/items/c", ID: "c", Exists: true, Data: huge},
		{Path: "carts/c/items/d", ID: "d", Exists: true, Data: map[string]any{"price": 1, "quantity": int64(math.MaxInt64)}},
	})
	assert.Positive(t, totals.ItemCount)
	assert.Equal(t, int64(math.MaxInt64/2)*2, totals.ItemCount)
	assert.ElementsMatch(t, []string{"c", "d"}, totals.Skipped[SkipBadQuantity])
}
