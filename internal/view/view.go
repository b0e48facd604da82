// Package view projects the storefront page from live document
// subscriptions: the catalog for everyone, and the cart plus its line items
// once an identity is signed in.
package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/money"
)

const (
	LabelSignIn    = "Sign In"
	LabelSignOut   = "Sign Out"
	LabelNoCart    = "N/A"
	AlertAddFailed = "Error adding item to cart"
)

// ErrClosed is returned by operations on a closed view.
var ErrClosed = errors.New("view closed")

type carts interface {
	Store(identity *auth.Identity) docstore.Store
	AddItem(ctx context.Context, identity *auth.Identity, itemID string, qty *int64) (*cart.LineItem, error)
}

type seeder interface {
	EnsureSeeded(ctx context.Context, n int) (bool, error)
}

// Listener receives every new state. It runs on the subscription goroutine
// that produced the change and must not block.
type Listener func(State)

type View struct {
	carts carts
	seed  seeder
	logg  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	identity  *auth.Identity
	gen       uint64
	items     []catalog.Item
	cart      cart.Cart
	lines     []cart.LineItem
	alert     string
	version   uint64
	ready     readiness
	catalogUn docstore.Unsubscribe
	cartUn    []docstore.Unsubscribe
	seeded    bool
	changed   chan struct{}

	listeners map[int]Listener
	nextID    int
}

type readiness struct {
	catalog bool
	cart    bool
	lines   bool
}

type Option func(*View)

// WithSeeder seeds the catalog the first time an empty catalog snapshot
// arrives.
func WithSeeder(s seeder) Option {
	return func(v *View) { v.seed = s }
}

// New starts the catalog subscription. The view lives until Close or until
// ctx is cancelled.
func New(ctx context.Context, carts carts, logg *logger.Logger, opts ...Option) (*View, error) {
	if carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	v := &View{
		carts:     carts,
		logg:      logg,
		changed:   make(chan struct{}),
		listeners: map[int]Listener{},
		// signed out until SetIdentity, so only the catalog is pending
		ready: readiness{cart: true, lines: true},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.ctx, v.cancel = context.WithCancel(ctx)

	un, err := carts.Store(nil).WatchCollection(v.ctx, catalog.Collection, v.onCatalog)
	if err != nil {
		v.cancel()
		return nil, fmt.Errorf("watch catalog: %w", err)
	}
	v.mu.Lock()
	v.catalogUn = un
	v.mu.Unlock()
	return v, nil
}

func (v *View) onCatalog(docs []*docstore.Document, err error) {
	if err != nil {
		v.logg.Error(v.ctx, "catalog subscription failed", err)
		return
	}
	if len(docs) == 0 && v.seed != nil && v.claimSeed() {
		if _, err := v.seed.EnsureSeeded(v.ctx, catalog.DefaultSeedCount); err != nil {
			v.logg.Error(v.ctx, "seed empty catalog", err)
		}
	}
	items := make([]catalog.Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, catalog.Decode(doc))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	v.update(func() bool {
		v.items = items
		v.ready.catalog = true
		return true
	})
}

func (v *View) claimSeed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seeded {
		return false
	}
	v.seeded = true
	return true
}

// SetIdentity switches the cart subscriptions to identity. Subscriptions
// bound to the previous identity are cancelled first. A nil identity signs
// out and clears the cart state. Signing in upserts the cart document with
// its owner, the way the storefront always has.
func (v *View) SetIdentity(ctx context.Context, identity *auth.Identity) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	stale := v.cartUn
	v.cartUn = nil
	v.gen++
	gen := v.gen
	v.identity = identity
	v.cart = cart.Cart{}
	v.lines = nil
	v.alert = ""
	signedIn := identity.SignedIn()
	v.ready.cart = !signedIn
	v.ready.lines = !signedIn
	v.mu.Unlock()

	for _, un := range stale {
		un()
	}
	v.notify()
	if !signedIn {
		return nil
	}

	uid := identity.UID
	store := v.carts.Store(identity)
	if err := store.Set(ctx, cart.Path(uid), map[string]any{cart.FieldOwnerUID: uid}, docstore.Merge()); err != nil {
		return fmt.Errorf("create cart: %w", err)
	}

	cartUn, err := store.WatchDocument(v.ctx, cart.Path(uid), func(doc *docstore.Document, err error) {
		if err != nil {
			v.logg.Error(v.logg.WithUserID(v.ctx, uid), "cart subscription failed", err)
			return
		}
		c := cart.DecodeCart(doc)
		v.update(func() bool {
			if v.gen != gen {
				return false
			}
			v.cart = c
			v.ready.cart = true
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("watch cart: %w", err)
	}
	linesUn, err := store.WatchCollection(v.ctx, cart.ItemsPath(uid), func(docs []*docstore.Document, err error) {
		if err != nil {
			v.logg.Error(v.logg.WithUserID(v.ctx, uid), "cart items subscription failed", err)
			return
		}
		lines := make([]cart.LineItem, 0, len(docs))
		for _, doc := range docs {
			line, _ := cart.DecodeLineItem(doc)
			lines = append(lines, line)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
		v.update(func() bool {
			if v.gen != gen {
				return false
			}
			v.lines = lines
			v.ready.lines = true
			return true
		})
	})
	if err != nil {
		cartUn()
		return fmt.Errorf("watch cart items: %w", err)
	}

	v.mu.Lock()
	if v.gen != gen || v.closed {
		v.mu.Unlock()
		cartUn()
		linesUn()
		return nil
	}
	v.cartUn = []docstore.Unsubscribe{cartUn, linesUn}
	v.mu.Unlock()
	v.logg.Debug(v.logg.WithUserID(ctx, uid), "cart subscriptions started")
	return nil
}

// AddToCart upserts the catalog item into the signed-in identity's cart. Any
// failure sets the generic alert and is returned.
func (v *View) AddToCart(ctx context.Context, itemID string) error {
	v.mu.Lock()
	identity := v.identity
	v.mu.Unlock()

	if _, err := v.carts.AddItem(ctx, identity, itemID, nil); err != nil {
		v.logg.Warn(v.logg.WithField(ctx, "item_id", itemID), "add to cart failed: "+err.Error())
		v.update(func() bool {
			v.alert = AlertAddFailed
			return true
		})
		return err
	}
	return nil
}

// DismissAlert clears the current alert.
func (v *View) DismissAlert() {
	v.update(func() bool {
		if v.alert == "" {
			return false
		}
		v.alert = ""
		return true
	})
}

// State returns the current projection.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

// Subscribe registers fn for every subsequent state. The returned function
// removes it.
func (v *View) Subscribe(fn Listener) (remove func()) {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.listeners[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	}
}

// Changed returns a channel closed at the next state change.
func (v *View) Changed() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.changed
}

// WaitReady blocks until every active subscription has delivered its first
// snapshot.
func (v *View) WaitReady(ctx context.Context) (State, error) {
	for {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return State{}, ErrClosed
		}
		if v.ready.catalog && v.ready.cart && v.ready.lines {
			st := v.stateLocked()
			v.mu.Unlock()
			return st, nil
		}
		ch := v.changed
		v.mu.Unlock()

		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case <-ch:
		}
	}
}

// Close stops every subscription. It is safe to call more than once.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	subs := append(v.cartUn, v.catalogUn)
	v.cartUn = nil
	v.catalogUn = nil
	v.listeners = map[int]Listener{}
	close(v.changed)
	v.mu.Unlock()

	for _, un := range subs {
		if un != nil {
			un()
		}
	}
	v.cancel()
	return nil
}

func (v *View) notify() {
	v.update(func() bool { return true })
}

// update applies mutate under the lock and fans the new state out when it
// reports a change.
func (v *View) update(mutate func() bool) {
	v.mu.Lock()
	if v.closed || !mutate() {
		v.mu.Unlock()
		return
	}
	v.version++
	st := v.stateLocked()
	close(v.changed)
	v.changed = make(chan struct{})
	listeners := make([]Listener, 0, len(v.listeners))
	for _, fn := range v.listeners {
		listeners = append(listeners, fn)
	}
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func (v *View) stateLocked() State {
	inCart := make(map[string]bool, len(v.lines))
	for _, line := range v.lines {
		inCart[line.ID] = true
	}

	st := State{
		Version: v.version,
		Alert:   v.alert,
		Cards:   make([]Card, 0, len(v.items)),
		Lines:   make([]Line, 0, len(v.lines)),
	}
	for _, item := range v.items {
		card := Card{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			ImageURL:    item.ImageURL,
			AddDisabled: inCart[item.ID],
		}
		if item.Price.Valid {
			card.Price = money.Format(item.Price.Decimal)
		}
		st.Cards = append(st.Cards, card)
	}
	for _, line := range v.lines {
		st.Lines = append(st.Lines, newLine(line))
	}

	st.Header = Header{SignIn: LabelSignIn, Cart: LabelNoCart}
	if v.identity.SignedIn() {
		st.SignedIn = true
		st.UID = v.identity.UID
		st.Header.SignIn = LabelSignOut
		st.Header.CartEnabled = true
		st.Header.TotalPrice = money.Format(v.cart.TotalPrice)
		st.Header.ItemCount = v.cart.ItemCount
		st.Header.Cart = fmt.Sprintf("Cart (%d)", v.cart.ItemCount)
	}
	return st
}

// Open starts a view and, when identity is signed in, binds it to that
// identity's cart.
func Open(ctx context.Context, carts carts, identity *auth.Identity, logg *logger.Logger, opts ...Option) (*View, error) {
	v, err := New(ctx, carts, logg, opts...)
	if err != nil {
		return nil, err
	}
	if identity.SignedIn() {
		if err := v.SetIdentity(ctx, identity); err != nil {
			_ = v.Close()
			return nil, err
		}
	}
	return v, nil
}
