package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/internal/policy"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/money"
)

type catalogReader interface {
	Get(ctx context.Context, itemID string) (*catalog.Item, error)
}

// Service is the client write path into carts. Every store access runs
// through the ownership policy for the caller's identity; the cart id is
// the caller's uid.
type Service struct {
	store   docstore.Store
	rules   *policy.Engine
	catalog catalogReader
	logg    *logger.Logger
}

func NewService(store docstore.Store, rules *policy.Engine, catalog catalogReader, logg *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("document store required")
	}
	if rules == nil {
		return nil, fmt.Errorf("policy engine required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{store: store, rules: rules, catalog: catalog, logg: logg}, nil
}

// Store returns the policy-guarded store for identity.
func (s *Service) Store(identity *auth.Identity) docstore.Store {
	return s.rules.Guard(s.store, identity)
}

// GetCart returns the caller's cart. A cart that was never written is
// returned with Exists=false and zero totals.
func (s *Service) GetCart(ctx context.Context, identity *auth.Identity) (*Cart, error) {
	uid, err := requireUID(identity)
	if err != nil {
		return nil, err
	}
	doc, err := s.Store(identity).Get(ctx, Path(uid))
	if err != nil {
		return nil, classify(err, "load cart")
	}
	c := DecodeCart(doc)
	if !c.Exists {
		c.OwnerUID = uid
	}
	return &c, nil
}

// ListItems returns the caller's line items ordered by id. Lines that do not
// decode are returned with the fields that did.
func (s *Service) ListItems(ctx context.Context, identity *auth.Identity) ([]LineItem, error) {
	uid, err := requireUID(identity)
	if err != nil {
		return nil, err
	}
	docs, err := s.Store(identity).List(ctx, ItemsPath(uid))
	if err != nil {
		return nil, classify(err, "list cart items")
	}
	return decodeLines(docs), nil
}

func decodeLines(docs []*docstore.Document) []LineItem {
	lines := make([]LineItem, 0, len(docs))
	for _, doc := range docs {
		line, _ := DecodeLineItem(doc)
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

// AddItem copies a catalog item into the caller's cart. The cart document is
// upserted with the owner first so the line-item write passes the parent
// ownership rule. Quantity is omitted from the line when nil.
func (s *Service) AddItem(ctx context.Context, identity *auth.Identity, itemID string, qty *int64) (*LineItem, error) {
	uid, err := requireUID(identity)
	if err != nil {
		return nil, err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	if qty != nil && *qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	item, err := s.catalog.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithCartID(s.logg.WithUserID(ctx, uid), uid)
	store := s.Store(identity)

	if err := store.Set(ctx, Path(uid), map[string]any{FieldOwnerUID: uid}, docstore.Merge()); err != nil {
		return nil, classify(err, "upsert cart")
	}

	data := map[string]any{FieldName: item.Name}
	line := LineItem{ID: itemID, Name: item.Name, Quantity: 1}
	if item.Price.Valid {
		data[FieldPrice] = money.Float(item.Price.Decimal)
		line.Price = item.Price.Decimal
	}
	if qty != nil {
		data[FieldQuantity] = *qty
		line.Quantity = *qty
	}
	if err := store.Set(ctx, ItemPath(uid, itemID), data); err != nil {
		return nil, classify(err, "write cart item")
	}

	s.logg.Info(s.logg.WithField(ctx, "item_id", itemID), "cart item added")
	return &line, nil
}

// RemoveItem deletes a line item from the caller's cart.
func (s *Service) RemoveItem(ctx context.Context, identity *auth.Identity, itemID string) error {
	uid, err := requireUID(identity)
	if err != nil {
		return err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	if err := s.Store(identity).Delete(ctx, ItemPath(uid, itemID)); err != nil {
		return classify(err, "delete cart item")
	}
	ctx = s.logg.WithCartID(s.logg.WithUserID(ctx, uid), uid)
	s.logg.Info(s.logg.WithField(ctx, "item_id", itemID), "cart item removed")
	return nil
}

func requireUID(identity *auth.Identity) (string, error) {
	if !identity.SignedIn() {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in required")
	}
	return strings.TrimSpace(identity.UID), nil
}

func classify(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, msg)
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, docstore.ErrUnsupportedValue):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
