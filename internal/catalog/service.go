package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/firebase/emulators-codelab/pkg/docstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/money"
	"github.com/shopspring/decimal"
)

// Collection is the catalog collection path.
const Collection = "items"

// DefaultSeedCount matches the number of cards on the storefront.
const DefaultSeedCount = 9

// Item is a catalog entry. Price is invalid when the stored value is
// missing or not numeric.
type Item struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Price       decimal.NullDecimal `json:"price"`
	Description string              `json:"description,omitempty"`
	ImageURL    string              `json:"imageUrl,omitempty"`
}

// Decode maps a catalog document onto an Item.
func Decode(doc *docstore.Document) Item {
	item := Item{
		ID:          doc.ID,
		Name:        doc.String("name"),
		Description: doc.String("description"),
		ImageURL:    doc.String("imageUrl"),
	}
	raw, _ := doc.Field("price")
	if price, err := money.Parse(raw); err == nil {
		item.Price = decimal.NewNullDecimal(price)
	}
	return item
}

// Path returns the document path of a catalog item.
func Path(itemID string) string {
	return docstore.Join(Collection, itemID)
}

type Service struct {
	store  docstore.Store
	logg   *logger.Logger
	intn   func(n int) int
	nextID func() string
}

type Option func(*Service)

// WithRand replaces the random source used by Seed.
func WithRand(intn func(n int) int) Option {
	return func(s *Service) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// WithIDs replaces the document id generator used by Seed.
func WithIDs(next func() string) Option {
	return func(s *Service) {
		if next != nil {
			s.nextID = next
		}
	}
}

func NewService(store docstore.Store, logg *logger.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("document store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &Service{store: store, logg: logg, intn: rand.IntN, nextID: docstore.NewID}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns the catalog ordered by id.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	docs, err := s.store.List(ctx, Collection)
	if err != nil {
		return nil, classify(err, "list catalog")
	}
	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, Decode(doc))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Get returns one catalog item.
func (s *Service) Get(ctx context.Context, itemID string) (*Item, error) {
	path := Path(itemID)
	if err := docstore.ValidateDocument(path); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item id")
	}
	doc, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, classify(err, "load catalog item")
	}
	if !doc.Exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "catalog item not found")
	}
	item := Decode(doc)
	return &item, nil
}

// Seed writes n random items in one transaction.
func (s *Service) Seed(ctx context.Context, n int) ([]Item, error) {
	if n <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seed count must be positive")
	}
	var items []Item
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var err error
		items, err = s.write(ctx, tx, n)
		return err
	})
	if err != nil {
		return nil, classify(err, "seed catalog")
	}
	s.logg.Info(s.logg.WithField(ctx, "count", len(items)), "catalog seeded")
	return items, nil
}

// EnsureSeeded seeds n items only when the catalog is empty. The emptiness
// check and the writes share a transaction so concurrent callers seed once.
func (s *Service) EnsureSeeded(ctx context.Context, n int) (bool, error) {
	if n <= 0 {
		n = DefaultSeedCount
	}
	seeded := false
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		seeded = false
		docs, err := tx.List(ctx, Collection)
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return nil
		}
		if _, err := s.write(ctx, tx, n); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, classify(err, "seed empty catalog")
	}
	if seeded {
		s.logg.Info(s.logg.WithField(ctx, "count", n), "empty catalog seeded")
	}
	return seeded, nil
}

// write buffers n generated items. Prices are stored as strings, the way
// the storefront seeder has always written them.
func (s *Service) write(ctx context.Context, tx docstore.Tx, n int) ([]Item, error) {
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		item := s.generate()
		err := tx.Set(ctx, Path(item.ID), map[string]any{
			"name":        item.Name,
			"price":       money.Format(item.Price.Decimal),
			"description": item.Description,
			"imageUrl":    item.ImageURL,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func classify(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, docstore.ErrInvalidPath) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
