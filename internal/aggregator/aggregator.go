// Package aggregator keeps each cart's derived totals in step with its
// line items.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/trigger"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"github.com/firebase/emulators-codelab/pkg/money"
)

// Result describes one recomputation.
type Result struct {
	CartID  string
	Totals  Totals
	Outcome string
}

type Aggregator struct {
	store             docstore.Store
	logg              *logger.Logger
	metrics           *metrics.AggregatorMetrics
	recomputeOnDelete bool
	now               func() time.Time
}

func New(store docstore.Store, cfg config.AggregatorConfig, logg *logger.Logger, m *metrics.AggregatorMetrics) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("document store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Aggregator{
		store:             store,
		logg:              logg,
		metrics:           m,
		recomputeOnDelete: cfg.RecomputeOnDelete,
		now:               time.Now,
	}, nil
}

// Register subscribes the aggregator to every line-item write.
func (a *Aggregator) Register(r *trigger.Router) error {
	return r.Handle(cart.LineItemPattern, trigger.OnWrite, a.Handle)
}

// Handle is the trigger entry point for a line-item write. Deletes are
// ignored unless recompute-on-delete is enabled.
func (a *Aggregator) Handle(ctx context.Context, ev trigger.Event) error {
	cartID := ev.Param("cartId")
	ctx = a.logg.WithFields(a.logg.WithCartID(ctx, cartID), map[string]any{
		"item_id": ev.Param("itemId"),
		"kind":    ev.Kind().String(),
	})
	if ev.Kind() == docstore.ChangeDeleted && !a.recomputeOnDelete {
		a.logg.Debug(ctx, "line item deleted, totals left unchanged")
		return nil
	}

	start := a.now()
	res, err := a.Recompute(ctx, cartID)
	a.metrics.ObserveDuration(ev.Kind().String(), a.now().Sub(start))
	if err != nil {
		a.metrics.IncFailure(string(pkgerrors.CodeOf(err)))
		a.logg.Error(ctx, "cart recompute failed", err)
		return err
	}
	a.metrics.IncSuccess(res.Outcome)
	for reason, ids := range res.Totals.Skipped {
		a.metrics.AddSkipped(reason, len(ids))
	}
	return nil
}

// Recompute re-reads the cart and all of its line items in one transaction
// and writes the folded totals. It never increments, so running it any
// number of times converges on the same values. A missing cart is reported
// with OutcomeNoCart and no error.
func (a *Aggregator) Recompute(ctx context.Context, cartID string) (Result, error) {
	res := Result{CartID: cartID}
	if strings.TrimSpace(cartID) == "" {
		return res, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}
	cartPath := cart.Path(cartID)
	if err := docstore.ValidateDocument(cartPath); err != nil {
		return res, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cart id")
	}

	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, cartPath)
		if err != nil {
			return err
		}
		if !doc.Exists {
			res.Outcome = metrics.OutcomeNoCart
			return nil
		}
		lines, err := tx.List(ctx, cart.ItemsPath(cartID))
		if err != nil {
			return err
		}
		res.Totals = Fold(lines)
		if res.Totals.Matches(cart.DecodeCart(doc), doc) {
			res.Outcome = metrics.OutcomeUnchanged
			return nil
		}
		res.Outcome = metrics.OutcomeUpdated
		return tx.Update(ctx, cartPath, map[string]any{
			cart.FieldTotalPrice: money.Float(res.Totals.TotalPrice),
			cart.FieldItemCount:  res.Totals.ItemCount,
		})
	})
	if err != nil {
		return res, classify(err, cartID)
	}

	fields := map[string]any{
		"outcome":     res.Outcome,
		"total_price": money.Format(res.Totals.TotalPrice),
		"item_count":  res.Totals.ItemCount,
	}
	for reason, ids := range res.Totals.Skipped {
		fields["skipped_"+reason] = ids
	}
	logCtx := a.logg.WithFields(ctx, fields)
	switch {
	case res.Outcome == metrics.OutcomeNoCart:
		a.logg.Warn(logCtx, "cart document missing, nothing to update")
	case res.Totals.SkippedCount() > 0:
		a.logg.Warn(logCtx, "cart totals recomputed with skipped line items")
	default:
		a.logg.Info(logCtx, "cart totals recomputed")
	}
	return res, nil
}

// classify maps store failures onto error codes: aborted transactions and
// unavailable stores are retryable, malformed paths are not.
func classify(err error, cartID string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	msg := fmt.Sprintf("recompute cart %s", cartID)
	switch {
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, docstore.ErrUnsupportedValue):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
