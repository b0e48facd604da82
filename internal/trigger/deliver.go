package trigger

import (
	"context"
	"time"

	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"go.uber.org/multierr"
)

// retryable reports whether any of the combined handler errors is transient.
func retryable(err error) bool {
	for _, e := range multierr.Errors(err) {
		if pkgerrors.IsRetryable(e) {
			return true
		}
	}
	return false
}

// deliverer runs the router with in-process redelivery. Runtimes without a
// broker (local hooks, Firestore listeners) share it.
type deliverer struct {
	router        *Router
	logg          *logger.Logger
	metrics       *metrics.TriggerMetrics
	maxDeliveries int
	backoff       time.Duration
}

func (d *deliverer) deliver(ctx context.Context, ev Event) error {
	ctx = d.logg.WithFields(d.logg.WithEventID(ctx, ev.ID), map[string]any{
		"path":   ev.Path,
		"kind":   ev.Kind().String(),
		"source": ev.Source,
	})

	attempts := max(d.maxDeliveries, 1)
	for attempt := 1; ; attempt++ {
		err := d.router.Dispatch(ctx, ev)
		if err == nil {
			d.metrics.Inc(ev.Source, metrics.DeliveryAcked)
			return nil
		}
		logCtx := d.logg.WithField(ctx, "attempt", attempt)
		if !retryable(err) {
			d.metrics.Inc(ev.Source, metrics.DeliveryDropped)
			d.logg.Error(logCtx, "trigger handler failed permanently", err)
			return err
		}
		if attempt >= attempts {
			d.metrics.Inc(ev.Source, metrics.DeliveryExhausted)
			d.logg.Error(logCtx, "trigger redeliveries exhausted", err)
			return err
		}
		d.metrics.Inc(ev.Source, metrics.DeliveryRetried)
		d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "trigger handler failed, redelivering")
		if err := sleep(ctx, d.backoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
