package trigger

import (
	"context"
	"errors"

	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/firestore"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

type groupListener interface {
	ListenCollectionGroup(ctx context.Context, opts firestore.ListenOptions, handle firestore.ChangeHandler) error
}

// FirestoreSource feeds a collection-group listener into the router. Changes
// are dispatched concurrently up to the configured limit; a slow handler
// applies backpressure to the listener.
type FirestoreSource struct {
	deliverer
	listener    groupListener
	opts        firestore.ListenOptions
	concurrency int
}

func NewFirestoreSource(listener groupListener, router *Router, opts firestore.ListenOptions, cfg config.TriggerConfig, logg *logger.Logger, m *metrics.TriggerMetrics) (*FirestoreSource, error) {
	if listener == nil {
		return nil, errors.New("firestore listener is required")
	}
	if router == nil {
		return nil, errors.New("router is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if opts.CollectionID == "" && opts.Pattern != "" {
		opts.CollectionID = docstore.ID(docstore.Parent(opts.Pattern))
	}
	return &FirestoreSource{
		deliverer: deliverer{
			router:        router,
			logg:          logg,
			metrics:       m,
			maxDeliveries: cfg.MaxDeliveries,
			backoff:       cfg.RetryBackoff,
		},
		listener:    listener,
		opts:        opts,
		concurrency: max(cfg.Concurrency, 1),
	}, nil
}

// Run listens until ctx is canceled, then waits for in-flight deliveries.
// Handler failures are logged per event and never stop the listener.
func (s *FirestoreSource) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency + 1)

	g.Go(func() error {
		return s.listener.ListenCollectionGroup(gctx, s.opts, func(ctx context.Context, change docstore.Change) error {
			ev := NewEvent(EventIDFor(change), SourceFirestore, change)
			g.Go(func() error {
				_ = s.deliver(gctx, ev)
				return nil
			})
			return nil
		})
	})
	return g.Wait()
}
