package trigger

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/firestore"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
)

const sourceRelay = "relay"

// Relay forwards collection-group changes to a Pub/Sub topic as change
// envelopes, for deployments where the aggregator consumes a subscription.
type Relay struct {
	listener groupListener
	opts     firestore.ListenOptions
	publish  func(ctx context.Context, msg *pubsub.Message) (string, error)
	logg     *logger.Logger
	metrics  *metrics.TriggerMetrics
}

func NewRelay(listener groupListener, publisher *pubsub.Publisher, opts firestore.ListenOptions, logg *logger.Logger, m *metrics.TriggerMetrics) (*Relay, error) {
	if listener == nil {
		return nil, errors.New("firestore listener is required")
	}
	if publisher == nil {
		return nil, errors.New("trigger publisher is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if opts.CollectionID == "" && opts.Pattern != "" {
		opts.CollectionID = docstore.ID(docstore.Parent(opts.Pattern))
	}
	return &Relay{
		listener: listener,
		opts:     opts,
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return publisher.Publish(ctx, msg).Get(ctx)
		},
		logg:    logg,
		metrics: m,
	}, nil
}

// Run forwards changes until ctx is canceled. A publish failure stops the
// relay so the process restarts and the listener replays from a fresh
// snapshot.
func (r *Relay) Run(ctx context.Context) error {
	return r.listener.ListenCollectionGroup(ctx, r.opts, r.forward)
}

func (r *Relay) forward(ctx context.Context, change docstore.Change) error {
	env := NewEnvelope(EventIDFor(change), change)
	data, err := env.Marshal()
	if err != nil {
		r.metrics.Inc(sourceRelay, metrics.DeliveryDropped)
		r.logg.Error(r.logg.WithField(ctx, "path", change.Path), "failed to encode change envelope", err)
		return nil
	}
	logCtx := r.logg.WithFields(r.logg.WithEventID(ctx, env.EventID), map[string]any{"path": env.Path})
	id, err := r.publish(ctx, &pubsub.Message{Data: data, Attributes: env.Attributes()})
	if err != nil {
		r.metrics.Inc(sourceRelay, metrics.DeliveryRetried)
		return fmt.Errorf("publish change %s: %w", env.Path, err)
	}
	r.metrics.Inc(sourceRelay, metrics.DeliveryAcked)
	r.logg.Debug(r.logg.WithField(logCtx, "message_id", id), "change relayed")
	return nil
}
