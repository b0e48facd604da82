package trigger

import (
	"context"
	"errors"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
)

type dedupe interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// PubSubConsumer receives change envelopes from a subscription. Successful
// and permanently failed deliveries are acked; transient failures are
// nacked so the broker redelivers.
type PubSubConsumer struct {
	router        *Router
	subscription  *pubsub.Subscriber
	dedupe        dedupe
	logg          *logger.Logger
	metrics       *metrics.TriggerMetrics
	maxDeliveries int
}

// NewPubSubConsumer builds a consumer. guard may be nil, in which case
// duplicate deliveries are handled again; the handlers are idempotent.
func NewPubSubConsumer(router *Router, subscription *pubsub.Subscriber, guard dedupe, cfg config.TriggerConfig, logg *logger.Logger, m *metrics.TriggerMetrics) (*PubSubConsumer, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if subscription == nil {
		return nil, errors.New("trigger subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &PubSubConsumer{
		router:        router,
		subscription:  subscription,
		dedupe:        guard,
		logg:          logg,
		metrics:       m,
		maxDeliveries: cfg.MaxDeliveries,
	}, nil
}

// Run processes messages until ctx is canceled or the subscription errors.
func (c *PubSubConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *PubSubConsumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID, "source": SourcePubSub}
	if msg.DeliveryAttempt != nil {
		fields["delivery_attempt"] = *msg.DeliveryAttempt
	}
	logCtx := c.logg.WithFields(ctx, fields)

	env, err := DecodeEnvelope(msg.Data)
	if err != nil {
		c.metrics.Inc(SourcePubSub, metrics.DeliveryDropped)
		c.logg.Error(logCtx, "failed to decode change envelope", err)
		return processResult{ack: true}
	}
	eventID := firstNonEmpty(env.EventID, msg.Attributes[AttrEventID], msg.ID)
	logCtx = c.logg.WithFields(c.logg.WithEventID(logCtx, eventID), map[string]any{"path": env.Path})

	if !c.router.Matches(env.Path) {
		c.logg.Debug(logCtx, "no trigger registered for path")
		return processResult{ack: true}
	}

	if c.dedupe != nil {
		seen, err := c.dedupe.Seen(logCtx, eventID)
		if err != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dedupe check failed, processing anyway")
		} else if seen {
			c.metrics.Inc(SourcePubSub, metrics.DeliveryDuplicate)
			c.logg.Info(logCtx, "duplicate change event skipped")
			return processResult{ack: true}
		}
	}

	ev := NewEvent(eventID, SourcePubSub, env.Change())
	err = c.router.Dispatch(logCtx, ev)
	if err == nil {
		c.metrics.Inc(SourcePubSub, metrics.DeliveryAcked)
		return processResult{ack: true}
	}

	if !retryable(err) {
		c.metrics.Inc(SourcePubSub, metrics.DeliveryDropped)
		c.logg.Error(logCtx, "trigger handler failed permanently", err)
		return processResult{ack: true}
	}
	if msg.DeliveryAttempt != nil && c.maxDeliveries > 0 && *msg.DeliveryAttempt >= c.maxDeliveries {
		c.metrics.Inc(SourcePubSub, metrics.DeliveryExhausted)
		c.logg.Error(logCtx, "trigger redeliveries exhausted", err)
		return processResult{ack: true}
	}

	if c.dedupe != nil {
		if relErr := c.dedupe.Release(logCtx, eventID); relErr != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", relErr.Error()), "failed to release dedupe mark")
		}
	}
	c.metrics.Inc(SourcePubSub, metrics.DeliveryRetried)
	c.logg.Error(logCtx, "trigger handler failed, nacking for redelivery", err)
	return processResult{nack: true}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
