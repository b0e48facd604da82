package trigger

import (
	"context"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDedupe struct {
	seen     map[string]bool
	err      error
	released []string
}

func (f *fakeDedupe) Seen(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	was := f.seen[id]
	f.seen[id] = true
	return was, nil
}

func (f *fakeDedupe) Release(_ context.Context, id string) error {
	delete(f.seen, id)
	f.released = append(f.released, id)
	return nil
}

func buildMessage(t *testing.T, eventID, path string) *pubsub.Message {
	t.Helper()
	env := NewEnvelope(eventID, docstore.Change{
		Path:  path,
		After: &docstore.Document{Path: path, Exists: true, Data: map[string]any{"price": 1}},
	})
	data, err := env.Marshal()
	require.NoError(t, err)
	return &pubsub.Message{ID: "msg-" + eventID, Data: data, Attributes: env.Attributes()}
}

func newTestConsumer(t *testing.T, handler Handler, guard dedupe) *PubSubConsumer {
	t.Helper()
	router := NewRouter()
	require.NoError(t, router.Handle("carts/{cartId}/items/{itemId}", OnWrite, handler))
	return &PubSubConsumer{router: router, dedupe: guard, logg: logger.Nop(), maxDeliveries: 5}
}

func TestPubSubConsumerAcksHandledEvent(t *testing.T) {
	var got Event
	c := newTestConsumer(t, func(_ context.Context, ev Event) error {
		got = ev
		return nil
	}, nil)

	res := c.process(context.Background(), buildMessage(t, "evt-1", "carts/alice/items/lemon"))
	assert.True(t, res.ack)
	assert.False(t, res.nack)
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, "alice", got.Param("cartId"))
	assert.Equal(t, SourcePubSub, got.Source)
}

func TestPubSubConsumerSkipsDuplicates(t *testing.T) {
	calls := 0
	guard := &fakeDedupe{}
	c := newTestConsumer(t, func(context.Context, Event) error {
		calls++
		return nil
	}, guard)

	msg := buildMessage(t, "evt-1", "carts/alice/items/lemon")
	assert.True(t, c.process(context.Background(), msg).ack)
	assert.True(t, c.process(context.Background(), msg).ack)
	assert.Equal(t, 1, calls)
}

func TestPubSubConsumerNacksTransientFailure(t *testing.T) {
	guard := &fakeDedupe{}
	c := newTestConsumer(t, func(context.Context, Event) error {
		return errors.New("deadline exceeded")
	}, guard)

	res := c.process(context.Background(), buildMessage(t, "evt-1", "carts/alice/items/lemon"))
	assert.True(t, res.nack)
	assert.Equal(t, []string{"evt-1"}, guard.released)
}

func TestPubSubConsumerAcksPermanentFailure(t *testing.T) {
	c := newTestConsumer(t, func(context.Context, Event) error {
		return pkgerrors.New(pkgerrors.CodeForbidden, "denied")
	}, nil)
	res := c.process(context.Background(), buildMessage(t, "evt-1", "carts/alice/items/lemon"))
	assert.True(t, res.ack)
}

func TestPubSubConsumerAcksExhaustedDeliveries(t *testing.T) {
	c := newTestConsumer(t, func(context.Context, Event) error {
		return errors.New("still down")
	}, nil)
	msg := buildMessage(t, "evt-1", "carts/alice/items/lemon")
	attempt := 5
	msg.DeliveryAttempt = &attempt
	assert.True(t, c.process(context.Background(), msg).ack)
}

func TestPubSubConsumerAcksUndecodableAndUnrouted(t *testing.T) {
	calls := 0
	c := newTestConsumer(t, func(context.Context, Event) error {
		calls++
		return nil
	}, nil)

	assert.True(t, c.process(context.Background(), &pubsub.Message{ID: "bad", Data: []byte("not json")}).ack)
	assert.True(t, c.process(context.Background(), buildMessage(t, "evt-2", "carts/alice")).ack)
	assert.Equal(t, 0, calls)
}

func TestPubSubConsumerProcessesWhenDedupeUnavailable(t *testing.T) {
	calls := 0
	c := newTestConsumer(t, func(context.Context, Event) error {
		calls++
		return nil
	}, &fakeDedupe{err: errors.New("redis down")})
	assert.True(t, c.process(context.Background(), buildMessage(t, "evt-1", "carts/a/items/b")).ack)
	assert.Equal(t, 1, calls)
}

func TestNewPubSubConsumerValidates(t *testing.T) {
	_, err := NewPubSubConsumer(nil, nil, nil, testTriggerConfig(), logger.Nop(), nil)
	assert.Error(t, err)
	_, err = NewPubSubConsumer(NewRouter(), nil, nil, testTriggerConfig(), logger.Nop(), nil)
	assert.Error(t, err)
}
