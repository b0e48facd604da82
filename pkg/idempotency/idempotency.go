package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/firebase/emulators-codelab/pkg/redis"
)

// Guard tracks processed trigger events per consumer using Redis SETNX with
// a TTL. Keys follow the `codelab:processed:<consumer>:<event_id>` pattern.
type Guard struct {
	store    redis.ProcessedStore
	consumer string
	ttl      time.Duration
}

// NewGuard builds a guard that marks events handled by consumer for ttl.
func NewGuard(store redis.ProcessedStore, consumer string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("processed store is required")
	}
	if strings.TrimSpace(consumer) == "" {
		return nil, errors.New("consumer name is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, consumer: strings.TrimSpace(consumer), ttl: ttl}, nil
}

// Seen reports whether eventID was already marked, and marks it otherwise.
func (g *Guard) Seen(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release clears the mark so a redelivery is processed again.
func (g *Guard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(eventID string) (string, error) {
	if strings.TrimSpace(eventID) == "" {
		return "", errors.New("event id is required")
	}
	return g.store.ProcessedKey(g.consumer, eventID), nil
}
