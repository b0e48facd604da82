package trigger

import (
	"context"
	"errors"
	"sync"

	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"github.com/google/uuid"
)

type hookSource interface {
	OnChange(fn func(docstore.Change)) (remove func())
}

// LocalDispatcher delivers in-process store writes to the router. Each
// matching change is handled on its own goroutine, so concurrent
// invocations for one cart happen just as they do in the hosted runtime.
type LocalDispatcher struct {
	deliverer
	ctx    context.Context
	cancel context.CancelFunc
	remove func()

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalDispatcher(src hookSource, router *Router, cfg config.TriggerConfig, logg *logger.Logger, m *metrics.TriggerMetrics) (*LocalDispatcher, error) {
	if src == nil {
		return nil, errors.New("change source is required")
	}
	if router == nil {
		return nil, errors.New("router is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &LocalDispatcher{
		deliverer: deliverer{
			router:        router,
			logg:          logg,
			metrics:       m,
			maxDeliveries: cfg.MaxDeliveries,
			backoff:       cfg.RetryBackoff,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	d.remove = src.OnChange(d.enqueue)
	return d, nil
}

func (d *LocalDispatcher) enqueue(change docstore.Change) {
	if !d.router.Matches(change.Path) {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ev := NewEvent(uuid.NewString(), SourceLocal, change)
	go func() {
		defer d.wg.Done()
		_ = d.deliver(d.ctx, ev)
	}()
}

// Wait blocks until every delivery started so far, including redeliveries,
// has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting changes, cancels pending redeliveries and waits for
// running handlers.
func (d *LocalDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.remove()
	d.cancel()
	d.wg.Wait()
	return nil
}
