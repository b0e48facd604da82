package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/emulators-codelab/pkg/docstore"
	"go.uber.org/multierr"
)

// Handler processes one event. Errors that pkg/errors reports as retryable
// cause redelivery; anything else is logged and dropped.
type Handler func(ctx context.Context, ev Event) error

// Filter selects the change kinds a handler receives.
type Filter uint8

const (
	OnCreate Filter = 1 << iota
	OnUpdate
	OnDelete

	OnWrite = OnCreate | OnUpdate | OnDelete
)

func (f Filter) accepts(kind docstore.ChangeKind) bool {
	switch kind {
	case docstore.ChangeCreated:
		return f&OnCreate != 0
	case docstore.ChangeUpdated:
		return f&OnUpdate != 0
	case docstore.ChangeDeleted:
		return f&OnDelete != 0
	default:
		return false
	}
}

type route struct {
	pattern string
	filter  Filter
	handler Handler
}

// Router maps document path patterns to handlers.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

func NewRouter() *Router {
	return &Router{}
}

// Handle registers h for writes to documents matching pattern, e.g.
// "carts/{cartId}/items/{itemId}".
func (r *Router) Handle(pattern string, filter Filter, h Handler) error {
	if !docstore.IsDocument(pattern) {
		return fmt.Errorf("trigger pattern %q must name documents", pattern)
	}
	if h == nil {
		return fmt.Errorf("trigger handler for %q is nil", pattern)
	}
	if filter == 0 {
		filter = OnWrite
	}
	r.mu.Lock()
	r.routes = append(r.routes, route{pattern: pattern, filter: filter, handler: h})
	r.mu.Unlock()
	return nil
}

// Matches reports whether any route could receive a write to path.
func (r *Router) Matches(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if _, ok := docstore.Match(rt.pattern, path); ok {
			return true
		}
	}
	return false
}

// Patterns lists the registered patterns in registration order.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.pattern)
	}
	return out
}

// Dispatch runs every handler whose pattern and filter accept ev and
// combines their errors.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	r.mu.RLock()
	routes := append([]route(nil), r.routes...)
	r.mu.RUnlock()

	kind := ev.Kind()
	var errs error
	for _, rt := range routes {
		params, ok := docstore.Match(rt.pattern, ev.Path)
		if !ok || !rt.filter.accepts(kind) {
			continue
		}
		scoped := ev
		scoped.Params = params
		errs = multierr.Append(errs, rt.handler(ctx, scoped))
	}
	return errs
}
