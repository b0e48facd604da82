package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/firebase/emulators-codelab/pkg/docstore"
)

type watchKind int

const (
	watchDocument watchKind = iota
	watchCollection
)

// watcher delivers the latest state of its target on a dedicated goroutine.
// Signals coalesce: a burst of commits produces at least one delivery of the
// final state, never a stale one.
type watcher struct {
	kind    watchKind
	target  string
	pending chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

func (w *watcher) interested(path string) bool {
	switch w.kind {
	case watchDocument:
		return path == w.target
	default:
		return docstore.Parent(path) == w.target
	}
}

func (w *watcher) signal() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() {
		w.stopped.Store(true)
		close(w.done)
	})
}

func (s *Store) WatchDocument(ctx context.Context, path string, fn docstore.DocumentListener) (docstore.Unsubscribe, error) {
	if err := docstore.ValidateDocument(path); err != nil {
		return nil, err
	}
	var last uint64
	first := true
	deliver := func() {
		s.mu.Lock()
		doc, version := s.readDocLocked(path)
		s.mu.Unlock()
		if !first && version == last {
			return
		}
		first = false
		last = version
		fn(doc, nil)
	}
	return s.watch(ctx, watchDocument, path, deliver)
}

func (s *Store) WatchCollection(ctx context.Context, collectionPath string, fn docstore.CollectionListener) (docstore.Unsubscribe, error) {
	if err := docstore.ValidateCollection(collectionPath); err != nil {
		return nil, err
	}
	var last uint64
	first := true
	deliver := func() {
		s.mu.Lock()
		docs, version := s.listLocked(collectionPath)
		s.mu.Unlock()
		if !first && version == last {
			return
		}
		first = false
		last = version
		fn(docs, nil)
	}
	return s.watch(ctx, watchCollection, collectionPath, deliver)
}

func (s *Store) watch(ctx context.Context, kind watchKind, target string, deliver func()) (docstore.Unsubscribe, error) {
	w := &watcher{
		kind:    kind,
		target:  target,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("memstore closed")
	}
	s.nextID++
	id := s.nextID
	s.watchers[id] = w
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
		w.stop()
	}

	w.signal()
	go func() {
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case <-w.done:
				return
			case <-w.pending:
				if w.stopped.Load() {
					return
				}
				deliver()
			}
		}
	}()

	return unsubscribe, nil
}
